package activations

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresBlobTableName    = "activation_blobs"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBlobStore keeps ledger blobs in a key/value table so several
// clients can share one activation ledger.
type PostgresBlobStore struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresBlobStore(dsn string) (*PostgresBlobStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresBlobStore{
		dsn:       dsn,
		tableName: postgresBlobTableName,
		openDB:    sql.Open,
	}, nil
}

func (s *PostgresBlobStore) Get(name string) ([]byte, error) {
	if s == nil || strings.TrimSpace(name) == "" {
		return nil, ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM "+s.tableName+" WHERE blob_name = $1", name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *PostgresBlobStore) Set(name string, data []byte) error {
	if s == nil || strings.TrimSpace(name) == "" {
		return ErrInvalidInput
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.tableName+` (blob_name, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (blob_name)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()`, name, data)
	return err
}

func (s *PostgresBlobStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresBlobStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		_, err = db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS `+s.tableName+` (
				blob_name TEXT PRIMARY KEY,
				payload BYTEA NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`)
		if err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}
