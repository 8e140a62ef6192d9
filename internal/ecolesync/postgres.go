package ecolesync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const postgresOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Postgres owns one connection pool and hands out the per-table
// gateways for classes, students and teachers.
type Postgres struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func OpenPostgres(dsn string) (*Postgres, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &Postgres{dsn: dsn, openDB: sql.Open}, nil
}

func (p *Postgres) Classes() Gateway[Class] { return classGateway{p} }

func (p *Postgres) Students() Gateway[Student] { return studentGateway{p} }

func (p *Postgres) Teachers() Gateway[Teacher] { return teacherGateway{p} }

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) ensureReady() error {
	if p == nil {
		return ErrInvalidInput
	}
	p.initOnce.Do(func() {
		db, err := p.openDB("postgres", p.dsn)
		if err != nil {
			p.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			p.initErr = err
			return
		}
		p.db = db
	})
	return p.initErr
}

func (p *Postgres) query(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	return fn(opCtx, p.db)
}

// mutate runs fn inside a transaction. A correlation id on ctx is
// published as a transaction-local setting so the change-feed triggers
// can embed it in their NOTIFY payloads.
func (p *Postgres) mutate(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if err := p.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	tx, err := p.db.BeginTx(opCtx, nil)
	if err != nil {
		return err
	}
	if correlationID := CorrelationFromContext(ctx); correlationID != "" {
		if _, err := tx.ExecContext(opCtx, "SELECT set_config('ecolesync.correlation_id', $1, true)", correlationID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := fn(opCtx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func buildUpdateQuery(table, columns string, allowed map[string]bool, patch map[string]any) (string, []any, error) {
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("%w: empty patch", ErrInvalidInput)
	}
	keys := make([]string, 0, len(patch))
	for key := range patch {
		if !allowed[key] {
			return "", nil, fmt.Errorf("%w: column %q not updatable", ErrInvalidInput, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	assignments := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)
	for i, key := range keys {
		assignments = append(assignments, fmt.Sprintf("%s = $%d", key, i+1))
		args = append(args, patch[key])
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s",
		table, strings.Join(assignments, ", "), len(keys)+1, columns,
	)
	return query, args, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// classes

const classColumns = "id, name, COALESCE(description, ''), capacity, user_id, created_at, updated_at"

var classPatchColumns = map[string]bool{
	"name":        true,
	"description": true,
	"capacity":    true,
}

type classGateway struct {
	pg *Postgres
}

func scanClass(row interface{ Scan(...any) error }) (Class, error) {
	var c Class
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Capacity, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (g classGateway) SelectAll(ctx context.Context, ownerID string) ([]Class, error) {
	var out []Class
	err := g.pg.query(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT "+classColumns+" FROM classes WHERE user_id = $1 ORDER BY created_at DESC", ownerID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			c, err := scanClass(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

func (g classGateway) Insert(ctx context.Context, c Class) (Class, error) {
	var created Class
	err := g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"INSERT INTO classes (name, description, capacity, user_id) VALUES ($1, $2, $3, $4) RETURNING "+classColumns,
			c.Name, nullIfEmpty(c.Description), c.Capacity, c.UserID)
		var err error
		created, err = scanClass(row)
		return err
	})
	return created, err
}

func (g classGateway) Update(ctx context.Context, id string, patch map[string]any) (Class, error) {
	query, args, err := buildUpdateQuery("classes", classColumns, classPatchColumns, patch)
	if err != nil {
		return Class{}, err
	}
	var updated Class
	err = g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, query, append(args, id)...)
		var err error
		updated, err = scanClass(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: classes/%s", ErrNotFound, id)
		}
		return err
	})
	return updated, err
}

func (g classGateway) Delete(ctx context.Context, id string) error {
	return g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM classes WHERE id = $1", id)
		return err
	})
}

// students

const studentColumns = "id, first_name, last_name, birth_date::text, birth_place, " +
	"COALESCE(student_number, ''), parent_phone, gender, COALESCE(class_id::text, ''), " +
	"user_id, created_at, updated_at"

var studentPatchColumns = map[string]bool{
	"first_name":     true,
	"last_name":      true,
	"birth_date":     true,
	"birth_place":    true,
	"student_number": true,
	"parent_phone":   true,
	"gender":         true,
	"class_id":       true,
}

type studentGateway struct {
	pg *Postgres
}

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.FirstName, &s.LastName, &s.BirthDate, &s.BirthPlace,
		&s.StudentNumber, &s.ParentPhone, &s.Gender, &s.ClassID,
		&s.UserID, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (g studentGateway) SelectAll(ctx context.Context, ownerID string) ([]Student, error) {
	var out []Student
	err := g.pg.query(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT "+studentColumns+" FROM students WHERE user_id = $1 ORDER BY created_at DESC", ownerID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			s, err := scanStudent(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	return out, err
}

func (g studentGateway) Insert(ctx context.Context, s Student) (Student, error) {
	var created Student
	err := g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"INSERT INTO students (first_name, last_name, birth_date, birth_place, student_number, "+
				"parent_phone, gender, class_id, user_id) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING "+studentColumns,
			s.FirstName, s.LastName, s.BirthDate, s.BirthPlace, nullIfEmpty(s.StudentNumber),
			s.ParentPhone, s.Gender, nullIfEmpty(s.ClassID), s.UserID)
		var err error
		created, err = scanStudent(row)
		return err
	})
	return created, err
}

func (g studentGateway) Update(ctx context.Context, id string, patch map[string]any) (Student, error) {
	query, args, err := buildUpdateQuery("students", studentColumns, studentPatchColumns, patch)
	if err != nil {
		return Student{}, err
	}
	var updated Student
	err = g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, query, append(args, id)...)
		var err error
		updated, err = scanStudent(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: students/%s", ErrNotFound, id)
		}
		return err
	})
	return updated, err
}

func (g studentGateway) Delete(ctx context.Context, id string) error {
	return g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM students WHERE id = $1", id)
		return err
	})
}

// teachers

const teacherColumns = "id, first_name, last_name, email, phone, subject, hire_date::text, " +
	"payment_type, salary, hourly_rate, gender, residence, user_id, created_at, updated_at"

var teacherPatchColumns = map[string]bool{
	"first_name":   true,
	"last_name":    true,
	"email":        true,
	"phone":        true,
	"subject":      true,
	"hire_date":    true,
	"payment_type": true,
	"salary":       true,
	"hourly_rate":  true,
	"gender":       true,
	"residence":    true,
}

type teacherGateway struct {
	pg *Postgres
}

func scanTeacher(row interface{ Scan(...any) error }) (Teacher, error) {
	var t Teacher
	var salary, hourlyRate sql.NullFloat64
	err := row.Scan(&t.ID, &t.FirstName, &t.LastName, &t.Email, &t.Phone, &t.Subject,
		&t.HireDate, &t.PaymentType, &salary, &hourlyRate, &t.Gender, &t.Residence,
		&t.UserID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Teacher{}, err
	}
	if salary.Valid {
		t.Salary = &salary.Float64
	}
	if hourlyRate.Valid {
		t.HourlyRate = &hourlyRate.Float64
	}
	return t, nil
}

func (g teacherGateway) SelectAll(ctx context.Context, ownerID string) ([]Teacher, error) {
	var out []Teacher
	err := g.pg.query(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			"SELECT "+teacherColumns+" FROM teachers WHERE user_id = $1 ORDER BY created_at DESC", ownerID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			t, err := scanTeacher(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

func (g teacherGateway) Insert(ctx context.Context, t Teacher) (Teacher, error) {
	var created Teacher
	err := g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"INSERT INTO teachers (first_name, last_name, email, phone, subject, hire_date, "+
				"payment_type, salary, hourly_rate, gender, residence, user_id) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING "+teacherColumns,
			t.FirstName, t.LastName, t.Email, t.Phone, t.Subject, t.HireDate,
			t.PaymentType, t.Salary, t.HourlyRate, t.Gender, t.Residence, t.UserID)
		var err error
		created, err = scanTeacher(row)
		return err
	})
	return created, err
}

func (g teacherGateway) Update(ctx context.Context, id string, patch map[string]any) (Teacher, error) {
	query, args, err := buildUpdateQuery("teachers", teacherColumns, teacherPatchColumns, patch)
	if err != nil {
		return Teacher{}, err
	}
	var updated Teacher
	err = g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, query, append(args, id)...)
		var err error
		updated, err = scanTeacher(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: teachers/%s", ErrNotFound, id)
		}
		return err
	})
	return updated, err
}

func (g teacherGateway) Delete(ctx context.Context, id string) error {
	return g.pg.mutate(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM teachers WHERE id = $1", id)
		return err
	})
}
