package ecolesync

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// OwnerSource supplies the current owner identity. It is fed from the
// surrounding session layer; an empty id means nobody is signed in and
// the store performs no remote work.
type OwnerSource interface {
	CurrentOwner() string
}

// StaticOwner is an OwnerSource with a fixed identity.
type StaticOwner string

func (o StaticOwner) CurrentOwner() string { return string(o) }

var validate = validator.New()

const defaultEchoWindow = 30 * time.Second

// echoRegistry tracks the correlation ids of in-flight and recently
// confirmed mutations so the change feed can drop their echoes.
type echoRegistry struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]time.Time
}

func newEchoRegistry(window time.Duration) *echoRegistry {
	if window <= 0 {
		window = defaultEchoWindow
	}
	return &echoRegistry{
		window:  window,
		pending: make(map[string]time.Time),
	}
}

// register sweeps expired entries before adding the new one. observed
// alone cannot be relied on for cleanup: a feed whose events carry no
// correlation ids never calls it, and the map must not grow unbounded
// across the daemon's lifetime.
func (r *echoRegistry) register() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.pruneLocked(time.Now())
	r.pending[id] = time.Now().Add(r.window)
	r.mu.Unlock()
	return id
}

func (r *echoRegistry) drop(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *echoRegistry) observed(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now())
	_, ok := r.pending[id]
	return ok
}

func (r *echoRegistry) pruneLocked(now time.Time) {
	for key, deadline := range r.pending {
		if now.After(deadline) {
			delete(r.pending, key)
		}
	}
}

func (r *echoRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

type StoreOptions[R Record[R]] struct {
	// Table names the remote table, for log context only.
	Table    string
	Gateway  Gateway[R]
	Owner    OwnerSource
	Notifier Notifier
	Logger   Logger
	Messages Messages[R]
	// EchoWindow bounds how long a mutation's correlation id keeps
	// suppressing echoed feed events. Zero means the default.
	EchoWindow time.Duration
}

// Store holds the authoritative local mirror of one remote table for the
// current owner. Mutations follow confirm-then-apply: the mirror changes
// only after the remote store acknowledged the call, never before.
type Store[R Record[R]] struct {
	table    string
	gateway  Gateway[R]
	owner    OwnerSource
	notifier Notifier
	logger   Logger
	msgs     Messages[R]
	echoes   *echoRegistry

	mu      sync.RWMutex
	mirror  []R
	loading bool
}

func NewStore[R Record[R]](opts StoreOptions[R]) (*Store[R], error) {
	if opts.Gateway == nil {
		return nil, ErrInvalidInput
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Store[R]{
		table:    opts.Table,
		gateway:  opts.Gateway,
		owner:    opts.Owner,
		notifier: notifier,
		logger:   logger,
		msgs:     opts.Messages,
		echoes:   newEchoRegistry(opts.EchoWindow),
		mirror:   []R{},
		loading:  true,
	}, nil
}

func (s *Store[R]) currentOwner() string {
	if s.owner == nil {
		return ""
	}
	return s.owner.CurrentOwner()
}

// Records returns a snapshot copy of the mirror, newest first.
func (s *Store[R]) Records() []R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]R, len(s.mirror))
	copy(out, s.mirror)
	return out
}

func (s *Store[R]) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// FetchAll reloads the mirror wholesale from the remote store. It is a
// no-op without an owner. On failure the mirror is left untouched and a
// destructive notification is emitted.
func (s *Store[R]) FetchAll(ctx context.Context) bool {
	owner := s.currentOwner()
	if owner == "" {
		return false
	}
	records, err := s.gateway.SelectAll(ctx, owner)
	s.mu.Lock()
	s.loading = false
	if err == nil {
		if records == nil {
			records = []R{}
		}
		s.mirror = records
	}
	s.mu.Unlock()
	if err != nil {
		s.logger.Printf("fetch %s failed: %v", s.table, err)
		s.notifier.Notify(Notification{
			Title:       "Erreur",
			Description: s.msgs.FetchError,
			Severity:    SeverityDestructive,
		})
		return false
	}
	return true
}

// Create attaches the owner to the supplied fields and inserts the row,
// expecting exactly one row back. The confirmed row is prepended so the
// newest-first ordering holds without a refetch.
func (s *Store[R]) Create(ctx context.Context, rec R) bool {
	owner := s.currentOwner()
	if owner == "" {
		return false
	}
	if err := validate.Struct(rec.WithOwner(owner)); err != nil {
		s.logger.Printf("create %s rejected by validation: %v", s.table, err)
		s.notifier.Notify(Notification{
			Title:       "Erreur",
			Description: s.msgs.CreateError,
			Severity:    SeverityDestructive,
		})
		return false
	}
	correlationID := s.echoes.register()
	created, err := s.gateway.Insert(WithCorrelation(ctx, correlationID), rec.WithOwner(owner))
	if err != nil {
		s.echoes.drop(correlationID)
		s.logger.Printf("create %s failed: %v", s.table, err)
		s.notifier.Notify(Notification{
			Title:       "Erreur",
			Description: s.msgs.CreateError,
			Severity:    SeverityDestructive,
		})
		return false
	}
	s.mu.Lock()
	s.mirror = append([]R{created}, s.removeLocked(created.RecordID())...)
	s.mu.Unlock()
	if s.msgs.Created != nil {
		s.notifier.Notify(s.msgs.Created(created))
	}
	return true
}

// Update sends a partial update for the row matching id. On success the
// matching mirror element is replaced in place, preserving its position.
// An id absent from the mirror still issues the remote call; a confirmed
// update with no local match is a silent no-op on the mirror.
func (s *Store[R]) Update(ctx context.Context, id string, patch map[string]any) bool {
	correlationID := s.echoes.register()
	updated, err := s.gateway.Update(WithCorrelation(ctx, correlationID), id, patch)
	if err != nil {
		s.echoes.drop(correlationID)
		s.logger.Printf("update %s/%s failed: %v", s.table, id, err)
		s.notifier.Notify(Notification{
			Title:       "Erreur",
			Description: s.msgs.UpdateError,
			Severity:    SeverityDestructive,
		})
		return false
	}
	s.mu.Lock()
	for i := range s.mirror {
		if s.mirror[i].RecordID() == id {
			s.mirror[i] = updated
			break
		}
	}
	s.mu.Unlock()
	if s.msgs.Updated != nil {
		s.notifier.Notify(s.msgs.Updated(updated))
	}
	return true
}

// Delete removes the row matching id from the remote store, then from
// the mirror by identity comparison.
func (s *Store[R]) Delete(ctx context.Context, id string) bool {
	correlationID := s.echoes.register()
	if err := s.gateway.Delete(WithCorrelation(ctx, correlationID), id); err != nil {
		s.echoes.drop(correlationID)
		s.logger.Printf("delete %s/%s failed: %v", s.table, id, err)
		s.notifier.Notify(Notification{
			Title:       "Erreur",
			Description: s.msgs.DeleteError,
			Severity:    SeverityDestructive,
		})
		return false
	}
	s.mu.Lock()
	s.mirror = s.removeLocked(id)
	s.mu.Unlock()
	s.notifier.Notify(s.msgs.Deleted)
	return true
}

// SelfEvent reports whether a change-feed correlation id belongs to a
// mutation issued by this store, in which case the echoed event must not
// trigger a refetch.
func (s *Store[R]) SelfEvent(correlationID string) bool {
	return s.echoes.observed(correlationID)
}

func (s *Store[R]) removeLocked(id string) []R {
	out := s.mirror[:0:0]
	for _, rec := range s.mirror {
		if rec.RecordID() != id {
			out = append(out, rec)
		}
	}
	return out
}
