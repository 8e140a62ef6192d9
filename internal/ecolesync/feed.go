package ecolesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ChangeEvent is the push notification that some row in a table changed.
// Beyond suppression of self-echoes via CorrelationID, the payload is
// not inspected: any accepted event triggers a full refetch.
type ChangeEvent struct {
	Event           string `json:"event"`
	Schema          string `json:"schema"`
	Table           string `json:"table"`
	CommitTimestamp string `json:"commit_timestamp,omitempty"`
	CorrelationID   string `json:"correlation_id,omitempty"`
}

// Feed is one logical change channel on a remote table. Events stops
// delivering when the feed is closed; Close must release the underlying
// channel and is idempotent.
type Feed interface {
	Events() <-chan ChangeEvent
	Close() error
}

const changeEventSchemaURL = "ecolesync://schemas/change-event.json"

const changeEventSchema = `{
	"type": "object",
	"properties": {
		"event": {"enum": ["INSERT", "UPDATE", "DELETE", "*"]},
		"schema": {"type": "string"},
		"table": {"type": "string", "minLength": 1},
		"commit_timestamp": {"type": "string"},
		"correlation_id": {"type": "string"}
	},
	"required": ["event", "table"]
}`

var compiledChangeEventSchema = func() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(changeEventSchema)))
	if err != nil {
		panic(fmt.Sprintf("change event schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(changeEventSchemaURL, doc); err != nil {
		panic(fmt.Sprintf("change event schema: %v", err))
	}
	schema, err := compiler.Compile(changeEventSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("change event schema: %v", err))
	}
	return schema
}()

// decodeChangeEvent parses and validates a raw change-feed payload.
// Payloads that do not satisfy the schema are rejected so a misbehaving
// feed cannot trigger spurious refetch storms.
func decodeChangeEvent(data []byte) (ChangeEvent, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := compiledChangeEventSchema.Validate(instance); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var event ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return event, nil
}

// Refresher is the slice of the entity store the subscription needs:
// coarse refetch plus self-echo detection.
type Refresher interface {
	FetchAll(ctx context.Context) bool
	SelfEvent(correlationID string) bool
}

const defaultRefreshTimeout = 15 * time.Second

type SubscriptionOptions struct {
	Table          string
	Feed           Feed
	Refresher      Refresher
	Owner          OwnerSource
	Logger         Logger
	RefreshTimeout time.Duration
}

// Subscription owns one goroutine that turns feed events into FetchAll
// calls. It must be established once an owner is known and closed on
// sign-out or unmount; a leaked channel is a defect.
type Subscription struct {
	table          string
	feed           Feed
	refresher      Refresher
	owner          OwnerSource
	logger         Logger
	refreshTimeout time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func Subscribe(ctx context.Context, opts SubscriptionOptions) (*Subscription, error) {
	if opts.Feed == nil || opts.Refresher == nil {
		return nil, ErrInvalidInput
	}
	if opts.Owner != nil && opts.Owner.CurrentOwner() == "" {
		return nil, ErrNoOwner
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	refreshTimeout := opts.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	runCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		table:          opts.Table,
		feed:           opts.Feed,
		refresher:      opts.Refresher,
		owner:          opts.Owner,
		logger:         logger,
		refreshTimeout: refreshTimeout,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go sub.run(runCtx)
	return sub, nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.feed.Events():
			if !ok {
				return
			}
			// A dynamic owner source may empty after sign-out; the
			// subscription stops instead of failing a refresh per event.
			if s.owner != nil && s.owner.CurrentOwner() == "" {
				s.logger.Printf("owner gone, stopping %s subscription", s.table)
				return
			}
			if event.CorrelationID != "" && s.refresher.SelfEvent(event.CorrelationID) {
				continue
			}
			s.refresh(ctx)
		}
	}
}

func (s *Subscription) refresh(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, s.refreshTimeout)
	defer cancel()
	if !s.refresher.FetchAll(refreshCtx) {
		s.logger.Printf("change-feed refresh of %s failed", s.table)
	}
}

// Close tears the subscription down: the feed channel is released and
// the event goroutine has exited by the time Close returns.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.feed.Close()
		<-s.done
	})
	return s.closeErr
}
