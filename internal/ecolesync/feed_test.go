package ecolesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeFeed struct {
	events    chan ChangeEvent
	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{events: make(chan ChangeEvent, 8)}
}

func (f *fakeFeed) Events() <-chan ChangeEvent { return f.events }

func (f *fakeFeed) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.events)
	})
	return nil
}

func (f *fakeFeed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeRefresher struct {
	mu         sync.Mutex
	fetchCalls int
	selfIDs    map[string]bool
}

func (r *fakeRefresher) FetchAll(ctx context.Context) bool {
	r.mu.Lock()
	r.fetchCalls++
	r.mu.Unlock()
	return true
}

func (r *fakeRefresher) SelfEvent(correlationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selfIDs[correlationID]
}

func (r *fakeRefresher) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetchCalls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSubscribeRequiresFeedAndRefresher(t *testing.T) {
	if _, err := Subscribe(context.Background(), SubscriptionOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSubscribeRequiresOwner(t *testing.T) {
	feed := newFakeFeed()
	_, err := Subscribe(context.Background(), SubscriptionOptions{
		Table:     "students",
		Feed:      feed,
		Refresher: &fakeRefresher{},
		Owner:     StaticOwner(""),
	})
	if !errors.Is(err, ErrNoOwner) {
		t.Fatalf("expected ErrNoOwner, got %v", err)
	}
}

func TestSubscriptionRefetchesOnAnyEvent(t *testing.T) {
	feed := newFakeFeed()
	refresher := &fakeRefresher{}
	sub, err := Subscribe(context.Background(), SubscriptionOptions{
		Table:     "students",
		Feed:      feed,
		Refresher: refresher,
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = sub.Close() }()

	feed.events <- ChangeEvent{Event: "INSERT", Schema: "public", Table: "students"}
	feed.events <- ChangeEvent{Event: "DELETE", Schema: "public", Table: "students"}
	waitFor(t, 2*time.Second, func() bool { return refresher.calls() == 2 })
}

func TestSubscriptionIgnoresSelfEcho(t *testing.T) {
	feed := newFakeFeed()
	refresher := &fakeRefresher{selfIDs: map[string]bool{"mine": true}}
	sub, err := Subscribe(context.Background(), SubscriptionOptions{
		Table:     "classes",
		Feed:      feed,
		Refresher: refresher,
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = sub.Close() }()

	feed.events <- ChangeEvent{Event: "INSERT", Table: "classes", CorrelationID: "mine"}
	feed.events <- ChangeEvent{Event: "INSERT", Table: "classes", CorrelationID: "theirs"}
	waitFor(t, 2*time.Second, func() bool { return refresher.calls() == 1 })

	// Give the suppressed event a chance to surface incorrectly.
	time.Sleep(50 * time.Millisecond)
	if got := refresher.calls(); got != 1 {
		t.Fatalf("expected self echo to be suppressed, got %d refetches", got)
	}
}

type sessionOwner struct {
	mu sync.Mutex
	id string
}

func (o *sessionOwner) CurrentOwner() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

func (o *sessionOwner) signOut() {
	o.mu.Lock()
	o.id = ""
	o.mu.Unlock()
}

func TestSubscriptionStopsAfterOwnerSignsOut(t *testing.T) {
	feed := newFakeFeed()
	refresher := &fakeRefresher{}
	owner := &sessionOwner{id: "owner-1"}
	sub, err := Subscribe(context.Background(), SubscriptionOptions{
		Table:     "classes",
		Feed:      feed,
		Refresher: refresher,
		Owner:     owner,
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = sub.Close() }()

	feed.events <- ChangeEvent{Event: "INSERT", Table: "classes"}
	waitFor(t, 2*time.Second, func() bool { return refresher.calls() == 1 })

	owner.signOut()
	feed.events <- ChangeEvent{Event: "UPDATE", Table: "classes"}
	waitFor(t, 2*time.Second, func() bool {
		select {
		case <-sub.done:
			return true
		default:
			return false
		}
	})
	if got := refresher.calls(); got != 1 {
		t.Fatalf("expected no refetch after sign-out, got %d", got)
	}
}

func TestSubscriptionCloseReleasesChannel(t *testing.T) {
	feed := newFakeFeed()
	sub, err := Subscribe(context.Background(), SubscriptionOptions{
		Table:     "teachers",
		Feed:      feed,
		Refresher: &fakeRefresher{},
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !feed.isClosed() {
		t.Fatalf("expected the feed channel to be released on close")
	}
	// Close is idempotent.
	if err := sub.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestSubscriptionStopsWhenFeedEnds(t *testing.T) {
	feed := newFakeFeed()
	refresher := &fakeRefresher{}
	sub, err := Subscribe(context.Background(), SubscriptionOptions{
		Table:     "classes",
		Feed:      feed,
		Refresher: refresher,
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	_ = feed.Close()
	// Close must not hang once the event channel has ended.
	done := make(chan struct{})
	go func() {
		_ = sub.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close hung after feed ended")
	}
}

func TestDecodeChangeEventAcceptsWellFormedPayload(t *testing.T) {
	payload := `{"event":"INSERT","schema":"public","table":"students","commit_timestamp":"2024-09-01T08:00:00Z","correlation_id":"abc"}`
	event, err := decodeChangeEvent([]byte(payload))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.Event != "INSERT" || event.Table != "students" || event.CorrelationID != "abc" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDecodeChangeEventRejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":      `{"event":`,
		"missing table": `{"event":"INSERT","schema":"public"}`,
		"empty table":   `{"event":"INSERT","table":""}`,
		"bad event":     `{"event":"TRUNCATE","table":"students"}`,
		"wrong type":    `{"event":"INSERT","table":42}`,
	}
	for name, payload := range cases {
		if _, err := decodeChangeEvent([]byte(payload)); err == nil {
			t.Fatalf("%s: expected decode to fail", name)
		}
	}
}
