package ecolesync

import (
	"context"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	wsDialTimeout      = 10 * time.Second
	wsBackoffBase      = 500 * time.Millisecond
	wsBackoffMax       = 30 * time.Second
	wsSubscribeTimeout = 5 * time.Second
)

type wsSubscribeFrame struct {
	Topic  string `json:"topic"`
	Event  string `json:"event"`
	Schema string `json:"schema"`
}

// WebsocketFeed delivers change events from a realtime service over a
// websocket. It subscribes to every event on one table and reconnects
// with backoff until closed.
type WebsocketFeed struct {
	url    string
	table  string
	logger Logger

	events    chan ChangeEvent
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewWebsocketFeed(url, table string, logger Logger) (*WebsocketFeed, error) {
	url = strings.TrimSpace(url)
	table = strings.TrimSpace(table)
	if url == "" || table == "" {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = nopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	feed := &WebsocketFeed{
		url:    url,
		table:  table,
		logger: logger,
		events: make(chan ChangeEvent, feedEventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go feed.run(ctx)
	return feed, nil
}

func (f *WebsocketFeed) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.events)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		established := false
		err := f.session(ctx, func() { established = true })
		if ctx.Err() != nil {
			return
		}
		if established {
			attempt = 0
		}
		attempt++
		delay := wsBackoffBase << (attempt - 1)
		if delay > wsBackoffMax || delay <= 0 {
			delay = wsBackoffMax
		}
		f.logger.Printf("realtime channel for %s dropped (attempt %d): %v", f.table, attempt, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (f *WebsocketFeed) session(ctx context.Context, onReady func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	conn, _, err := websocket.Dial(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	subCtx, cancel := context.WithTimeout(ctx, wsSubscribeTimeout)
	err = wsjson.Write(subCtx, conn, wsSubscribeFrame{
		Topic:  "realtime:public:" + f.table,
		Event:  "*",
		Schema: "public",
	})
	cancel()
	if err != nil {
		return err
	}
	onReady()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		event, err := decodeChangeEvent(data)
		if err != nil {
			f.logger.Printf("dropping malformed realtime frame for %s: %v", f.table, err)
			continue
		}
		select {
		case f.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *WebsocketFeed) Events() <-chan ChangeEvent {
	return f.events
}

func (f *WebsocketFeed) Close() error {
	f.closeOnce.Do(func() {
		f.cancel()
		<-f.done
	})
	return nil
}
