package ecolesync

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const (
	feedChannelPattern       = "ecolesync_%s_changes"
	feedMinReconnectInterval = time.Second
	feedMaxReconnectInterval = time.Minute
	feedEventBuffer          = 16
)

// PostgresFeed delivers change events via LISTEN/NOTIFY. The remote
// store's triggers NOTIFY on ecolesync_<table>_changes with a JSON
// change-event payload for every insert, update and delete, unfiltered
// by owner.
type PostgresFeed struct {
	table    string
	listener *pq.Listener
	logger   Logger

	events    chan ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewPostgresFeed(dsn, table string, logger Logger) (*PostgresFeed, error) {
	dsn = strings.TrimSpace(dsn)
	table = strings.TrimSpace(table)
	if dsn == "" || table == "" {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = nopLogger{}
	}
	listener := pq.NewListener(dsn, feedMinReconnectInterval, feedMaxReconnectInterval, nil)
	if err := listener.Listen(fmt.Sprintf(feedChannelPattern, table)); err != nil {
		_ = listener.Close()
		return nil, err
	}
	feed := &PostgresFeed{
		table:    table,
		listener: listener,
		logger:   logger,
		events:   make(chan ChangeEvent, feedEventBuffer),
		done:     make(chan struct{}),
	}
	go feed.run()
	return feed, nil
}

func (f *PostgresFeed) run() {
	defer close(f.events)
	for {
		select {
		case <-f.done:
			return
		case notification, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			if notification == nil {
				// lib/pq signals a re-established connection with a
				// nil notification; events may have been missed, so
				// deliver a synthetic one to force a refetch.
				f.deliver(ChangeEvent{Event: "*", Schema: "public", Table: f.table})
				continue
			}
			event, err := decodeChangeEvent([]byte(notification.Extra))
			if err != nil {
				f.logger.Printf("dropping malformed notification on %s: %v", notification.Channel, err)
				continue
			}
			f.deliver(event)
		}
	}
}

func (f *PostgresFeed) deliver(event ChangeEvent) {
	select {
	case f.events <- event:
	case <-f.done:
	}
}

func (f *PostgresFeed) Events() <-chan ChangeEvent {
	return f.events
}

func (f *PostgresFeed) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.closeErr = f.listener.Close()
	})
	return f.closeErr
}
