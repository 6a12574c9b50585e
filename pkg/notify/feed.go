package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ChangeEvent is a typed store change notification, keyed by table name
// and operation type.
type ChangeEvent struct {
	Table     string    `json:"table"`
	Op        string    `json:"op"` // insert, update, delete
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is a scoped change-event stream: acquired at mount,
// released through Close on every exit path.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Feed is the change-notification channel: writers publish, consumers
// subscribe per table. Publish failures are non-critical and absorbed
// by the implementation.
type Feed interface {
	NotifyChange(table, op string)
	Subscribe(tables ...string) (Subscription, error)
	Close() error
}

// LocalFeed is the in-process Feed used when AMQP is disabled and in
// tests. Delivery semantics match the AMQP feed: fan-out per
// subscription, slow consumers drop rather than block the writer.
type LocalFeed struct {
	logger *logrus.Entry

	mu     sync.Mutex
	subs   map[int]*localSubscription
	nextID int
	closed bool
}

type localSubscription struct {
	feed   *LocalFeed
	id     int
	tables map[string]bool
	events chan ChangeEvent
	once   sync.Once
}

// NewLocalFeed creates an in-process change feed.
func NewLocalFeed(logger *logrus.Logger) *LocalFeed {
	return &LocalFeed{
		logger: logger.WithField("component", "change_feed"),
		subs:   make(map[int]*localSubscription),
	}
}

// NotifyChange publishes one change event to all matching subscriptions.
func (f *LocalFeed) NotifyChange(table, op string) {
	event := ChangeEvent{Table: table, Op: op, Timestamp: time.Now()}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	for _, sub := range f.subs {
		if len(sub.tables) > 0 && !sub.tables[table] {
			continue
		}
		select {
		case sub.events <- event:
		default:
			f.logger.WithFields(logrus.Fields{
				"table": table,
				"op":    op,
			}).Warn("Dropping change event for slow subscriber")
		}
	}
}

// Subscribe registers a consumer for the given tables; no tables means
// all tables.
func (f *LocalFeed) Subscribe(tables ...string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &localSubscription{
		feed:   f,
		id:     f.nextID,
		tables: make(map[string]bool, len(tables)),
		events: make(chan ChangeEvent, 32),
	}
	for _, table := range tables {
		sub.tables[table] = true
	}
	f.subs[f.nextID] = sub
	f.nextID++

	return sub, nil
}

// Close releases all subscriptions.
func (f *LocalFeed) Close() error {
	f.mu.Lock()
	subs := make([]*localSubscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.closed = true
	f.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

// Events returns the subscription's event stream.
func (s *localSubscription) Events() <-chan ChangeEvent {
	return s.events
}

// Close cancels the subscription and closes its channel. Idempotent.
func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s.id)
		s.feed.mu.Unlock()
		close(s.events)
	})
	return nil
}
