package client

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"calldash-server/pkg/metrics"
)

// ConnectionState is the process-wide backend connection state.
type ConnectionState int

const (
	StateUnknown ConnectionState = iota
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "invalid"
	}
}

// EventKind identifies what a connection event reports.
type EventKind string

const (
	// EventStateChanged reports a connection state transition.
	EventStateChanged EventKind = "state_changed"
	// EventPersistentFailure reports that the cumulative failure threshold
	// was crossed. Raised once per outage; cleared by success or RetryNow.
	EventPersistentFailure EventKind = "persistent_failure"
	// EventRestored reports the first successful call after failures.
	EventRestored EventKind = "restored"
)

// Event is delivered to connection state subscribers.
type Event struct {
	Kind      EventKind       `json:"kind"`
	State     ConnectionState `json:"state"`
	Failures  int             `json:"failures"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// StateTracker holds the process-wide connection state and offline flag.
// It is the single writer of both; everything else observes through
// Subscribe or the read accessors.
type StateTracker struct {
	logger    *logrus.Entry
	threshold int

	mu               sync.RWMutex
	state            ConnectionState
	failures         int
	offline          bool
	persistentRaised bool

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSubID   int
}

// NewStateTracker creates a tracker that raises a persistent failure
// condition once the cumulative failed-call count reaches threshold.
func NewStateTracker(threshold int, logger *logrus.Logger) *StateTracker {
	return &StateTracker{
		logger:      logger.WithField("component", "connection_state"),
		threshold:   threshold,
		state:       StateUnknown,
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a listener for connection events. The returned
// function cancels the subscription and closes the channel.
func (t *StateTracker) Subscribe() (<-chan Event, func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	ch := make(chan Event, 16)
	t.subscribers[id] = ch

	cancel := func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if existing, ok := t.subscribers[id]; ok {
			delete(t.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

func (t *StateTracker) publish(event Event) {
	event.Timestamp = time.Now()

	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscriber, drop rather than block the client path.
		}
	}
}

// State returns the current connection state.
func (t *StateTracker) State() ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Failures returns the cumulative failed-call count since the last success.
func (t *StateTracker) Failures() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failures
}

// Offline reports whether the environment has signaled loss of connectivity.
func (t *StateTracker) Offline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offline
}

// SetOffline records an environment connectivity signal.
func (t *StateTracker) SetOffline(offline bool) {
	t.mu.Lock()
	changed := t.offline != offline
	t.offline = offline
	t.mu.Unlock()

	if changed {
		t.logger.WithField("offline", offline).Info("Connectivity signal changed")
	}
}

// RecordFailure counts one failed call and transitions to the error state.
// Crossing the threshold raises a single persistent-failure event; further
// failures during the same outage are not counted beyond it.
func (t *StateTracker) RecordFailure(reason string) {
	t.mu.Lock()

	prevState := t.state
	t.state = StateError

	raise := false
	if !t.persistentRaised {
		t.failures++
		if t.failures >= t.threshold {
			t.persistentRaised = true
			raise = true
		}
	}
	failures := t.failures
	t.mu.Unlock()

	metrics.SetConnectionState(float64(StateError), failures)

	if prevState != StateError {
		t.publish(Event{Kind: EventStateChanged, State: StateError, Failures: failures, Reason: reason})
	}

	if raise {
		t.logger.WithFields(logrus.Fields{
			"failures": failures,
			"reason":   reason,
		}).Error("Connection failure threshold crossed, manual retry required")
		t.publish(Event{Kind: EventPersistentFailure, State: StateError, Failures: failures, Reason: reason})
	}
}

// RecordSuccess resets the failure counter and transitions to connected.
// The first success after any failure emits a restored event.
func (t *StateTracker) RecordSuccess() {
	t.mu.Lock()
	hadFailures := t.failures > 0 || t.persistentRaised
	prevState := t.state
	t.failures = 0
	t.persistentRaised = false
	t.state = StateConnected
	t.mu.Unlock()

	metrics.SetConnectionState(float64(StateConnected), 0)

	if prevState != StateConnected {
		t.publish(Event{Kind: EventStateChanged, State: StateConnected})
	}
	if hadFailures {
		t.logger.Info("Backend connection restored")
		t.publish(Event{Kind: EventRestored, State: StateConnected})
	}
}

// RetryNow is the manual retry hook for the persistent failure condition.
// It clears the counter so the next call is attempted normally.
func (t *StateTracker) RetryNow() {
	t.mu.Lock()
	t.failures = 0
	t.persistentRaised = false
	t.state = StateUnknown
	t.mu.Unlock()

	metrics.SetConnectionState(float64(StateUnknown), 0)

	t.logger.Info("Manual retry requested, connection state reset")
	t.publish(Event{Kind: EventStateChanged, State: StateUnknown})
}
