package client

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calldash-server/pkg/config"
	"calldash-server/pkg/errors"
)

func testConfig() config.ClientConfig {
	return config.ClientConfig{
		MaxAttempts:      3,
		InitialBackoff:   time.Second,
		MaxBackoff:       10 * time.Second,
		RateLimitStep:    2 * time.Second,
		FailureThreshold: 5,
	}
}

// newTestClient returns a client whose sleeps are recorded instead of slept.
func newTestClient(cfg config.ClientConfig) (*Client, *[]time.Duration) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	c := New(cfg, NewStateTracker(cfg.FailureThreshold, logger), logger)

	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	c, delays := newTestClient(testConfig())

	calls := 0
	err := c.Do(context.Background(), Request{Table: "call_transcripts", Op: "upsert"}, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
	assert.Equal(t, StateConnected, c.Tracker().State())
}

func TestDoRetriesTransientWithIncreasingDelay(t *testing.T) {
	c, delays := newTestClient(testConfig())

	calls := 0
	err := c.Do(context.Background(), Request{Table: "call_transcripts", Op: "upsert"}, func(ctx context.Context) error {
		calls++
		return errors.NewClassified(errors.ClassTransient, "backend hiccup")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "transient failures use the full attempt budget")
	require.Len(t, *delays, 2, "a failed final attempt must not sleep")
	assert.Equal(t, time.Second, (*delays)[0])
	assert.Equal(t, 2*time.Second, (*delays)[1])
	assert.Less(t, (*delays)[0], (*delays)[1], "delays must strictly increase")
	assert.Equal(t, StateError, c.Tracker().State())
	assert.Equal(t, 1, c.Tracker().Failures(), "one failed call counts once, not per retry")
}

func TestDoBackoffCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 6
	cfg.MaxBackoff = 4 * time.Second
	c, delays := newTestClient(cfg)

	_ = c.Do(context.Background(), Request{Table: "call_summaries", Op: "insert"}, func(ctx context.Context) error {
		return errors.NewClassified(errors.ClassTransient, "still down")
	})

	require.Len(t, *delays, 5)
	assert.Equal(t, 4*time.Second, (*delays)[3])
	assert.Equal(t, 4*time.Second, (*delays)[4], "backoff stays at the cap")
}

func TestDoRateLimitedDelayFloor(t *testing.T) {
	c, delays := newTestClient(testConfig())

	err := c.Do(context.Background(), Request{Table: "keyword_trends", Op: "update"}, func(ctx context.Context) error {
		return errors.NewClassified(errors.ClassRateLimited, "too many connections")
	})

	require.Error(t, err)
	require.Len(t, *delays, 2)
	// Floor is step*attempt even when the exponential backoff is smaller.
	assert.Equal(t, 2*time.Second, (*delays)[0])
	assert.Equal(t, 4*time.Second, (*delays)[1])
}

func TestDoDataFormatNeverRetried(t *testing.T) {
	c, delays := newTestClient(testConfig())

	calls := 0
	err := c.Do(context.Background(), Request{Table: "call_transcripts", Op: "select"}, func(ctx context.Context) error {
		calls++
		return errors.NewClassified(errors.ClassDataFormat, "malformed identifier")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "data-shape errors are not transient")
	assert.Empty(t, *delays)
	assert.ErrorIs(t, err, errors.ErrDataFormat)
}

func TestDoAuthNeverRetried(t *testing.T) {
	c, _ := newTestClient(testConfig())

	calls := 0
	err := c.Do(context.Background(), Request{Table: "call_transcripts", Op: "select"}, func(ctx context.Context) error {
		calls++
		return errors.NewClassified(errors.ClassAuth, "permission denied")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errors.ErrAuth)
}

func TestDoNotFoundLeavesConnectionStateUntouched(t *testing.T) {
	c, delays := newTestClient(testConfig())

	events, cancel := c.Tracker().Subscribe()
	defer cancel()

	calls := 0
	err := c.Do(context.Background(), Request{Table: "keyword_trends", Op: "select"}, func(ctx context.Context) error {
		calls++
		return errors.Wrap(errors.ErrNotFound, "keyword trend not found")
	})

	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 1, calls, "a row miss is never retried")
	assert.Empty(t, *delays)
	assert.Equal(t, 0, c.Tracker().Failures(), "a row miss is not a connection failure")
	assert.Equal(t, StateUnknown, c.Tracker().State())

	// A success following a row miss is not a recovery.
	require.NoError(t, c.Do(context.Background(), Request{Table: "keyword_trends", Op: "insert"}, func(ctx context.Context) error {
		return nil
	}))

	drainEvents(events, func(e Event) {
		assert.NotEqual(t, EventRestored, e.Kind, "a row miss must not produce a restored event")
	})
}

func TestDoOfflineShortCircuit(t *testing.T) {
	c, _ := newTestClient(testConfig())
	c.Tracker().SetOffline(true)

	calls := 0
	err := c.Do(context.Background(), Request{Table: "call_transcripts", Op: "upsert"}, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, calls, "offline calls never touch the network")
	assert.ErrorIs(t, err, errors.ErrOffline)
	assert.Equal(t, errors.ClassOffline, errors.Classify(err))
}

func TestCumulativeFailureThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, _ := newTestClient(cfg)

	events, cancel := c.Tracker().Subscribe()
	defer cancel()

	fail := func() {
		_ = c.Do(context.Background(), Request{Table: "call_transcripts", Op: "upsert"}, func(ctx context.Context) error {
			return errors.NewClassified(errors.ClassTransient, "down")
		})
	}

	// Six consecutive failed calls across unrelated requests.
	for i := 0; i < 6; i++ {
		fail()
	}

	persistent := 0
	drainEvents(events, func(e Event) {
		if e.Kind == EventPersistentFailure {
			persistent++
			assert.Equal(t, 5, e.Failures)
		}
	})

	assert.Equal(t, 1, persistent, "persistent failure is raised exactly once")
	assert.Equal(t, 5, c.Tracker().Failures(), "failures beyond the threshold are not counted")
	assert.Equal(t, StateError, c.Tracker().State())
}

func TestSuccessAfterFailureEmitsRestored(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	c, _ := newTestClient(cfg)

	_ = c.Do(context.Background(), Request{Table: "call_transcripts", Op: "upsert"}, func(ctx context.Context) error {
		return errors.NewClassified(errors.ClassTransient, "down")
	})
	require.Equal(t, 1, c.Tracker().Failures())

	events, cancel := c.Tracker().Subscribe()
	defer cancel()

	err := c.Do(context.Background(), Request{Table: "call_transcripts", Op: "upsert"}, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	restored := false
	drainEvents(events, func(e Event) {
		if e.Kind == EventRestored {
			restored = true
		}
	})

	assert.True(t, restored, "first success after failure must announce restoration")
	assert.Equal(t, 0, c.Tracker().Failures())
	assert.Equal(t, StateConnected, c.Tracker().State())
}

func TestRetryNowResetsPersistentFailure(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	tracker := NewStateTracker(2, logger)

	tracker.RecordFailure("down")
	tracker.RecordFailure("still down")
	require.Equal(t, 2, tracker.Failures())

	tracker.RetryNow()

	assert.Equal(t, 0, tracker.Failures())
	assert.Equal(t, StateUnknown, tracker.State())

	// Threshold can trip again after a manual retry.
	events, cancel := tracker.Subscribe()
	defer cancel()
	tracker.RecordFailure("down again")
	tracker.RecordFailure("down again")

	raised := false
	drainEvents(events, func(e Event) {
		if e.Kind == EventPersistentFailure {
			raised = true
		}
	})
	assert.True(t, raised)
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	tracker := NewStateTracker(5, logger)

	events, cancel := tracker.Subscribe()
	cancel()

	_, open := <-events
	assert.False(t, open, "cancel must close the subscription channel")

	// Publishing after cancel must not panic.
	tracker.RecordFailure("down")
}

func drainEvents(events <-chan Event, fn func(Event)) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			fn(e)
		default:
			return
		}
	}
}
