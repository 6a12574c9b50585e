package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"calldash-server/pkg/config"
	"calldash-server/pkg/errors"
	"calldash-server/pkg/metrics"
)

// Request describes an outbound store call for logging and metrics.
// The client is agnostic to what entity the call manipulates.
type Request struct {
	Table string
	Op    string
}

// Client executes store calls with automatic resilience: offline
// short-circuit, bounded retries with exponential backoff, and
// classification-aware retry decisions.
type Client struct {
	cfg     config.ClientConfig
	tracker *StateTracker
	logger  *logrus.Entry

	// sleep is injectable so tests can observe delays without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a resilient request client around the given state tracker.
func New(cfg config.ClientConfig, tracker *StateTracker, logger *logrus.Logger) *Client {
	return &Client{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.WithField("component", "request_client"),
		sleep:   sleepContext,
	}
}

// Tracker returns the connection state tracker backing this client.
func (c *Client) Tracker() *StateTracker {
	return c.tracker
}

// Do runs fn under the retry policy. A transient or rate-limited failure is
// retried up to the attempt budget with strictly increasing delay;
// data-format and auth failures fail immediately. When the offline flag is
// set the call fails without touching the network.
func (c *Client) Do(ctx context.Context, req Request, fn func(ctx context.Context) error) error {
	if c.tracker.Offline() {
		return errors.NewClassified(errors.ClassOffline, "offline, request not attempted").
			WithField("table", req.Table).
			WithField("op", req.Op)
	}

	start := time.Now()
	defer func() {
		metrics.RecordStoreCall(req.Table, req.Op, time.Since(start))
	}()

	backoff := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			c.tracker.RecordSuccess()
			return nil
		}
		lastErr = err

		class := errors.Classify(err)
		if class == errors.ClassNotFound {
			// A row miss is a normal read outcome. It neither counts
			// toward the failure threshold nor changes connection state.
			return errors.Wrap(err, fmt.Sprintf("%s %s failed", req.Op, req.Table)).
				WithField("table", req.Table).
				WithField("op", req.Op)
		}
		metrics.RecordStoreFailure(req.Table, req.Op, string(class))

		if !class.Retryable() || attempt == c.cfg.MaxAttempts {
			break
		}

		delay := backoff
		if class == errors.ClassRateLimited {
			// Rate-limited responses wait at least one step per attempt.
			floor := c.cfg.RateLimitStep * time.Duration(attempt)
			if floor > delay {
				delay = floor
			}
		}

		c.logger.WithError(err).WithFields(logrus.Fields{
			"table":   req.Table,
			"op":      req.Op,
			"attempt": attempt,
			"class":   class,
			"delay":   delay,
		}).Warn("Store call failed, retrying")
		metrics.RecordRetry(req.Table, req.Op)

		if err := c.sleep(ctx, delay); err != nil {
			return errors.Wrap(err, "retry canceled").
				WithField("table", req.Table).
				WithField("op", req.Op)
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}

	c.tracker.RecordFailure(lastErr.Error())

	return errors.Wrap(lastErr, fmt.Sprintf("%s %s failed", req.Op, req.Table)).
		WithField("table", req.Table).
		WithField("op", req.Op)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
