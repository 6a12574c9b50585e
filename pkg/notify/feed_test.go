package notify

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func receiveEvent(t *testing.T, sub Subscription) ChangeEvent {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
		return ChangeEvent{}
	}
}

func TestLocalFeedDeliversToSubscriber(t *testing.T) {
	feed := NewLocalFeed(testLogger())
	defer feed.Close()

	sub, err := feed.Subscribe("call_transcripts")
	require.NoError(t, err)
	defer sub.Close()

	feed.NotifyChange("call_transcripts", "insert")

	event := receiveEvent(t, sub)
	assert.Equal(t, "call_transcripts", event.Table)
	assert.Equal(t, "insert", event.Op)
	assert.False(t, event.Timestamp.IsZero())
}

func TestLocalFeedFiltersByTable(t *testing.T) {
	feed := NewLocalFeed(testLogger())
	defer feed.Close()

	sub, err := feed.Subscribe("call_summaries")
	require.NoError(t, err)
	defer sub.Close()

	feed.NotifyChange("call_transcripts", "insert")
	feed.NotifyChange("call_summaries", "update")

	event := receiveEvent(t, sub)
	assert.Equal(t, "call_summaries", event.Table, "events for other tables must be filtered out")
}

func TestLocalFeedEmptySubscribeReceivesAll(t *testing.T) {
	feed := NewLocalFeed(testLogger())
	defer feed.Close()

	sub, err := feed.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	feed.NotifyChange("call_transcripts", "insert")
	feed.NotifyChange("sentiment_trends", "insert")

	first := receiveEvent(t, sub)
	second := receiveEvent(t, sub)
	assert.Equal(t, "call_transcripts", first.Table)
	assert.Equal(t, "sentiment_trends", second.Table)
}

func TestLocalFeedFanOut(t *testing.T) {
	feed := NewLocalFeed(testLogger())
	defer feed.Close()

	first, err := feed.Subscribe("call_transcripts")
	require.NoError(t, err)
	defer first.Close()

	second, err := feed.Subscribe("call_transcripts")
	require.NoError(t, err)
	defer second.Close()

	feed.NotifyChange("call_transcripts", "delete")

	assert.Equal(t, "delete", receiveEvent(t, first).Op)
	assert.Equal(t, "delete", receiveEvent(t, second).Op)
}

func TestLocalFeedSlowSubscriberDoesNotBlock(t *testing.T) {
	feed := NewLocalFeed(testLogger())
	defer feed.Close()

	sub, err := feed.Subscribe("call_transcripts")
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Overflow the subscription buffer without draining it.
		for i := 0; i < 100; i++ {
			feed.NotifyChange("call_transcripts", "insert")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestLocalFeedSubscriptionCloseIsIdempotent(t *testing.T) {
	feed := NewLocalFeed(testLogger())
	defer feed.Close()

	sub, err := feed.Subscribe("call_transcripts")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel must be closed after Close")

	// Publishing after close must not panic.
	feed.NotifyChange("call_transcripts", "insert")
}

func TestLocalFeedCloseReleasesSubscriptions(t *testing.T) {
	feed := NewLocalFeed(testLogger())

	sub, err := feed.Subscribe()
	require.NoError(t, err)

	require.NoError(t, feed.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
