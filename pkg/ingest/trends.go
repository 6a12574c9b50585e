package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"calldash-server/pkg/analysis"
	"calldash-server/pkg/errors"
	"calldash-server/pkg/metrics"
	"calldash-server/pkg/store"
)

// Confidence assigned to one sentiment observation per label.
func sentimentConfidence(s analysis.Sentiment) float64 {
	switch s {
	case analysis.SentimentPositive:
		return 0.8
	case analysis.SentimentNegative:
		return 0.7
	default:
		return 0.6
	}
}

// TrendRecorder maintains the keyword and sentiment rollups. All of its
// writes are non-critical: failures are logged, counted and dropped.
type TrendRecorder struct {
	store  Store
	logger *logrus.Logger
}

// NewTrendRecorder creates a trend recorder over the given store.
func NewTrendRecorder(st Store, logger *logrus.Logger) *TrendRecorder {
	return &TrendRecorder{store: st, logger: logger}
}

// RecordKeywords bumps the rollup counter for each keyword under the
// call's sentiment category. Existing rows get a keyed increment; new
// rows go through a conflict-safe insert so concurrent first uses of a
// keyword fold together.
func (t *TrendRecorder) RecordKeywords(ctx context.Context, keywords []string, sentiment analysis.Sentiment, usedAt time.Time) {
	category := "general"
	if sentiment.Valid() {
		category = string(sentiment)
	}

	for _, keyword := range keywords {
		_, err := t.store.GetKeywordTrend(ctx, keyword, category)
		switch {
		case err == nil:
			err = t.store.IncrementKeywordTrend(ctx, keyword, category, usedAt)
		case errors.IsNotFound(err):
			err = t.store.InsertKeywordTrend(ctx, &store.KeywordTrendEntry{
				Keyword:     keyword,
				Category:    category,
				Occurrences: 1,
				LastUsedAt:  usedAt,
			})
		}
		if err != nil {
			t.logger.WithError(err).WithFields(logrus.Fields{
				"keyword":  keyword,
				"category": category,
			}).Warn("Dropping failed keyword trend write")
			metrics.RecordDroppedWrite(store.TableKeywordTrends)
		}
	}
}

// RecordSentiment appends one sentiment observation for the call.
func (t *TrendRecorder) RecordSentiment(ctx context.Context, owner string, sentiment analysis.Sentiment, recordedAt time.Time) {
	entry := &store.SentimentTrendEntry{
		ID:         uuid.New().String(),
		OwnerID:    owner,
		Sentiment:  string(sentiment),
		Confidence: sentimentConfidence(sentiment),
		RecordedAt: recordedAt,
	}
	if err := t.store.InsertSentimentTrend(ctx, entry); err != nil {
		t.logger.WithError(err).WithField("owner_id", owner).Warn("Dropping failed sentiment trend write")
		metrics.RecordDroppedWrite(store.TableSentimentTrends)
	}
}
