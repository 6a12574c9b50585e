package store

import (
	"time"

	"calldash-server/pkg/analysis"
)

// Logical table names, also used as notification channel keys.
const (
	TableTranscripts     = "call_transcripts"
	TableSummaries       = "call_summaries"
	TableKeywordTrends   = "keyword_trends"
	TableSentimentTrends = "sentiment_trends"
)

// TranscriptRecord is the primary, authoritative transcript analytics
// row. Immutable once written except for corrective backfill.
type TranscriptRecord struct {
	ID              string             `db:"id" json:"id"`
	OwnerID         string             `db:"owner_id" json:"owner_id"`
	Text            string             `db:"text" json:"text"`
	DurationSeconds int64              `db:"duration_seconds" json:"duration_seconds"`
	Sentiment       string             `db:"sentiment" json:"sentiment"`
	Keywords        []string           `db:"keywords" json:"keywords,omitempty"`
	CallScore       float64            `db:"call_score" json:"call_score"`
	Segments        []analysis.Segment `db:"speaker_segments" json:"speaker_segments,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
}

// CallSummaryRecord is the best-effort projection of a TranscriptRecord
// used for fast aggregate reads. It shares the transcript's identifier
// so the two can be correlated despite being written by independent,
// non-transactional calls.
type CallSummaryRecord struct {
	ID                     string    `db:"id" json:"id"`
	AgentSentimentScore    float64   `db:"agent_sentiment_score" json:"agent_sentiment_score"`
	CustomerSentimentScore float64   `db:"customer_sentiment_score" json:"customer_sentiment_score"`
	AgentTalkRatio         float64   `db:"agent_talk_ratio" json:"agent_talk_ratio"`
	CustomerTalkRatio      float64   `db:"customer_talk_ratio" json:"customer_talk_ratio"`
	ReportDate             time.Time `db:"report_date" json:"report_date"`
	CreatedAt              time.Time `db:"created_at" json:"created_at"`
}

// KeywordTrendEntry is a rollup row keyed by (keyword, category).
type KeywordTrendEntry struct {
	Keyword     string    `db:"keyword" json:"keyword"`
	Category    string    `db:"category" json:"category"` // positive, neutral, negative, general
	Occurrences int64     `db:"occurrences" json:"occurrences"`
	LastUsedAt  time.Time `db:"last_used_at" json:"last_used_at"`
}

// SentimentTrendEntry is one append-only sentiment observation.
// Never updated after insert.
type SentimentTrendEntry struct {
	ID         string    `db:"id" json:"id"`
	OwnerID    string    `db:"owner_id" json:"owner_id"`
	Sentiment  string    `db:"sentiment" json:"sentiment"`
	Confidence float64   `db:"confidence" json:"confidence"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// MetricsSnapshot is the transient aggregate view assembled from the
// summary and trend tables. Rebuilt on every refresh, never persisted.
type MetricsSnapshot struct {
	TotalCalls         int       `json:"total_calls"`
	AvgDurationSeconds float64   `json:"avg_duration_seconds"`
	PositivePct        float64   `json:"positive_pct"`
	NeutralPct         float64   `json:"neutral_pct"`
	NegativePct        float64   `json:"negative_pct"`
	AvgSentimentScore  float64   `json:"avg_sentiment_score"`
	AvgCallScore       float64   `json:"avg_call_score"`
	ConversionRate     float64   `json:"conversion_rate"`
	AgentTalkRatio     float64   `json:"agent_talk_ratio"`
	CustomerTalkRatio  float64   `json:"customer_talk_ratio"`
	TopKeywords        []string  `json:"top_keywords"`
	ReportDate         time.Time `json:"report_date"`
}

// BadSentimentRow is a transcript row whose sentiment label is not one
// of the recognized values, a candidate for the repair operation.
type BadSentimentRow struct {
	ID   string `db:"id" json:"id"`
	Text string `db:"text" json:"text"`
}
