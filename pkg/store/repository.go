package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"calldash-server/pkg/client"
	"calldash-server/pkg/errors"
)

// Change operation names used on the notification channel.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeNotifier publishes a change event after a successful write.
// Publishing is a non-critical side effect; implementations log their
// own failures.
type ChangeNotifier interface {
	NotifyChange(table, op string)
}

// Repository provides row-level operations over the analytics tables.
// Every call goes through the resilient request client.
type Repository struct {
	db       *MySQLDatabase
	runner   *client.Client
	probe    *CapabilityProbe
	notifier ChangeNotifier
	logger   *logrus.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *MySQLDatabase, runner *client.Client, probe *CapabilityProbe, logger *logrus.Logger) *Repository {
	return &Repository{
		db:     db,
		runner: runner,
		probe:  probe,
		logger: logger,
	}
}

// SetNotifier attaches the change-notification publisher.
func (r *Repository) SetNotifier(notifier ChangeNotifier) {
	r.notifier = notifier
}

func (r *Repository) notify(table, op string) {
	if r.notifier != nil {
		r.notifier.NotifyChange(table, op)
	}
}

// Optional transcript columns that may be missing on schema versions
// lagging the application.
var optionalTranscriptColumns = []string{"keywords", "call_score", "speaker_segments"}

// UpsertTranscript writes the detail record idempotently, keyed by its
// identifier. Optional columns are included only when the capability
// probe says they exist; if the write still hits a schema mismatch the
// probe cache is invalidated and the write retried once against the
// re-probed column set.
func (r *Repository) UpsertTranscript(ctx context.Context, rec *TranscriptRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	req := client.Request{Table: TableTranscripts, Op: "upsert"}
	err := r.runner.Do(ctx, req, func(ctx context.Context) error {
		return r.execTranscriptUpsert(ctx, rec)
	})

	if err != nil && errors.Classify(err) == errors.ClassSchemaMismatch {
		r.logger.WithError(err).Warn("Transcript upsert hit schema mismatch, re-probing columns")
		r.probe.Invalidate(TableTranscripts)

		err = r.runner.Do(ctx, req, func(ctx context.Context) error {
			return r.execTranscriptUpsert(ctx, rec)
		})
	}

	if err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"transcript_id": rec.ID,
		"owner_id":      rec.OwnerID,
		"sentiment":     rec.Sentiment,
	}).Info("Transcript record written")

	r.notify(TableTranscripts, OpInsert)
	return nil
}

func (r *Repository) execTranscriptUpsert(ctx context.Context, rec *TranscriptRecord) error {
	columns := []string{"id", "owner_id", "text", "duration_seconds", "sentiment", "created_at"}
	args := []interface{}{rec.ID, rec.OwnerID, rec.Text, rec.DurationSeconds, rec.Sentiment, rec.CreatedAt}

	for _, column := range optionalTranscriptColumns {
		has, err := r.probe.HasColumn(ctx, TableTranscripts, column)
		if err != nil {
			return err
		}
		if !has {
			continue
		}

		switch column {
		case "keywords":
			payload, err := json.Marshal(rec.Keywords)
			if err != nil {
				return errors.Wrap(err, "failed to marshal keywords").WithClass(errors.ClassDataFormat)
			}
			columns = append(columns, column)
			args = append(args, payload)
		case "call_score":
			columns = append(columns, column)
			args = append(args, rec.CallScore)
		case "speaker_segments":
			payload, err := json.Marshal(rec.Segments)
			if err != nil {
				return errors.Wrap(err, "failed to marshal speaker segments").WithClass(errors.ClassDataFormat)
			}
			columns = append(columns, column)
			args = append(args, payload)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	updates := make([]string, 0, len(columns)-1)
	for _, column := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", column, column))
	}

	query := fmt.Sprintf(
		"INSERT INTO call_transcripts (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		strings.Join(columns, ", "), placeholders, strings.Join(updates, ", "),
	)

	_, err := r.db.db.ExecContext(ctx, query, args...)
	return err
}

// InsertSummary writes the summary projection. Callers treat failure as
// a non-critical side effect; the record carries the transcript's id.
func (r *Repository) InsertSummary(ctx context.Context, summary *CallSummaryRecord) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now()
	}
	if summary.ReportDate.IsZero() {
		summary.ReportDate = summary.CreatedAt
	}

	query := `
		INSERT INTO call_summaries (
			id, agent_sentiment_score, customer_sentiment_score,
			agent_talk_ratio, customer_talk_ratio, report_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			agent_sentiment_score = VALUES(agent_sentiment_score),
			customer_sentiment_score = VALUES(customer_sentiment_score),
			agent_talk_ratio = VALUES(agent_talk_ratio),
			customer_talk_ratio = VALUES(customer_talk_ratio),
			report_date = VALUES(report_date)
	`

	err := r.runner.Do(ctx, client.Request{Table: TableSummaries, Op: "insert"}, func(ctx context.Context) error {
		_, err := r.db.db.ExecContext(ctx, query,
			summary.ID, summary.AgentSentimentScore, summary.CustomerSentimentScore,
			summary.AgentTalkRatio, summary.CustomerTalkRatio,
			summary.ReportDate, summary.CreatedAt,
		)
		return err
	})
	if err != nil {
		return err
	}

	r.notify(TableSummaries, OpInsert)
	return nil
}

// GetKeywordTrend retrieves one rollup row, or ErrNotFound.
func (r *Repository) GetKeywordTrend(ctx context.Context, keyword, category string) (*KeywordTrendEntry, error) {
	entry := &KeywordTrendEntry{}

	err := r.runner.Do(ctx, client.Request{Table: TableKeywordTrends, Op: "select"}, func(ctx context.Context) error {
		row := r.db.db.QueryRowContext(ctx,
			"SELECT keyword, category, occurrences, last_used_at FROM keyword_trends WHERE keyword = ? AND category = ?",
			keyword, category,
		)
		err := row.Scan(&entry.Keyword, &entry.Category, &entry.Occurrences, &entry.LastUsedAt)
		if err == sql.ErrNoRows {
			return errors.Wrap(errors.ErrNotFound, "keyword trend not found")
		}
		return err
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// IncrementKeywordTrend bumps an existing rollup row through a keyed
// update, which cannot clobber the counter the way a blind upsert with
// a partial payload could.
func (r *Repository) IncrementKeywordTrend(ctx context.Context, keyword, category string, usedAt time.Time) error {
	return r.runner.Do(ctx, client.Request{Table: TableKeywordTrends, Op: "update"}, func(ctx context.Context) error {
		_, err := r.db.db.ExecContext(ctx,
			"UPDATE keyword_trends SET occurrences = occurrences + 1, last_used_at = ? WHERE keyword = ? AND category = ?",
			usedAt, keyword, category,
		)
		return err
	})
}

// InsertKeywordTrend inserts a new rollup row. The upsert targets the
// (keyword, category) uniqueness constraint so concurrent first
// insertions fold into an increment instead of failing.
func (r *Repository) InsertKeywordTrend(ctx context.Context, entry *KeywordTrendEntry) error {
	return r.runner.Do(ctx, client.Request{Table: TableKeywordTrends, Op: "insert"}, func(ctx context.Context) error {
		_, err := r.db.db.ExecContext(ctx, `
			INSERT INTO keyword_trends (keyword, category, occurrences, last_used_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				occurrences = occurrences + 1,
				last_used_at = VALUES(last_used_at)
		`, entry.Keyword, entry.Category, entry.Occurrences, entry.LastUsedAt)
		return err
	})
}

// InsertSentimentTrend appends one sentiment observation.
func (r *Repository) InsertSentimentTrend(ctx context.Context, entry *SentimentTrendEntry) error {
	return r.runner.Do(ctx, client.Request{Table: TableSentimentTrends, Op: "insert"}, func(ctx context.Context) error {
		_, err := r.db.db.ExecContext(ctx,
			"INSERT INTO sentiment_trends (id, owner_id, sentiment, confidence, recorded_at) VALUES (?, ?, ?, ?, ?)",
			entry.ID, entry.OwnerID, entry.Sentiment, entry.Confidence, entry.RecordedAt,
		)
		return err
	})
}

// FetchSnapshot rebuilds the aggregate metrics view. A snapshot with
// TotalCalls == 0 is a normal result for an empty store; summary-row
// absence is likewise expected and falls back to defaults.
func (r *Repository) FetchSnapshot(ctx context.Context, conversionThreshold float64, topKeywords int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{}

	err := r.runner.Do(ctx, client.Request{Table: TableSummaries, Op: "select"}, func(ctx context.Context) error {
		row := r.db.db.QueryRowContext(ctx, `
			SELECT COUNT(*),
				   COALESCE(AVG(duration_seconds), 0),
				   COALESCE(AVG(sentiment = 'positive') * 100, 0),
				   COALESCE(AVG(sentiment = 'neutral') * 100, 0),
				   COALESCE(AVG(sentiment = 'negative') * 100, 0),
				   COALESCE(AVG(call_score), 0),
				   COALESCE(AVG(call_score >= ?) * 100, 0)
			FROM call_transcripts
		`, conversionThreshold)
		if err := row.Scan(
			&snap.TotalCalls, &snap.AvgDurationSeconds,
			&snap.PositivePct, &snap.NeutralPct, &snap.NegativePct,
			&snap.AvgCallScore, &snap.ConversionRate,
		); err != nil {
			return err
		}

		var reportDate sql.NullTime
		var avgSentiment, agentRatio, customerRatio sql.NullFloat64
		row = r.db.db.QueryRowContext(ctx, `
			SELECT AVG((agent_sentiment_score + customer_sentiment_score) / 2),
				   AVG(agent_talk_ratio),
				   AVG(customer_talk_ratio),
				   MAX(report_date)
			FROM call_summaries
		`)
		if err := row.Scan(&avgSentiment, &agentRatio, &customerRatio, &reportDate); err != nil {
			return err
		}

		// Summary rows are written best-effort and may lag or be
		// missing entirely; that is a normal state, not an error.
		snap.AvgSentimentScore = 0.5
		snap.AgentTalkRatio = 50
		snap.CustomerTalkRatio = 50
		if avgSentiment.Valid {
			snap.AvgSentimentScore = avgSentiment.Float64
		}
		if agentRatio.Valid {
			snap.AgentTalkRatio = agentRatio.Float64
		}
		if customerRatio.Valid {
			snap.CustomerTalkRatio = customerRatio.Float64
		}
		if reportDate.Valid {
			snap.ReportDate = reportDate.Time
		} else {
			snap.ReportDate = time.Now()
		}

		rows, err := r.db.db.QueryContext(ctx,
			"SELECT keyword FROM keyword_trends ORDER BY occurrences DESC, last_used_at DESC LIMIT ?",
			topKeywords,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var keyword string
			if err := rows.Scan(&keyword); err != nil {
				return err
			}
			snap.TopKeywords = append(snap.TopKeywords, keyword)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListBadSentiments returns transcript rows whose sentiment label is
// not one of the recognized values.
func (r *Repository) ListBadSentiments(ctx context.Context) ([]BadSentimentRow, error) {
	var bad []BadSentimentRow

	err := r.runner.Do(ctx, client.Request{Table: TableTranscripts, Op: "select"}, func(ctx context.Context) error {
		rows, err := r.db.db.QueryContext(ctx,
			"SELECT id, text FROM call_transcripts WHERE sentiment NOT IN ('positive', 'neutral', 'negative') OR sentiment = ''",
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		bad = bad[:0]
		for rows.Next() {
			var row BadSentimentRow
			if err := rows.Scan(&row.ID, &row.Text); err != nil {
				return err
			}
			bad = append(bad, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return bad, nil
}

// UpdateSentiment is the corrective backfill used by the repair
// operation; the only mutation allowed on a written transcript.
func (r *Repository) UpdateSentiment(ctx context.Context, id, sentiment string) error {
	err := r.runner.Do(ctx, client.Request{Table: TableTranscripts, Op: "update"}, func(ctx context.Context) error {
		_, err := r.db.db.ExecContext(ctx,
			"UPDATE call_transcripts SET sentiment = ? WHERE id = ?",
			sentiment, id,
		)
		return err
	})
	if err != nil {
		return err
	}

	r.notify(TableTranscripts, OpUpdate)
	return nil
}
