package ingest

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"calldash-server/pkg/analysis"
	"calldash-server/pkg/errors"
	"calldash-server/pkg/metrics"
	"calldash-server/pkg/store"
	"calldash-server/pkg/transcribe"
)

// Bytes of audio per second assumed when no duration metadata is
// available (16kHz, 16-bit mono PCM).
const bytesPerSecond = 32000

// Seconds assigned when neither metadata nor audio size is known.
const fallbackDurationSeconds = 60

// Store is the persistence surface the pipeline writes through.
type Store interface {
	UpsertTranscript(ctx context.Context, rec *store.TranscriptRecord) error
	InsertSummary(ctx context.Context, summary *store.CallSummaryRecord) error
	GetKeywordTrend(ctx context.Context, keyword, category string) (*store.KeywordTrendEntry, error)
	IncrementKeywordTrend(ctx context.Context, keyword, category string, usedAt time.Time) error
	InsertKeywordTrend(ctx context.Context, entry *store.KeywordTrendEntry) error
	InsertSentimentTrend(ctx context.Context, entry *store.SentimentTrendEntry) error
}

// Call is one ingestion request. Either Transcript or Audio must be
// present; the rest is optional metadata. A caller that supplies ID
// can replay the same call idempotently; the detail write folds into
// an update of the existing row.
type Call struct {
	ID              string
	Transcript      string
	Audio           io.Reader
	AudioSizeBytes  int64
	DurationSeconds int64
	OwnerID         string
	SessionOwnerID  string
}

// Result reports the outcome of one ingestion. ID is set as soon as the
// call is assigned an identifier, even when the detail write fails, so
// callers can correlate retries.
type Result struct {
	ID  string
	Err error
}

// Pipeline runs the full ingestion sequence for one call: transcribe if
// needed, derive analytics, write the detail record, then fan out the
// best-effort summary and trend writes.
type Pipeline struct {
	store       Store
	analyzer    *analysis.Analyzer
	transcriber transcribe.Provider
	trends      *TrendRecorder
	logger      *logrus.Logger
	topKeywords int
}

// NewPipeline creates an ingestion pipeline.
func NewPipeline(st Store, analyzer *analysis.Analyzer, transcriber transcribe.Provider, topKeywords int, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		store:       st,
		analyzer:    analyzer,
		transcriber: transcriber,
		trends:      NewTrendRecorder(st, logger),
		logger:      logger,
		topKeywords: topKeywords,
	}
}

// Process ingests one call. Only the detail write can fail the call;
// summary and trend writes are logged and dropped on failure.
func (p *Pipeline) Process(ctx context.Context, call Call) Result {
	text := call.Transcript
	var rawSegments []transcribe.Segment
	audioDuration := 0.0

	if text == "" && call.Audio != nil {
		result, err := p.transcriber.Transcribe(ctx, call.Audio, transcribe.AudioInfo{
			DurationSeconds: float64(call.DurationSeconds),
			SizeBytes:       call.AudioSizeBytes,
		})
		if err != nil {
			metrics.RecordIngest("transcription_failed")
			return Result{Err: errors.Wrap(err, "transcription failed")}
		}
		text = result.Text
		rawSegments = result.Segments
		audioDuration = result.Audio.DurationSeconds
	}

	if text == "" {
		metrics.RecordIngest("rejected")
		return Result{Err: errors.NewClassified(errors.ClassDataFormat, "call has neither transcript nor audio")}
	}

	owner := resolveOwner(call)
	duration := resolveDuration(call, audioDuration)
	d := p.derive(text, rawSegments)

	id := call.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()

	rec := &store.TranscriptRecord{
		ID:              id,
		OwnerID:         owner,
		Text:            text,
		DurationSeconds: duration,
		Sentiment:       string(d.sentiment),
		Keywords:        d.keywords,
		CallScore:       d.score,
		Segments:        d.segments,
		CreatedAt:       now,
	}
	if err := p.store.UpsertTranscript(ctx, rec); err != nil {
		metrics.RecordIngest("failed")
		return Result{ID: id, Err: err}
	}

	// The detail row is the source of truth. Everything past this point
	// is best effort and must not fail the call.
	summary := &store.CallSummaryRecord{
		ID:                     id,
		AgentSentimentScore:    d.agentScore,
		CustomerSentimentScore: d.customerScore,
		AgentTalkRatio:         d.agentRatio,
		CustomerTalkRatio:      100 - d.agentRatio,
		ReportDate:             now,
		CreatedAt:              now,
	}
	if err := p.store.InsertSummary(ctx, summary); err != nil {
		p.logger.WithError(err).WithField("transcript_id", id).Warn("Dropping failed summary write")
		metrics.RecordDroppedWrite(store.TableSummaries)
	}

	p.trends.RecordKeywords(ctx, d.keywords, d.sentiment, now)
	p.trends.RecordSentiment(ctx, owner, d.sentiment, now)

	metrics.RecordIngest("ok")
	p.logger.WithFields(logrus.Fields{
		"transcript_id": id,
		"owner_id":      owner,
		"sentiment":     d.sentiment,
		"duration_s":    duration,
	}).Info("Call ingested")

	return Result{ID: id}
}

// derivation is the analytics bundle computed from one transcript.
type derivation struct {
	sentiment     analysis.Sentiment
	keywords      []string
	score         float64
	segments      []analysis.Segment
	agentScore    float64
	customerScore float64
	agentRatio    float64
}

// derive computes the analytics for a transcript. A panic anywhere in
// the derivation is recovered into neutral defaults so a pathological
// transcript still produces a persistable record.
func (p *Pipeline) derive(text string, raw []transcribe.Segment) (d derivation) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("Analytics derivation panicked, using neutral defaults")
			d = derivation{
				sentiment:     analysis.SentimentNeutral,
				score:         50,
				agentScore:    0.5,
				customerScore: 0.5,
				agentRatio:    50,
			}
		}
	}()

	d.sentiment = p.analyzer.ClassifySentiment(text)
	d.keywords = p.analyzer.ExtractKeywords(text, p.topKeywords)
	d.score = p.analyzer.ScoreCall(text, d.sentiment)
	d.segments = p.analyzer.SplitBySpeaker(text, raw, 2)
	d.agentScore = p.analyzer.SpeakerSentimentScore(d.segments, analysis.RoleAgent)
	d.customerScore = p.analyzer.SpeakerSentimentScore(d.segments, analysis.RoleCustomer)
	d.agentRatio = p.analyzer.TalkRatio(d.segments)
	return d
}

// resolveOwner picks the owner id: explicit, then session, then a fresh
// anonymous identity so ownerless calls still persist.
func resolveOwner(call Call) string {
	if call.OwnerID != "" {
		return call.OwnerID
	}
	if call.SessionOwnerID != "" {
		return call.SessionOwnerID
	}
	return "anon_" + uuid.New().String()
}

// resolveDuration picks the call duration: caller metadata, then the
// transcriber's audio metadata, then an estimate from the audio size,
// then a fixed fallback.
func resolveDuration(call Call, audioDuration float64) int64 {
	if call.DurationSeconds > 0 {
		return call.DurationSeconds
	}
	if audioDuration > 0 {
		return int64(math.Round(audioDuration))
	}
	if call.AudioSizeBytes > 0 {
		// Tiny payloads can round to a zero-second estimate; the fixed
		// fallback applies rather than a zero duration.
		if est := int64(math.Round(float64(call.AudioSizeBytes) / bytesPerSecond)); est > 0 {
			return est
		}
	}
	return fallbackDurationSeconds
}
