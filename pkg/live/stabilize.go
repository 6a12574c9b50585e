package live

import (
	"math"
	"time"

	"calldash-server/pkg/store"
)

// Metrics is the dashboard-facing view of one aggregate snapshot.
// Percentages are whole numbers, the conversion rate keeps one decimal,
// and the talk ratios always sum to exactly 100.
type Metrics struct {
	TotalCalls         int       `json:"total_calls"`
	AvgDurationSeconds int       `json:"avg_duration_seconds"`
	PositivePct        int       `json:"positive_pct"`
	NeutralPct         int       `json:"neutral_pct"`
	NegativePct        int       `json:"negative_pct"`
	AvgSentimentScore  float64   `json:"avg_sentiment_score"`
	AvgCallScore       int       `json:"avg_call_score"`
	ConversionRate     float64   `json:"conversion_rate"`
	AgentTalkRatio     int       `json:"agent_talk_ratio"`
	CustomerTalkRatio  int       `json:"customer_talk_ratio"`
	TopKeywords        []string  `json:"top_keywords"`
	ReportDate         time.Time `json:"report_date"`
}

// DemoMetrics returns the plausible placeholder view shown while the
// store is empty or unreachable.
func DemoMetrics() Metrics {
	return Metrics{
		TotalCalls:         128,
		AvgDurationSeconds: 245,
		PositivePct:        54,
		NeutralPct:         28,
		NegativePct:        18,
		AvgSentimentScore:  0.62,
		AvgCallScore:       68,
		ConversionRate:     32.5,
		AgentTalkRatio:     55,
		CustomerTalkRatio:  45,
		TopKeywords:        []string{"pricing", "renewal", "support", "upgrade", "billing"},
		ReportDate:         time.Now(),
	}
}

// Stabilize normalizes one raw aggregate snapshot for display. The
// customer talk ratio is derived from the rounded agent ratio rather
// than rounded independently, so the pair cannot drift off 100. Top
// keywords fall back to the previous view's list when the snapshot has
// none, so a lagging rollup table does not blank the panel.
func Stabilize(prev Metrics, raw *store.MetricsSnapshot) Metrics {
	if raw == nil {
		return prev
	}

	agent := roundPct(raw.AgentTalkRatio)

	m := Metrics{
		TotalCalls:         raw.TotalCalls,
		AvgDurationSeconds: int(math.Round(raw.AvgDurationSeconds)),
		PositivePct:        roundPct(raw.PositivePct),
		NeutralPct:         roundPct(raw.NeutralPct),
		NegativePct:        roundPct(raw.NegativePct),
		AvgSentimentScore:  clamp(raw.AvgSentimentScore, 0, 1),
		AvgCallScore:       roundPct(raw.AvgCallScore),
		ConversionRate:     math.Round(clamp(raw.ConversionRate, 0, 100)*10) / 10,
		AgentTalkRatio:     agent,
		CustomerTalkRatio:  100 - agent,
		TopKeywords:        raw.TopKeywords,
		ReportDate:         raw.ReportDate,
	}

	if len(m.TopKeywords) == 0 {
		m.TopKeywords = prev.TopKeywords
	}
	if m.ReportDate.IsZero() {
		m.ReportDate = time.Now()
	}
	return m
}

func roundPct(v float64) int {
	return int(math.Round(clamp(v, 0, 100)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
