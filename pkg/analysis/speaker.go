package analysis

import (
	"strings"

	"calldash-server/pkg/transcribe"
)

// Speaker roles assigned to transcript segments.
const (
	RoleAgent    = "agent"
	RoleCustomer = "customer"
)

// Segment is a span of the transcript attributed to one speaker role.
type Segment struct {
	Speaker   string  `json:"speaker"`
	Text      string  `json:"text"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// SplitBySpeaker maps raw timestamped segments onto speaker roles. The
// first speaker index is treated as the agent. When the transcription
// carries no segments the text is split into sentences alternated
// between the roles, which keeps talk-ratio measurement possible for
// providers without diarization.
func (a *Analyzer) SplitBySpeaker(text string, raw []transcribe.Segment, speakerCount int) []Segment {
	if len(raw) > 0 {
		segments := make([]Segment, 0, len(raw))
		for _, seg := range raw {
			role := RoleAgent
			if seg.Speaker%2 == 1 {
				role = RoleCustomer
			}
			segments = append(segments, Segment{
				Speaker:   role,
				Text:      seg.Text,
				StartTime: seg.StartTime,
				EndTime:   seg.EndTime,
			})
		}
		return segments
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	segments := make([]Segment, 0, len(sentences))
	for i, sentence := range sentences {
		role := RoleAgent
		if speakerCount > 1 && i%2 == 1 {
			role = RoleCustomer
		}
		segments = append(segments, Segment{Speaker: role, Text: sentence})
	}
	return segments
}

// TalkRatio measures the agent's share of spoken words as a 0-100
// percentage. Without segments there is nothing to measure and the
// split defaults to an even 50.
func (a *Analyzer) TalkRatio(segments []Segment) float64 {
	agentWords := 0
	totalWords := 0
	for _, seg := range segments {
		n := len(strings.Fields(seg.Text))
		totalWords += n
		if seg.Speaker == RoleAgent {
			agentWords += n
		}
	}
	if totalWords == 0 {
		return 50
	}
	return float64(agentWords) / float64(totalWords) * 100
}

// SpeakerSentimentScore maps the sentiment of one speaker's segments to
// a 0-1 score by averaging a fixed per-label value.
func (a *Analyzer) SpeakerSentimentScore(segments []Segment, role string) float64 {
	total := 0.0
	count := 0
	for _, seg := range segments {
		if seg.Speaker != role {
			continue
		}
		switch a.ClassifySentiment(seg.Text) {
		case SentimentPositive:
			total += 0.8
		case SentimentNegative:
			total += 0.2
		default:
			total += 0.5
		}
		count++
	}
	if count == 0 {
		return 0.5
	}
	return total / float64(count)
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
