package analysis

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calldash-server/pkg/transcribe"
)

func newTestAnalyzer() *Analyzer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewAnalyzer(logger)
}

func TestClassifySentiment(t *testing.T) {
	a := newTestAnalyzer()

	cases := []struct {
		name string
		text string
		want Sentiment
	}{
		{"positive", "This was excellent, thank you so much, great service!", SentimentPositive},
		{"negative", "This is terrible, I am very frustrated and angry about the broken product.", SentimentNegative},
		{"neutral", "The package arrived on Tuesday at the office.", SentimentNeutral},
		{"negated positive", "This is not good and not helpful at all.", SentimentNegative},
		{"empty", "", SentimentNeutral},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, a.ClassifySentiment(tc.text))
		})
	}
}

func TestClassifySentimentDeterministic(t *testing.T) {
	a := newTestAnalyzer()
	text := "Great support, the issue was resolved quickly, thanks!"
	first := a.ClassifySentiment(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, a.ClassifySentiment(text))
	}
}

func TestExtractKeywords(t *testing.T) {
	a := newTestAnalyzer()

	text := "billing billing billing invoice invoice payment account account account account"
	keywords := a.ExtractKeywords(text, 3)

	require.Len(t, keywords, 3)
	assert.Equal(t, []string{"account", "billing", "invoice"}, keywords)
}

func TestExtractKeywordsDedupAndStopwords(t *testing.T) {
	a := newTestAnalyzer()

	keywords := a.ExtractKeywords("the the the order order was was delayed", 5)

	assert.NotContains(t, keywords, "the")
	assert.NotContains(t, keywords, "was")
	seen := map[string]bool{}
	for _, k := range keywords {
		assert.False(t, seen[k], "keyword %q duplicated", k)
		seen[k] = true
	}
	assert.Equal(t, "order", keywords[0])
}

func TestExtractKeywordsTiesPreserveOrder(t *testing.T) {
	a := newTestAnalyzer()

	keywords := a.ExtractKeywords("shipping refund warranty", 3)
	assert.Equal(t, []string{"shipping", "refund", "warranty"}, keywords)
}

func TestScoreCallBounds(t *testing.T) {
	a := newTestAnalyzer()

	cases := []struct {
		text  string
		label Sentiment
	}{
		{"", SentimentNeutral},
		{"short call", SentimentNegative},
		{"an extremely long and excellent conversation about many varied topics with rich vocabulary", SentimentPositive},
	}

	for _, tc := range cases {
		score := a.ScoreCall(tc.text, tc.label)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
	}

	positive := a.ScoreCall("fine conversation overall", SentimentPositive)
	negative := a.ScoreCall("fine conversation overall", SentimentNegative)
	assert.Greater(t, positive, negative, "sentiment label must move the score")
}

func TestSplitBySpeakerFromSegments(t *testing.T) {
	a := newTestAnalyzer()

	raw := []transcribe.Segment{
		{Speaker: 0, Text: "How can I help?", StartTime: 0, EndTime: 2},
		{Speaker: 1, Text: "My order is late.", StartTime: 2, EndTime: 4},
		{Speaker: 0, Text: "Let me check.", StartTime: 4, EndTime: 6},
	}

	segments := a.SplitBySpeaker("", raw, 2)
	require.Len(t, segments, 3)
	assert.Equal(t, RoleAgent, segments[0].Speaker)
	assert.Equal(t, RoleCustomer, segments[1].Speaker)
	assert.Equal(t, RoleAgent, segments[2].Speaker)
}

func TestSplitBySpeakerFallbackAlternates(t *testing.T) {
	a := newTestAnalyzer()

	segments := a.SplitBySpeaker("Hello there. Hi, I need help. Sure thing.", nil, 2)
	require.Len(t, segments, 3)
	assert.Equal(t, RoleAgent, segments[0].Speaker)
	assert.Equal(t, RoleCustomer, segments[1].Speaker)
}

func TestTalkRatio(t *testing.T) {
	a := newTestAnalyzer()

	segments := []Segment{
		{Speaker: RoleAgent, Text: "one two three"},
		{Speaker: RoleCustomer, Text: "four"},
	}
	assert.InDelta(t, 75.0, a.TalkRatio(segments), 0.001)

	assert.Equal(t, 50.0, a.TalkRatio(nil), "no segments defaults to an even split")
}

func TestSpeakerSentimentScore(t *testing.T) {
	a := newTestAnalyzer()

	segments := []Segment{
		{Speaker: RoleAgent, Text: "Happy to help, great question!"},
		{Speaker: RoleCustomer, Text: "This is terrible and frustrating."},
	}

	agent := a.SpeakerSentimentScore(segments, RoleAgent)
	customer := a.SpeakerSentimentScore(segments, RoleCustomer)

	assert.Greater(t, agent, customer)
	assert.GreaterOrEqual(t, customer, 0.0)
	assert.LessOrEqual(t, agent, 1.0)
	assert.Equal(t, 0.5, a.SpeakerSentimentScore(nil, RoleAgent))
}
