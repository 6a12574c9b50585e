package analysis

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Sentiment is the label assigned to a transcript.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// Valid reports whether s is one of the recognized labels.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// Analyzer is the analysis collaborator consumed by the ingestion
// pipeline: fixed-vocabulary sentiment, keyword extraction and call
// scoring. All methods are pure and deterministic for a given input.
type Analyzer struct {
	logger *logrus.Entry

	positiveWords map[string]float64
	negativeWords map[string]float64
	negators      map[string]bool
	stopWords     map[string]bool
}

// NewAnalyzer creates a new analyzer with the built-in lexicons.
func NewAnalyzer(logger *logrus.Logger) *Analyzer {
	a := &Analyzer{
		logger: logger.WithField("component", "analyzer"),
	}
	a.initializeLexicons()
	return a
}

func (a *Analyzer) initializeLexicons() {
	a.positiveWords = map[string]float64{
		"good": 1.0, "great": 1.5, "excellent": 2.0, "amazing": 2.0,
		"wonderful": 1.8, "fantastic": 1.8, "perfect": 1.8, "love": 1.5,
		"happy": 1.2, "pleased": 1.2, "helpful": 1.0, "thanks": 0.8,
		"thank": 0.8, "appreciate": 1.0, "resolved": 1.2, "easy": 0.8,
		"quick": 0.8, "satisfied": 1.2, "welcome": 0.5, "yes": 0.3,
	}
	a.negativeWords = map[string]float64{
		"bad": 1.0, "terrible": 2.0, "awful": 2.0, "horrible": 2.0,
		"hate": 1.8, "angry": 1.5, "frustrated": 1.5, "frustrating": 1.5,
		"disappointed": 1.5, "problem": 0.8, "issue": 0.6, "broken": 1.2,
		"wrong": 0.8, "slow": 0.8, "waiting": 0.6, "cancel": 1.0,
		"refund": 0.8, "complaint": 1.2, "useless": 1.8, "worst": 2.0,
		"never": 0.5, "no": 0.3,
	}
	a.negators = map[string]bool{
		"not": true, "never": true, "no": true, "nothing": true,
		"cant": true, "cannot": true, "wont": true, "dont": true,
		"didnt": true, "isnt": true, "wasnt": true,
	}
	a.stopWords = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true,
		"but": true, "is": true, "are": true, "was": true, "were": true,
		"i": true, "you": true, "he": true, "she": true, "it": true,
		"we": true, "they": true, "this": true, "that": true, "to": true,
		"of": true, "in": true, "on": true, "for": true, "with": true,
		"my": true, "your": true, "me": true, "am": true, "be": true,
		"have": true, "has": true, "had": true, "do": true, "does": true,
		"will": true, "would": true, "can": true, "could": true, "so": true,
		"at": true, "by": true, "from": true, "as": true, "there": true,
	}
}

// ClassifySentiment assigns a sentiment label using the fixed lexicon.
// A negator flips the polarity of the words immediately following it.
func (a *Analyzer) ClassifySentiment(text string) Sentiment {
	words := tokenize(text)
	if len(words) == 0 {
		return SentimentNeutral
	}

	score := 0.0
	modifier := 1.0
	sinceNegator := 0

	for _, word := range words {
		if a.negators[word] {
			modifier = -1.0
			sinceNegator = 0
			continue
		}

		if value, ok := a.positiveWords[word]; ok {
			score += value * modifier
		} else if value, ok := a.negativeWords[word]; ok {
			score -= value * modifier
		}

		// Negation only reaches the next few words.
		if modifier < 0 {
			sinceNegator++
			if sinceNegator >= 3 {
				modifier = 1.0
			}
		}
	}

	switch {
	case score > 0.5:
		return SentimentPositive
	case score < -0.5:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

func tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, text)
	return strings.Fields(cleaned)
}
