package analysis

// ScoreCall computes a 0-100 quality score from text features and the
// sentiment label. Deterministic for a given input.
func (a *Analyzer) ScoreCall(text string, label Sentiment) float64 {
	words := tokenize(text)

	score := 50.0

	switch label {
	case SentimentPositive:
		score += 20
	case SentimentNegative:
		score -= 20
	}

	// Longer calls carry more signal, up to a point.
	lengthBonus := float64(len(words)) / 20.0
	if lengthBonus > 15 {
		lengthBonus = 15
	}
	score += lengthBonus

	// Vocabulary richness as a proxy for substantive conversation.
	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[w] = struct{}{}
		}
		score += float64(len(unique)) / float64(len(words)) * 15
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
