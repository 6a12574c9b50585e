package analysis

import "sort"

// ExtractKeywords returns the topN most frequent significant words in
// the text, ordered by frequency with first occurrence breaking ties.
// The result is deduplicated by construction.
func (a *Analyzer) ExtractKeywords(text string, topN int) []string {
	if topN <= 0 {
		return nil
	}

	words := tokenize(text)

	type entry struct {
		word  string
		count int
		first int
	}

	counts := make(map[string]*entry)
	order := make([]*entry, 0, len(words))

	for i, word := range words {
		if len(word) < 3 || a.stopWords[word] {
			continue
		}
		if e, ok := counts[word]; ok {
			e.count++
			continue
		}
		e := &entry{word: word, count: 1, first: i}
		counts[word] = e
		order = append(order, e)
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].count != order[j].count {
			return order[i].count > order[j].count
		}
		return order[i].first < order[j].first
	})

	if len(order) > topN {
		order = order[:topN]
	}

	keywords := make([]string, len(order))
	for i, e := range order {
		keywords[i] = e.word
	}
	return keywords
}
