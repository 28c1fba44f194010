// Package summarizer builds short extractive summaries for ingest reports.
package summarizer

import (
	"math"
	"slices"
	"strings"

	"wraith/internal/domain"
)

// DefaultSentences is used when Summarize is called with maxSentences <= 0.
const DefaultSentences = 3

// FrequencySummarizer picks the sentences whose content words recur most
// across the whole text.
type FrequencySummarizer struct{}

var _ domain.Summarizer = (*FrequencySummarizer)(nil)

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{}
}

// Summarize returns up to maxSentences of the highest scoring sentences in
// their original order, each with its whitespace collapsed.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = DefaultSentences
	}
	spans := Sentences(text)
	if len(spans) == 0 {
		return "", nil
	}

	words := make([][]string, len(spans))
	counts := map[string]int{}
	top := 0
	for i, sp := range spans {
		words[i] = ContentTokens(text[sp.Start:sp.End])
		for _, w := range words[i] {
			counts[w]++
			top = max(top, counts[w])
		}
	}

	// a sentence scores the mean weight of its distinct content words, damped
	// by sqrt so neither long nor one-word sentences dominate
	scores := make([]float64, len(spans))
	for i, ws := range words {
		seen := make(map[string]struct{}, len(ws))
		var sum float64
		for _, w := range ws {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			sum += float64(counts[w]) / float64(top)
		}
		if len(seen) > 0 {
			scores[i] = sum / math.Sqrt(float64(len(seen)))
		}
	}

	order := make([]int, len(spans))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})
	picked := order[:min(maxSentences, len(order))]
	slices.Sort(picked)

	out := make([]string, len(picked))
	for i, idx := range picked {
		sp := spans[idx]
		out[i] = strings.Join(strings.Fields(text[sp.Start:sp.End]), " ")
	}
	return strings.Join(out, " "), nil
}
