package tui

import (
	"github.com/charmbracelet/lipgloss"

	"wraith/internal/summarizer"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightBestSentence returns text with the sentence sharing the most
// content words with query rendered in the highlight style. Everything else,
// whitespace included, is returned unchanged.
func highlightBestSentence(text, query string) string {
	want := make(map[string]struct{})
	for _, t := range summarizer.ContentTokens(query) {
		want[t] = struct{}{}
	}
	best, bestScore := summarizer.Span{}, 0
	for _, sp := range summarizer.Sentences(text) {
		if score := overlap(want, text[sp.Start:sp.End]); score > bestScore {
			best, bestScore = sp, score
		}
	}
	if bestScore == 0 {
		return text
	}
	return text[:best.Start] + highlightStyle.Render(text[best.Start:best.End]) + text[best.End:]
}

// overlap counts the distinct words of sentence found in want.
func overlap(want map[string]struct{}, sentence string) int {
	n := 0
	seen := make(map[string]struct{})
	for _, t := range summarizer.Tokens(sentence) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := want[t]; ok {
			n++
		}
	}
	return n
}
