package summarizer

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	// a sentence ends at terminal punctuation followed by space or end of
	// text, or at a blank line
	boundaryPattern = regexp.MustCompile(`[.!?]+(?:\s+|$)|\n[ \t\r]*\n\s*`)
)

// Span is a byte range [Start, End) of a text.
type Span struct {
	Start, End int
}

// Sentences splits text into trimmed sentence spans. Text after the last
// terminator is a sentence of its own, and blank lines always end a sentence.
func Sentences(text string) []Span {
	var spans []Span
	add := func(start, end int) {
		seg := text[start:end]
		lead := len(seg) - len(strings.TrimLeftFunc(seg, unicode.IsSpace))
		seg = strings.TrimSpace(seg)
		if seg != "" {
			spans = append(spans, Span{Start: start + lead, End: start + lead + len(seg)})
		}
	}
	start := 0
	for _, m := range boundaryPattern.FindAllStringIndex(text, -1) {
		add(start, m[1])
		start = m[1]
	}
	add(start, len(text))
	return spans
}

// Tokens returns the lower-cased words and numbers of text.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens is Tokens without stopwords.
func ContentTokens(text string) []string {
	toks := Tokens(text)
	out := toks[:0]
	for _, t := range toks {
		if !IsStopword(t) {
			out = append(out, t)
		}
	}
	return out
}

func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

var stopwords = func() map[string]struct{} {
	words := strings.Fields(`a an the and or but if then else for to of in on at by with as
		is are was were be been being it its this that these those from up down over under
		again further than so such into about between through during before after above below
		out off own same too very can will just don should now do does did how what which who
		i you he she we they me my our your their not no`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
