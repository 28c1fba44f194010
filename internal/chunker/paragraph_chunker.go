package chunker

import (
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"wraith/internal/domain"
)

// DefaultOverlapRatio is the share of chunkSize carried over between chunks.
const DefaultOverlapRatio = 0.1

// ParagraphChunker splits text on blank lines and packs paragraphs into
// chunks of at most chunkSize characters, repeating trailing paragraphs
// of each chunk at the start of the next one.
type ParagraphChunker struct {
	overlapRatio float64
	splitter     *regexp.Regexp
}

type Option func(*ParagraphChunker)

// WithOverlapRatio sets the overlap share; values outside [0,1) are ignored.
func WithOverlapRatio(r float64) Option {
	return func(c *ParagraphChunker) {
		if r >= 0 && r < 1 {
			c.overlapRatio = r
		}
	}
}

func NewParagraphChunker(opts ...Option) *ParagraphChunker {
	c := &ParagraphChunker{
		overlapRatio: DefaultOverlapRatio,
		splitter:     regexp.MustCompile(`\n\s*\n`),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ParagraphChunker) Chunk(content string, chunkSize int) ([]domain.Chunk, error) {
	if chunkSize <= 0 {
		return nil, domain.Invalidf("chunk size must be positive, got %d", chunkSize)
	}
	paragraphs := c.paragraphs(content)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	overlap := math.Floor(float64(chunkSize) * c.overlapRatio)
	var chunks []domain.Chunk
	i := 0
	for i < len(paragraphs) {
		var b strings.Builder
		size := 0
		n := 0
		for i+n < len(paragraphs) {
			p := paragraphs[i+n]
			next := size + utf8.RuneCountInString(p)
			if n > 0 {
				next += 2
			}
			// an empty chunk takes the paragraph even when it is oversized
			if next > chunkSize && n > 0 {
				break
			}
			if n > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(p)
			size = next
			n++
		}
		chunks = append(chunks, domain.Chunk{Text: b.String(), Index: len(chunks)})

		overlapParagraphs := int(math.Ceil(float64(n) * overlap / float64(chunkSize)))
		i += max(1, n-overlapParagraphs)
	}
	return chunks, nil
}

func (c *ParagraphChunker) paragraphs(content string) []string {
	raw := c.splitter.Split(content, -1)
	out := raw[:0]
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
