package hashing

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"

	"wraith/internal/domain"
)

// Embedder projects word counts into a fixed number of buckets with the
// hashing trick. It needs no corpus preparation and no network, so vectors
// are stable across runs.
type Embedder struct {
	dimensions   int
	tokenPattern *regexp.Regexp
	stopwords    map[string]struct{}
}

var _ domain.Embedder = (*Embedder)(nil)

func NewEmbedder(dimensions int) (*Embedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("hashing embedder: invalid dimensions %d", dimensions)
	}
	return &Embedder{
		dimensions:   dimensions,
		tokenPattern: regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		stopwords:    defaultStopwords(),
	}, nil
}

func (e *Embedder) Dimensions() int { return e.dimensions }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
	}
	tf := make(map[string]int)
	for _, tok := range e.tokenize(text) {
		tf[tok]++
	}
	vec := make([]float64, e.dimensions)
	for tok, count := range tf {
		h := xxhash.Sum64String(tok)
		idx := int(h % uint64(e.dimensions))
		sign := 1.0
		if h>>63 == 1 {
			sign = -1.0
		}
		// sublinear term frequency
		vec[idx] += sign * (1 + math.Log(float64(count)))
	}
	return normalize(vec), nil
}

func (e *Embedder) tokenize(text string) []string {
	raw := e.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := e.stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func normalize(vec []float64) []float32 {
	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
