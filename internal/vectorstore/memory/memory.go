package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"wraith/internal/domain"
	"wraith/internal/vectorstore"
)

// Storage is a simple in-memory backend using brute-force cosine distance.
type Storage struct {
	mu   sync.RWMutex
	rows []row
}

type row struct {
	id    string
	chunk domain.DocumentChunk
}

var _ vectorstore.Backend = (*Storage)(nil)

func NewStorage() *Storage { return &Storage{} }

// Insert stages every chunk and publishes them together, so a cancelled
// call leaves nothing behind.
func (s *Storage) Insert(ctx context.Context, chunks []domain.DocumentChunk, batchSize int) error {
	staged := make([]row, 0, len(chunks))
	for _, b := range vectorstore.Batches(len(chunks), batchSize) {
		if err := ctx.Err(); err != nil {
			return &domain.StorageError{Op: "insert", Err: err}
		}
		for _, c := range chunks[b[0]:b[1]] {
			c.Embedding = append([]float32(nil), c.Embedding...)
			c.Metadata = c.Metadata.Clone()
			staged = append(staged, row{id: uuid.NewString(), chunk: c})
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, staged...)
	return nil
}

func (s *Storage) Nearest(ctx context.Context, query []float32, limit int) ([]vectorstore.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.StorageError{Op: "search", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	dists := make([]float64, len(s.rows))
	for i := range s.rows {
		dists[i] = vectorstore.CosineDistance(s.rows[i].chunk.Embedding, query)
	}
	idxs := argsortAsc(dists)
	if limit > len(idxs) {
		limit = len(idxs)
	}
	hits := make([]vectorstore.Hit, 0, limit)
	for _, j := range idxs[:limit] {
		r := s.rows[j]
		hits = append(hits, vectorstore.Hit{
			ID:         r.id,
			Content:    r.chunk.Content,
			Metadata:   r.chunk.Metadata.Clone(),
			Source:     r.chunk.Source,
			ChunkIndex: r.chunk.ChunkIndex,
			Distance:   dists[j],
		})
	}
	return hits, nil
}

// Len returns the number of stored chunks.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = nil
	return nil
}

// argsortAsc orders indexes by ascending value, ties keep insertion order.
func argsortAsc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] < vals[idxs[b]] })
	return idxs
}
