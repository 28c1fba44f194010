package vectorstore

import (
	"context"
	"time"

	"wraith/internal/domain"
)

// Hit is a raw nearest-neighbour match as returned by a Backend.
type Hit struct {
	ID         string
	Content    string
	Metadata   domain.Metadata
	Source     string
	ChunkIndex int
	Distance   float64
}

// Backend persists chunks and answers nearest-neighbour queries by cosine distance.
// Insert writes all chunks in a single transaction, in round-trips of batchSize rows.
// Nearest returns at most limit hits ordered by ascending distance.
type Backend interface {
	Insert(ctx context.Context, chunks []domain.DocumentChunk, batchSize int) error
	Nearest(ctx context.Context, query []float32, limit int) ([]Hit, error)
	Close() error
}

// PoolConfig bounds backend connection usage.
type PoolConfig struct {
	MaxConns       int
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:       20,
		IdleTimeout:    30 * time.Second,
		AcquireTimeout: 2 * time.Second,
	}
}

// WithDefaults fills zero fields from DefaultPoolConfig.
func (p PoolConfig) WithDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if p.MaxConns <= 0 {
		p.MaxConns = d.MaxConns
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = d.IdleTimeout
	}
	if p.AcquireTimeout <= 0 {
		p.AcquireTimeout = d.AcquireTimeout
	}
	return p
}

// Batches splits n items into [start, end) ranges of at most size.
func Batches(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var out [][2]int
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}
