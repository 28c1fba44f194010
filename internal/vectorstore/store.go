package vectorstore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wraith/internal/domain"
	"wraith/internal/metrics"
)

const (
	DefaultDimensions   = 384
	DefaultBatchSize    = 100
	DefaultCacheMaxSize = 100

	DefaultSearchTimeout = 30 * time.Second
)

// Store validates chunks and queries, caches search results and delegates
// persistence to a Backend.
type Store struct {
	backend    Backend
	dimensions int
	batchSize  int
	results    *ResultCache
	inflight   singleflight.Group
	logger     *zap.Logger

	searchTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ domain.VectorStore = (*Store)(nil)

type Option func(*Store)

func WithDimensions(d int) Option {
	return func(s *Store) {
		if d > 0 {
			s.dimensions = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.results = NewResultCache(n)
		}
	}
}

// WithSearchTimeout bounds a backend search. Searches are shared between
// concurrent callers, so they do not stop when a single caller gives up.
func WithSearchTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.searchTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		dimensions: DefaultDimensions,
		batchSize:  DefaultBatchSize,
		results:    NewResultCache(DefaultCacheMaxSize),
		logger:     zap.NewNop(),

		searchTimeout: DefaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.results.WithCounter(metrics.SearchCacheTotal)
	return s
}

func (s *Store) Dimensions() int { return s.dimensions }

// CacheLen reports the number of cached result lists.
func (s *Store) CacheLen() int { return s.results.Len() }

// InsertDocuments validates every chunk, then writes them all in one transaction.
func (s *Store) InsertDocuments(ctx context.Context, chunks []domain.DocumentChunk) (err error) {
	if s.closed.Load() {
		return &domain.StorageError{Op: "insert", Err: domain.ErrClosed}
	}
	if len(chunks) == 0 {
		return nil
	}
	for i, c := range chunks {
		if err := s.validateVector(c.Embedding); err != nil {
			return fmt.Errorf("chunk %d of %s: %w", i, c.Source, err)
		}
		if c.ChunkIndex < 0 {
			return domain.Invalidf("chunk %d of %s: negative chunk index %d", i, c.Source, c.ChunkIndex)
		}
		if c.Source == "" {
			return domain.Invalidf("chunk %d: empty source", i)
		}
	}

	start := time.Now()
	defer func() { metrics.ObserveStore("insert", start, err) }()

	if err := s.backend.Insert(ctx, chunks, s.batchSize); err != nil {
		return err
	}
	// stored data changed, earlier rankings may be stale
	s.results.Purge()
	s.logger.Debug("chunks inserted",
		zap.Int("count", len(chunks)),
		zap.String("source", chunks[0].Source),
	)
	return nil
}

// SearchSimilar returns up to limit results ordered by descending similarity.
func (s *Store) SearchSimilar(ctx context.Context, query []float32, limit int) ([]domain.SearchResult, error) {
	if s.closed.Load() {
		return nil, &domain.StorageError{Op: "search", Err: domain.ErrClosed}
	}
	if err := s.validateVector(query); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, domain.Invalidf("limit must be positive, got %d", limit)
	}

	key := CacheKey(query, limit)
	if cached, ok := s.results.Get(key); ok {
		return cached, nil
	}

	// Searches joining a flight started before the last purge would see stale
	// rankings, so the generation is part of the flight key.
	gen := s.results.Generation()
	q := slices.Clone(query)
	ch := s.inflight.DoChan(key+"/"+strconv.FormatUint(gen, 10), func() (any, error) {
		sctx, cancel := s.searchContext(ctx)
		defer cancel()
		start := time.Now()
		hits, err := s.backend.Nearest(sctx, q, limit)
		metrics.ObserveStore("search", start, err)
		if err != nil {
			return nil, err
		}
		results := toResults(hits, limit)
		if !s.results.PutIfGeneration(key, results, gen) {
			s.logger.Debug("search result not cached, store changed during search")
		}
		return results, nil
	})

	select {
	case <-ctx.Done():
		return nil, &domain.StorageError{Op: "search", Err: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return cloneResults(r.Val.([]domain.SearchResult)), nil
	}
}

// searchContext detaches a shared search from the cancellation of the caller
// that started it, bounding it by the store's search timeout instead.
func (s *Store) searchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if s.searchTimeout <= 0 {
		return detached, func() {}
	}
	return context.WithTimeout(detached, s.searchTimeout)
}

// Close clears the result cache and releases backend connections. Safe to call repeatedly.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.results.Purge()
		s.closeErr = s.backend.Close()
	})
	return s.closeErr
}

// Ping checks backend connectivity when the backend supports it.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return &domain.StorageError{Op: "ping", Err: domain.ErrClosed}
	}
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Store) validateVector(v []float32) error {
	if len(v) != s.dimensions {
		return domain.Invalidf("invalid embedding dimension: expected %d, got %d", s.dimensions, len(v))
	}
	return nil
}

func toResults(hits []Hit, limit int) []domain.SearchResult {
	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]domain.SearchResult, len(hits))
	for i, h := range hits {
		results[i] = domain.SearchResult{
			ID:         h.ID,
			Content:    h.Content,
			Metadata:   h.Metadata,
			Source:     h.Source,
			ChunkIndex: h.ChunkIndex,
			Similarity: Similarity(h.Distance),
		}
	}
	return results
}

// Similarity converts a cosine distance into a score in [0,1].
func Similarity(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return max(0, min(1, 1-distance))
}
