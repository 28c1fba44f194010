package vectorstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wraith/internal/domain"
	"wraith/internal/vectorstore"
	"wraith/internal/vectorstore/memory"
)

const dims = 8

// countingBackend wraps the memory backend and counts Nearest calls.
type countingBackend struct {
	*memory.Storage
	nearest atomic.Int32
	closes  atomic.Int32
	failErr error
}

func (b *countingBackend) Nearest(ctx context.Context, q []float32, limit int) ([]vectorstore.Hit, error) {
	b.nearest.Add(1)
	if b.failErr != nil {
		return nil, b.failErr
	}
	return b.Storage.Nearest(ctx, q, limit)
}

func (b *countingBackend) Close() error {
	b.closes.Add(1)
	return b.Storage.Close()
}

func newStore(t *testing.T, opts ...vectorstore.Option) (*vectorstore.Store, *countingBackend) {
	t.Helper()
	backend := &countingBackend{Storage: memory.NewStorage()}
	opts = append([]vectorstore.Option{vectorstore.WithDimensions(dims)}, opts...)
	return vectorstore.New(backend, opts...), backend
}

func unit(i int) []float32 {
	v := make([]float32, dims)
	v[i%dims] = 1
	return v
}

func chunk(source string, idx int, vec []float32) domain.DocumentChunk {
	return domain.DocumentChunk{
		Content:    fmt.Sprintf("%s#%d", source, idx),
		Embedding:  vec,
		Metadata:   domain.NewMetadata("source", source, "chunkIndex", idx),
		Source:     source,
		ChunkIndex: idx,
	}
}

func TestInsertDocuments_RejectsWrongDimensions(t *testing.T) {
	store, backend := newStore(t)
	ctx := context.Background()

	for _, n := range []int{0, 1, dims - 1, dims + 1, 384} {
		c := chunk("a.pdf", 0, make([]float32, n))
		err := store.InsertDocuments(ctx, []domain.DocumentChunk{c})
		assert.ErrorIs(t, err, domain.ErrValidation, "length %d", n)
	}
	assert.Zero(t, backend.Len())
}

func TestInsertDocuments_InvalidChunkPersistsNothing(t *testing.T) {
	store, backend := newStore(t)

	chunks := make([]domain.DocumentChunk, 10)
	for i := range chunks {
		chunks[i] = chunk("doc.pdf", i, unit(i))
	}
	chunks[6].Embedding = make([]float32, dims+3)

	err := store.InsertDocuments(context.Background(), chunks)
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, backend.Len())
}

func TestInsertDocuments_RejectsNegativeIndexAndEmptySource(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	bad := chunk("doc.pdf", -1, unit(0))
	assert.ErrorIs(t, store.InsertDocuments(ctx, []domain.DocumentChunk{bad}), domain.ErrValidation)

	bad = chunk("", 0, unit(0))
	assert.ErrorIs(t, store.InsertDocuments(ctx, []domain.DocumentChunk{bad}), domain.ErrValidation)
}

func TestSearchSimilar_RejectsWrongDimensions(t *testing.T) {
	store, backend := newStore(t)
	for _, n := range []int{0, 3, dims + 1} {
		_, err := store.SearchSimilar(context.Background(), make([]float32, n), 5)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}
	_, err := store.SearchSimilar(context.Background(), unit(0), 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, backend.nearest.Load())
}

func TestSearchSimilar_OrdersBySimilarity(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	near := []float32{1, 0.1, 0, 0, 0, 0, 0, 0}
	far := []float32{0, 1, 0, 0, 0, 0, 0, 0}
	exact := unit(0)
	require.NoError(t, store.InsertDocuments(ctx, []domain.DocumentChunk{
		chunk("far.pdf", 0, far),
		chunk("near.pdf", 0, near),
		chunk("exact.pdf", 0, exact),
	}))

	results, err := store.SearchSimilar(ctx, unit(0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact.pdf", results[0].Source)
	assert.Equal(t, "near.pdf", results[1].Source)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
	for _, r := range results {
		assert.NotEmpty(t, r.ID)
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
	}
}

func TestSearchSimilar_SecondCallServedFromCache(t *testing.T) {
	store, backend := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertDocuments(ctx, []domain.DocumentChunk{
		chunk("a.pdf", 0, unit(0)),
		chunk("b.pdf", 0, unit(1)),
	}))

	first, err := store.SearchSimilar(ctx, unit(0), 5)
	require.NoError(t, err)
	second, err := store.SearchSimilar(ctx, unit(0), 5)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), backend.nearest.Load())

	// mutating a returned slice must not poison the cache
	second[0].Content = "changed"
	third, err := store.SearchSimilar(ctx, unit(0), 5)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestSearchSimilar_DifferentTailsDoNotAlias(t *testing.T) {
	store, backend := newStore(t)
	ctx := context.Background()

	a := unit(0)
	b := unit(0)
	b[dims-1] = 0.5
	_, err := store.SearchSimilar(ctx, a, 5)
	require.NoError(t, err)
	_, err = store.SearchSimilar(ctx, b, 5)
	require.NoError(t, err)
	_, err = store.SearchSimilar(ctx, a, 4)
	require.NoError(t, err)

	assert.Equal(t, int32(3), backend.nearest.Load())
}

func TestSearchSimilar_CacheBound(t *testing.T) {
	store, backend := newStore(t, vectorstore.WithCacheSize(3))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		q := unit(0)
		q[1] = float32(i)
		_, err := store.SearchSimilar(ctx, q, 5)
		require.NoError(t, err)
		assert.LessOrEqual(t, store.CacheLen(), 3)
	}
	assert.Equal(t, 3, store.CacheLen())

	// the newest query is still cached, the oldest is not
	newest := unit(0)
	newest[1] = 9
	_, err := store.SearchSimilar(ctx, newest, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(10), backend.nearest.Load())

	oldest := unit(0)
	_, err = store.SearchSimilar(ctx, oldest, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(11), backend.nearest.Load())
}

func TestSearchSimilar_InsertInvalidatesCache(t *testing.T) {
	store, backend := newStore(t)
	ctx := context.Background()

	res, err := store.SearchSimilar(ctx, unit(0), 5)
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, store.InsertDocuments(ctx, []domain.DocumentChunk{chunk("a.pdf", 0, unit(0))}))
	res, err = store.SearchSimilar(ctx, unit(0), 5)
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Equal(t, int32(2), backend.nearest.Load())
}

func TestSearchSimilar_BackendErrorNotCached(t *testing.T) {
	store, backend := newStore(t)
	backend.failErr = &domain.StorageError{Op: "search", Err: errors.New("connection reset"), Transient: true}

	_, err := store.SearchSimilar(context.Background(), unit(0), 5)
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.Zero(t, store.CacheLen())
}

func TestSearchSimilar_ConcurrentIdenticalQueries(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertDocuments(ctx, []domain.DocumentChunk{chunk("a.pdf", 0, unit(0))}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.SearchSimilar(ctx, unit(0), 5)
			assert.NoError(t, err)
			assert.Len(t, res, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.CacheLen())
}

func TestClose_Idempotent(t *testing.T) {
	store, backend := newStore(t)
	ctx := context.Background()
	_, err := store.SearchSimilar(ctx, unit(0), 5)
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.Equal(t, int32(1), backend.closes.Load())
	assert.Zero(t, store.CacheLen())

	err = store.InsertDocuments(ctx, []domain.DocumentChunk{chunk("a.pdf", 0, unit(0))})
	assert.ErrorIs(t, err, domain.ErrClosed)
	_, err = store.SearchSimilar(ctx, unit(0), 5)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestPing(t *testing.T) {
	s, _ := newStore(t)
	require.NoError(t, s.Ping(context.Background()))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), domain.ErrClosed)
}

// gatedBackend takes its snapshot for the first gated Nearest call, then
// blocks until release is closed.
type gatedBackend struct {
	*memory.Storage
	gated   atomic.Bool
	entered chan struct{}
	release chan struct{}
	nearest atomic.Int32
}

func newGatedStore(t *testing.T) (*vectorstore.Store, *gatedBackend) {
	t.Helper()
	b := &gatedBackend{
		Storage: memory.NewStorage(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store := vectorstore.New(b, vectorstore.WithDimensions(dims))
	t.Cleanup(func() { _ = store.Close() })
	return store, b
}

func (b *gatedBackend) Nearest(ctx context.Context, q []float32, limit int) ([]vectorstore.Hit, error) {
	b.nearest.Add(1)
	if !b.gated.CompareAndSwap(true, false) {
		return b.Storage.Nearest(ctx, q, limit)
	}
	hits, err := b.Storage.Nearest(ctx, q, limit)
	close(b.entered)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return hits, err
}

func TestSearchSimilar_InsertDuringSearchIsNotMaskedByCache(t *testing.T) {
	store, backend := newGatedStore(t)
	ctx := context.Background()
	query := unit(0)
	near := make([]float32, dims)
	near[0], near[1] = 1, 1
	require.NoError(t, store.InsertDocuments(ctx, []domain.DocumentChunk{chunk("old.md", 0, near)}))

	backend.gated.Store(true)
	done := make(chan []domain.SearchResult, 1)
	go func() {
		res, err := store.SearchSimilar(ctx, query, 5)
		assert.NoError(t, err)
		done <- res
	}()
	<-backend.entered

	require.NoError(t, store.InsertDocuments(ctx, []domain.DocumentChunk{chunk("new.md", 0, query)}))
	close(backend.release)
	stale := <-done
	require.Len(t, stale, 1)
	assert.Zero(t, store.CacheLen(), "results read before the insert must not be cached")

	res, err := store.SearchSimilar(ctx, query, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "new.md", res[0].Source)
}

func TestSearchSimilar_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store, backend := newGatedStore(t)
	require.NoError(t, store.InsertDocuments(context.Background(), []domain.DocumentChunk{chunk("a.md", 0, unit(0))}))

	backend.gated.Store(true)
	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := store.SearchSimilar(first, unit(0), 5)
		firstErr <- err
	}()
	<-backend.entered

	second := make(chan error, 1)
	var res []domain.SearchResult
	go func() {
		var err error
		res, err = store.SearchSimilar(context.Background(), unit(0), 5)
		second <- err
	}()
	cancel()
	err := <-firstErr
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, domain.ErrStorage)

	time.Sleep(20 * time.Millisecond)
	close(backend.release)
	require.NoError(t, <-second)
	assert.Len(t, res, 1)
	assert.Equal(t, int32(1), backend.nearest.Load(), "second caller shares the running search")
}
