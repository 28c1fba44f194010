// Package embedding holds embedder decorators shared by all providers.
package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"wraith/internal/domain"
)

// CachedEmbedder memoizes another Embedder in a bounded LRU keyed by sha256(text).
type CachedEmbedder struct {
	inner    domain.Embedder
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
	counter  *prometheus.CounterVec
	logger   *zap.Logger
}

type cacheEntry struct {
	key   string
	value []float32
}

var _ domain.Embedder = (*CachedEmbedder)(nil)

func NewCachedEmbedder(inner domain.Embedder, capacity int, counter *prometheus.CounterVec, logger *zap.Logger) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:    inner,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		counter:  counter,
		logger:   logger,
	}
}

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := c.get(key); ok {
		c.observe("hit")
		return v, nil
	}
	c.observe("miss")

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(key, v)
	return append([]float32(nil), v...), nil
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return append([]float32(nil), elem.Value.(*cacheEntry).value...), true
}

func (c *CachedEmbedder) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value = append([]float32(nil), value...)
	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	c.entries[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every cached embedding.
func (c *CachedEmbedder) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Init()
	c.entries = make(map[string]*list.Element)
}

// Close purges the cache and closes the wrapped embedder when it holds resources.
func (c *CachedEmbedder) Close() error {
	c.Purge()
	if closer, ok := c.inner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *CachedEmbedder) observe(result string) {
	if c.counter != nil {
		c.counter.WithLabelValues(result).Inc()
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
