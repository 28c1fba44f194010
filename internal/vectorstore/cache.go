package vectorstore

import (
	"container/list"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"wraith/internal/domain"
)

// ResultCache is a bounded FIFO cache of search results.
// The oldest inserted key is evicted first once maxSize is exceeded.
type ResultCache struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	entries map[string]*list.Element
	counter *prometheus.CounterVec
	gen     uint64 // bumped by Purge
}

type resultEntry struct {
	key     string
	results []domain.SearchResult
}

func NewResultCache(maxSize int) *ResultCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &ResultCache{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// WithCounter records hits and misses under the "result" label.
func (c *ResultCache) WithCounter(counter *prometheus.CounterVec) *ResultCache {
	c.counter = counter
	return c
}

func (c *ResultCache) Get(key string) ([]domain.SearchResult, bool) {
	c.mu.Lock()
	elem, ok := c.entries[key]
	var results []domain.SearchResult
	if ok {
		results = cloneResults(elem.Value.(*resultEntry).results)
	}
	c.mu.Unlock()

	c.observe(ok)
	return results, ok
}

// Put stores results. Re-putting a key replaces its value but keeps its age.
func (c *ResultCache) Put(key string, results []domain.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, results)
}

// Generation identifies the cache contents between two purges.
func (c *ResultCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// PutIfGeneration stores results only when no Purge happened since gen was read.
func (c *ResultCache) PutIfGeneration(key string, results []domain.SearchResult, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.put(key, results)
	return true
}

func (c *ResultCache) put(key string, results []domain.SearchResult) {
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*resultEntry).results = cloneResults(results)
		return
	}
	c.entries[key] = c.order.PushBack(&resultEntry{key: key, results: cloneResults(results)})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*resultEntry).key)
	}
}

func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *ResultCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
	c.gen++
}

func (c *ResultCache) observe(hit bool) {
	if c.counter == nil {
		return
	}
	if hit {
		c.counter.WithLabelValues("hit").Inc()
	} else {
		c.counter.WithLabelValues("miss").Inc()
	}
}

// CacheKey fingerprints the entire query vector together with the limit.
func CacheKey(query []float32, limit int) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(limit))
	h.Write(buf[:])
	for _, v := range query {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cloneResults(in []domain.SearchResult) []domain.SearchResult {
	if in == nil {
		return nil
	}
	out := make([]domain.SearchResult, len(in))
	for i, r := range in {
		r.Metadata = r.Metadata.Clone()
		out[i] = r
	}
	return out
}
