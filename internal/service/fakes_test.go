package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"wraith/internal/domain"
	"wraith/internal/vectorstore"
	"wraith/internal/vectorstore/memory"
)

const testDims = 8

// flakyEmbedder fails the first failures calls with err, then returns a fixed vector.
type flakyEmbedder struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (e *flakyEmbedder) Dimensions() int { return testDims }

func (e *flakyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return nil, e.err
	}
	v := make([]float32, testDims)
	v[len(text)%testDims] = 1
	return v, nil
}

// recordingStore remembers inserted batches and can fail with err.
type recordingStore struct {
	mu      sync.Mutex
	inserts [][]domain.DocumentChunk
	calls   int
	err     error
	results []domain.SearchResult
	limit   int
}

func (s *recordingStore) InsertDocuments(_ context.Context, chunks []domain.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.inserts = append(s.inserts, chunks)
	return nil
}

func (s *recordingStore) SearchSimilar(_ context.Context, _ []float32, limit int) ([]domain.SearchResult, error) {
	s.limit = limit
	return s.results, s.err
}

func (s *recordingStore) Close() error { return nil }

type fakeGenerator struct {
	messages []domain.ChatMessage
	opts     domain.GenerateOptions
	answer   string
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, messages []domain.ChatMessage, opts domain.GenerateOptions) (string, error) {
	g.messages = messages
	g.opts = opts
	return g.answer, g.err
}

func newMemoryStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	s := vectorstore.New(memory.NewStorage(), vectorstore.WithDimensions(testDims))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}
