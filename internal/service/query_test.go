package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wraith/internal/domain"
)

func TestQuery_AnswersWithDedupedSources(t *testing.T) {
	store := &recordingStore{results: []domain.SearchResult{
		{Content: "first", Source: "A", Similarity: 0.9},
		{Content: "second", Source: "A", Similarity: 0.8},
		{Content: "third", Source: "B", Similarity: 0.7},
	}}
	gen := &fakeGenerator{answer: "42"}
	svc := NewQueryService(&flakyEmbedder{}, store, gen,
		WithGenerateOptions(domain.GenerateOptions{Temperature: 0.3, MaxTokens: 200}))

	res, err := svc.Run(context.Background(), "  what is it?  ")
	require.NoError(t, err)

	assert.Equal(t, "42", res.Answer)
	assert.Equal(t, []string{"A", "B"}, res.Sources)
	assert.Len(t, res.Results, 3)
	assert.Equal(t, DefaultTopK, store.limit)
	assert.Equal(t, domain.GenerateOptions{Temperature: 0.3, MaxTokens: 200}, gen.opts)

	require.Len(t, gen.messages, 2)
	assert.Equal(t, domain.RoleSystem, gen.messages[0].Role)
	assert.Equal(t, "You are a helpful assistant that answers questions based on the provided context. "+
		"If the context does not contain enough information to answer the question, say so clearly.", gen.messages[0].Content)
	assert.Equal(t, domain.RoleUser, gen.messages[1].Role)
	assert.Equal(t, "Context:\nfirst\n\nsecond\n\nthird\n\nQuestion: what is it?", gen.messages[1].Content)
}

func TestQuery_TopK(t *testing.T) {
	store := &recordingStore{}
	svc := NewQueryService(&flakyEmbedder{}, store, &fakeGenerator{}, WithTopK(2))

	_, err := svc.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 2, store.limit)
}

func TestQuery_EmptyQuestion(t *testing.T) {
	emb := &flakyEmbedder{}
	gen := &fakeGenerator{}
	svc := NewQueryService(emb, &recordingStore{}, gen)

	_, err := svc.Run(context.Background(), " \n\t")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Zero(t, emb.calls)
	assert.Nil(t, gen.messages)
}

func TestQuery_Errors(t *testing.T) {
	t.Run("embedding", func(t *testing.T) {
		emb := &flakyEmbedder{failures: 1, err: fmt.Errorf("%w: down", domain.ErrEmbedding)}
		svc := NewQueryService(emb, &recordingStore{}, &fakeGenerator{})
		_, err := svc.Run(context.Background(), "q")
		assert.ErrorIs(t, err, domain.ErrEmbedding)
	})
	t.Run("search", func(t *testing.T) {
		store := &recordingStore{err: &domain.StorageError{Op: "search", Err: domain.ErrConnUnavailable, Transient: true}}
		svc := NewQueryService(&flakyEmbedder{}, store, &fakeGenerator{})
		_, err := svc.Run(context.Background(), "q")
		assert.ErrorIs(t, err, domain.ErrStorage)
		assert.ErrorIs(t, err, domain.ErrConnUnavailable)
	})
	t.Run("generation", func(t *testing.T) {
		gen := &fakeGenerator{err: fmt.Errorf("%w: %w", domain.ErrGeneration, errors.New("500"))}
		svc := NewQueryService(&flakyEmbedder{}, &recordingStore{}, gen)
		_, err := svc.Run(context.Background(), "q")
		assert.ErrorIs(t, err, domain.ErrGeneration)
	})
}

func TestBuildMessages_NoResults(t *testing.T) {
	msgs := BuildMessages("why?", nil)
	assert.Equal(t, "Context:\n\n\nQuestion: why?", msgs[1].Content)
}

func TestUniqueSources(t *testing.T) {
	got := UniqueSources([]domain.SearchResult{{Source: "B"}, {Source: "A"}, {Source: "B"}, {Source: "C"}, {Source: "A"}})
	assert.Equal(t, []string{"B", "A", "C"}, got)
	assert.Empty(t, UniqueSources(nil))
}
