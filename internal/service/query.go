package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"wraith/internal/domain"
	"wraith/internal/metrics"
)

// DefaultTopK is the number of chunks retrieved per question.
const DefaultTopK = 5

const systemPrompt = "You are a helpful assistant that answers questions based on the provided context. " +
	"If the context does not contain enough information to answer the question, say so clearly."

// QueryResult is an answer together with the chunks it was grounded on.
type QueryResult struct {
	Answer  string
	Sources []string
	Results []domain.SearchResult
}

// QueryService answers questions from the vector store.
type QueryService struct {
	embedder  domain.Embedder
	store     domain.VectorStore
	generator domain.Generator

	topK            int
	genOpts         domain.GenerateOptions
	embedTimeout    time.Duration
	generateTimeout time.Duration
	logger          *zap.Logger
}

type QueryOption func(*QueryService)

func WithTopK(k int) QueryOption {
	return func(s *QueryService) {
		if k > 0 {
			s.topK = k
		}
	}
}

func WithGenerateOptions(opts domain.GenerateOptions) QueryOption {
	return func(s *QueryService) { s.genOpts = opts }
}

func WithQueryEmbedTimeout(d time.Duration) QueryOption {
	return func(s *QueryService) { s.embedTimeout = d }
}

func WithGenerateTimeout(d time.Duration) QueryOption {
	return func(s *QueryService) { s.generateTimeout = d }
}

func WithQueryLogger(l *zap.Logger) QueryOption {
	return func(s *QueryService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewQueryService(embedder domain.Embedder, store domain.VectorStore, generator domain.Generator, opts ...QueryOption) *QueryService {
	s := &QueryService{
		embedder:  embedder,
		store:     store,
		generator: generator,
		topK:      DefaultTopK,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run embeds question, retrieves the nearest chunks and asks the generator
// to answer from them.
func (s *QueryService) Run(ctx context.Context, question string) (res QueryResult, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.QueryDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	question = strings.TrimSpace(question)
	if question == "" {
		return QueryResult{}, domain.Invalidf("question is empty")
	}

	vec, err := s.embed(ctx, question)
	if err != nil {
		return QueryResult{}, err
	}
	results, err := s.store.SearchSimilar(ctx, vec, s.topK)
	if err != nil {
		return QueryResult{}, fmt.Errorf("search: %w", err)
	}

	answer, err := s.generate(ctx, BuildMessages(question, results))
	if err != nil {
		return QueryResult{}, err
	}
	s.logger.Debug("question answered",
		zap.Int("results", len(results)),
		zap.Duration("took", time.Since(start)),
	)
	return QueryResult{Answer: answer, Sources: UniqueSources(results), Results: results}, nil
}

func (s *QueryService) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	return s.embedder.Embed(ctx, text)
}

func (s *QueryService) generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	if s.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.generateTimeout)
		defer cancel()
	}
	return s.generator.Generate(ctx, messages, s.genOpts)
}

// BuildMessages returns the system and user messages for question grounded on results.
func BuildMessages(question string, results []domain.SearchResult) []domain.ChatMessage {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Content
	}
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: systemPrompt},
		{Role: domain.RoleUser, Content: "Context:\n" + strings.Join(parts, "\n\n") + "\n\nQuestion: " + question},
	}
}

// UniqueSources returns result sources in first-seen order.
func UniqueSources(results []domain.SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if _, ok := seen[r.Source]; ok {
			continue
		}
		seen[r.Source] = struct{}{}
		out = append(out, r.Source)
	}
	return out
}
