package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wraith/internal/chunker"
	"wraith/internal/config"
	"wraith/internal/domain"
	"wraith/internal/embedding"
	"wraith/internal/embedding/hashing"
	"wraith/internal/embedding/onnx"
	openaiemb "wraith/internal/embedding/openai"
	"wraith/internal/extract"
	openaillm "wraith/internal/llm/openai"
	"wraith/internal/metrics"
	"wraith/internal/service"
	"wraith/internal/summarizer"
	"wraith/internal/vectorstore"
	"wraith/internal/vectorstore/memory"
	"wraith/internal/vectorstore/postgres"
	"wraith/internal/vectorstore/sqlite"
)

// app owns the long-lived components shared by the commands.
type app struct {
	cfg      *config.AppConfig
	logger   *zap.Logger
	embedder *embedding.CachedEmbedder
	store    *vectorstore.Store
}

func newApp(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*app, error) {
	base, err := buildEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	if base.Dimensions() != cfg.VectorStore.Dimensions {
		return nil, fmt.Errorf("embedder produces %d dimensions but the vector store expects %d",
			base.Dimensions(), cfg.VectorStore.Dimensions)
	}
	emb := embedding.NewCachedEmbedder(base, cfg.Embedder.CacheSize, metrics.EmbeddingCacheTotal, logger)

	backend, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}
	store := vectorstore.New(backend,
		vectorstore.WithDimensions(cfg.VectorStore.Dimensions),
		vectorstore.WithBatchSize(cfg.VectorStore.BatchSize),
		vectorstore.WithCacheSize(cfg.VectorStore.CacheSize),
		vectorstore.WithSearchTimeout(cfg.VectorStore.SearchTimeout),
		vectorstore.WithLogger(logger),
	)
	return &app{cfg: cfg, logger: logger, embedder: emb, store: store}, nil
}

// Close releases the store before the embedder; both clear their caches.
func (a *app) Close() error {
	return errors.Join(a.store.Close(), a.embedder.Close(), a.logger.Sync())
}

func (a *app) ingestService(opts ...service.IngestOption) (*service.IngestService, error) {
	src, err := extract.NewExtractor(a.cfg.Ingest.Extensions...)
	if err != nil {
		return nil, err
	}
	r := a.cfg.Ingest.Retry
	opts = append([]service.IngestOption{
		service.WithWorkers(a.cfg.Ingest.Workers),
		service.WithEmbedTimeout(a.cfg.Embedder.Timeout),
		service.WithRetryPolicy(service.RetryPolicy{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, MaxDelay: r.MaxDelay}),
		service.WithSummarizer(summarizer.NewFrequencySummarizer(), a.cfg.Ingest.SummarySentences),
		service.WithIngestLogger(a.logger),
	}, opts...)
	ch := chunker.NewParagraphChunker(chunker.WithOverlapRatio(*a.cfg.Chunker.OverlapRatio))
	return service.NewIngestService(src, ch, a.embedder, a.store, opts...), nil
}

func (a *app) queryService() (*service.QueryService, error) {
	gen, err := buildGenerator(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return service.NewQueryService(a.embedder, a.store, gen,
		service.WithTopK(a.cfg.Query.TopK),
		service.WithGenerateOptions(domain.GenerateOptions{
			Temperature: *a.cfg.Generator.Temperature,
			MaxTokens:   a.cfg.Generator.MaxTokens,
		}),
		service.WithQueryEmbedTimeout(a.cfg.Embedder.Timeout),
		service.WithGenerateTimeout(a.cfg.Generator.Timeout),
		service.WithQueryLogger(a.logger),
	), nil
}

func buildEmbedder(cfg *config.AppConfig, logger *zap.Logger) (domain.Embedder, error) {
	e := cfg.Embedder
	switch e.Type {
	case "openai":
		return openaiemb.NewEmbedder(openaiemb.Config{
			APIKey:     e.OpenAI.ResolveAPIKey(),
			BaseURL:    e.OpenAI.BaseURL,
			Model:      e.OpenAI.Model,
			Dimensions: e.Dimensions,
			Timeout:    e.Timeout,
			Logger:     logger,
		})
	case "onnx":
		return onnx.NewEmbedder(onnx.Config{
			ModelPath:   e.ONNX.ModelPath,
			VocabPath:   e.ONNX.VocabPath,
			LibraryPath: e.ONNX.LibraryPath,
			Dimensions:  e.Dimensions,
			MaxTokens:   e.ONNX.MaxTokens,
		})
	case "hashing":
		return hashing.NewEmbedder(e.Dimensions)
	}
	return nil, fmt.Errorf("unknown embedder: %s", e.Type)
}

func buildGenerator(cfg *config.AppConfig, logger *zap.Logger) (domain.Generator, error) {
	g := cfg.Generator
	switch g.Type {
	case "openai":
		return openaillm.NewGenerator(openaillm.Config{
			APIKey:      g.OpenAI.ResolveAPIKey(),
			BaseURL:     g.OpenAI.BaseURL,
			Model:       g.OpenAI.Model,
			Temperature: g.Temperature,
			MaxTokens:   g.MaxTokens,
			Timeout:     g.Timeout,
			Logger:      logger,
		})
	}
	return nil, fmt.Errorf("unknown generator: %s", g.Type)
}

func buildBackend(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (vectorstore.Backend, error) {
	vs := cfg.VectorStore
	pool := vectorstore.PoolConfig{
		MaxConns:       vs.Pool.MaxConns,
		IdleTimeout:    vs.Pool.IdleTimeout,
		AcquireTimeout: vs.Pool.AcquireTimeout,
	}
	switch vs.Type {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:          vs.Postgres.DSN,
			Table:        vs.Postgres.Table,
			Dimensions:   vs.Dimensions,
			CreateSchema: vs.Postgres.CreateSchema,
			EFSearch:     vs.Postgres.EFSearch,
			WorkMem:      vs.Postgres.WorkMem,
			Pool:         pool,
		}, logger)
	case "sqlite":
		return sqlite.New(vs.SQLite.Path, pool, logger)
	case "memory":
		logger.Warn("using the in-memory vector store; chunks are lost on exit")
		return memory.NewStorage(), nil
	}
	return nil, fmt.Errorf("unknown vector store: %s", vs.Type)
}
