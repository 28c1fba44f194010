package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wraith/internal/domain"
	"wraith/internal/extract"
	"wraith/internal/metrics"
)

// DefaultChunkSize is the chunk length, in characters, used when none is configured.
const DefaultChunkSize = 1000

// IngestService extracts, chunks, embeds and stores documents, one file at a time.
type IngestService struct {
	source   domain.DocumentSource
	chunker  domain.Chunker
	embedder domain.Embedder
	store    domain.VectorStore

	summarizer       domain.Summarizer
	summarySentences int
	workers          int
	embedTimeout     time.Duration
	retry            RetryPolicy
	progress         func(IngestEvent)
	logger           *zap.Logger

	emitMu sync.Mutex
}

type IngestOption func(*IngestService)

// WithWorkers processes up to n files concurrently. n <= 1 is sequential.
func WithWorkers(n int) IngestOption {
	return func(s *IngestService) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithEmbedTimeout(d time.Duration) IngestOption {
	return func(s *IngestService) { s.embedTimeout = d }
}

func WithRetryPolicy(p RetryPolicy) IngestOption {
	return func(s *IngestService) { s.retry = p.withDefaults() }
}

// WithProgress registers fn for progress events. Calls are serialized.
func WithProgress(fn func(IngestEvent)) IngestOption {
	return func(s *IngestService) { s.progress = fn }
}

// WithSummarizer attaches a summary of up to sentences sentences to each ingested file.
func WithSummarizer(sum domain.Summarizer, sentences int) IngestOption {
	return func(s *IngestService) {
		s.summarizer = sum
		s.summarySentences = sentences
	}
}

func WithIngestLogger(l *zap.Logger) IngestOption {
	return func(s *IngestService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewIngestService(source domain.DocumentSource, chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, opts ...IngestOption) *IngestService {
	s := &IngestService{
		source:   source,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		workers:  1,
		retry:    DefaultRetryPolicy(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ingests the file or directory at pathName. Files fail independently;
// an *domain.IngestionError is returned only when none succeeded.
func (s *IngestService) Run(ctx context.Context, pathName string, chunkSize int) (IngestReport, error) {
	if chunkSize <= 0 {
		return IngestReport{}, domain.Invalidf("chunk size must be positive, got %d", chunkSize)
	}
	files, err := s.resolve(pathName)
	if err != nil {
		return IngestReport{}, err
	}
	s.logger.Info("ingest started", zap.Int("files", len(files)), zap.Int("chunk_size", chunkSize), zap.Int("workers", s.workers))
	s.emit(IngestEvent{Kind: RunStarted, Total: len(files)})

	outcomes := make([]FileOutcome, len(files))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			s.emit(IngestEvent{Kind: FileStarted, Path: path, Index: i + 1, Total: len(files)})
			outcomes[i] = s.ingestFile(ctx, path, chunkSize)
			return nil
		})
	}
	_ = g.Wait()

	report := IngestReport{Files: make([]FileOutcome, 0, len(files))}
	for _, o := range outcomes {
		if o.Path == "" {
			continue
		}
		report.Files = append(report.Files, o)
		if o.Skipped {
			report.SkippedFiles++
			continue
		}
		report.SuccessfulFiles++
		report.Chunks += o.Chunks
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("ingest interrupted: %w", err)
	}

	s.emit(IngestEvent{Kind: RunFinished, Successful: report.SuccessfulFiles, Skipped: report.SkippedFiles})
	s.logger.Info("ingest finished",
		zap.Int("successful", report.SuccessfulFiles),
		zap.Int("skipped", report.SkippedFiles),
		zap.Int("chunks", report.Chunks),
	)
	if report.SuccessfulFiles == 0 {
		return report, &domain.IngestionError{Attempted: len(files), Skipped: report.SkippedFiles}
	}
	return report, nil
}

func (s *IngestService) ingestFile(ctx context.Context, path string, chunkSize int) FileOutcome {
	log := s.logger.With(zap.String("file", filepath.Base(path)))
	skip := func(reason string, err error) FileOutcome {
		log.Warn("file skipped", zap.String("reason", reason), zap.Error(err))
		metrics.IngestFilesTotal.WithLabelValues("skipped").Inc()
		s.emit(IngestEvent{Kind: FileSkipped, Path: path, Reason: reason, Err: err})
		return FileOutcome{Path: path, Skipped: true, Reason: reason, Err: err}
	}

	raw, extractErr := s.source.Extract(ctx, path)
	if extractErr != nil {
		log.Error("extract failed", zap.Error(extractErr))
		raw = ""
	}
	text := extract.Sanitize(raw)
	if text == "" {
		return skip(ReasonEmpty, extractErr)
	}
	log.Debug("text extracted", zap.Int("chars", len([]rune(text))))

	chunks, err := s.chunker.Chunk(text, chunkSize)
	if err != nil {
		return skip(ReasonChunking, err)
	}
	if len(chunks) == 0 {
		return skip(ReasonEmpty, nil)
	}

	docs := make([]domain.DocumentChunk, 0, len(chunks))
	for _, ch := range chunks {
		vec, err := withRetry(ctx, s.retry, s.logRetry(log, "embed"), func(ctx context.Context) ([]float32, error) {
			return s.embed(ctx, ch.Text)
		})
		if err != nil {
			return skip(ReasonEmbedding, err)
		}
		docs = append(docs, domain.DocumentChunk{
			Content:   ch.Text,
			Embedding: vec,
			Metadata: domain.NewMetadata(
				"source", path,
				"chunkIndex", ch.Index,
				"fileName", filepath.Base(path),
			),
			Source:     path,
			ChunkIndex: ch.Index,
		})
	}

	_, err = withRetry(ctx, s.retry, s.logRetry(log, "insert"), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.InsertDocuments(ctx, docs)
	})
	if err != nil {
		if errors.Is(err, domain.ErrEncoding) {
			return skip(ReasonEncoding, err)
		}
		return skip(ReasonStorage, err)
	}

	var summary string
	if s.summarizer != nil {
		if summary, err = s.summarizer.Summarize(text, s.summarySentences); err != nil {
			log.Warn("summarize failed", zap.Error(err))
		}
	}
	metrics.IngestFilesTotal.WithLabelValues("ingested").Inc()
	metrics.IngestChunksTotal.Add(float64(len(docs)))
	log.Info("file ingested", zap.Int("chunks", len(docs)))
	s.emit(IngestEvent{Kind: FileIngested, Path: path, Chunks: len(docs), Summary: summary})
	return FileOutcome{Path: path, Chunks: len(docs), Summary: summary}
}

func (s *IngestService) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	return s.embedder.Embed(ctx, text)
}

func (s *IngestService) logRetry(log *zap.Logger, op string) func(int, error) {
	return func(attempt int, err error) {
		log.Warn("retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
}

func (s *IngestService) emit(ev IngestEvent) {
	if s.progress == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.progress(ev)
}

// resolve expands pathName into the supported files to ingest.
func (s *IngestService) resolve(pathName string) ([]string, error) {
	path, err := ExpandPath(pathName)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.Invalidf("path does not exist: %s", path)
		}
		return nil, domain.Invalidf("stat %s: %v", path, err)
	}
	if !info.IsDir() {
		if !s.source.Supports(path) {
			return nil, domain.Invalidf("unsupported file type: %s", path)
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if s.source.Supports(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, domain.Invalidf("no supported files found in directory: %s", path)
	}
	return files, nil
}

// ExpandPath trims pathName, expands a leading ~ and cleans the result.
func ExpandPath(pathName string) (string, error) {
	p := strings.TrimSpace(pathName)
	if p == "" {
		return "", domain.Invalidf("path is empty")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Clean(p), nil
}
