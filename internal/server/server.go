// Package server exposes the query and ingestion pipelines over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"wraith/internal/domain"
	"wraith/internal/logger"
	"wraith/internal/metrics"
	"wraith/internal/service"
)

type QueryRunner interface {
	Run(ctx context.Context, question string) (service.QueryResult, error)
}

type IngestRunner interface {
	Run(ctx context.Context, pathName string, chunkSize int) (service.IngestReport, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the HTTP API.
type Server struct {
	query     QueryRunner
	ingest    IngestRunner
	health    Pinger
	chunkSize int
	logger    *zap.Logger
}

func New(query QueryRunner, ingest IngestRunner, health Pinger, chunkSize int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chunkSize <= 0 {
		chunkSize = service.DefaultChunkSize
	}
	return &Server{query: query, ingest: ingest, health: health, chunkSize: chunkSize, logger: logger}
}

// Routes returns the router with logging, recovery and metrics middleware.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(metrics.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/ingest", s.handleIngest)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Server stopped gracefully")
	return nil
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResult struct {
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

type queryResponse struct {
	Answer  string        `json:"answer"`
	Sources []string      `json:"sources"`
	Results []queryResult `json:"results,omitempty"`
}

type ingestRequest struct {
	Path      string `json:"path"`
	ChunkSize int    `json:"chunk_size"`
}

type fileOutcome struct {
	Path    string `json:"path"`
	Chunks  int    `json:"chunks"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type ingestResponse struct {
	SuccessfulFiles int           `json:"successful_files"`
	SkippedFiles    int           `json:"skipped_files"`
	Chunks          int           `json:"chunks"`
	Files           []fileOutcome `json:"files"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	res, err := s.query.Run(r.Context(), req.Question)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	resp := queryResponse{Answer: res.Answer, Sources: res.Sources}
	for _, hit := range res.Results {
		resp.Results = append(resp.Results, queryResult{
			Source:     hit.Source,
			ChunkIndex: hit.ChunkIndex,
			Similarity: hit.Similarity,
			Content:    hit.Content,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.chunkSize
	}
	report, err := s.ingest.Run(r.Context(), req.Path, chunkSize)
	var ie *domain.IngestionError
	if err != nil && !errors.As(err, &ie) {
		s.handleDomainError(w, r, err)
		return
	}
	resp := ingestResponse{
		SuccessfulFiles: report.SuccessfulFiles,
		SkippedFiles:    report.SkippedFiles,
		Chunks:          report.Chunks,
		Files:           make([]fileOutcome, len(report.Files)),
	}
	for i, f := range report.Files {
		resp.Files[i] = fileOutcome{Path: f.Path, Chunks: f.Chunks, Skipped: f.Skipped, Reason: f.Reason, Summary: f.Summary}
	}
	status := http.StatusOK
	if ie != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			logger.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorMapping pairs a domain sentinel with its HTTP status and error code.
var errorMapping = []struct {
	sentinel error
	status   int
	code     string
}{
	{domain.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{domain.ErrIngestion, http.StatusUnprocessableEntity, "ingestion_failed"},
	{domain.ErrEmbedding, http.StatusBadGateway, "embedding_failed"},
	{domain.ErrGeneration, http.StatusBadGateway, "generation_failed"},
	{domain.ErrStorage, http.StatusServiceUnavailable, "storage_unavailable"},
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	for _, m := range errorMapping {
		if errors.Is(err, m.sentinel) {
			log.Warn("request failed", zap.String("code", m.code), zap.Error(err))
			msg := m.sentinel.Error()
			if m.status == http.StatusBadRequest {
				msg = err.Error()
			}
			writeError(w, m.status, m.code, msg)
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Warn("request cancelled", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
		return
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
