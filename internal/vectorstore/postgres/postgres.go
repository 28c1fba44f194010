// Package postgres provides a PostgreSQL + pgvector backend for the vector store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"wraith/internal/domain"
	"wraith/internal/vectorstore"
)

// SQLSTATE 22021: character_not_in_repertoire.
const codeCharacterNotInRepertoire = "22021"

type Config struct {
	DSN          string
	Table        string
	Dimensions   int
	CreateSchema bool
	EFSearch     int
	WorkMem      string
	Pool         vectorstore.PoolConfig
}

// Storage is a vectorstore.Backend on a pgvector table.
type Storage struct {
	pool   *pgxpool.Pool
	table  string
	cfg    Config
	logger *zap.Logger
}

var _ vectorstore.Backend = (*Storage)(nil)

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Table == "" {
		cfg.Table = "documents"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = vectorstore.DefaultDimensions
	}
	cfg.Pool = cfg.Pool.WithDefaults()

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pcfg.MaxConns = int32(cfg.Pool.MaxConns)
	pcfg.MaxConnIdleTime = cfg.Pool.IdleTimeout
	pcfg.ConnConfig.ConnectTimeout = cfg.Pool.AcquireTimeout
	pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for _, stmt := range sessionSettings(cfg) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return pgxvec.RegisterTypes(ctx, conn)
	}

	s := &Storage{
		table:  pgx.Identifier{cfg.Table}.Sanitize(),
		cfg:    cfg,
		logger: logger,
	}
	if cfg.CreateSchema {
		// the vector type must exist before AfterConnect can register it
		if err := s.bootstrap(ctx, cfg); err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	s.pool = pool
	logger.Info("postgres vector store ready",
		zap.String("table", cfg.Table),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Int("max_conns", cfg.Pool.MaxConns),
	)
	return s, nil
}

func sessionSettings(cfg Config) []string {
	var out []string
	if cfg.WorkMem != "" {
		out = append(out, fmt.Sprintf("SET work_mem = '%s'", strings.ReplaceAll(cfg.WorkMem, "'", "")))
	}
	if cfg.EFSearch > 0 {
		out = append(out, fmt.Sprintf("SET hnsw.ef_search = %d", cfg.EFSearch))
	}
	return out
}

func (s *Storage) bootstrap(ctx context.Context, cfg Config) error {
	conn, err := pgx.Connect(ctx, cfg.DSN)
	if err != nil {
		return classify("connect", err)
	}
	defer conn.Close(ctx)

	idx := strings.Trim(s.table, `"`)
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id uuid PRIMARY KEY,
			content text NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
			source text NOT NULL,
			chunk_index integer NOT NULL CHECK (chunk_index >= 0),
			created_at timestamptz NOT NULL DEFAULT now()
		)`, s.table, cfg.Dimensions),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pgx.Identifier{idx + "_embedding_idx"}.Sanitize(), s.table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (source, chunk_index)",
			pgx.Identifier{idx + "_source_idx"}.Sanitize(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return classify("schema", err)
		}
	}
	return nil
}

// acquire takes one pooled connection, failing fast when none frees up in time.
func (s *Storage) acquire(ctx context.Context, op string) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.Pool.AcquireTimeout)
	defer cancel()
	conn, err := s.pool.Acquire(actx)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.StorageError{Op: op, Err: domain.ErrConnUnavailable, Transient: true}
		}
		return nil, classify(op, err)
	}
	return conn, nil
}

func (s *Storage) Insert(ctx context.Context, chunks []domain.DocumentChunk, batchSize int) error {
	conn, err := s.acquire(ctx, "insert")
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, b := range vectorstore.Batches(len(chunks), batchSize) {
		query, args, err := buildInsert(s.table, chunks[b[0]:b[1]])
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return classify("insert", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func buildInsert(table string, chunks []domain.DocumentChunk) (string, []any, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (id, content, embedding, metadata, source, chunk_index) VALUES ", table)
	args := make([]any, 0, len(chunks)*6)
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return "", nil, &domain.StorageError{Op: "insert", Err: fmt.Errorf("encode metadata: %w", err)}
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, uuid.NewString(), c.Content, pgvector.NewVector(c.Embedding), meta, c.Source, c.ChunkIndex)
	}
	return sb.String(), args, nil
}

func (s *Storage) Nearest(ctx context.Context, query []float32, limit int) ([]vectorstore.Hit, error) {
	conn, err := s.acquire(ctx, "search")
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, fmt.Sprintf(
		`SELECT id::text, content, metadata, source, chunk_index, embedding <=> $1 AS distance
		 FROM %s
		 ORDER BY embedding <=> $1
		 LIMIT $2`, s.table),
		pgvector.NewVector(query), limit,
	)
	if err != nil {
		return nil, classify("search", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var h vectorstore.Hit
		var meta []byte
		if err := rows.Scan(&h.ID, &h.Content, &meta, &h.Source, &h.ChunkIndex, &h.Distance); err != nil {
			return nil, classify("scan", err)
		}
		if err := json.Unmarshal(meta, &h.Metadata); err != nil {
			return nil, &domain.StorageError{Op: "scan", Err: fmt.Errorf("decode metadata of %s: %w", h.ID, err)}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search", err)
	}
	return hits, nil
}

// Ping checks connectivity within the acquisition timeout.
func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Pool.AcquireTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func classify(op string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	out := &domain.StorageError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		out.Encoding = pgErr.Code == codeCharacterNotInRepertoire
		out.Transient = isTransientCode(pgErr.Code)
		return out
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		out.Transient = true
	}
	return out
}

// isTransientCode covers connection exceptions, serialization failures,
// insufficient resources and operator intervention.
func isTransientCode(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57P"):
		return true
	case code == "40001", code == "40P01":
		return true
	}
	return false
}
