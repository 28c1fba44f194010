// Package sqlite provides a SQLite backend for the vector store.
// Distances are computed by a Go function registered on every connection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"wraith/internal/domain"
	"wraith/internal/vectorstore"
)

const driverName = "sqlite3_wraith"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("vec_cosine_distance", cosineDistance, true)
		},
	})
}

// Storage is a vectorstore.Backend on a single SQLite file.
type Storage struct {
	db     *sql.DB
	pool   vectorstore.PoolConfig
	logger *zap.Logger
}

var _ vectorstore.Backend = (*Storage)(nil)

// New opens or creates the database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func New(dbPath string, pool vectorstore.PoolConfig, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", dbPath)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool = pool.WithDefaults()
	db.SetMaxOpenConns(pool.MaxConns)
	db.SetMaxIdleConns(pool.MaxConns)
	db.SetConnMaxIdleTime(pool.IdleTimeout)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	logger.Info("sqlite vector store opened", zap.String("path", dbPath), zap.Int("max_conns", pool.MaxConns))
	return &Storage{db: db, pool: pool, logger: logger}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		source TEXT NOT NULL,
		chunk_index INTEGER NOT NULL CHECK (chunk_index >= 0),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source, chunk_index);
	`
	_, err := db.Exec(schema)
	return err
}

// acquire takes one pooled connection, failing fast when none frees up in time.
func (s *Storage) acquire(ctx context.Context, op string) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, s.pool.AcquireTimeout)
	defer cancel()
	conn, err := s.db.Conn(actx)
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
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range vectorstore.Batches(len(chunks), batchSize) {
		query, args, err := buildInsert(chunks[b[0]:b[1]])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classify("insert", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

func buildInsert(chunks []domain.DocumentChunk) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO documents (id, content, embedding, metadata, source, chunk_index) VALUES ")
	args := make([]any, 0, len(chunks)*6)
	for i, c := range chunks {
		if !utf8.ValidString(c.Content) || !utf8.ValidString(c.Source) {
			return "", nil, &domain.StorageError{
				Op:       "insert",
				Err:      fmt.Errorf("chunk %d of %s is not valid UTF-8", c.ChunkIndex, c.Source),
				Encoding: true,
			}
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return "", nil, &domain.StorageError{Op: "insert", Err: fmt.Errorf("encode metadata: %w", err)}
		}
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args, uuid.NewString(), c.Content, EncodeVector(c.Embedding), string(meta), c.Source, c.ChunkIndex)
	}
	return sb.String(), args, nil
}

func (s *Storage) Nearest(ctx context.Context, query []float32, limit int) ([]vectorstore.Hit, error) {
	conn, err := s.acquire(ctx, "search")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		`SELECT id, content, metadata, source, chunk_index, vec_cosine_distance(embedding, ?) AS distance
		 FROM documents
		 ORDER BY distance ASC, rowid ASC
		 LIMIT ?`,
		EncodeVector(query), limit,
	)
	if err != nil {
		return nil, classify("search", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var h vectorstore.Hit
		var meta string
		if err := rows.Scan(&h.ID, &h.Content, &meta, &h.Source, &h.ChunkIndex, &h.Distance); err != nil {
			return nil, classify("scan", err)
		}
		if err := json.Unmarshal([]byte(meta), &h.Metadata); err != nil {
			return nil, &domain.StorageError{Op: "scan", Err: fmt.Errorf("decode metadata of %s: %w", h.ID, err)}
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search", err)
	}
	return hits, nil
}

// Count returns the number of stored chunks.
func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func classify(op string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	out := &domain.StorageError{Op: op, Err: err}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		out.Transient = serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return out
}

// EncodeVector stores a vector as little-endian float32 bytes.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func cosineDistance(a, b []byte) (float64, error) {
	va, err := DecodeVector(a)
	if err != nil {
		return 0, err
	}
	vb, err := DecodeVector(b)
	if err != nil {
		return 0, err
	}
	if len(va) != len(vb) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(va), len(vb))
	}
	return vectorstore.CosineDistance(va, vb), nil
}
