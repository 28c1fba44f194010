package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 384, cfg.Embedder.Dimensions)
	assert.Equal(t, 384, cfg.VectorStore.Dimensions)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	require.NotNil(t, cfg.Chunker.OverlapRatio)
	assert.InDelta(t, 0.1, *cfg.Chunker.OverlapRatio, 1e-9)
	require.NotNil(t, cfg.Generator.Temperature)
	assert.InDelta(t, 0.7, *cfg.Generator.Temperature, 1e-6)
	assert.Equal(t, 30*time.Second, cfg.VectorStore.SearchTimeout)
	assert.Equal(t, 100, cfg.VectorStore.BatchSize)
	assert.Equal(t, 100, cfg.VectorStore.CacheSize)
	assert.Equal(t, 20, cfg.VectorStore.Pool.MaxConns)
	assert.Equal(t, 30*time.Second, cfg.VectorStore.Pool.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.VectorStore.Pool.AcquireTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.Generator.OpenAI.Model)
	assert.Equal(t, 5, cfg.Query.TopK)
	assert.Equal(t, 1, cfg.Ingest.Workers)
	assert.Equal(t, []string{".pdf", ".txt", ".md"}, cfg.Ingest.Extensions)
}

func TestParse_EnvExpansionAndDurations(t *testing.T) {
	t.Setenv("WRAITH_TEST_DSN", "postgres://u:p@db:5432/x")
	data := []byte(`
embedder:
  type: hashing
  dimensions: 64
vector_store:
  type: postgres
  postgres:
    dsn: ${WRAITH_TEST_DSN}
    table: ${WRAITH_TEST_TABLE:-chunks}
  pool:
    acquire_timeout: 500ms
generator:
  model: gpt-4o
  base_url: http://localhost:11434/v1
ingest:
  workers: 4
  retry:
    max_attempts: 3
    base_delay: 50ms
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.VectorStore.Postgres.DSN)
	assert.Equal(t, "chunks", cfg.VectorStore.Postgres.Table)
	assert.Equal(t, 500*time.Millisecond, cfg.VectorStore.Pool.AcquireTimeout)
	assert.Equal(t, 64, cfg.VectorStore.Dimensions, "store follows embedder dimensions")
	assert.Equal(t, "gpt-4o", cfg.Generator.OpenAI.Model)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Generator.OpenAI.BaseURL)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, 3, cfg.Ingest.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Ingest.Retry.BaseDelay)
	assert.Equal(t, 5*time.Second, cfg.Ingest.Retry.MaxDelay)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown embedder", "embedder: {type: magic}"},
		{"onnx without model", "embedder: {type: onnx}"},
		{"unknown store", "vector_store: {type: redis}"},
		{"dimension mismatch", "embedder: {dimensions: 384}\nvector_store: {dimensions: 768}"},
		{"negative chunk size", "chunker: {chunk_size: -1}"},
		{"overlap ratio too large", "chunker: {overlap_ratio: 1.5}"},
		{"negative workers", "ingest: {workers: -2}"},
		{"bad table name", "vector_store: {postgres: {table: 'docs; drop'}}"},
		{"bad log env", "logging: {env: staging}"},
		{"malformed yaml", "embedder: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.VectorStore.Type = "sqlite"
	cfg.VectorStore.SQLite.Path = "/tmp/x.db"
	cfg.Server.ShutdownTimeout = 3 * time.Second
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())

	cfg, path, err := LoadDefault("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, Default(), cfg)

	userPath := filepath.Join(home, ".config", "wraith", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userPath), 0o755))
	require.NoError(t, os.WriteFile(userPath, []byte("query: {top_k: 9}"), 0o600))
	cfg, path, err = LoadDefault("")
	require.NoError(t, err)
	assert.Equal(t, userPath, path)
	assert.Equal(t, 9, cfg.Query.TopK)

	require.NoError(t, os.WriteFile("config.yaml", []byte("query: {top_k: 3}"), 0o600))
	cfg, path, err = LoadDefault("")
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", path)
	assert.Equal(t, 3, cfg.Query.TopK)

	_, _, err = LoadDefault(filepath.Join(home, "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("WRAITH_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", OpenAIConfig{APIKeyEnv: "WRAITH_TEST_KEY"}.ResolveAPIKey())
	assert.Equal(t, "inline", OpenAIConfig{APIKey: "inline", APIKeyEnv: "WRAITH_TEST_KEY"}.ResolveAPIKey())
}

func TestParse_ExplicitZeroKept(t *testing.T) {
	cfg, err := Parse([]byte(`
generator:
  temperature: 0
chunker:
  overlap_ratio: 0
`))
	require.NoError(t, err)
	assert.Zero(t, *cfg.Generator.Temperature)
	assert.Zero(t, *cfg.Chunker.OverlapRatio)
}

func TestParse_TemperatureOutOfRange(t *testing.T) {
	_, err := Parse([]byte("generator:\n  temperature: 2.5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator.temperature")
}
