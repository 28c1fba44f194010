package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wraith/internal/config"
	"wraith/internal/service"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cfgPath, cfgSource, cfg = "", "", nil
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ingest", "query", "serve", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "wraith version dev")
}

func TestConfigInit_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "config.yaml")
	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), loaded)
}

func TestConfigInit_RefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("query:\n  top_k: 3\n"), 0o600))

	_, err := execute(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	configForce = true
	t.Cleanup(func() { configForce = false })
	_, err = execute(t, "config", "init", path)
	require.NoError(t, err)
}

func TestConfigPath_ReportsSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.Save(path, config.Default()))

	out, err := execute(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, path)
}

func TestIngest_PlainRequiresPath(t *testing.T) {
	ingestPlain = true
	t.Cleanup(func() { ingestPlain = false })

	_, err := execute(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestPrintEvent(t *testing.T) {
	buf := new(bytes.Buffer)
	ingestCmd.SetOut(buf)
	t.Cleanup(func() { ingestCmd.SetOut(nil) })

	printEvent(ingestCmd, service.IngestEvent{Kind: service.RunStarted, Total: 2})
	printEvent(ingestCmd, service.IngestEvent{Kind: service.FileStarted, Path: "/docs/a.md", Index: 1, Total: 2})
	printEvent(ingestCmd, service.IngestEvent{Kind: service.FileIngested, Path: "/docs/a.md", Chunks: 3})
	printEvent(ingestCmd, service.IngestEvent{Kind: service.FileSkipped, Path: "/docs/b.md", Reason: service.ReasonEmpty})

	out := buf.String()
	assert.Contains(t, out, "Found 2 files")
	assert.Contains(t, out, "[1/2] a.md")
	assert.Contains(t, out, "ingested 3 chunks")
	assert.Contains(t, out, "skipped b.md (empty)")
}
