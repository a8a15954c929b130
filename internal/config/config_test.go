package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	return dir
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend.Kind)
	assert.Equal(t, 50, cfg.Backend.ChunkSize)
	assert.Equal(t, 200, cfg.Pipeline.ChunkSize)
	assert.Equal(t, int64(10_000), cfg.Cache.Size)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := writeConfig(t, "cpgraph.yaml", `
backend:
  kind: rest
  uri: http://localhost:9000
  rest:
    retryDelay: 10ms
pipeline:
  chunkSize: 8
excludeDirs:
  - "vendor/**"
`)
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, BackendREST, cfg.Backend.Kind)
	assert.Equal(t, "http://localhost:9000", cfg.Backend.URI)
	assert.Equal(t, 8, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 64, cfg.Pipeline.ChannelCapacity, "unset fields keep defaults")
	assert.Equal(t, 5, cfg.Backend.REST.MaxAttempts)
	assert.Equal(t, []string{"vendor/**"}, cfg.ExcludeDirs)

	d, err := cfg.Backend.REST.RetryDelayDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, d)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	dir := writeConfig(t, "cpgraph.yml", "backend:\n  kind: oracle\n")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_RemoteBackendNeedsURI(t *testing.T) {
	dir := writeConfig(t, "cpgraph.yml", "backend:\n  kind: neo4j\n")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	dir := writeConfig(t, "cpgraph.yml", "backend:\n  rest:\n    timeout: soon\n")
	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_RejectsZeroChunk(t *testing.T) {
	dir := writeConfig(t, "cpgraph.yml", "pipeline:\n  chunkSize: 0\n")
	_, err := Load(dir)
	assert.Error(t, err)
}
