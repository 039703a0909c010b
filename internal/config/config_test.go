package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	content := `
server:
  port: 9090
storage:
  path: /tmp/test.db
pipeline:
  workers: 4
  pause_wait: 30m
dedup:
  similarity_threshold: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/test.db", cfg.Storage.Path)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.PauseWait)
	assert.Equal(t, 0.9, cfg.Dedup.SimilarityThreshold)
	// Untouched values keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8, cfg.AI.MaxConcurrentCalls)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/engine.yaml")
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DILIGENCE_DB_PATH", "/var/lib/engine.db")
	t.Setenv("DILIGENCE_PORT", "7070")
	t.Setenv("DILIGENCE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/engine.db", cfg.Storage.Path)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Dedup.SimilarityThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Pipeline.Workers = -1
	assert.Error(t, cfg.Validate())
}
