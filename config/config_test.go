package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesumi/memolette/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "mock", cfg.Embedder.Backend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Positive(t, cfg.Assembler.DefaultBudget)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  address: ":9090"
  shutdown_timeout: 5s
store:
  backend: sqlite
  path: /var/lib/memolette/facts.db
embedder:
  backend: openai
  model: text-embedding-3-small
attributes:
  exclusive: [location, employer]
  allow_undeclared: true
retrieval:
  relevance_weight: 0.6
  recency_weight: 0.4
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout.Std())
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/memolette/facts.db", cfg.Store.Path)
	assert.Equal(t, "openai", cfg.Embedder.Backend)
	assert.Equal(t, 0.6, cfg.Retrieval.RelevanceWeight)
	assert.Equal(t, []string{"location", "employer"}, cfg.Attrs.Exclusive)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEMOLETTE_ADDR", ":7070")
	t.Setenv("MEMOLETTE_LOG_LEVEL", "warn")
	t.Setenv("MEMOLETTE_BUDGET", "512")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 512, cfg.Assembler.DefaultBudget)
}

func TestInvalidBackendRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: mongodb\n"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestInvalidLogLevelRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestWeightsMustSumToOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "retrieval:\n  relevance_weight: 0.9\n  recency_weight: 0.3\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestMissingFileErrors(t *testing.T) {
	_, err := config.Load("/no/such/config.yaml")
	assert.Error(t, err)
}
