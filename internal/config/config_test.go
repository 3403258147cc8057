package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mementolabs/memento/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
	assert.Equal(t, 5000, cfg.Search.TimeoutMS)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 10000, cfg.Cache.MaxSize)
	assert.Equal(t, 0.60, cfg.Forget.Thresholds.Soft)
	assert.Equal(t, 0.80, cfg.Forget.Thresholds.Hard)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memento.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  engine: postgres
  postgres_dsn: "host=localhost dbname=memento"
ranking_weights:
  relevance: 0.7
  recency: 0.1
  importance: 0.1
  usage: 0.05
  duplication: 0.05
forget:
  thresholds:
    soft: 0.5
  ttl:
    soft:
      working: 1
search:
  timeout_ms: 2500
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, 2500, cfg.Search.TimeoutMS)
	assert.Equal(t, 0.7, cfg.RankingWeights().Relevance)

	f := cfg.ForgettingConfig()
	assert.Equal(t, 0.5, f.SoftThreshold)
	assert.Equal(t, 0.8, f.HardThreshold) // untouched default
	assert.Equal(t, 1.0, f.TTLSoftDays[types.TypeWorking])
	assert.Equal(t, 30.0, f.TTLSoftDays[types.TypeEpisodic])
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memento.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  engine: postgres\n"), 0o644))

	t.Setenv("MEMENTO_STORAGE_ENGINE", "sqlite")
	t.Setenv("MEMENTO_SEARCH_TIMEOUT_MS", "1234")
	t.Setenv("MEMENTO_EMBEDDING_PROVIDER", "hosted_primary")
	t.Setenv("MEMENTO_CACHE_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, 1234, cfg.Search.TimeoutMS)
	assert.Equal(t, "hosted_primary", cfg.Embedding.Provider)
	assert.False(t, cfg.Cache.Enabled)
}

func TestInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memento.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("MEMENTO_TEST_STR", "value")
	t.Setenv("MEMENTO_TEST_INT", "42")
	t.Setenv("MEMENTO_TEST_BAD_INT", "not-a-number")
	t.Setenv("MEMENTO_TEST_BOOL", "yes")

	assert.Equal(t, "value", getEnv("MEMENTO_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", getEnv("MEMENTO_TEST_UNSET", "fallback"))
	assert.Equal(t, 42, getEnvInt("MEMENTO_TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("MEMENTO_TEST_BAD_INT", 7))
	assert.True(t, getEnvBool("MEMENTO_TEST_BOOL", false))
	assert.False(t, getEnvBool("MEMENTO_TEST_UNSET", false))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memento.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  timeout_ms: 1000\n"), 0o644))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, os.WriteFile(path, []byte("search:\n  timeout_ms: 4321\n"), 0o644))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := got != nil && got.Search.TimeoutMS == 4321
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("config reload not observed")
}
