package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mementolabs/memento/internal/config"
	"github.com/mementolabs/memento/internal/embedding"
)

func TestProviderOrder(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	names := func() []string {
		var out []string
		for _, p := range providerOrder(cfg) {
			out = append(out, p.Name())
		}
		return out
	}

	assert.Equal(t, []string{"local"}, names())

	cfg.Embedding.Provider = "hosted_primary"
	assert.Equal(t, []string{"openai", "ollama", "local"}, names())

	cfg.Embedding.Provider = "hosted_secondary"
	assert.Equal(t, []string{"ollama", "openai", "local"}, names())
}

func TestOpenStorageSelectsBackend(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data", "memento.db")

	gw, err := openStorage(cfg)
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	cfg.Storage.Engine = "tape-drive"
	_, err = openStorage(cfg)
	assert.Error(t, err)
}

func TestBuildEmbedderCaches(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cache, ok := buildEmbedder(cfg, nil).(*embedding.CachingEmbedder)
	require.True(t, ok)
	assert.Zero(t, cache.Len())

	cfg.Cache.Enabled = false
	_, ok = buildEmbedder(cfg, nil).(*embedding.CachingEmbedder)
	assert.False(t, ok)
}
