// cmd/memento-mcp is the stdio entry point for the memory service. It wires
// the configured storage backend and embedding provider chain into the engine
// and serves MCP JSON-RPC 2.0 requests from stdin.
//
// Startup sequence:
//  1. Load configuration (YAML file, then MEMENTO_* env overrides).
//  2. Open the storage backend (SQLite or Postgres).
//  3. Build the embedding provider chain with the in-process fallback.
//  4. Start the engine (embedding workers + maintenance scheduler).
//  5. Watch the config file for hot reloads of ranking/forgetting tunables.
//  6. Serve line-delimited JSON-RPC until stdin closes or a signal arrives.
//
// CRITICAL: all logging goes to stderr. Any stray bytes on stdout corrupt
// the JSON-RPC framing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mementolabs/memento/internal/api/mcp"
	"github.com/mementolabs/memento/internal/config"
	"github.com/mementolabs/memento/internal/embedding"
	"github.com/mementolabs/memento/internal/engine"
	"github.com/mementolabs/memento/internal/scheduler"
	"github.com/mementolabs/memento/internal/storage"
	"github.com/mementolabs/memento/internal/storage/postgres"
	"github.com/mementolabs/memento/internal/storage/sqlite"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("memento-mcp: ")
	logger := log.New(os.Stderr, "memento-mcp: ", log.LstdFlags)

	configPath := flag.String("config", os.Getenv("MEMENTO_CONFIG"), "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	gw, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	embedder := buildEmbedder(cfg, logger)

	forget, metrics, cacheInterval := cfg.SchedulerIntervals()
	eng := engine.New(gw, embedder, engine.Options{
		Weights:       cfg.RankingWeights(),
		SearchTimeout: time.Duration(cfg.Search.TimeoutMS) * time.Millisecond,
		Forgetting:    cfg.ForgettingConfig(),
		Queue: embedding.QueueConfig{
			Size:    cfg.Embedding.QueueSize,
			Workers: cfg.Embedding.Workers,
		},
		Intervals: scheduler.Intervals{Forget: forget, Metrics: metrics, Cache: cacheInterval},
		CacheSweep: func(context.Context) {
			if cache, ok := embedder.(*embedding.CachingEmbedder); ok {
				logger.Printf("embedding cache: %d entries", cache.Len())
			}
		},
		Logger: logger,
	})
	if err := eng.Start(); err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			logger.Printf("engine shutdown: %v", err)
		}
	}()

	// Hot reload of ranking and forgetting tunables. Storage and provider
	// changes still require a restart.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(c *config.Config) {
			eng.SetRankingWeights(c.RankingWeights())
			eng.SetForgettingConfig(c.ForgettingConfig())
			logger.Printf("config reloaded from %s", *configPath)
		}, logger)
		if err != nil {
			logger.Printf("config watcher disabled: %v", err)
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Println("received shutdown signal")
		cancel()
	}()

	srv := mcp.NewServer(eng, logger)
	transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout, logger)
	if err := transport.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("serve: %v", err)
	}
}

// openStorage opens the backend selected by storage.engine.
func openStorage(cfg *config.Config) (storage.Gateway, error) {
	switch cfg.Storage.Engine {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." && cfg.Storage.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create data directory %q: %w", dir, err)
			}
		}
		return sqlite.Open(cfg.Storage.Path)
	case "postgres":
		return postgres.Open(cfg.Storage.PostgresDSN, cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// buildEmbedder assembles the provider chain for the configured preference
// and wraps it in the LRU cache unless cache.enabled is off. The local
// provider is always the terminal fallback, so embedding never hard-fails.
func buildEmbedder(cfg *config.Config, logger *log.Logger) embedding.Embedder {
	chain := embedding.NewChain(logger, embedding.ChainConfig{
		EmbedTimeout: time.Duration(cfg.Embedding.TimeoutMS) * time.Millisecond,
	}, providerOrder(cfg)...)

	if !cfg.Cache.Enabled {
		return chain
	}
	return embedding.NewCachingEmbedder(chain, embedding.CacheConfig{
		Size: cfg.Cache.MaxSize,
		TTL:  time.Duration(cfg.Cache.TTLMS) * time.Millisecond,
	})
}

func providerOrder(cfg *config.Config) []embedding.Provider {
	openAI := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:  cfg.Embedding.OpenAIAPIKey,
		BaseURL: cfg.Embedding.OpenAIBaseURL,
	})
	ollama := embedding.NewOllamaProvider(embedding.OllamaConfig{
		BaseURL: cfg.Embedding.OllamaURL,
		Model:   cfg.Embedding.OllamaModel,
		Timeout: time.Duration(cfg.Embedding.TimeoutMS) * time.Millisecond,
	})
	local := embedding.NewLocalProvider()

	switch cfg.Embedding.Provider {
	case "hosted_primary":
		return []embedding.Provider{openAI, ollama, local}
	case "hosted_secondary":
		return []embedding.Provider{ollama, openAI, local}
	default:
		return []embedding.Provider{local}
	}
}
