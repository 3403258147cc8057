// Package config provides configuration for the memory service. Settings
// load from an optional YAML file, then environment variables with the
// MEMENTO_ prefix override individual keys. Ranking and forgetting tunables
// can be hot-reloaded while the service runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mementolabs/memento/internal/forgetting"
	"github.com/mementolabs/memento/internal/ranking"
	"github.com/mementolabs/memento/pkg/types"
)

// Config holds all settings for the memory service.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ranking   RankingConfig   `yaml:"ranking_weights"`
	Forget    ForgetConfig    `yaml:"forget"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Search    SearchConfig    `yaml:"search"`
	Cache     CacheConfig     `yaml:"cache"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Engine is sqlite or postgres (default: sqlite).
	Engine string `yaml:"engine"`

	// Path is the SQLite database file (default: ./data/memento.db).
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EmbeddingConfig configures the provider chain.
type EmbeddingConfig struct {
	// Provider selects the preferred provider: hosted_primary (OpenAI),
	// hosted_secondary (Ollama), or local (default: local).
	Provider string `yaml:"provider"`

	// Dimensions is the target vector dimension, used to size the
	// postgres vector column (default: 512, matching the local provider).
	Dimensions int `yaml:"dimensions"`

	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	OllamaURL     string `yaml:"ollama_url"`
	OllamaModel   string `yaml:"ollama_model"`

	// TimeoutMS bounds one embed attempt (default: 10000).
	TimeoutMS int `yaml:"timeout_ms"`

	// QueueSize bounds the async embedding queue (default: 1000).
	QueueSize int `yaml:"queue_size"`

	// Workers is the embed worker pool size (default: 2).
	Workers int `yaml:"workers"`
}

// RankingConfig overrides the score blend.
type RankingConfig struct {
	Relevance   float64 `yaml:"relevance"`
	Recency     float64 `yaml:"recency"`
	Importance  float64 `yaml:"importance"`
	Usage       float64 `yaml:"usage"`
	Duplication float64 `yaml:"duplication"`
}

// ForgetConfig overrides forgetting thresholds and TTLs.
type ForgetConfig struct {
	Thresholds struct {
		Soft float64 `yaml:"soft"`
		Hard float64 `yaml:"hard"`
	} `yaml:"thresholds"`
	TTL struct {
		Soft map[string]float64 `yaml:"soft"`
		Hard map[string]float64 `yaml:"hard"`
	} `yaml:"ttl"`
}

// SchedulerConfig overrides job intervals.
type SchedulerConfig struct {
	Intervals struct {
		ForgetMS  int `yaml:"forget"`
		MetricsMS int `yaml:"metrics"`
		CacheMS   int `yaml:"cache"`
	} `yaml:"intervals"`
}

// SearchConfig tunes retrieval deadlines.
type SearchConfig struct {
	// TimeoutMS bounds a whole search (default: 5000).
	TimeoutMS int `yaml:"timeout_ms"`
}

// CacheConfig tunes the embedding cache.
type CacheConfig struct {
	// Enabled toggles the content-addressed embedding cache (default true).
	// Disable when debugging provider output with repeated inputs.
	Enabled bool `yaml:"enabled"`
	MaxSize int  `yaml:"max_size"`
	TTLMS   int  `yaml:"ttl_ms"`
}

// Load reads the YAML file at path (skipped when path is empty or missing)
// and applies MEMENTO_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Storage.Engine = "sqlite"
	cfg.Storage.Path = "./data/memento.db"
	cfg.Embedding.Provider = "local"
	cfg.Embedding.Dimensions = 512
	cfg.Embedding.OllamaURL = "http://localhost:11434"
	cfg.Embedding.OllamaModel = "nomic-embed-text"
	cfg.Embedding.TimeoutMS = 10000
	cfg.Embedding.QueueSize = 1000
	cfg.Embedding.Workers = 2
	cfg.Search.TimeoutMS = 5000
	cfg.Cache.Enabled = true
	cfg.Cache.MaxSize = 10000
	cfg.Cache.TTLMS = int(24 * time.Hour / time.Millisecond)
	cfg.Scheduler.Intervals.ForgetMS = int(time.Hour / time.Millisecond)
	cfg.Scheduler.Intervals.MetricsMS = int(30 * time.Second / time.Millisecond)
	cfg.Scheduler.Intervals.CacheMS = int(10 * time.Minute / time.Millisecond)

	w := ranking.DefaultWeights()
	cfg.Ranking = RankingConfig{
		Relevance:   w.Relevance,
		Recency:     w.Recency,
		Importance:  w.Importance,
		Usage:       w.Usage,
		Duplication: w.Duplication,
	}

	f := forgetting.DefaultConfig()
	cfg.Forget.Thresholds.Soft = f.SoftThreshold
	cfg.Forget.Thresholds.Hard = f.HardThreshold
	cfg.Forget.TTL.Soft = ttlToMap(f.TTLSoftDays)
	cfg.Forget.TTL.Hard = ttlToMap(f.TTLHardDays)

	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("MEMENTO_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.Path = getEnv("MEMENTO_STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.PostgresDSN = getEnv("MEMENTO_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Embedding.Provider = getEnv("MEMENTO_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.Dimensions = getEnvInt("MEMENTO_EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Embedding.OpenAIAPIKey = getEnv("MEMENTO_OPENAI_API_KEY", cfg.Embedding.OpenAIAPIKey)
	cfg.Embedding.OpenAIBaseURL = getEnv("MEMENTO_OPENAI_BASE_URL", cfg.Embedding.OpenAIBaseURL)
	cfg.Embedding.OllamaURL = getEnv("MEMENTO_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.OllamaModel = getEnv("MEMENTO_OLLAMA_MODEL", cfg.Embedding.OllamaModel)
	cfg.Embedding.TimeoutMS = getEnvInt("MEMENTO_EMBEDDING_TIMEOUT_MS", cfg.Embedding.TimeoutMS)
	cfg.Embedding.QueueSize = getEnvInt("MEMENTO_EMBEDDING_QUEUE_SIZE", cfg.Embedding.QueueSize)
	cfg.Embedding.Workers = getEnvInt("MEMENTO_EMBEDDING_WORKERS", cfg.Embedding.Workers)

	cfg.Search.TimeoutMS = getEnvInt("MEMENTO_SEARCH_TIMEOUT_MS", cfg.Search.TimeoutMS)
	cfg.Cache.Enabled = getEnvBool("MEMENTO_CACHE_ENABLED", cfg.Cache.Enabled)
	cfg.Cache.MaxSize = getEnvInt("MEMENTO_CACHE_MAX_SIZE", cfg.Cache.MaxSize)
	cfg.Cache.TTLMS = getEnvInt("MEMENTO_CACHE_TTL_MS", cfg.Cache.TTLMS)

	cfg.Scheduler.Intervals.ForgetMS = getEnvInt("MEMENTO_SCHEDULER_FORGET_MS", cfg.Scheduler.Intervals.ForgetMS)
	cfg.Scheduler.Intervals.MetricsMS = getEnvInt("MEMENTO_SCHEDULER_METRICS_MS", cfg.Scheduler.Intervals.MetricsMS)
	cfg.Scheduler.Intervals.CacheMS = getEnvInt("MEMENTO_SCHEDULER_CACHE_MS", cfg.Scheduler.Intervals.CacheMS)
}

// RankingWeights converts the config section to the ranking package type.
func (c *Config) RankingWeights() ranking.Weights {
	w := ranking.Weights{
		Relevance:   c.Ranking.Relevance,
		Recency:     c.Ranking.Recency,
		Importance:  c.Ranking.Importance,
		Usage:       c.Ranking.Usage,
		Duplication: c.Ranking.Duplication,
	}
	if w == (ranking.Weights{}) {
		return ranking.DefaultWeights()
	}
	return w.Normalize()
}

// ForgettingConfig converts the config section to the forgetting package
// type, filling gaps with defaults.
func (c *Config) ForgettingConfig() forgetting.Config {
	f := forgetting.DefaultConfig()
	if c.Forget.Thresholds.Soft > 0 {
		f.SoftThreshold = c.Forget.Thresholds.Soft
	}
	if c.Forget.Thresholds.Hard > 0 {
		f.HardThreshold = c.Forget.Thresholds.Hard
	}
	mergeTTL(f.TTLSoftDays, c.Forget.TTL.Soft)
	mergeTTL(f.TTLHardDays, c.Forget.TTL.Hard)
	return f
}

// SchedulerIntervals converts the millisecond settings to durations.
func (c *Config) SchedulerIntervals() (forget, metrics, cache time.Duration) {
	return time.Duration(c.Scheduler.Intervals.ForgetMS) * time.Millisecond,
		time.Duration(c.Scheduler.Intervals.MetricsMS) * time.Millisecond,
		time.Duration(c.Scheduler.Intervals.CacheMS) * time.Millisecond
}

func ttlToMap(ttl map[types.MemoryType]float64) map[string]float64 {
	out := make(map[string]float64, len(ttl))
	for k, v := range ttl {
		out[string(k)] = v
	}
	return out
}

func mergeTTL(dst map[types.MemoryType]float64, src map[string]float64) {
	for k, v := range src {
		typ := types.MemoryType(k)
		if typ.Valid() && v > 0 {
			dst[typ] = v
		}
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparsable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value when unset or unparsable.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
