package embedding

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrNoProvider means every provider in the chain was unavailable or failed.
var ErrNoProvider = errors.New("no embedding provider could serve the request")

// Result carries an embedding together with the provider that produced it,
// so callers can record which model a stored vector came from.
type Result struct {
	Vector   []float32
	Provider string
	Dim      int
}

// Embedder is the surface the rest of the system uses to obtain vectors.
type Embedder interface {
	EmbedText(ctx context.Context, text string) (Result, error)
}

// Chain tries providers in order until one succeeds. Each provider sits
// behind its own circuit breaker, so a flapping hosted provider trips open
// and traffic flows to the next provider without paying repeated timeouts.
type Chain struct {
	providers []chainEntry
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    *log.Logger
}

type chainEntry struct {
	provider Provider
	breaker  *gobreaker.CircuitBreaker
}

var _ Embedder = (*Chain)(nil)

// ChainConfig tunes the fallback chain.
type ChainConfig struct {
	// EmbedTimeout bounds a single provider attempt (default 10s).
	EmbedTimeout time.Duration

	// RequestsPerSecond throttles calls to remote providers; zero disables
	// throttling.
	RequestsPerSecond float64

	// BreakerFailures is the consecutive-failure count that trips a
	// provider's breaker (default 3).
	BreakerFailures uint32

	// BreakerCooldown is how long a tripped breaker stays open before
	// allowing a probe request (default 30s).
	BreakerCooldown time.Duration
}

// NewChain builds a fallback chain over providers, tried in the given order.
func NewChain(logger *log.Logger, cfg ChainConfig, providers ...Provider) *Chain {
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	c := &Chain{timeout: cfg.EmbedTimeout, logger: logger}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	for _, p := range providers {
		c.providers = append(c.providers, chainEntry{
			provider: p,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    "embed-" + p.Name(),
				Timeout: cfg.BreakerCooldown,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= cfg.BreakerFailures
				},
			}),
		})
	}
	return c
}

// EmbedText walks the chain. Input is truncated to the provider's token
// limit before each attempt. Invalid input fails immediately; transport
// failures fall through to the next provider.
func (c *Chain) EmbedText(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{}, ErrEmptyInput
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}

	var lastErr error
	for _, entry := range c.providers {
		p := entry.provider
		if !p.Available(ctx) {
			continue
		}

		input := truncateToTokens(text, p.MaxInputTokens())
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)

		raw, err := entry.breaker.Execute(func() (interface{}, error) {
			return p.Embed(attemptCtx, input)
		})
		cancel()

		if err == nil {
			vec := raw.([]float32)
			return Result{Vector: vec, Provider: p.Name(), Dim: len(vec)}, nil
		}

		if errors.Is(err, ErrEmptyInput) {
			return Result{}, err
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		lastErr = err
		if c.logger != nil {
			c.logger.Printf("embedding: provider %s failed, falling through: %v", p.Name(), err)
		}
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: last error: %v", ErrNoProvider, lastErr)
	}
	return Result{}, ErrNoProvider
}

// truncateToTokens trims text to roughly maxTokens, using the common
// four-characters-per-token heuristic. Truncation lands on a rune boundary.
func truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	maxChars := maxTokens * 4
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
