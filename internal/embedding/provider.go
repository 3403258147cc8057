// Package embedding produces vector representations of memory content. A
// chain of providers (hosted, local server, in-process) is tried in order,
// each wrapped in a circuit breaker, so embedding degrades gracefully
// instead of failing hard when a provider is down.
package embedding

import (
	"context"
	"errors"
)

// Sentinel errors for the provider chain.
var (
	// ErrProviderUnavailable means the provider cannot serve requests right
	// now (down, circuit open, or not configured).
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyInput means there was no text to embed after normalization.
	ErrEmptyInput = errors.New("empty embedding input")
)

// Provider produces an embedding vector for a piece of text.
type Provider interface {
	// Name identifies the provider in logs and stored embedding metadata.
	Name() string

	// Dimension is the length of vectors this provider produces.
	Dimension() int

	// MaxInputTokens is the approximate token limit for a single input.
	// Longer inputs are truncated by the caller before Embed is called.
	MaxInputTokens() int

	// Available reports whether the provider can currently serve requests.
	// It must be cheap; it is consulted on every embed call.
	Available(ctx context.Context) bool

	// Embed returns the vector for text. Implementations must honour ctx
	// cancellation and return ErrProviderUnavailable for transport-level
	// failures so the chain can fall through.
	Embed(ctx context.Context, text string) ([]float32, error)
}
