package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts availability and failures for chain tests.
type fakeProvider struct {
	name      string
	dim       int
	available bool
	err       error
	calls     int
	lastInput string
	maxTokens int
}

func (f *fakeProvider) Name() string                     { return f.name }
func (f *fakeProvider) Dimension() int                   { return f.dim }
func (f *fakeProvider) Available(_ context.Context) bool { return f.available }

func (f *fakeProvider) MaxInputTokens() int {
	if f.maxTokens > 0 {
		return f.maxTokens
	}
	return 8192
}

func (f *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	f.lastInput = text
	if f.err != nil {
		return nil, f.err
	}
	vec := make([]float32, f.dim)
	vec[0] = 1
	return vec, nil
}

func TestChainUsesFirstAvailableProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", dim: 4, available: true}
	fallback := &fakeProvider{name: "fallback", dim: 2, available: true}
	chain := NewChain(nil, ChainConfig{}, primary, fallback)

	res, err := chain.EmbedText(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Provider)
	assert.Equal(t, 4, res.Dim)
	assert.Zero(t, fallback.calls)
}

func TestChainSkipsUnavailableProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", dim: 4, available: false}
	fallback := &fakeProvider{name: "fallback", dim: 2, available: true}
	chain := NewChain(nil, ChainConfig{}, primary, fallback)

	res, err := chain.EmbedText(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Provider)
	assert.Zero(t, primary.calls)
}

func TestChainFallsThroughOnFailure(t *testing.T) {
	primary := &fakeProvider{name: "primary", dim: 4, available: true, err: ErrProviderUnavailable}
	fallback := &fakeProvider{name: "fallback", dim: 2, available: true}
	chain := NewChain(nil, ChainConfig{}, primary, fallback)

	res, err := chain.EmbedText(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestChainAllProvidersFail(t *testing.T) {
	primary := &fakeProvider{name: "primary", dim: 4, available: true, err: errors.New("boom")}
	chain := NewChain(nil, ChainConfig{}, primary)

	_, err := chain.EmbedText(context.Background(), "hello world")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestChainBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	flaky := &fakeProvider{name: "flaky", dim: 4, available: true, err: errors.New("down")}
	stable := &fakeProvider{name: "stable", dim: 2, available: true}
	chain := NewChain(nil, ChainConfig{BreakerFailures: 2, BreakerCooldown: time.Minute}, flaky, stable)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := chain.EmbedText(ctx, fmt.Sprintf("input %d", i))
		require.NoError(t, err)
	}

	// After two failures the breaker opens and stops calling the provider.
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, 5, stable.calls)
}

func TestChainTruncatesLongInput(t *testing.T) {
	p := &fakeProvider{name: "tiny", dim: 2, available: true, maxTokens: 2}
	chain := NewChain(nil, ChainConfig{}, p)

	_, err := chain.EmbedText(context.Background(), "abcdefghijklmnop")
	require.NoError(t, err)
	// 2 tokens at roughly 4 chars each.
	assert.Equal(t, "abcdefgh", p.lastInput)
}

func TestChainEmptyInput(t *testing.T) {
	chain := NewChain(nil, ChainConfig{}, &fakeProvider{name: "p", dim: 2, available: true})
	_, err := chain.EmbedText(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
