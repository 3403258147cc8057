package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) EmbedText(_ context.Context, text string) (Result, error) {
	c.calls++
	if c.err != nil {
		return Result{}, c.err
	}
	return Result{Vector: []float32{float32(len(text))}, Provider: "fake", Dim: 1}, nil
}

func TestCacheHitSkipsInnerEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachingEmbedder(inner, CacheConfig{})
	ctx := context.Background()

	first, err := cached.EmbedText(ctx, "same content")
	require.NoError(t, err)
	second, err := cached.EmbedText(ctx, "same content")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, cached.Len())
}

func TestCacheDistinctContentMisses(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachingEmbedder(inner, CacheConfig{})
	ctx := context.Background()

	_, err := cached.EmbedText(ctx, "content one")
	require.NoError(t, err)
	_, err = cached.EmbedText(ctx, "content two")
	require.NoError(t, err)

	assert.Equal(t, 2, inner.calls)
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("transient")}
	cached := NewCachingEmbedder(inner, CacheConfig{})
	ctx := context.Background()

	_, err := cached.EmbedText(ctx, "failing content")
	require.Error(t, err)

	inner.err = nil
	_, err = cached.EmbedText(ctx, "failing content")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachePurge(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachingEmbedder(inner, CacheConfig{})
	ctx := context.Background()

	_, err := cached.EmbedText(ctx, "to be purged")
	require.NoError(t, err)
	cached.Purge()
	assert.Zero(t, cached.Len())

	_, err = cached.EmbedText(ctx, "to be purged")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCacheEviction(t *testing.T) {
	inner := &countingEmbedder{}
	cached := NewCachingEmbedder(inner, CacheConfig{Size: 2})
	ctx := context.Background()

	for _, text := range []string{"a one", "b two", "c three"} {
		_, err := cached.EmbedText(ctx, text)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, cached.Len())
}
