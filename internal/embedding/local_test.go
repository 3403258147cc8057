package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedDeterministic(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	a, err := p.Embed(ctx, "Deterministic hashing for memory retrieval")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "Deterministic hashing for memory retrieval")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, LocalDimension)
}

func TestLocalEmbedNormalized(t *testing.T) {
	p := NewLocalProvider()
	vec, err := p.Embed(context.Background(), "unit length check for hashed vectors")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestLocalEmbedSimilarityOrdering(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	base, err := p.Embed(ctx, "database index tuning and query performance")
	require.NoError(t, err)
	related, err := p.Embed(ctx, "query performance work on the database index")
	require.NoError(t, err)
	unrelated, err := p.Embed(ctx, "weekend hiking trip photos from the mountains")
	require.NoError(t, err)

	assert.Greater(t, dot(base, related), dot(base, unrelated))
}

func TestLocalEmbedEmptyInput(t *testing.T) {
	p := NewLocalProvider()

	_, err := p.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.Embed(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestLocalEmbedShortInputStillProducesVector(t *testing.T) {
	p := NewLocalProvider()

	// Single characters and stop words fall back to whole-text hashing.
	a, err := p.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, a, LocalDimension)

	b, err := p.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLocalEmbedCJKTokens(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	a, err := p.Embed(ctx, "数据库索引调优")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "数据库性能")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "weekend hiking photos")
	require.NoError(t, err)

	// Shared CJK characters give the first pair more overlap.
	assert.Greater(t, dot(a, b), dot(a, c))
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("The quick-brown FOX, jumps! 数据")
	assert.Equal(t, []string{"quick", "brown", "fox", "jumps", "数", "据"}, tokens)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
