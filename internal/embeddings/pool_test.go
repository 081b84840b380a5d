package embeddings

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/vibematch/internal/testsupport"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	green = color.NRGBA{G: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
)

func TestPoolResultsAlignWithJobs(t *testing.T) {
	provider := testsupport.NewProvider()
	provider.SetImage(red, []float32{1, 0})
	provider.SetImage(green, []float32{0, 1})
	provider.FailImages[blue] = true

	pool := NewPool(provider, 3)
	defer pool.Close()

	jobs := []Job{
		{Image: testsupport.Solid(red, 2, 2)},
		{Image: testsupport.Solid(blue, 2, 2)},
		{Image: testsupport.Solid(green, 2, 2)},
	}
	results := pool.Embed(context.Background(), jobs)

	require.Len(t, results, 3)
	assert.Equal(t, []float32{1, 0}, results[0].Embedding)
	assert.Error(t, results[1].Error)
	assert.Nil(t, results[1].Embedding)
	assert.Equal(t, []float32{0, 1}, results[2].Embedding)
}

func TestPoolCachesByKey(t *testing.T) {
	provider := testsupport.NewProvider()
	provider.SetImage(red, []float32{1, 0})

	pool := NewPool(provider, 1)
	defer pool.Close()

	jobs := []Job{
		{Key: "https://cdn/a.jpg", Image: testsupport.Solid(red, 2, 2)},
		{Key: "https://cdn/a.jpg", Image: testsupport.Solid(red, 2, 2)},
	}
	results := pool.Embed(context.Background(), jobs)
	results = append(results, pool.Embed(context.Background(), jobs[:1])...)

	for _, r := range results {
		require.NoError(t, r.Error)
		assert.Equal(t, []float32{1, 0}, r.Embedding)
	}
	assert.EqualValues(t, 1, provider.ImageCalls.Load())
}

func TestPoolCancelledContext(t *testing.T) {
	provider := testsupport.NewProvider()
	provider.SetImage(red, []float32{1, 0})

	pool := NewPool(provider, 2)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := pool.Embed(ctx, []Job{{Image: testsupport.Solid(red, 2, 2)}, {Image: testsupport.Solid(red, 2, 2)}})
	for _, r := range results {
		assert.ErrorIs(t, r.Error, context.Canceled)
	}
	assert.EqualValues(t, 0, provider.ImageCalls.Load())
}

func TestPoolEmptyJobs(t *testing.T) {
	pool := NewPool(testsupport.NewProvider(), 0)
	defer pool.Close()
	assert.Empty(t, pool.Embed(context.Background(), nil))
}
