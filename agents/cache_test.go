package agents

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(t.TempDir(), time.Hour)

	require.NoError(t, c.Set(ctx, "perplexity:research", "coffee", ResearchResult{Content: "cached"}))

	var got ResearchResult
	require.True(t, c.Get(ctx, "perplexity:research", "coffee", &got))
	assert.Equal(t, "cached", got.Content)
	assert.False(t, c.Get(ctx, "seranking:backlinks", "coffee", &got))

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.False(t, c.Get(ctx, "perplexity:research", "coffee", &got))

	entries, _, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, entries, "expired entry should be deleted on read")
}

func TestResultCachePrune(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(t.TempDir(), time.Hour)
	require.NoError(t, c.Set(ctx, "perplexity:research", "old", "a"))
	require.NoError(t, c.Set(ctx, "perplexity:research", "older", "b"))
	require.NoError(t, c.Set(ctx, "seranking:backlinks", "fresh", "c"))

	later := time.Now().Add(2 * time.Hour)
	fresh := c.path(c.key("seranking:backlinks", "fresh"))
	require.NoError(t, os.Chtimes(fresh, later, later))
	c.now = func() time.Time { return later }

	assert.Equal(t, 2, c.Prune())
	entries, _, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, entries)
}

func TestCachedOnlyStoresSuccess(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(t.TempDir(), time.Hour)
	calls := 0

	_, err := Cached(ctx, c, "p", "q", func(context.Context) (string, error) {
		calls++
		return "", errors.New("upstream down")
	})
	require.Error(t, err)

	for i := 0; i < 2; i++ {
		v, err := Cached(ctx, c, "p", "q", func(context.Context) (string, error) {
			calls++
			return "value", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "value", v)
	}
	assert.Equal(t, 2, calls)

	count, size, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Positive(t, size)

	require.NoError(t, c.Clear())
	count, _, err = c.Stats()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestResultCacheCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c := NewResultCache(t.TempDir(), 0)
	require.NoError(t, os.WriteFile(c.path(c.key("p", "q")), []byte("{not json"), 0644))

	var v map[string]interface{}
	assert.False(t, c.Get(ctx, "p", "q", &v))
}

func TestNilResultCache(t *testing.T) {
	var c *ResultCache
	v, err := Cached(context.Background(), c, "p", "q", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.NoError(t, c.Clear())
}
