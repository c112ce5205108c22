package vector

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIndex(t *testing.T) *RedisIndex {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisIndex(rdb, "test")
}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s, 1e-9)

	s, err = Cosine([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, s, 1e-9)

	s, err = Cosine([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)

	_, err = Cosine([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRedisIndex_Search(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, Record{SeriesID: "s1", ID: "exact", Vector: []float32{1, 0, 0}}))
	require.NoError(t, idx.Upsert(ctx, Record{SeriesID: "s1", ID: "close", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]string{"name": "Ana"}}))
	require.NoError(t, idx.Upsert(ctx, Record{SeriesID: "s1", ID: "far", Vector: []float32{0, 0, 1}}))
	require.NoError(t, idx.Upsert(ctx, Record{SeriesID: "s1", ID: "wrong-dim", Vector: []float32{1, 0}}))
	require.NoError(t, idx.Upsert(ctx, Record{SeriesID: "s2", ID: "other-series", Vector: []float32{1, 0, 0}}))

	t.Run("ordered by score and filtered by series", func(t *testing.T) {
		matches, err := idx.Search(ctx, "s1", []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "exact", matches[0].ID)
		assert.Equal(t, "close", matches[1].ID)
		assert.Equal(t, "Ana", matches[1].Metadata["name"])
		assert.Equal(t, "far", matches[2].ID)
	})

	t.Run("truncated to limit", func(t *testing.T) {
		matches, err := idx.Search(ctx, "s1", []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "exact", matches[0].ID)
	})

	t.Run("empty series", func(t *testing.T) {
		matches, err := idx.Search(ctx, "nobody", []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("upsert replaces and delete removes", func(t *testing.T) {
		require.NoError(t, idx.Upsert(ctx, Record{SeriesID: "s1", ID: "far", Vector: []float32{1, 0, 0}}))
		require.NoError(t, idx.Delete(ctx, "s1", "exact"))

		matches, err := idx.Search(ctx, "s1", []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "far", matches[0].ID)
	})
}

func TestRedisIndex_UpsertValidation(t *testing.T) {
	idx := setupIndex(t)
	assert.Error(t, idx.Upsert(context.Background(), Record{ID: "x", Vector: []float32{1}}))
	assert.Error(t, idx.Upsert(context.Background(), Record{SeriesID: "s", ID: "x"}))
}
