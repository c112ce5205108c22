package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewManager(s, nil)
}

func seed(v int64) *int64 { return &v }

func TestComputeKeyForMap_Determinism(t *testing.T) {
	a := map[string]any{
		"prompt": "a red fox",
		"seed":   42,
		"size":   map[string]any{"w": 1024, "h": 768},
		"tags":   []any{"forest", map[string]any{"b": 1, "a": 2}},
	}
	b := map[string]any{
		"tags":   []any{"forest", map[string]any{"a": 2, "b": 1}},
		"size":   map[string]any{"h": 768, "w": 1024},
		"seed":   42.0,
		"prompt": "a red fox",
	}

	ka, err := ComputeKeyForMap(a)
	require.NoError(t, err)
	kb, err := ComputeKeyForMap(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
	assert.Len(t, ka, 64)

	t.Run("any differing value changes the key", func(t *testing.T) {
		variants := []map[string]any{
			{"prompt": "a red fox!", "seed": 42, "size": a["size"], "tags": a["tags"]},
			{"prompt": "a red fox", "seed": 43, "size": a["size"], "tags": a["tags"]},
			{"prompt": "a red fox", "seed": 42, "size": map[string]any{"w": 1024, "h": 769}, "tags": a["tags"]},
			{"prompt": "a red fox", "seed": 42, "size": a["size"], "tags": []any{"forest"}},
		}
		seen := map[string]bool{ka: true}
		for _, v := range variants {
			k, err := ComputeKeyForMap(v)
			require.NoError(t, err)
			assert.False(t, seen[k], "collision for %v", v)
			seen[k] = true
		}
	})

	t.Run("list order is significant", func(t *testing.T) {
		k1, _ := ComputeKeyForMap(map[string]any{"l": []any{1, 2}})
		k2, _ := ComputeKeyForMap(map[string]any{"l": []any{2, 1}})
		assert.NotEqual(t, k1, k2)
	})
}

func TestCanonicalize(t *testing.T) {
	out, err := Canonicalize(map[string]any{"b": 1.0, "a": "<x>", "c": map[string]any{"z": 1, "y": 2.5}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1,"c":{"y":2.5,"z":1}}`, string(out))
}

func TestComputeCacheKey_TypedMatchesStored(t *testing.T) {
	p := GenerationParams{
		Modality: blackboard.ArtifactTypeImage,
		ModelID:  "sdxl",
		Prompt:   "hero at dawn",
		Seed:     seed(7),
		Width:    1024,
		Height:   1024,
		Extra:    map[string]any{"sampler": "euler", "steps": 30},
	}
	key, err := ComputeCacheKey(p)
	require.NoError(t, err)

	// The persisted map (decoded as plain JSON) hashes to the same key
	m, err := p.ToMap()
	require.NoError(t, err)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	again, err := ComputeKeyForMap(decoded)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	p.Extra = map[string]any{"steps": 30, "sampler": "euler"}
	same, err := ComputeCacheKey(p)
	require.NoError(t, err)
	assert.Equal(t, key, same)

	p.Seed = seed(8)
	different, err := ComputeCacheKey(p)
	require.NoError(t, err)
	assert.NotEqual(t, key, different)
}

func TestManager_LookasideFlow(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()
	params := GenerationParams{Modality: blackboard.ArtifactTypeImage, Prompt: "castle", Seed: seed(1)}

	t.Run("miss", func(t *testing.T) {
		art, ok, err := m.FindCachedArtifact(ctx, params)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, art)
	})

	stored, err := m.StoreArtifact(ctx, "proj-1", params, GenerationResult{StorageURL: "s3://b/castle.png"})
	require.NoError(t, err)
	assert.Equal(t, blackboard.ArtifactStatusAvailable, stored.Status)
	assert.Equal(t, blackboard.ArtifactTypeImage, stored.Type)
	assert.NotEmpty(t, stored.ArtifactID)

	t.Run("hit registers access", func(t *testing.T) {
		art, ok, err := m.FindCachedArtifact(ctx, params)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, stored.ArtifactID, art.ArtifactID)
		assert.Equal(t, int64(1), art.AccessCount)
		assert.NotNil(t, art.LastAccessedAt)

		persisted, err := m.GetArtifact(ctx, stored.ArtifactID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), persisted.AccessCount)
	})

	t.Run("newest available wins", func(t *testing.T) {
		m.now = func() time.Time { return time.Now().Add(time.Hour) }
		newer, err := m.StoreArtifact(ctx, "proj-1", params, GenerationResult{ArtifactID: "newer", StorageURL: "s3://b/castle2.png"})
		require.NoError(t, err)

		art, ok, err := m.FindCachedArtifact(ctx, params)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, newer.ArtifactID, art.ArtifactID)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := m.GetCacheStats(ctx, "proj-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.TotalArtifacts)
		assert.Equal(t, int64(2), st.Available)
		assert.Equal(t, int64(2), st.ReusedArtifacts)
		assert.Equal(t, int64(2), st.TotalHits)
		assert.InDelta(t, 0.5, st.HitRate, 1e-9)

		empty, err := m.GetCacheStats(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, 0.0, empty.HitRate)
	})
}

func TestManager_StoreValidation(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.StoreArtifact(ctx, "p", GenerationParams{Modality: blackboard.ArtifactTypeImage}, GenerationResult{})
	assert.Error(t, err)

	_, err = m.StoreArtifact(ctx, "p", GenerationParams{Modality: "hologram"}, GenerationResult{StorageURL: "x"})
	assert.Error(t, err)
}

func TestManager_RegisterHitMissingArtifact(t *testing.T) {
	m := setupManager(t)
	err := m.RegisterCacheHit(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
