package models

import (
	"context"
	"testing"

	"github.com/dyluth/reelforge/internal/config"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, m := range []Model{
		{ID: "img-premium", Type: ModelTypeImage, Provider: "acme", CostPerUnit: 0.08, QualityTier: blackboard.QualityHigh, Active: true},
		{ID: "img-pro", Type: ModelTypeImage, Provider: "acme", CostPerUnit: 0.06, QualityTier: blackboard.QualityHigh, Active: true},
		{ID: "img-std", Type: ModelTypeImage, Provider: "other", CostPerUnit: 0.03, QualityTier: blackboard.QualityBalanced, Active: true},
		{ID: "img-fast", Type: ModelTypeImage, Provider: "other", CostPerUnit: 0.01, QualityTier: blackboard.QualityFast, Active: true},
		{ID: "vid-std", Type: ModelTypeVideo, Provider: "acme", CostPerUnit: 0.4, QualityTier: blackboard.QualityBalanced, Active: true},
		{ID: "vid-old", Type: ModelTypeVideo, Provider: "acme", CostPerUnit: 0.1, QualityTier: blackboard.QualityHigh, Active: false},
	} {
		require.NoError(t, r.RegisterModel(m))
	}
	return r
}

func TestRegistry(t *testing.T) {
	r := testRegistry(t)

	t.Run("duplicate", func(t *testing.T) {
		err := r.RegisterModel(Model{ID: "img-pro", Type: ModelTypeImage, Provider: "acme", QualityTier: blackboard.QualityHigh})
		assert.ErrorIs(t, err, ErrModelExists)
	})

	t.Run("invalid", func(t *testing.T) {
		assert.Error(t, r.RegisterModel(Model{ID: "x", Type: "hologram", Provider: "p", QualityTier: blackboard.QualityFast}))
		assert.Error(t, r.RegisterModel(Model{ID: "x", Type: ModelTypeText, Provider: "p", QualityTier: "ultra"}))
		assert.Error(t, r.RegisterModel(Model{ID: "", Type: ModelTypeText, Provider: "p", QualityTier: blackboard.QualityFast}))
	})

	t.Run("get", func(t *testing.T) {
		m, err := r.GetModel("img-std")
		require.NoError(t, err)
		assert.Equal(t, "other", m.Provider)

		_, err = r.GetModel("nope")
		assert.ErrorIs(t, err, ErrModelNotFound)
	})

	t.Run("filters compose", func(t *testing.T) {
		assert.Len(t, r.ListModels(), 6)
		assert.Len(t, r.ListModels(ByType(ModelTypeVideo)), 2)
		assert.Len(t, r.ListModels(ByType(ModelTypeVideo), ActiveOnly()), 1)
		assert.Len(t, r.ListModels(ByType(ModelTypeImage), ByTier(blackboard.QualityHigh)), 2)
		assert.Len(t, r.ListModels(ByType(ModelTypeImage), AtOrAboveTier(blackboard.QualityBalanced)), 3)

		ids := []string{}
		for _, m := range r.ListModels(ByType(ModelTypeImage)) {
			ids = append(ids, m.ID)
		}
		assert.Equal(t, []string{"img-fast", "img-premium", "img-pro", "img-std"}, ids)
	})

	t.Run("update keeps identity", func(t *testing.T) {
		cost := 0.02
		m, err := r.UpdateModel("img-std", ModelUpdate{CostPerUnit: &cost})
		require.NoError(t, err)
		assert.Equal(t, 0.02, m.CostPerUnit)
		assert.Equal(t, ModelTypeImage, m.Type)
		assert.Equal(t, "other", m.Provider)

		bad := blackboard.QualityTier("ultra")
		_, err = r.UpdateModel("img-std", ModelUpdate{QualityTier: &bad})
		assert.Error(t, err)
		got, _ := r.GetModel("img-std")
		assert.Equal(t, blackboard.QualityBalanced, got.QualityTier)

		_, err = r.UpdateModel("nope", ModelUpdate{})
		assert.ErrorIs(t, err, ErrModelNotFound)
	})

	t.Run("deactivate", func(t *testing.T) {
		require.NoError(t, r.DeactivateModel("img-fast"))
		m, _ := r.GetModel("img-fast")
		assert.False(t, m.Active)
	})
}

func TestNewRegistryFromConfig(t *testing.T) {
	off := false
	r, err := NewRegistryFromConfig([]config.ModelConfig{
		{ID: "a", Type: "image", Provider: "p", CostPerUnit: 0.1, QualityTier: "high"},
		{ID: "b", Type: "voice", Provider: "p", CostPerUnit: 0.01, QualityTier: "fast", Active: &off},
	})
	require.NoError(t, err)
	a, _ := r.GetModel("a")
	b, _ := r.GetModel("b")
	assert.True(t, a.Active)
	assert.False(t, b.Active)

	_, err = NewRegistryFromConfig([]config.ModelConfig{{ID: "a", Type: "image", Provider: "p", QualityTier: "ultra"}})
	assert.Error(t, err)
}

func TestRouterSelect(t *testing.T) {
	rt := NewRouter(testRegistry(t))

	t.Run("lowest cost at or above tier", func(t *testing.T) {
		sel, err := rt.Select(ModelTypeImage, blackboard.QualityHigh, false)
		require.NoError(t, err)
		assert.Equal(t, "img-pro", sel.Model.ID)
		assert.False(t, sel.Downgraded)

		sel, err = rt.Select(ModelTypeImage, blackboard.QualityBalanced, false)
		require.NoError(t, err)
		assert.Equal(t, "img-std", sel.Model.ID)

		sel, err = rt.Select(ModelTypeImage, blackboard.QualityFast, false)
		require.NoError(t, err)
		assert.Equal(t, "img-fast", sel.Model.ID)
	})

	t.Run("never silently downgrades", func(t *testing.T) {
		_, err := rt.Select(ModelTypeVideo, blackboard.QualityHigh, false)
		assert.ErrorIs(t, err, ErrNoModelAvailable)
	})

	t.Run("explicit downgrade picks nearest lower tier", func(t *testing.T) {
		sel, err := rt.Select(ModelTypeVideo, blackboard.QualityHigh, true)
		require.NoError(t, err)
		assert.Equal(t, "vid-std", sel.Model.ID)
		assert.True(t, sel.Downgraded)
		assert.Equal(t, blackboard.QualityHigh, sel.RequestedTier)
	})

	t.Run("downgrade not used when tier is available", func(t *testing.T) {
		sel, err := rt.Select(ModelTypeImage, blackboard.QualityHigh, true)
		require.NoError(t, err)
		assert.Equal(t, "img-pro", sel.Model.ID)
		assert.False(t, sel.Downgraded)
	})

	t.Run("nothing at all", func(t *testing.T) {
		_, err := rt.Select(ModelTypeMusic, blackboard.QualityFast, true)
		assert.ErrorIs(t, err, ErrNoModelAvailable)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := rt.Select("hologram", blackboard.QualityFast, false)
		assert.Error(t, err)
		_, err = rt.Select(ModelTypeImage, "ultra", false)
		assert.Error(t, err)
	})
}

func TestRouterGenerators(t *testing.T) {
	rt := NewRouter(NewRegistry())
	_, err := rt.Generator("img-pro")
	assert.ErrorIs(t, err, ErrNoGenerator)

	rt.RegisterGenerator("img-pro", GeneratorFunc(func(_ context.Context, modelID string, req Request) (Output, error) {
		return Output{StorageURL: "s3://" + modelID + "/" + req.ShotID, Units: 1}, nil
	}))
	g, err := rt.Generator("img-pro")
	require.NoError(t, err)
	out, err := g.Generate(context.Background(), "img-pro", Request{ShotID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s3://img-pro/s1", out.StorageURL)
}
