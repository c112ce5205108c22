package blackboard

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHashRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &Project{
		ProjectID: "proj-1",
		Version:   7,
		Status:    ProjectStatusInProgress,
		GlobalSpec: GlobalSpec{
			QualityTier:     QualityBalanced,
			AspectRatio:     "9:16",
			DurationSeconds: 45,
			Extra:           map[string]string{"lang": "en"},
		},
		Budget:        NewBudget(NewMoney(67.5, "USD")),
		AssetRegistry: NewAssetRegistry(),
		Episodes: []Episode{{
			EpisodeID: "ep-1",
			Number:    1,
			Shots:     []Shot{{ShotID: "s1", EpisodeID: "ep-1", Sequence: 1, Status: ShotStatusPlanned}},
		}},
		CreatedAt: now,
		UpdatedAt: now.Add(time.Second),
	}

	hash, err := ProjectToHash(p)
	require.NoError(t, err)

	// Redis returns every field as a string
	strHash := make(map[string]string, len(hash))
	for k, v := range hash {
		strHash[k] = fmt.Sprint(v)
	}

	got, err := HashToProject(strHash)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestHashToProject_Invalid(t *testing.T) {
	t.Run("bad version", func(t *testing.T) {
		_, err := HashToProject(map[string]string{"version": "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid version")
	})

	t.Run("bad budget", func(t *testing.T) {
		_, err := HashToProject(map[string]string{"version": "1", "global_spec": "{}", "budget": "{"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "budget")
	})

	t.Run("sparse registry gets maps", func(t *testing.T) {
		p, err := HashToProject(map[string]string{"version": "1", "global_spec": "{}", "budget": "{}", "asset_registry": "{}"})
		require.NoError(t, err)
		assert.NotNil(t, p.AssetRegistry.Shots)
		assert.NotNil(t, p.Episodes)
	})
}

func TestCloneProject_NoAliasing(t *testing.T) {
	p := &Project{ProjectID: "p", Version: 1, AssetRegistry: NewAssetRegistry()}
	p.AssetRegistry.Shots["s1"] = ShotDNA{ShotID: "s1"}

	cp, err := CloneProject(p)
	require.NoError(t, err)
	cp.AssetRegistry.Shots["s2"] = ShotDNA{ShotID: "s2"}

	assert.Len(t, p.AssetRegistry.Shots, 1)
	assert.Len(t, cp.AssetRegistry.Shots, 2)
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewAssetRegistry()
	r.Characters["hero"] = CharacterDNA{CharacterID: "hero", FaceEmbedding: []float32{0.5, 0.25}, Locked: true}

	raw, err := MarshalRegistry(r)
	require.NoError(t, err)
	got, err := UnmarshalRegistry(raw)
	require.NoError(t, err)
	assert.Equal(t, r.Characters["hero"].FaceEmbedding, got.Characters["hero"].FaceEmbedding)
	assert.True(t, got.Characters["hero"].Locked)
	assert.NotNil(t, got.Scenes)

	_, err = UnmarshalRegistry("not json")
	assert.Error(t, err)
}
