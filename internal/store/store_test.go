package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "reelforge.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testProject(id string) *blackboard.Project {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &blackboard.Project{
		ProjectID:     id,
		Version:       1,
		Status:        blackboard.ProjectStatusCreated,
		GlobalSpec:    blackboard.GlobalSpec{QualityTier: blackboard.QualityHigh, DurationSeconds: 30},
		Budget:        blackboard.NewBudget(blackboard.NewMoney(135, "USD")),
		AssetRegistry: blackboard.NewAssetRegistry(),
		Episodes:      []blackboard.Episode{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "reelforge.db")

	s, err := Open(ctx, path, time.Second)
	require.NoError(t, err)
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	// Reopening is idempotent
	s, err = Open(ctx, path, time.Second)
	require.NoError(t, err)
	defer s.Close()
	v, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(context.Background(), "", time.Second)
	require.Error(t, err)
}

func TestProjects(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	t.Run("insert and load round trip", func(t *testing.T) {
		p := testProject("proj-1")
		p.GlobalSpec.SeriesID = "series-a"
		p.Episodes = []blackboard.Episode{{EpisodeID: "ep-1", Number: 1, Shots: []blackboard.Shot{}}}
		require.NoError(t, s.InsertProject(ctx, p, "project created"))

		got, err := s.LoadProject(ctx, "proj-1")
		require.NoError(t, err)
		assert.Equal(t, p, got)
	})

	t.Run("duplicate insert", func(t *testing.T) {
		err := s.InsertProject(ctx, testProject("proj-1"), "again")
		assert.ErrorIs(t, err, blackboard.ErrProjectExists)
	})

	t.Run("load missing", func(t *testing.T) {
		_, err := s.LoadProject(ctx, "missing")
		assert.ErrorIs(t, err, blackboard.ErrProjectNotFound)
	})

	t.Run("save guarded by version", func(t *testing.T) {
		p := testProject("proj-2")
		require.NoError(t, s.InsertProject(ctx, p, "project created"))

		next := *p
		next.Version = 2
		next.Status = blackboard.ProjectStatusInProgress
		require.NoError(t, s.SaveProject(ctx, &next, 1, "status -> IN_PROGRESS"))

		stale := next
		stale.Version = 2
		err := s.SaveProject(ctx, &stale, 1, "stale write")
		assert.ErrorIs(t, err, blackboard.ErrVersionConflict)

		got, err := s.LoadProject(ctx, "proj-2")
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, blackboard.ProjectStatusInProgress, got.Status)

		entries, err := s.AuditLog(ctx, "proj-2")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, 1, entries[0].Version)
		assert.Equal(t, "status -> IN_PROGRESS", entries[1].ChangeDescription)
	})

	t.Run("save missing project", func(t *testing.T) {
		err := s.SaveProject(ctx, testProject("ghost"), 1, "nope")
		assert.ErrorIs(t, err, blackboard.ErrProjectNotFound)
	})

	t.Run("list", func(t *testing.T) {
		list, err := s.ListProjects(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 2)
	})
}

func TestArtifacts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Now().UTC()

	insert := func(id, key string, status blackboard.ArtifactStatus, created time.Time) {
		require.NoError(t, s.InsertArtifact(ctx, &blackboard.Artifact{
			ArtifactID:       id,
			ProjectID:        "proj-1",
			Type:             blackboard.ArtifactTypeImage,
			Status:           status,
			StorageURL:       "s3://bucket/" + id,
			GenerationParams: map[string]any{"prompt": "a cat", "seed": 42},
			CacheKey:         key,
			CreatedAt:        created,
		}))
	}

	insert("old", "k1", blackboard.ArtifactStatusAvailable, base)
	insert("new", "k1", blackboard.ArtifactStatusAvailable, base.Add(time.Second))
	insert("newest-uploading", "k1", blackboard.ArtifactStatusUploading, base.Add(2*time.Second))
	insert("other", "k2", blackboard.ArtifactStatusExpired, base)

	t.Run("newest available wins", func(t *testing.T) {
		a, err := s.FindLatestAvailableByCacheKey(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "new", a.ArtifactID)
		assert.Equal(t, "a cat", a.GenerationParams["prompt"])
		assert.Equal(t, float64(42), a.GenerationParams["seed"])
	})

	t.Run("non-available ignored", func(t *testing.T) {
		_, err := s.FindLatestAvailableByCacheKey(ctx, "k2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("increment access", func(t *testing.T) {
		at := base.Add(time.Minute)
		require.NoError(t, s.IncrementAccess(ctx, "new", at))
		require.NoError(t, s.IncrementAccess(ctx, "new", at))

		a, err := s.GetArtifact(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, int64(2), a.AccessCount)
		require.NotNil(t, a.LastAccessedAt)
		assert.True(t, a.LastAccessedAt.Equal(at))

		assert.ErrorIs(t, s.IncrementAccess(ctx, "missing", at), ErrNotFound)
	})

	t.Run("status update", func(t *testing.T) {
		require.NoError(t, s.UpdateArtifactStatus(ctx, "newest-uploading", blackboard.ArtifactStatusAvailable))
		a, err := s.FindLatestAvailableByCacheKey(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "newest-uploading", a.ArtifactID)
	})

	t.Run("list oldest first", func(t *testing.T) {
		all, err := s.ListArtifacts(ctx, "proj-1")
		require.NoError(t, err)
		ids := make([]string, 0, len(all))
		for _, a := range all {
			ids = append(ids, a.ArtifactID)
		}
		assert.Equal(t, []string{"old", "other", "new", "newest-uploading"}, ids)

		none, err := s.ListArtifacts(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("prefix lookup", func(t *testing.T) {
		ids, err := s.ArtifactIDsWithPrefix(ctx, "new")
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "newest-uploading"}, ids)

		// LIKE wildcards in the prefix are literal
		ids, err = s.ArtifactIDsWithPrefix(ctx, "n_w")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := s.ArtifactStats(ctx, "proj-1")
		require.NoError(t, err)
		assert.Equal(t, ArtifactStats{Total: 4, Available: 3, Reused: 1, TotalHits: 2}, st)

		st, err = s.ArtifactStats(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, ArtifactStats{}, st)
	})
}

func TestDNA(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	t.Run("character upsert and lock", func(t *testing.T) {
		d := blackboard.CharacterDNA{
			SeriesID:      "series-a",
			CharacterID:   "hero",
			FaceEmbedding: []float32{0.1, 0.2, 0.3},
			Attributes:    map[string]string{"hair": "red"},
			CreatedAt:     now,
		}
		require.NoError(t, s.UpsertCharacterDNA(ctx, d))
		require.NoError(t, s.LockCharacterDNA(ctx, "series-a", "hero"))

		got, err := s.GetCharacterDNA(ctx, "series-a", "hero")
		require.NoError(t, err)
		assert.True(t, got.Locked)
		assert.Equal(t, d.FaceEmbedding, got.FaceEmbedding)
		assert.Equal(t, "red", got.Attributes["hair"])

		d.FaceEmbedding = []float32{0.9, 0.9, 0.9}
		d.Attributes = map[string]string{"hair": "blue"}
		assert.ErrorIs(t, s.UpsertCharacterDNA(ctx, d), ErrLocked)
		got, err = s.GetCharacterDNA(ctx, "series-a", "hero")
		require.NoError(t, err)
		assert.True(t, got.Locked)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.FaceEmbedding)
		assert.Equal(t, "red", got.Attributes["hair"])

		assert.ErrorIs(t, s.LockCharacterDNA(ctx, "series-a", "villain"), ErrNotFound)
		_, err = s.GetCharacterDNA(ctx, "series-b", "hero")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("scene upsert", func(t *testing.T) {
		require.NoError(t, s.UpsertSceneDNA(ctx, blackboard.SceneDNA{
			SeriesID: "series-a", SceneID: "cafe", Layout: "wide", CreatedAt: now,
		}))
		require.NoError(t, s.LockSceneDNA(ctx, "series-a", "cafe"))
		got, err := s.GetSceneDNA(ctx, "series-a", "cafe")
		require.NoError(t, err)
		assert.True(t, got.Locked)
		assert.Equal(t, "wide", got.Layout)

		err = s.UpsertSceneDNA(ctx, blackboard.SceneDNA{SeriesID: "series-a", SceneID: "cafe", Layout: "narrow", CreatedAt: now})
		assert.ErrorIs(t, err, ErrLocked)
	})

	t.Run("unlocked entries are replaced", func(t *testing.T) {
		d := blackboard.CharacterDNA{SeriesID: "series-a", CharacterID: "extra", ProjectID: "proj-1", FaceEmbedding: []float32{1}, CreatedAt: now}
		require.NoError(t, s.UpsertCharacterDNA(ctx, d))
		d.FaceEmbedding = []float32{2}
		require.NoError(t, s.UpsertCharacterDNA(ctx, d))
		got, err := s.GetCharacterDNA(ctx, "series-a", "extra")
		require.NoError(t, err)
		assert.Equal(t, []float32{2}, got.FaceEmbedding)
		assert.Equal(t, "proj-1", got.ProjectID)
	})

	t.Run("only locked shots listed", func(t *testing.T) {
		require.NoError(t, s.UpsertShotDNA(ctx, blackboard.ShotDNA{
			SeriesID: "series-a", ShotID: "s1", Location: "cafe", Characters: []string{"hero"}, Locked: true, CreatedAt: now,
		}))
		require.NoError(t, s.UpsertShotDNA(ctx, blackboard.ShotDNA{
			SeriesID: "series-a", ShotID: "s2", Location: "street", CreatedAt: now,
		}))
		require.NoError(t, s.UpsertShotDNA(ctx, blackboard.ShotDNA{
			SeriesID: "series-b", ShotID: "s3", Locked: true, CreatedAt: now,
		}))

		shots, err := s.ListLockedShotDNA(ctx, "series-a")
		require.NoError(t, err)
		require.Len(t, shots, 1)
		assert.Equal(t, "s1", shots[0].ShotID)
		assert.Equal(t, []string{"hero"}, shots[0].Characters)

		require.NoError(t, s.LockShotDNA(ctx, "series-a", "s2"))
		shots, err = s.ListLockedShotDNA(ctx, "series-a")
		require.NoError(t, err)
		assert.Len(t, shots, 2)

		err = s.UpsertShotDNA(ctx, blackboard.ShotDNA{SeriesID: "series-a", ShotID: "s1", Location: "beach", CreatedAt: now})
		assert.ErrorIs(t, err, ErrLocked)
		got, err := s.GetShotDNA(ctx, "series-a", "s1")
		require.NoError(t, err)
		assert.True(t, got.Locked)
		assert.Equal(t, "cafe", got.Location)
	})
}

func TestGateRequests(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now().UTC()

	req := &blackboard.HumanGateRequest{
		RequestID:      "gate-1",
		ProjectID:      "proj-1",
		Reason:         "budget exceeded",
		Context:        map[string]string{"usage": "1.05"},
		Status:         blackboard.GateStatusPending,
		CreatedAt:      now,
		TimeoutMinutes: 60,
	}
	require.NoError(t, s.InsertGateRequest(ctx, req))

	dup := *req
	dup.RequestID = "gate-dup"
	assert.ErrorIs(t, s.InsertGateRequest(ctx, &dup), blackboard.ErrGatePending)

	other := *req
	other.RequestID = "gate-other"
	other.ProjectID = "proj-2"
	require.NoError(t, s.InsertGateRequest(ctx, &other))

	got, err := s.GetGateRequest(ctx, "gate-1")
	require.NoError(t, err)
	assert.Equal(t, "budget exceeded", got.Reason)
	assert.Equal(t, "1.05", got.Context["usage"])
	assert.Nil(t, got.ResolvedAt)

	pending, err := s.ListGateRequests(ctx, blackboard.GateStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	resolved := *got
	resolved.Status = blackboard.GateStatusResolved
	resolved.Resolution = "approve"
	resolvedAt := now.Add(time.Minute)
	resolved.ResolvedAt = &resolvedAt
	require.NoError(t, s.UpdateGateRequest(ctx, &resolved))

	// Second resolution is rejected
	err = s.UpdateGateRequest(ctx, &resolved)
	assert.True(t, errors.Is(err, ErrNotFound))

	pending, err = s.ListGateRequests(ctx, blackboard.GateStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "proj-2", pending[0].ProjectID)

	// Once resolved, the project may open a new request.
	again := *req
	again.RequestID = "gate-2"
	require.NoError(t, s.InsertGateRequest(ctx, &again))

	all, err := s.ListGateRequests(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "approve", all[0].Resolution)

	_, err = s.GetGateRequest(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := s.GateIDsWithPrefix(ctx, "gate-")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gate-1", "gate-2", "gate-other"}, ids)

	ids, err = s.GateIDsWithPrefix(ctx, "gate%")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
