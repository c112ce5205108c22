// Package cache implements the content-addressed artifact cache. It is a
// lookaside cache: callers look up before generating and store on success;
// the manager never invokes generation itself.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/google/uuid"
)

// ArtifactStore is the persistence the manager needs.
type ArtifactStore interface {
	InsertArtifact(ctx context.Context, a *blackboard.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*blackboard.Artifact, error)
	FindLatestAvailableByCacheKey(ctx context.Context, cacheKey string) (*blackboard.Artifact, error)
	IncrementAccess(ctx context.Context, artifactID string, at time.Time) error
	ArtifactStats(ctx context.Context, projectID string) (store.ArtifactStats, error)
}

// GenerationResult describes a freshly generated artifact to store.
type GenerationResult struct {
	ArtifactID string // generated if empty
	Type       blackboard.ArtifactType
	StorageURL string
	Checksum   string
}

// Stats summarizes cache effectiveness for a project.
type Stats struct {
	TotalArtifacts  int64   `json:"total_artifacts"`
	Available       int64   `json:"available"`
	ReusedArtifacts int64   `json:"reused_artifacts"`
	TotalHits       int64   `json:"total_hits"`
	HitRate         float64 `json:"hit_rate"`
}

// Manager looks up and records reuse of prior artifacts.
type Manager struct {
	store  ArtifactStore
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a cache manager.
func NewManager(s ArtifactStore, logger *slog.Logger) *Manager {
	return &Manager{
		store:  s,
		logger: logging.Component(logger, "cache"),
		now:    time.Now,
	}
}

// FindCachedArtifact returns the newest AVAILABLE artifact produced by
// identical params. A hit is recorded before returning. A miss returns
// (nil, false, nil).
func (m *Manager) FindCachedArtifact(ctx context.Context, params GenerationParams) (*blackboard.Artifact, bool, error) {
	key, err := ComputeCacheKey(params)
	if err != nil {
		return nil, false, err
	}
	return m.FindByKey(ctx, key)
}

// FindByKey is FindCachedArtifact for a precomputed key.
func (m *Manager) FindByKey(ctx context.Context, cacheKey string) (*blackboard.Artifact, bool, error) {
	art, err := m.store.FindLatestAvailableByCacheKey(ctx, cacheKey)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Debug("cache miss", "cache_key", cacheKey)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup failed: %w", err)
	}

	if err := m.RegisterCacheHit(ctx, art.ArtifactID); err != nil {
		return nil, false, err
	}
	art.AccessCount++
	now := m.now().UTC()
	art.LastAccessedAt = &now

	logging.Event(m.logger, "cache_hit",
		"cache_key", cacheKey,
		"artifact_id", art.ArtifactID,
		"project_id", art.ProjectID)
	return art, true, nil
}

// RegisterCacheHit increments access_count and stamps last_accessed_at.
func (m *Manager) RegisterCacheHit(ctx context.Context, artifactID string) error {
	if err := m.store.IncrementAccess(ctx, artifactID, m.now().UTC()); err != nil {
		return fmt.Errorf("failed to register cache hit for %s: %w", artifactID, err)
	}
	return nil
}

// StoreArtifact records a successful generation under the key of params so
// later lookups with identical params reuse it.
func (m *Manager) StoreArtifact(ctx context.Context, projectID string, params GenerationParams, result GenerationResult) (*blackboard.Artifact, error) {
	if result.StorageURL == "" {
		return nil, fmt.Errorf("storage_url cannot be empty")
	}
	typ := result.Type
	if typ == "" {
		typ = params.Modality
	}
	if err := typ.Validate(); err != nil {
		return nil, err
	}

	key, err := ComputeCacheKey(params)
	if err != nil {
		return nil, err
	}
	paramMap, err := params.ToMap()
	if err != nil {
		return nil, err
	}

	id := result.ArtifactID
	if id == "" {
		id = uuid.NewString()
	}
	art := &blackboard.Artifact{
		ArtifactID:       id,
		ProjectID:        projectID,
		Type:             typ,
		Status:           blackboard.ArtifactStatusAvailable,
		StorageURL:       result.StorageURL,
		Checksum:         result.Checksum,
		GenerationParams: paramMap,
		CacheKey:         key,
		CreatedAt:        m.now().UTC(),
	}
	if err := m.store.InsertArtifact(ctx, art); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	logging.Event(m.logger, "artifact_stored",
		"artifact_id", id,
		"project_id", projectID,
		"cache_key", key)
	return art, nil
}

// GetArtifact returns a stored artifact by ID.
func (m *Manager) GetArtifact(ctx context.Context, artifactID string) (*blackboard.Artifact, error) {
	return m.store.GetArtifact(ctx, artifactID)
}

// GetCacheStats reports artifact counts and the hit rate
// hits / (hits + artifacts). An empty projectID aggregates all projects.
func (m *Manager) GetCacheStats(ctx context.Context, projectID string) (Stats, error) {
	raw, err := m.store.ArtifactStats(ctx, projectID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}
	st := Stats{
		TotalArtifacts:  raw.Total,
		Available:       raw.Available,
		ReusedArtifacts: raw.Reused,
		TotalHits:       raw.TotalHits,
	}
	// Each artifact stands for one generation call; each hit for one avoided call.
	if lookups := raw.TotalHits + raw.Total; lookups > 0 {
		st.HitRate = float64(raw.TotalHits) / float64(lookups)
	}
	return st, nil
}
