// Package dna maintains the reusable fingerprints ("DNA") of characters,
// scenes and shots of a series, and matches new shots against locked ones.
//
// DNA reuse is an optimization: a missing or failing vector backend yields
// "no match", never an error.
package dna

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/internal/store"
	"github.com/dyluth/reelforge/internal/vector"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// EmbeddingDim is the face embedding length produced by the face model.
const EmbeddingDim = 512

// DefaultMinSimilarity is the shot reuse acceptance threshold.
const DefaultMinSimilarity = 0.85

// ErrInvalidEmbedding is returned for embeddings of the wrong dimension.
var ErrInvalidEmbedding = errors.New("invalid face embedding")

// ErrLocked is returned when extraction or registration targets DNA that is
// already locked. The stored canonical entry is kept as is.
var ErrLocked = store.ErrLocked

// Store is the DNA persistence the manager needs.
type Store interface {
	UpsertCharacterDNA(ctx context.Context, d blackboard.CharacterDNA) error
	GetCharacterDNA(ctx context.Context, seriesID, characterID string) (*blackboard.CharacterDNA, error)
	LockCharacterDNA(ctx context.Context, seriesID, characterID string) error
	UpsertSceneDNA(ctx context.Context, d blackboard.SceneDNA) error
	GetSceneDNA(ctx context.Context, seriesID, sceneID string) (*blackboard.SceneDNA, error)
	LockSceneDNA(ctx context.Context, seriesID, sceneID string) error
	UpsertShotDNA(ctx context.Context, d blackboard.ShotDNA) error
	GetShotDNA(ctx context.Context, seriesID, shotID string) (*blackboard.ShotDNA, error)
	LockShotDNA(ctx context.Context, seriesID, shotID string) error
	ListLockedShotDNA(ctx context.Context, seriesID string) ([]blackboard.ShotDNA, error)
}

// Registry mirrors DNA into a project's asset registry on the blackboard.
type Registry interface {
	RegisterCharacterDNA(ctx context.Context, projectID string, dna blackboard.CharacterDNA) (*blackboard.Project, error)
	RegisterSceneDNA(ctx context.Context, projectID string, dna blackboard.SceneDNA) (*blackboard.Project, error)
	RegisterShotDNA(ctx context.Context, projectID string, dna blackboard.ShotDNA) (*blackboard.Project, error)
}

// FaceEmbedder turns a character image into a face embedding.
type FaceEmbedder interface {
	EmbedFace(ctx context.Context, imageURL string) ([]float32, error)
}

// Options configures a Manager. Index, Registry and Embedder are optional.
type Options struct {
	Index         vector.Index
	Registry      Registry
	Embedder      FaceEmbedder
	MinSimilarity float64
	EmbeddingDim  int
	Logger        *slog.Logger
}

// Manager extracts, locks and matches DNA.
type Manager struct {
	store         Store
	index         vector.Index
	registry      Registry
	embedder      FaceEmbedder
	minSimilarity float64
	dim           int
	logger        *slog.Logger
	now           func() time.Time
}

// NewManager creates a DNA manager over a store.
func NewManager(s Store, opts Options) *Manager {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.EmbeddingDim <= 0 {
		opts.EmbeddingDim = EmbeddingDim
	}
	return &Manager{
		store:         s,
		index:         opts.Index,
		registry:      opts.Registry,
		embedder:      opts.Embedder,
		minSimilarity: opts.MinSimilarity,
		dim:           opts.EmbeddingDim,
		logger:        logging.Component(opts.Logger, "dna"),
		now:           time.Now,
	}
}

// CharacterObservation is the input to character DNA extraction. Either
// Embedding or ImageURL (with a configured embedder) must be provided.
type CharacterObservation struct {
	SeriesID    string
	CharacterID string
	ProjectID   string // optional; mirrors into the project registry
	ImageURL    string
	Embedding   []float32
	Attributes  map[string]string
}

// ExtractCharacterDNA fingerprints a character and stores it unlocked. A
// character whose DNA is locked is not re-extracted; ErrLocked is returned.
func (m *Manager) ExtractCharacterDNA(ctx context.Context, obs CharacterObservation) (*blackboard.CharacterDNA, error) {
	if obs.SeriesID == "" || obs.CharacterID == "" {
		return nil, fmt.Errorf("series_id and character_id are required")
	}

	emb := obs.Embedding
	if len(emb) == 0 {
		if m.embedder == nil || obs.ImageURL == "" {
			return nil, fmt.Errorf("%w: no embedding and no embedder for %s", ErrInvalidEmbedding, obs.CharacterID)
		}
		var err error
		if emb, err = m.embedder.EmbedFace(ctx, obs.ImageURL); err != nil {
			return nil, fmt.Errorf("face embedding failed for %s: %w", obs.CharacterID, err)
		}
	}
	if len(emb) != m.dim {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrInvalidEmbedding, m.dim, len(emb))
	}

	d := blackboard.CharacterDNA{
		SeriesID:      obs.SeriesID,
		CharacterID:   obs.CharacterID,
		ProjectID:     obs.ProjectID,
		FaceEmbedding: emb,
		Attributes:    obs.Attributes,
		Locked:        false,
		CreatedAt:     m.now().UTC(),
	}
	if err := m.store.UpsertCharacterDNA(ctx, d); err != nil {
		if errors.Is(err, store.ErrLocked) {
			return nil, fmt.Errorf("character dna %s/%s: %w", d.SeriesID, d.CharacterID, err)
		}
		return nil, fmt.Errorf("failed to store character dna %s: %w", d.CharacterID, err)
	}

	if m.index != nil {
		rec := vector.Record{
			SeriesID: d.SeriesID,
			ID:       d.CharacterID,
			Vector:   d.FaceEmbedding,
			Metadata: map[string]string{"character_id": d.CharacterID},
		}
		if err := m.index.Upsert(ctx, rec); err != nil {
			m.logger.Warn("vector upsert failed, face search will miss this character",
				"character_id", d.CharacterID, "series_id", d.SeriesID, "error", err)
		}
	}

	if obs.ProjectID != "" && m.registry != nil {
		if _, err := m.registry.RegisterCharacterDNA(ctx, obs.ProjectID, d); err != nil {
			return nil, fmt.Errorf("failed to register character dna in project %s: %w", obs.ProjectID, err)
		}
	}

	logging.Event(m.logger, "character_dna_extracted",
		"series_id", d.SeriesID,
		"character_id", d.CharacterID)
	return &d, nil
}

// SceneObservation is the input to scene DNA extraction.
type SceneObservation struct {
	SeriesID    string
	SceneID     string
	ProjectID   string
	Descriptors map[string]string
	Layout      string
}

// ExtractSceneDNA fingerprints a scene and stores it unlocked, or returns
// ErrLocked for a locked scene.
func (m *Manager) ExtractSceneDNA(ctx context.Context, obs SceneObservation) (*blackboard.SceneDNA, error) {
	if obs.SeriesID == "" || obs.SceneID == "" {
		return nil, fmt.Errorf("series_id and scene_id are required")
	}
	d := blackboard.SceneDNA{
		SeriesID:    obs.SeriesID,
		SceneID:     obs.SceneID,
		ProjectID:   obs.ProjectID,
		Descriptors: obs.Descriptors,
		Layout:      obs.Layout,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.UpsertSceneDNA(ctx, d); err != nil {
		if errors.Is(err, store.ErrLocked) {
			return nil, fmt.Errorf("scene dna %s/%s: %w", d.SeriesID, d.SceneID, err)
		}
		return nil, fmt.Errorf("failed to store scene dna %s: %w", d.SceneID, err)
	}
	if obs.ProjectID != "" && m.registry != nil {
		if _, err := m.registry.RegisterSceneDNA(ctx, obs.ProjectID, d); err != nil {
			return nil, fmt.Errorf("failed to register scene dna in project %s: %w", obs.ProjectID, err)
		}
	}
	logging.Event(m.logger, "scene_dna_extracted", "series_id", d.SeriesID, "scene_id", d.SceneID)
	return &d, nil
}

// RegisterShotDNA records the features of a generated shot. Pass
// locked=true only for shots already approved as canonical. A locked shot
// is never overwritten; ErrLocked is returned.
func (m *Manager) RegisterShotDNA(ctx context.Context, d blackboard.ShotDNA) (*blackboard.ShotDNA, error) {
	if d.SeriesID == "" || d.ShotID == "" {
		return nil, fmt.Errorf("series_id and shot_id are required")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now().UTC()
	}
	if err := m.store.UpsertShotDNA(ctx, d); err != nil {
		if errors.Is(err, store.ErrLocked) {
			return nil, fmt.Errorf("shot dna %s/%s: %w", d.SeriesID, d.ShotID, err)
		}
		return nil, fmt.Errorf("failed to store shot dna %s: %w", d.ShotID, err)
	}
	if d.ProjectID != "" && m.registry != nil {
		if _, err := m.registry.RegisterShotDNA(ctx, d.ProjectID, d); err != nil {
			return nil, fmt.Errorf("failed to register shot dna in project %s: %w", d.ProjectID, err)
		}
	}
	return &d, nil
}

// LockCharacterDNA marks a character fingerprint as canonical and mirrors
// the locked entry into its project's registry.
func (m *Manager) LockCharacterDNA(ctx context.Context, seriesID, characterID string) error {
	if err := m.lock(ctx, "character", seriesID, characterID, m.store.LockCharacterDNA); err != nil {
		return err
	}
	if m.registry == nil {
		return nil
	}
	d, err := m.store.GetCharacterDNA(ctx, seriesID, characterID)
	if err != nil {
		return fmt.Errorf("failed to reload character dna %s/%s: %w", seriesID, characterID, err)
	}
	if d.ProjectID == "" {
		return nil
	}
	if _, err := m.registry.RegisterCharacterDNA(ctx, d.ProjectID, *d); err != nil {
		return fmt.Errorf("failed to register locked character dna in project %s: %w", d.ProjectID, err)
	}
	return nil
}

// LockSceneDNA marks a scene fingerprint as canonical.
func (m *Manager) LockSceneDNA(ctx context.Context, seriesID, sceneID string) error {
	if err := m.lock(ctx, "scene", seriesID, sceneID, m.store.LockSceneDNA); err != nil {
		return err
	}
	if m.registry == nil {
		return nil
	}
	d, err := m.store.GetSceneDNA(ctx, seriesID, sceneID)
	if err != nil {
		return fmt.Errorf("failed to reload scene dna %s/%s: %w", seriesID, sceneID, err)
	}
	if d.ProjectID == "" {
		return nil
	}
	if _, err := m.registry.RegisterSceneDNA(ctx, d.ProjectID, *d); err != nil {
		return fmt.Errorf("failed to register locked scene dna in project %s: %w", d.ProjectID, err)
	}
	return nil
}

// LockShotDNA makes a shot eligible for reuse matching.
func (m *Manager) LockShotDNA(ctx context.Context, seriesID, shotID string) error {
	if err := m.lock(ctx, "shot", seriesID, shotID, m.store.LockShotDNA); err != nil {
		return err
	}
	if m.registry == nil {
		return nil
	}
	d, err := m.store.GetShotDNA(ctx, seriesID, shotID)
	if err != nil {
		return fmt.Errorf("failed to reload shot dna %s/%s: %w", seriesID, shotID, err)
	}
	if d.ProjectID == "" {
		return nil
	}
	if _, err := m.registry.RegisterShotDNA(ctx, d.ProjectID, *d); err != nil {
		return fmt.Errorf("failed to register locked shot dna in project %s: %w", d.ProjectID, err)
	}
	return nil
}

func (m *Manager) lock(ctx context.Context, kind, seriesID, id string, fn func(context.Context, string, string) error) error {
	if err := fn(ctx, seriesID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s dna %s/%s: %w", kind, seriesID, id, err)
		}
		return fmt.Errorf("failed to lock %s dna %s/%s: %w", kind, seriesID, id, err)
	}
	logging.Event(m.logger, "dna_locked", "kind", kind, "series_id", seriesID, "id", id)
	return nil
}

// MinSimilarity is the configured shot reuse threshold.
func (m *Manager) MinSimilarity() float64 {
	return m.minSimilarity
}

// GetCharacterDNA returns a stored character fingerprint.
func (m *Manager) GetCharacterDNA(ctx context.Context, seriesID, characterID string) (*blackboard.CharacterDNA, error) {
	return m.store.GetCharacterDNA(ctx, seriesID, characterID)
}

// GetSceneDNA returns a stored scene fingerprint.
func (m *Manager) GetSceneDNA(ctx context.Context, seriesID, sceneID string) (*blackboard.SceneDNA, error) {
	return m.store.GetSceneDNA(ctx, seriesID, sceneID)
}

// FaceMatch is one face search hit.
type FaceMatch struct {
	CharacterID string  `json:"character_id"`
	Score       float64 `json:"score"`
}

// SearchSimilarFaces returns the series' characters most similar to the
// embedding, by descending score, truncated to limit. Without a working
// vector index it returns an empty result.
func (m *Manager) SearchSimilarFaces(ctx context.Context, embedding []float32, seriesID string, limit int) []FaceMatch {
	if m.index == nil {
		return []FaceMatch{}
	}
	matches, err := m.index.Search(ctx, seriesID, embedding, limit)
	if err != nil {
		m.logger.Warn("face search unavailable, treating as no match", "series_id", seriesID, "error", err)
		return []FaceMatch{}
	}
	out := make([]FaceMatch, 0, len(matches))
	for _, mt := range matches {
		out = append(out, FaceMatch{CharacterID: mt.ID, Score: mt.Score})
	}
	return out
}
