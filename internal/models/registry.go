// Package models holds the registry of generation models and the router
// that picks one per request.
package models

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dyluth/reelforge/internal/config"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// ModelType is the modality a model generates.
type ModelType string

const (
	ModelTypeImage ModelType = "image"
	ModelTypeVideo ModelType = "video"
	ModelTypeVoice ModelType = "voice"
	ModelTypeMusic ModelType = "music"
	ModelTypeText  ModelType = "text"
)

// Validate checks if the ModelType is a valid enum value.
func (t ModelType) Validate() error {
	switch t {
	case ModelTypeImage, ModelTypeVideo, ModelTypeVoice, ModelTypeMusic, ModelTypeText:
		return nil
	default:
		return fmt.Errorf("unknown model type: %q", t)
	}
}

var (
	ErrModelNotFound = errors.New("model not found")
	ErrModelExists   = errors.New("model already registered")
)

// Model is a registry entry. ID, Type and Provider are immutable after
// registration; the rest are operational attributes.
type Model struct {
	ID           string                 `json:"model_id"`
	Type         ModelType              `json:"type"`
	Provider     string                 `json:"provider"`
	CostPerUnit  float64                `json:"cost_per_unit"`
	QualityTier  blackboard.QualityTier `json:"quality_tier"`
	AvgLatencyMs int64                  `json:"avg_latency_ms"`
	Active       bool                   `json:"is_active"`
}

// Validate checks if the Model has valid field values.
func (m Model) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("model_id cannot be empty")
	}
	if m.Provider == "" {
		return fmt.Errorf("provider cannot be empty for model %s", m.ID)
	}
	if err := m.Type.Validate(); err != nil {
		return err
	}
	if err := m.QualityTier.Validate(); err != nil {
		return err
	}
	if m.CostPerUnit < 0 {
		return fmt.Errorf("cost_per_unit must be >= 0 for model %s", m.ID)
	}
	return nil
}

// ModelUpdate changes operational attributes; nil fields are left as is.
type ModelUpdate struct {
	CostPerUnit  *float64
	QualityTier  *blackboard.QualityTier
	AvgLatencyMs *int64
	Active       *bool
}

// Filter is a composable predicate over models.
type Filter func(Model) bool

// ByType keeps models of the given modality.
func ByType(t ModelType) Filter {
	return func(m Model) bool { return m.Type == t }
}

// ByTier keeps models of exactly the given tier.
func ByTier(q blackboard.QualityTier) Filter {
	return func(m Model) bool { return m.QualityTier == q }
}

// AtOrAboveTier keeps models whose tier ranks at least q.
func AtOrAboveTier(q blackboard.QualityTier) Filter {
	return func(m Model) bool { return m.QualityTier.Rank() >= q.Rank() }
}

// ActiveOnly keeps active models.
func ActiveOnly() Filter {
	return func(m Model) bool { return m.Active }
}

// Registry is a concurrency-safe in-memory model catalog.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{models: map[string]Model{}}
}

// NewRegistryFromConfig seeds a registry from the models: section.
func NewRegistryFromConfig(entries []config.ModelConfig) (*Registry, error) {
	r := NewRegistry()
	for _, e := range entries {
		m := Model{
			ID:           e.ID,
			Type:         ModelType(e.Type),
			Provider:     e.Provider,
			CostPerUnit:  e.CostPerUnit,
			QualityTier:  blackboard.QualityTier(e.QualityTier),
			AvgLatencyMs: e.AvgLatencyMs,
			Active:       e.IsActive(),
		}
		if err := r.RegisterModel(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RegisterModel adds a model. Returns ErrModelExists for a duplicate ID.
func (r *Registry) RegisterModel(m Model) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[m.ID]; ok {
		return fmt.Errorf("%w: %s", ErrModelExists, m.ID)
	}
	r.models[m.ID] = m
	return nil
}

// GetModel returns a model by ID.
func (r *Registry) GetModel(id string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// ListModels returns models matching every filter, sorted by ID.
// No filters returns all models.
func (r *Registry) ListModels(filters ...Filter) []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		if matchesAll(m, filters) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateModel changes operational attributes of a model.
func (r *Registry) UpdateModel(id string, u ModelUpdate) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.models[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if u.CostPerUnit != nil {
		m.CostPerUnit = *u.CostPerUnit
	}
	if u.QualityTier != nil {
		m.QualityTier = *u.QualityTier
	}
	if u.AvgLatencyMs != nil {
		m.AvgLatencyMs = *u.AvgLatencyMs
	}
	if u.Active != nil {
		m.Active = *u.Active
	}
	if err := m.Validate(); err != nil {
		return Model{}, fmt.Errorf("invalid update for %s: %w", id, err)
	}
	r.models[id] = m
	return m, nil
}

// DeactivateModel excludes a model from routing.
func (r *Registry) DeactivateModel(id string) error {
	inactive := false
	_, err := r.UpdateModel(id, ModelUpdate{Active: &inactive})
	return err
}

func matchesAll(m Model, filters []Filter) bool {
	for _, f := range filters {
		if !f(m) {
			return false
		}
	}
	return true
}
