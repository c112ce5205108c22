package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dyluth/reelforge/pkg/blackboard"
)

// ErrNoModelAvailable is returned when no active model satisfies a request.
var ErrNoModelAvailable = errors.New("no model available")

// ErrNoGenerator is returned when a selected model has no registered adapter.
var ErrNoGenerator = errors.New("no generator registered")

// Request is the provider-neutral input to a generation adapter.
type Request struct {
	ProjectID string
	ShotID    string
	Prompt    string
	Params    map[string]any
}

// Output is what an adapter returns on success.
type Output struct {
	StorageURL      string
	Checksum        string
	Units           float64 // billed units: images, seconds or requests
	DurationSeconds float64
}

// Generator is a provider adapter for one model.
type Generator interface {
	Generate(ctx context.Context, modelID string, req Request) (Output, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, modelID string, req Request) (Output, error)

func (f GeneratorFunc) Generate(ctx context.Context, modelID string, req Request) (Output, error) {
	return f(ctx, modelID, req)
}

// Selection is the router's choice. Downgraded is set when the model's tier
// is below the requested one.
type Selection struct {
	Model         Model
	RequestedTier blackboard.QualityTier
	Downgraded    bool
}

// Router selects models from a registry and holds their adapters.
type Router struct {
	registry *Registry

	mu         sync.RWMutex
	generators map[string]Generator
}

// NewRouter creates a router over a registry.
func NewRouter(r *Registry) *Router {
	return &Router{registry: r, generators: map[string]Generator{}}
}

// Registry returns the underlying registry.
func (rt *Router) Registry() *Registry {
	return rt.registry
}

// Select picks the lowest-cost active model of the type at or above tier.
// Only when downgrade is set, and nothing qualifies, it falls back to the
// nearest lower tier that has an active model.
func (rt *Router) Select(t ModelType, tier blackboard.QualityTier, downgrade bool) (Selection, error) {
	if err := t.Validate(); err != nil {
		return Selection{}, err
	}
	if err := tier.Validate(); err != nil {
		return Selection{}, err
	}

	candidates := rt.registry.ListModels(ByType(t), ActiveOnly(), AtOrAboveTier(tier))
	if len(candidates) > 0 {
		return Selection{Model: cheapest(candidates), RequestedTier: tier}, nil
	}
	if !downgrade {
		return Selection{}, fmt.Errorf("%w: type=%s tier>=%s", ErrNoModelAvailable, t, tier)
	}

	for _, lower := range blackboard.QualityTiers() {
		if lower.Rank() >= tier.Rank() {
			continue
		}
		candidates = rt.registry.ListModels(ByType(t), ActiveOnly(), ByTier(lower))
		if len(candidates) > 0 {
			return Selection{Model: cheapest(candidates), RequestedTier: tier, Downgraded: true}, nil
		}
	}
	return Selection{}, fmt.Errorf("%w: type=%s tier=%s (downgrade allowed)", ErrNoModelAvailable, t, tier)
}

// RegisterGenerator binds an adapter to a model ID.
func (rt *Router) RegisterGenerator(modelID string, g Generator) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.generators[modelID] = g
}

// Generator returns the adapter of a model.
func (rt *Router) Generator(modelID string) (Generator, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	g, ok := rt.generators[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGenerator, modelID)
	}
	return g, nil
}

// cheapest orders by cost, then latency, then ID for a stable choice.
func cheapest(ms []Model) Model {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].CostPerUnit != ms[j].CostPerUnit {
			return ms[i].CostPerUnit < ms[j].CostPerUnit
		}
		if ms[i].AvgLatencyMs != ms[j].AvgLatencyMs {
			return ms[i].AvgLatencyMs < ms[j].AvgLatencyMs
		}
		return ms[i].ID < ms[j].ID
	})
	return ms[0]
}
