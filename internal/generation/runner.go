// Package generation runs the lookaside generation flow shared by agents:
// reuse a cached artifact when the parameters match, otherwise route to a
// model, call its adapter, store the result and charge the project.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dyluth/reelforge/internal/cache"
	"github.com/dyluth/reelforge/internal/events"
	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/internal/models"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// Status is the outcome of one task.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusCached    Status = "cached"
	StatusFailed    Status = "failed"
)

// Board is the slice of the blackboard the runner needs.
type Board interface {
	GetProject(ctx context.Context, projectID string) (*blackboard.Project, error)
	AddCost(ctx context.Context, projectID string, cost blackboard.Money, description string) (*blackboard.Project, error)
}

// Publisher emits generation events.
type Publisher interface {
	Publish(ctx context.Context, e events.Event) (string, error)
}

// Task is one generation request.
type Task struct {
	ProjectID string
	ShotID    string
	ModelType models.ModelType
	Params    cache.GenerationParams

	// RequestedTier is the tier the caller planned for. When the project
	// tier sits below it (strategy already reduced quality) the router may
	// fall back to a lower tier. Empty means the project tier.
	RequestedTier blackboard.QualityTier
}

// Result describes what happened to a task. Err is set only for
// StatusFailed.
type Result struct {
	Status          Status
	Artifact        *blackboard.Artifact
	Model           *models.Model
	Cost            blackboard.Money
	DurationSeconds float64
	Downgraded      bool
	EventID         string
	Err             error
}

// Runner executes tasks against the cache, router and board.
type Runner struct {
	cache  *cache.Manager
	router *models.Router
	board  Board
	bus    Publisher // optional
	logger *slog.Logger
}

// NewRunner wires a runner. bus may be nil to skip event publication.
func NewRunner(c *cache.Manager, router *models.Router, board Board, bus Publisher, logger *slog.Logger) *Runner {
	return &Runner{
		cache:  c,
		router: router,
		board:  board,
		bus:    bus,
		logger: logging.Component(logger, "generation"),
	}
}

// Run executes one task. Adapter failures are reported as a failed Result
// with a nil error and leave the budget untouched; the returned error is
// reserved for infrastructure failures.
func (r *Runner) Run(ctx context.Context, t Task) (*Result, error) {
	if err := t.ModelType.Validate(); err != nil {
		return nil, err
	}
	if t.Params.Modality == "" {
		t.Params.Modality = ArtifactTypeFor(t.ModelType)
	}

	p, err := r.board.GetProject(ctx, t.ProjectID)
	if err != nil {
		return nil, err
	}
	currency := p.Budget.Total.Currency

	art, hit, err := r.cache.FindCachedArtifact(ctx, t.Params)
	if err != nil {
		return nil, err
	}
	if hit {
		res := &Result{Status: StatusCached, Artifact: art, Cost: blackboard.NewMoney(0, currency)}
		res.EventID = r.publish(ctx, t, res, true)
		return res, nil
	}

	tier := p.GlobalSpec.QualityTier
	downgrade := t.RequestedTier != "" && tier.Rank() < t.RequestedTier.Rank()
	sel, err := r.router.Select(t.ModelType, tier, downgrade)
	if err != nil {
		return nil, err
	}
	gen, err := r.router.Generator(sel.Model.ID)
	if err != nil {
		return nil, err
	}

	out, err := gen.Generate(ctx, sel.Model.ID, models.Request{
		ProjectID: t.ProjectID,
		ShotID:    t.ShotID,
		Prompt:    t.Params.Prompt,
		Params:    t.Params.Extra,
	})
	if err != nil {
		r.logger.Warn("generation failed",
			"project_id", t.ProjectID, "shot_id", t.ShotID, "model_id", sel.Model.ID, "error", err)
		return &Result{Status: StatusFailed, Model: &sel.Model, Downgraded: sel.Downgraded, Err: err}, nil
	}

	art, err = r.cache.StoreArtifact(ctx, t.ProjectID, t.Params, cache.GenerationResult{
		Type:       t.Params.Modality,
		StorageURL: out.StorageURL,
		Checksum:   out.Checksum,
	})
	if err != nil {
		return nil, err
	}

	cost := blackboard.NewMoney(PriceOutput(sel.Model, out), currency)
	if _, err := r.board.AddCost(ctx, t.ProjectID, cost, fmt.Sprintf("%s by %s", t.ModelType, sel.Model.ID)); err != nil {
		return nil, fmt.Errorf("artifact %s stored but cost not recorded: %w", art.ArtifactID, err)
	}

	res := &Result{
		Status:          StatusGenerated,
		Artifact:        art,
		Model:           &sel.Model,
		Cost:            cost,
		Downgraded:      sel.Downgraded,
		DurationSeconds: out.DurationSeconds,
	}
	res.EventID = r.publish(ctx, t, res, false)

	logging.Event(r.logger, "artifact_generated",
		"project_id", t.ProjectID,
		"artifact_id", art.ArtifactID,
		"model_id", sel.Model.ID,
		"cost", cost.Amount,
		"downgraded", sel.Downgraded)
	return res, nil
}

// publish emits the generation event. Failures are logged; the board is
// already the source of truth for the spend.
func (r *Runner) publish(ctx context.Context, t Task, res *Result, cacheHit bool) string {
	if r.bus == nil {
		return ""
	}
	cost := res.Cost
	e := events.Event{
		Type:            EventTypeFor(t.ModelType),
		ProjectID:       t.ProjectID,
		ShotID:          t.ShotID,
		ArtifactID:      res.Artifact.ArtifactID,
		Cost:            &cost,
		DurationSeconds: res.DurationSeconds,
		Count:           1,
		CacheHit:        cacheHit,
		Charged:         true,
	}
	if res.Model != nil {
		e.ModelID = res.Model.ID
	}
	id, err := r.bus.Publish(ctx, e)
	if err != nil {
		r.logger.Error("failed to publish generation event",
			"project_id", t.ProjectID, "artifact_id", res.Artifact.ArtifactID, "error", err)
		return ""
	}
	return id
}

// PriceOutput bills the adapter's reported units at the model's rate.
// Adapters that report no units are billed one unit.
func PriceOutput(m models.Model, out models.Output) float64 {
	units := out.Units
	if units <= 0 {
		units = 1
	}
	return units * m.CostPerUnit
}

// ArtifactTypeFor maps a model type to the artifact it produces.
func ArtifactTypeFor(t models.ModelType) blackboard.ArtifactType {
	switch t {
	case models.ModelTypeImage:
		return blackboard.ArtifactTypeImage
	case models.ModelTypeVideo:
		return blackboard.ArtifactTypeVideo
	case models.ModelTypeVoice, models.ModelTypeMusic:
		return blackboard.ArtifactTypeAudio
	default:
		return blackboard.ArtifactTypeText
	}
}

// EventTypeFor maps a model type to its generation event.
func EventTypeFor(t models.ModelType) events.Type {
	switch t {
	case models.ModelTypeImage:
		return events.TypeImageGenerated
	case models.ModelTypeVideo:
		return events.TypeVideoGenerated
	case models.ModelTypeVoice:
		return events.TypeVoiceGenerated
	case models.ModelTypeMusic:
		return events.TypeMusicGenerated
	default:
		return events.TypeTextGenerated
	}
}

// IsNoModel reports whether err means routing found no eligible model.
func IsNoModel(err error) bool {
	return errors.Is(err, models.ErrNoModelAvailable) || errors.Is(err, models.ErrNoGenerator)
}
