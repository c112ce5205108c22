package chef

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dyluth/reelforge/internal/events"
	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// ProjectBoard is the slice of the blackboard the chef writes to.
type ProjectBoard interface {
	GetProject(ctx context.Context, projectID string) (*blackboard.Project, error)
	AddCost(ctx context.Context, projectID string, cost blackboard.Money, description string) (*blackboard.Project, error)
	LowerQualityTier(ctx context.Context, projectID string, choose func(p *blackboard.Project) (blackboard.QualityTier, string)) (*blackboard.Project, bool, error)
}

// FollowUpError wraps a failure that happened after an event's cost was
// recorded. Redelivering the event would charge it again, so Handle
// acknowledges it; strategy and escalation are re-evaluated on the
// project's next event.
type FollowUpError struct {
	ProjectID string
	Err       error
}

func (e *FollowUpError) Error() string {
	return fmt.Sprintf("project %s charged but follow-up failed: %v", e.ProjectID, e.Err)
}

func (e *FollowUpError) Unwrap() error {
	return e.Err
}

// Report describes what the agent did with one event.
type Report struct {
	Skipped     bool
	Cost        blackboard.Money
	Status      BudgetStatus
	Decision    Decision
	Downgraded  bool
	GateRequest *blackboard.HumanGateRequest
}

// Agent is the Chef: it charges generation events to project budgets and
// reacts to the resulting spend.
type Agent struct {
	board    ProjectBoard
	budget   *BudgetManager
	strategy *StrategyAdjuster
	gate     *HumanGate
	logger   *slog.Logger
}

// NewAgent wires the chef's collaborators.
func NewAgent(board ProjectBoard, budget *BudgetManager, strategy *StrategyAdjuster, gate *HumanGate, logger *slog.Logger) *Agent {
	return &Agent{
		board:    board,
		budget:   budget,
		strategy: strategy,
		gate:     gate,
		logger:   logging.Component(logger, "chef"),
	}
}

// Handle satisfies events.Handler. Events for unknown projects are logged
// and acknowledged since redelivery can never succeed. So are events whose
// cost was already recorded when a later step failed.
func (a *Agent) Handle(ctx context.Context, e events.Event) error {
	_, err := a.Process(ctx, e)
	var followUp *FollowUpError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &followUp):
		a.logger.Error("event charged, follow-up failed",
			"event_id", e.ID, "project_id", e.ProjectID, "error", followUp.Err)
		return nil
	case blackboard.IsNotFound(err):
		a.logger.Warn("dropping event for unknown project",
			"event_id", e.ID, "project_id", e.ProjectID, "error", err)
		return nil
	}
	return err
}

// Process charges one event and applies strategy. Non-generation events
// and cache hits are skipped.
func (a *Agent) Process(ctx context.Context, e events.Event) (*Report, error) {
	if !e.Type.IsGeneration() || e.CacheHit {
		return &Report{Skipped: true}, nil
	}

	cost := a.budget.EventCost(e)
	p, err := a.charge(ctx, e, cost)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Cost:     cost,
		Status:   a.budget.CheckBudgetStatus(p.Budget),
		Decision: a.strategy.EvaluateStrategy(p.Budget, p.GlobalSpec.QualityTier),
	}

	// Spend only grows, so an event whose own charge leaves usage below the
	// reduce threshold cannot lower the tier. Otherwise the decision is
	// re-taken on the locked current project so a stale snapshot never
	// overwrites a newer tier.
	if report.Decision.Action == ActionReduceQuality {
		from := p.GlobalSpec.QualityTier
		current, lowered, err := a.board.LowerQualityTier(ctx, e.ProjectID, func(cur *blackboard.Project) (blackboard.QualityTier, string) {
			d := a.strategy.EvaluateStrategy(cur.Budget, cur.GlobalSpec.QualityTier)
			report.Decision = d
			from = cur.GlobalSpec.QualityTier
			spec := cur.GlobalSpec
			if !a.strategy.ApplyStrategy(d, &spec) {
				return from, ""
			}
			return spec.QualityTier, fmt.Sprintf("strategy: quality %s -> %s (%s)", from, spec.QualityTier, d.Reason)
		})
		if err != nil {
			return report, &FollowUpError{ProjectID: e.ProjectID, Err: fmt.Errorf("failed to apply strategy: %w", err)}
		}
		p = current
		report.Status = a.budget.CheckBudgetStatus(p.Budget)
		if lowered {
			report.Downgraded = true
			logging.Event(a.logger, "quality_reduced",
				"project_id", e.ProjectID,
				"from", string(from),
				"to", string(p.GlobalSpec.QualityTier),
				"usage", report.Decision.Usage)
		}
	}

	if report.Status == BudgetExceeded && p.GlobalSpec.QualityTier == blackboard.QualityFast {
		req, err := a.escalate(ctx, p, report)
		if err != nil {
			return report, &FollowUpError{ProjectID: e.ProjectID, Err: err}
		}
		report.GateRequest = req
	}
	return report, nil
}

// charge records the event's cost, or only reloads the project when the
// producer already charged it.
func (a *Agent) charge(ctx context.Context, e events.Event, cost blackboard.Money) (*blackboard.Project, error) {
	if e.Charged {
		p, err := a.board.GetProject(ctx, e.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", e.ProjectID, err)
		}
		return p, nil
	}
	desc := fmt.Sprintf("%s by %s", e.Type, modelOrUnknown(e.ModelID))
	p, err := a.board.AddCost(ctx, e.ProjectID, cost, desc)
	if err != nil {
		return nil, fmt.Errorf("failed to charge %s to %s: %w", e.Type, e.ProjectID, err)
	}
	return p, nil
}

// escalate opens a budget gate unless one is already pending for the project.
func (a *Agent) escalate(ctx context.Context, p *blackboard.Project, r *Report) (*blackboard.HumanGateRequest, error) {
	if a.gate == nil {
		a.logger.Error("budget exceeded at fast tier with no human gate configured", "project_id", p.ProjectID)
		return nil, nil
	}
	pending, err := a.gate.PendingForProject(ctx, p.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending gates for %s: %w", p.ProjectID, err)
	}
	if len(pending) > 0 {
		return &pending[0], nil
	}
	req, err := a.gate.TriggerHumanIntervention(ctx, p.ProjectID, "budget exceeded at lowest quality tier", map[string]string{
		"spent":   p.Budget.Spent.String(),
		"total":   p.Budget.Total.String(),
		"usage":   fmt.Sprintf("%.3f", r.Decision.Usage),
		"version": fmt.Sprint(p.Version),
	})
	if !errors.Is(err, blackboard.ErrGatePending) {
		return req, err
	}
	// Another worker opened it between the check and the insert.
	pending, err = a.gate.PendingForProject(ctx, p.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending gates for %s: %w", p.ProjectID, err)
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("pending gate for %s vanished", p.ProjectID)
	}
	return &pending[0], nil
}

func modelOrUnknown(id string) string {
	if id == "" {
		return "unknown model"
	}
	return id
}
