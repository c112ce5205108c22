package chef

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

// GateAction is the pipeline's reaction to a human decision.
type GateAction string

const (
	GateResume             GateAction = "RESUME"
	GateCreateRevisionTask GateAction = "CREATE_REVISION_TASK"
	GateMarkFailed         GateAction = "MARK_FAILED"
)

// User actions accepted by HandleUserDecision.
const (
	UserApprove = "approve"
	UserRevise  = "revise"
	UserReject  = "reject"
)

// ReasonUnknownAction is the failure reason for unrecognized user actions.
const ReasonUnknownAction = "unknown user action"

// ErrGateNotPending is returned when deciding a request that is already
// resolved or expired.
var ErrGateNotPending = errors.New("human gate request is not pending")

// UserDecision is an operator's answer to a gate request.
type UserDecision struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`  // revision notes
	Reason string `json:"reason,omitempty"` // rejection reason
}

// GateOutcome is what the pipeline must do next.
type GateOutcome struct {
	Action  GateAction                   `json:"action"`
	Notes   string                       `json:"notes,omitempty"`
	Reason  string                       `json:"reason,omitempty"`
	Request *blackboard.HumanGateRequest `json:"request"`
}

// GateStore persists gate requests.
type GateStore interface {
	InsertGateRequest(ctx context.Context, r *blackboard.HumanGateRequest) error
	GetGateRequest(ctx context.Context, requestID string) (*blackboard.HumanGateRequest, error)
	UpdateGateRequest(ctx context.Context, r *blackboard.HumanGateRequest) error
	ListGateRequests(ctx context.Context, status blackboard.GateStatus) ([]blackboard.HumanGateRequest, error)
}

// StatusUpdater applies gate outcomes to the project lifecycle.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, projectID string, status blackboard.ProjectStatus, description string) (*blackboard.Project, error)
}

// HumanGate opens, resolves and expires human intervention requests.
type HumanGate struct {
	store          GateStore
	projects       StatusUpdater // optional
	timeoutMinutes int
	logger         *slog.Logger
	now            func() time.Time
}

// NewHumanGate creates a gate. projects may be nil, in which case outcomes
// are only reported, not applied.
func NewHumanGate(s GateStore, projects StatusUpdater, timeoutMinutes int, logger *slog.Logger) *HumanGate {
	if timeoutMinutes <= 0 {
		timeoutMinutes = 60
	}
	return &HumanGate{
		store:          s,
		projects:       projects,
		timeoutMinutes: timeoutMinutes,
		logger:         logging.Component(logger, "human_gate"),
		now:            time.Now,
	}
}

// TriggerHumanIntervention opens a PENDING request for the project. It
// returns an error matching blackboard.ErrGatePending when the project
// already has one.
func (g *HumanGate) TriggerHumanIntervention(ctx context.Context, projectID, reason string, context map[string]string) (*blackboard.HumanGateRequest, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id cannot be empty")
	}
	req := &blackboard.HumanGateRequest{
		RequestID:      uuid.NewString(),
		ProjectID:      projectID,
		Reason:         reason,
		Context:        context,
		Status:         blackboard.GateStatusPending,
		CreatedAt:      g.now().UTC(),
		TimeoutMinutes: g.timeoutMinutes,
	}
	if err := g.store.InsertGateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to open human gate for %s: %w", projectID, err)
	}
	logging.Event(g.logger, "human_gate_opened",
		"request_id", req.RequestID,
		"project_id", projectID,
		"reason", reason)
	return req, nil
}

// Get returns a request by ID.
func (g *HumanGate) Get(ctx context.Context, requestID string) (*blackboard.HumanGateRequest, error) {
	return g.store.GetGateRequest(ctx, requestID)
}

// List returns requests with the given status (empty = all).
func (g *HumanGate) List(ctx context.Context, status blackboard.GateStatus) ([]blackboard.HumanGateRequest, error) {
	return g.store.ListGateRequests(ctx, status)
}

// PendingForProject returns the open requests of one project.
func (g *HumanGate) PendingForProject(ctx context.Context, projectID string) ([]blackboard.HumanGateRequest, error) {
	all, err := g.store.ListGateRequests(ctx, blackboard.GateStatusPending)
	if err != nil {
		return nil, err
	}
	var out []blackboard.HumanGateRequest
	for _, r := range all {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Decide maps a user action to an outcome. Unknown actions fail closed.
func Decide(d UserDecision) GateOutcome {
	switch d.Action {
	case UserApprove:
		return GateOutcome{Action: GateResume}
	case UserRevise:
		return GateOutcome{Action: GateCreateRevisionTask, Notes: d.Notes}
	case UserReject:
		return GateOutcome{Action: GateMarkFailed, Reason: d.Reason}
	default:
		return GateOutcome{Action: GateMarkFailed, Reason: ReasonUnknownAction}
	}
}

// HandleUserDecision resolves a pending request and, if a StatusUpdater is
// configured, fails the project on MARK_FAILED.
func (g *HumanGate) HandleUserDecision(ctx context.Context, req *blackboard.HumanGateRequest, d UserDecision) (GateOutcome, error) {
	if req.Status != blackboard.GateStatusPending {
		return GateOutcome{}, fmt.Errorf("%w: %s is %s", ErrGateNotPending, req.RequestID, req.Status)
	}
	outcome := Decide(d)

	resolved := *req
	now := g.now().UTC()
	resolved.Status = blackboard.GateStatusResolved
	resolved.Resolution = string(outcome.Action)
	resolved.ResolvedAt = &now
	if err := g.store.UpdateGateRequest(ctx, &resolved); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return GateOutcome{}, fmt.Errorf("%w: %s", ErrGateNotPending, req.RequestID)
		}
		return GateOutcome{}, fmt.Errorf("failed to resolve human gate %s: %w", req.RequestID, err)
	}
	outcome.Request = &resolved

	if g.projects != nil {
		var err error
		switch outcome.Action {
		case GateMarkFailed:
			_, err = g.projects.UpdateStatus(ctx, req.ProjectID, blackboard.ProjectStatusFailed,
				fmt.Sprintf("human gate %s: %s", req.RequestID, outcome.Reason))
		case GateResume:
			_, err = g.projects.UpdateStatus(ctx, req.ProjectID, blackboard.ProjectStatusInProgress,
				fmt.Sprintf("human gate %s approved", req.RequestID))
		}
		if err != nil {
			return outcome, fmt.Errorf("gate %s resolved but project update failed: %w", req.RequestID, err)
		}
	}

	logging.Event(g.logger, "human_gate_resolved",
		"request_id", req.RequestID,
		"project_id", req.ProjectID,
		"user_action", d.Action,
		"outcome", string(outcome.Action))
	return outcome, nil
}

// CheckTimeout reports whether strictly more than timeout_minutes have
// elapsed since the request was created.
func (g *HumanGate) CheckTimeout(req *blackboard.HumanGateRequest) bool {
	timeout := time.Duration(req.TimeoutMinutes) * time.Minute
	return g.now().Sub(req.CreatedAt) > timeout
}

// ExpireStale marks timed-out PENDING requests EXPIRED and returns how
// many were expired.
func (g *HumanGate) ExpireStale(ctx context.Context) (int, error) {
	pending, err := g.store.ListGateRequests(ctx, blackboard.GateStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending gates: %w", err)
	}
	expired := 0
	for i := range pending {
		req := pending[i]
		if !g.CheckTimeout(&req) {
			continue
		}
		now := g.now().UTC()
		req.Status = blackboard.GateStatusExpired
		req.Resolution = "timeout"
		req.ResolvedAt = &now
		if err := g.store.UpdateGateRequest(ctx, &req); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // resolved concurrently
			}
			return expired, fmt.Errorf("failed to expire gate %s: %w", req.RequestID, err)
		}
		expired++
		logging.Event(g.logger, "human_gate_expired", "request_id", req.RequestID, "project_id", req.ProjectID)
	}
	return expired, nil
}

// Run expires stale requests every interval until ctx is cancelled.
func (g *HumanGate) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := g.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				g.logger.Error("gate expiry pass failed", "error", err)
			}
		}
	}
}
