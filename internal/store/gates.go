package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/reelforge/pkg/blackboard"
)

const gateColumns = `request_id, project_id, reason, context, status, created_at, timeout_minutes, resolution, resolved_at`

// InsertGateRequest persists a new human intervention request. A project
// has at most one PENDING request; inserting a second one returns
// blackboard.ErrGatePending.
func (s *Store) InsertGateRequest(ctx context.Context, r *blackboard.HumanGateRequest) error {
	c, err := json.Marshal(nonNilMap(r.Context))
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `INSERT INTO human_gate_requests(`+gateColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE ? <> ? OR NOT EXISTS (
			SELECT 1 FROM human_gate_requests WHERE project_id=? AND status=?
		)`,
		r.RequestID, r.ProjectID, r.Reason, string(c), string(r.Status), r.CreatedAt.UnixNano(),
		r.TimeoutMinutes, r.Resolution, nullableTime(r.ResolvedAt),
		string(r.Status), string(blackboard.GateStatusPending),
		r.ProjectID, string(blackboard.GateStatusPending))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: human_gate_requests.project_id") {
			return blackboard.ErrGatePending
		}
		return fmt.Errorf("insert gate request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return blackboard.ErrGatePending
	}
	return nil
}

// GetGateRequest returns a request by ID or ErrNotFound.
func (s *Store) GetGateRequest(ctx context.Context, requestID string) (*blackboard.HumanGateRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+gateColumns+` FROM human_gate_requests WHERE request_id=?`, requestID)
	return scanGate(row)
}

// UpdateGateRequest overwrites status, resolution and resolved_at. The
// update only applies while the stored row is still PENDING; otherwise
// ErrNotFound is returned so a request is resolved at most once.
func (s *Store) UpdateGateRequest(ctx context.Context, r *blackboard.HumanGateRequest) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `UPDATE human_gate_requests SET status=?, resolution=?, resolved_at=?
		WHERE request_id=? AND status=?`,
		string(r.Status), r.Resolution, nullableTime(r.ResolvedAt), r.RequestID, string(blackboard.GateStatusPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGateRequests returns requests filtered by status (empty = all), oldest first.
func (s *Store) ListGateRequests(ctx context.Context, status blackboard.GateStatus) ([]blackboard.HumanGateRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+gateColumns+` FROM human_gate_requests
		WHERE (?='' OR status=?) ORDER BY created_at ASC, request_id ASC`, string(status), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []blackboard.HumanGateRequest
	for rows.Next() {
		r, err := scanGate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GateIDsWithPrefix returns the gate request IDs starting with prefix.
func (s *Store) GateIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return s.idsWithPrefix(ctx, `SELECT request_id FROM human_gate_requests WHERE request_id LIKE ? ESCAPE '\' ORDER BY request_id`, prefix)
}

func scanGate(row rowScanner) (*blackboard.HumanGateRequest, error) {
	var (
		r          blackboard.HumanGateRequest
		c, status  string
		createdAt  int64
		resolvedAt sql.NullInt64
	)
	err := row.Scan(&r.RequestID, &r.ProjectID, &r.Reason, &c, &status, &createdAt,
		&r.TimeoutMinutes, &r.Resolution, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(c), &r.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	r.Status = blackboard.GateStatus(status)
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.ResolvedAt = timeFromNullable(resolvedAt)
	return &r, nil
}
