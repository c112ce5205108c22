package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/reelforge/pkg/blackboard"
)

// InsertProject stores a new project together with its first audit entry.
// Returns blackboard.ErrProjectExists if the ID is taken.
func (s *Store) InsertProject(ctx context.Context, p *blackboard.Project, description string) error {
	row, err := encodeProject(p)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE project_id=?`, p.ProjectID).Scan(&exists)
	if err == nil {
		return blackboard.ErrProjectExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO projects(project_id, version, status, global_spec, budget, asset_registry, episodes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProjectID, p.Version, string(p.Status), row.spec, row.budget, row.registry, row.episodes,
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	if err := insertAudit(ctx, tx, p, description); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadProject reads the durable project row.
// Returns blackboard.ErrProjectNotFound if absent.
func (s *Store) LoadProject(ctx context.Context, projectID string) (*blackboard.Project, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		p                                blackboard.Project
		status                           string
		spec, budget, registry, episodes string
		createdAt, updatedAt             int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT project_id, version, status, global_spec, budget, asset_registry, episodes, created_at, updated_at
		FROM projects WHERE project_id=?`, projectID).
		Scan(&p.ProjectID, &p.Version, &status, &spec, &budget, &registry, &episodes, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, blackboard.ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Status = blackboard.ProjectStatus(status)
	if err := json.Unmarshal([]byte(spec), &p.GlobalSpec); err != nil {
		return nil, fmt.Errorf("decode global_spec: %w", err)
	}
	if err := json.Unmarshal([]byte(budget), &p.Budget); err != nil {
		return nil, fmt.Errorf("decode budget: %w", err)
	}
	if p.AssetRegistry, err = blackboard.UnmarshalRegistry(registry); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(episodes), &p.Episodes); err != nil {
		return nil, fmt.Errorf("decode episodes: %w", err)
	}
	if p.Episodes == nil {
		p.Episodes = []blackboard.Episode{}
	}
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &p, nil
}

// SaveProject overwrites the project row and appends its audit entry in one
// transaction, only if the stored version still equals expectedVersion.
func (s *Store) SaveProject(ctx context.Context, p *blackboard.Project, expectedVersion int, description string) error {
	row, err := encodeProject(p)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE projects
		SET version=?, status=?, global_spec=?, budget=?, asset_registry=?, episodes=?, updated_at=?
		WHERE project_id=? AND version=?`,
		p.Version, string(p.Status), row.spec, row.budget, row.registry, row.episodes, p.UpdatedAt.UnixMilli(),
		p.ProjectID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE project_id=?`, p.ProjectID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return blackboard.ErrProjectNotFound
		}
		return fmt.Errorf("%w: expected version %d", blackboard.ErrVersionConflict, expectedVersion)
	}
	if err := insertAudit(ctx, tx, p, description); err != nil {
		return err
	}
	return tx.Commit()
}

// AuditLog returns the mutation history of a project in version order.
func (s *Store) AuditLog(ctx context.Context, projectID string) ([]blackboard.AuditEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT project_id, version, change_description, ts
		FROM audit_log WHERE project_id=? ORDER BY version ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []blackboard.AuditEntry
	for rows.Next() {
		var e blackboard.AuditEntry
		var ts int64
		if err := rows.Scan(&e.ProjectID, &e.Version, &e.ChangeDescription, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListProjects returns project IDs and statuses, most recently updated first.
func (s *Store) ListProjects(ctx context.Context, limit int) ([]ProjectSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT project_id, version, status, updated_at
		FROM projects ORDER BY updated_at DESC, project_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectSummary
	for rows.Next() {
		var ps ProjectSummary
		var status string
		var updated int64
		if err := rows.Scan(&ps.ProjectID, &ps.Version, &status, &updated); err != nil {
			return nil, err
		}
		ps.Status = blackboard.ProjectStatus(status)
		ps.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, ps)
	}
	return out, rows.Err()
}

// ProjectSummary is a lightweight listing row.
type ProjectSummary struct {
	ProjectID string
	Version   int
	Status    blackboard.ProjectStatus
	UpdatedAt time.Time
}

type projectRow struct {
	spec, budget, registry, episodes string
}

func encodeProject(p *blackboard.Project) (projectRow, error) {
	var row projectRow
	spec, err := json.Marshal(p.GlobalSpec)
	if err != nil {
		return row, fmt.Errorf("encode global_spec: %w", err)
	}
	budget, err := json.Marshal(p.Budget)
	if err != nil {
		return row, fmt.Errorf("encode budget: %w", err)
	}
	registry, err := blackboard.MarshalRegistry(p.AssetRegistry)
	if err != nil {
		return row, err
	}
	episodes := p.Episodes
	if episodes == nil {
		episodes = []blackboard.Episode{}
	}
	eps, err := json.Marshal(episodes)
	if err != nil {
		return row, fmt.Errorf("encode episodes: %w", err)
	}
	return projectRow{spec: string(spec), budget: string(budget), registry: registry, episodes: string(eps)}, nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, p *blackboard.Project, description string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_log(project_id, version, change_description, ts) VALUES (?, ?, ?, ?)`,
		p.ProjectID, p.Version, description, p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
