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

const artifactColumns = `artifact_id, project_id, type, status, storage_url, checksum, generation_params, cache_key, access_count, last_accessed_at, created_at`

// InsertArtifact stores a generated artifact.
func (s *Store) InsertArtifact(ctx context.Context, a *blackboard.Artifact) error {
	if a.ArtifactID == "" {
		return fmt.Errorf("artifact_id cannot be empty")
	}
	params := a.GenerationParams
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode generation_params: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `INSERT INTO artifacts(`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ArtifactID, a.ProjectID, string(a.Type), string(a.Status), a.StorageURL, nullableString(a.Checksum),
		string(paramsJSON), a.CacheKey, a.AccessCount, nullableTime(a.LastAccessedAt), a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// GetArtifact returns an artifact by ID or ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*blackboard.Artifact, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE artifact_id=?`, artifactID)
	return scanArtifact(row)
}

// FindLatestAvailableByCacheKey returns the newest AVAILABLE artifact with the
// given cache key, or ErrNotFound.
func (s *Store) FindLatestAvailableByCacheKey(ctx context.Context, cacheKey string) (*blackboard.Artifact, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts
		WHERE cache_key=? AND status=?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, cacheKey, string(blackboard.ArtifactStatusAvailable))
	return scanArtifact(row)
}

// IncrementAccess bumps access_count and stamps last_accessed_at.
func (s *Store) IncrementAccess(ctx context.Context, artifactID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `UPDATE artifacts SET access_count = access_count + 1, last_accessed_at=? WHERE artifact_id=?`,
		at.UnixNano(), artifactID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateArtifactStatus moves an artifact through its storage lifecycle.
func (s *Store) UpdateArtifactStatus(ctx context.Context, artifactID string, status blackboard.ArtifactStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `UPDATE artifacts SET status=? WHERE artifact_id=?`, string(status), artifactID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListArtifacts returns a project's artifacts, oldest first. An empty
// projectID lists every project.
func (s *Store) ListArtifacts(ctx context.Context, projectID string) ([]blackboard.Artifact, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts
		WHERE (?='' OR project_id=?) ORDER BY created_at ASC, rowid ASC`, projectID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []blackboard.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ArtifactIDsWithPrefix returns the artifact IDs starting with prefix.
func (s *Store) ArtifactIDsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return s.idsWithPrefix(ctx, `SELECT artifact_id FROM artifacts WHERE artifact_id LIKE ? ESCAPE '\' ORDER BY artifact_id`, prefix)
}

// ArtifactStats are raw counts for cache reporting. An empty projectID
// aggregates across all projects.
type ArtifactStats struct {
	Total     int64
	Available int64
	Reused    int64
	TotalHits int64
}

// ArtifactStats aggregates artifact counts.
func (s *Store) ArtifactStats(ctx context.Context, projectID string) (ArtifactStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var st ArtifactStats
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status=? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN access_count > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(access_count), 0)
		FROM artifacts WHERE (?='' OR project_id=?)`,
		string(blackboard.ArtifactStatusAvailable), projectID, projectID).
		Scan(&st.Total, &st.Available, &st.Reused, &st.TotalHits)
	return st, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*blackboard.Artifact, error) {
	var (
		a            blackboard.Artifact
		typ, status  string
		checksum     sql.NullString
		params       string
		lastAccessed sql.NullInt64
		createdAt    int64
	)
	err := row.Scan(&a.ArtifactID, &a.ProjectID, &typ, &status, &a.StorageURL, &checksum,
		&params, &a.CacheKey, &a.AccessCount, &lastAccessed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Type = blackboard.ArtifactType(typ)
	a.Status = blackboard.ArtifactStatus(status)
	a.Checksum = checksum.String
	if err := json.Unmarshal([]byte(params), &a.GenerationParams); err != nil {
		return nil, fmt.Errorf("decode generation_params: %w", err)
	}
	a.LastAccessedAt = timeFromNullable(lastAccessed)
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return &a, nil
}
