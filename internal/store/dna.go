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

// UpsertCharacterDNA inserts or replaces an unlocked character fingerprint.
// A locked entry is left untouched and ErrLocked is returned.
func (s *Store) UpsertCharacterDNA(ctx context.Context, d blackboard.CharacterDNA) error {
	emb, err := json.Marshal(d.FaceEmbedding)
	if err != nil {
		return fmt.Errorf("encode face_embedding: %w", err)
	}
	attrs, err := json.Marshal(nonNilMap(d.Attributes))
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `INSERT INTO character_dna(series_id, character_id, project_id, face_embedding, attributes, locked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id, character_id) DO UPDATE SET
			project_id=excluded.project_id, face_embedding=excluded.face_embedding,
			attributes=excluded.attributes, locked=excluded.locked
		WHERE character_dna.locked=0`,
		d.SeriesID, d.CharacterID, d.ProjectID, string(emb), string(attrs), boolToInt(d.Locked), d.CreatedAt.UnixNano())
	return upserted(res, err)
}

// GetCharacterDNA returns a character fingerprint or ErrNotFound.
func (s *Store) GetCharacterDNA(ctx context.Context, seriesID, characterID string) (*blackboard.CharacterDNA, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		d          blackboard.CharacterDNA
		emb, attrs string
		locked     int
		createdAt  int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT series_id, character_id, project_id, face_embedding, attributes, locked, created_at
		FROM character_dna WHERE series_id=? AND character_id=?`, seriesID, characterID).
		Scan(&d.SeriesID, &d.CharacterID, &d.ProjectID, &emb, &attrs, &locked, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emb), &d.FaceEmbedding); err != nil {
		return nil, fmt.Errorf("decode face_embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(attrs), &d.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	d.Locked = locked == 1
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return &d, nil
}

// UpsertSceneDNA inserts or replaces an unlocked scene fingerprint, or
// returns ErrLocked.
func (s *Store) UpsertSceneDNA(ctx context.Context, d blackboard.SceneDNA) error {
	desc, err := json.Marshal(nonNilMap(d.Descriptors))
	if err != nil {
		return fmt.Errorf("encode descriptors: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `INSERT INTO scene_dna(series_id, scene_id, project_id, descriptors, layout, locked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id, scene_id) DO UPDATE SET
			project_id=excluded.project_id, descriptors=excluded.descriptors,
			layout=excluded.layout, locked=excluded.locked
		WHERE scene_dna.locked=0`,
		d.SeriesID, d.SceneID, d.ProjectID, string(desc), d.Layout, boolToInt(d.Locked), d.CreatedAt.UnixNano())
	return upserted(res, err)
}

// GetSceneDNA returns a scene fingerprint or ErrNotFound.
func (s *Store) GetSceneDNA(ctx context.Context, seriesID, sceneID string) (*blackboard.SceneDNA, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		d         blackboard.SceneDNA
		desc      string
		locked    int
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT series_id, scene_id, project_id, descriptors, layout, locked, created_at
		FROM scene_dna WHERE series_id=? AND scene_id=?`, seriesID, sceneID).
		Scan(&d.SeriesID, &d.SceneID, &d.ProjectID, &desc, &d.Layout, &locked, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(desc), &d.Descriptors); err != nil {
		return nil, fmt.Errorf("decode descriptors: %w", err)
	}
	d.Locked = locked == 1
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return &d, nil
}

// UpsertShotDNA inserts or replaces an unlocked shot fingerprint, or
// returns ErrLocked.
func (s *Store) UpsertShotDNA(ctx context.Context, d blackboard.ShotDNA) error {
	chars := d.Characters
	if chars == nil {
		chars = []string{}
	}
	charsJSON, err := json.Marshal(chars)
	if err != nil {
		return fmt.Errorf("encode characters: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, `INSERT INTO shot_dna(series_id, shot_id, project_id, action, location, time_of_day, shot_type, characters, artifact_id, locked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(series_id, shot_id) DO UPDATE SET
			project_id=excluded.project_id, action=excluded.action, location=excluded.location,
			time_of_day=excluded.time_of_day, shot_type=excluded.shot_type, characters=excluded.characters,
			artifact_id=excluded.artifact_id, locked=excluded.locked
		WHERE shot_dna.locked=0`,
		d.SeriesID, d.ShotID, d.ProjectID, d.Action, d.Location, d.TimeOfDay, d.ShotType,
		string(charsJSON), d.ArtifactID, boolToInt(d.Locked), d.CreatedAt.UnixNano())
	return upserted(res, err)
}

const shotDNAColumns = `series_id, shot_id, project_id, action, location, time_of_day, shot_type, characters, artifact_id, locked, created_at`

// GetShotDNA returns a shot fingerprint or ErrNotFound.
func (s *Store) GetShotDNA(ctx context.Context, seriesID, shotID string) (*blackboard.ShotDNA, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+shotDNAColumns+` FROM shot_dna WHERE series_id=? AND shot_id=?`, seriesID, shotID)
	return scanShotDNA(row)
}

// ListLockedShotDNA returns every locked shot fingerprint of a series, oldest first.
func (s *Store) ListLockedShotDNA(ctx context.Context, seriesID string) ([]blackboard.ShotDNA, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT `+shotDNAColumns+` FROM shot_dna
		WHERE series_id=? AND locked=1 ORDER BY created_at ASC, shot_id ASC`, seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []blackboard.ShotDNA
	for rows.Next() {
		d, err := scanShotDNA(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// LockCharacterDNA, LockSceneDNA and LockShotDNA mark fingerprints as
// canonical. They return ErrNotFound if the entry does not exist.
func (s *Store) LockCharacterDNA(ctx context.Context, seriesID, characterID string) error {
	return s.lockRow(ctx, `UPDATE character_dna SET locked=1 WHERE series_id=? AND character_id=?`, seriesID, characterID)
}

func (s *Store) LockSceneDNA(ctx context.Context, seriesID, sceneID string) error {
	return s.lockRow(ctx, `UPDATE scene_dna SET locked=1 WHERE series_id=? AND scene_id=?`, seriesID, sceneID)
}

func (s *Store) LockShotDNA(ctx context.Context, seriesID, shotID string) error {
	return s.lockRow(ctx, `UPDATE shot_dna SET locked=1 WHERE series_id=? AND shot_id=?`, seriesID, shotID)
}

func (s *Store) lockRow(ctx context.Context, query, seriesID, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.ExecContext(ctx, query, seriesID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanShotDNA(row rowScanner) (*blackboard.ShotDNA, error) {
	var (
		d         blackboard.ShotDNA
		chars     string
		locked    int
		createdAt int64
	)
	err := row.Scan(&d.SeriesID, &d.ShotID, &d.ProjectID, &d.Action, &d.Location, &d.TimeOfDay,
		&d.ShotType, &chars, &d.ArtifactID, &locked, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chars), &d.Characters); err != nil {
		return nil, fmt.Errorf("decode characters: %w", err)
	}
	d.Locked = locked == 1
	d.CreatedAt = time.Unix(0, createdAt).UTC()
	return &d, nil
}

// upserted maps an upsert whose conflict update was skipped (the row is
// locked) to ErrLocked.
func upserted(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLocked
	}
	return nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
