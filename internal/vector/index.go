// Package vector provides similarity search over embeddings, scoped by series.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dyluth/reelforge/pkg/blackboard"
	"github.com/redis/go-redis/v9"
)

// ErrDimensionMismatch is returned when a query and a stored vector differ in length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one indexed embedding.
type Record struct {
	SeriesID string            `json:"series_id"`
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Match is a search hit with its cosine similarity score.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Index stores and searches embeddings.
type Index interface {
	Upsert(ctx context.Context, rec Record) error
	Search(ctx context.Context, seriesID string, query []float32, limit int) ([]Match, error)
	Delete(ctx context.Context, seriesID, id string) error
}

// RedisIndex keeps one JSON value per record plus a set of IDs per series.
// Search is a brute-force cosine scan over the series.
type RedisIndex struct {
	rdb       redis.Cmdable
	namespace string
}

// NewRedisIndex creates an index under the given key namespace.
func NewRedisIndex(rdb redis.Cmdable, namespace string) *RedisIndex {
	return &RedisIndex{rdb: rdb, namespace: namespace}
}

// Upsert writes (or replaces) a record.
func (x *RedisIndex) Upsert(ctx context.Context, rec Record) error {
	if rec.SeriesID == "" || rec.ID == "" {
		return fmt.Errorf("series_id and id are required")
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("vector cannot be empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal vector record: %w", err)
	}

	pipe := x.rdb.TxPipeline()
	pipe.Set(ctx, blackboard.VectorKey(x.namespace, rec.SeriesID, rec.ID), data, 0)
	pipe.SAdd(ctx, blackboard.VectorSeriesKey(x.namespace, rec.SeriesID), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert vector %s: %w", rec.ID, err)
	}
	return nil
}

// Delete removes a record. Deleting an absent record is a no-op.
func (x *RedisIndex) Delete(ctx context.Context, seriesID, id string) error {
	pipe := x.rdb.TxPipeline()
	pipe.Del(ctx, blackboard.VectorKey(x.namespace, seriesID, id))
	pipe.SRem(ctx, blackboard.VectorSeriesKey(x.namespace, seriesID), id)
	_, err := pipe.Exec(ctx)
	return err
}

// Search returns records of the series ordered by descending similarity,
// truncated to limit (limit <= 0 means no truncation). Records whose
// dimension differs from the query are skipped.
func (x *RedisIndex) Search(ctx context.Context, seriesID string, query []float32, limit int) ([]Match, error) {
	ids, err := x.rdb.SMembers(ctx, blackboard.VectorSeriesKey(x.namespace, seriesID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list vectors for series %s: %w", seriesID, err)
	}
	if len(ids) == 0 {
		return []Match{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = blackboard.VectorKey(x.namespace, seriesID, id)
	}
	vals, err := x.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load vectors for series %s: %w", seriesID, err)
	}

	matches := make([]Match, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		score, err := Cosine(query, rec.Vector)
		if err != nil {
			continue
		}
		matches = append(matches, Match{ID: rec.ID, Score: score, Metadata: rec.Metadata})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Cosine returns the cosine similarity of two equal-length vectors.
// A zero vector has similarity 0 with everything.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
