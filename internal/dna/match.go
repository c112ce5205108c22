package dna

import (
	"context"
	"fmt"
	"strings"

	"github.com/dyluth/reelforge/internal/logging"
	"github.com/dyluth/reelforge/pkg/blackboard"
)

// Feature weights for shot similarity. They sum to 1.
const (
	WeightLocation   = 0.3
	WeightTimeOfDay  = 0.2
	WeightShotType   = 0.2
	WeightCharacters = 0.3
)

// scoreEpsilon absorbs float rounding in the weighted sum so that an exact
// 0.85 composed from the weights is not read as 0.8499999. It is far
// below the smallest score difference the weights can produce.
const scoreEpsilon = 1e-12

// ShotQuery holds the categorical features of a shot to be produced.
type ShotQuery struct {
	Location   string
	TimeOfDay  string
	ShotType   string
	Characters []string
}

// ShotMatch is a reusable locked shot and its similarity score.
type ShotMatch struct {
	DNA   blackboard.ShotDNA
	Score float64
}

// ShotSimilarity scores a candidate against a query. Categorical features
// match on case-insensitive equality of non-empty values.
func ShotSimilarity(q ShotQuery, c blackboard.ShotDNA) float64 {
	var score float64
	if sameFeature(q.Location, c.Location) {
		score += WeightLocation
	}
	if sameFeature(q.TimeOfDay, c.TimeOfDay) {
		score += WeightTimeOfDay
	}
	if sameFeature(q.ShotType, c.ShotType) {
		score += WeightShotType
	}
	score += WeightCharacters * Jaccard(q.Characters, c.Characters)
	return score
}

// Jaccard is |a ∩ b| / |a ∪ b| over normalized names. Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	union := len(setA)
	inter := 0
	for k := range setB {
		if _, ok := setA[k]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// FindReusableShot returns the best locked shot of the series scoring at
// least minSimilarity, which must lie in [0, 1]. Zero accepts any locked
// shot; pass MinSimilarity() for the configured threshold. No qualifying
// candidate yields (nil, false, nil).
func (m *Manager) FindReusableShot(ctx context.Context, seriesID string, q ShotQuery, minSimilarity float64) (*ShotMatch, bool, error) {
	if minSimilarity < 0 || minSimilarity > 1 {
		return nil, false, fmt.Errorf("min similarity %v must be within [0, 1]", minSimilarity)
	}
	candidates, err := m.store.ListLockedShotDNA(ctx, seriesID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list locked shots for series %s: %w", seriesID, err)
	}

	best, ok := bestMatch(q, candidates, minSimilarity)
	if !ok {
		m.logger.Debug("no reusable shot", "series_id", seriesID, "candidates", len(candidates))
		return nil, false, nil
	}
	logging.Event(m.logger, "shot_reuse_match",
		"series_id", seriesID,
		"shot_id", best.DNA.ShotID,
		"score", best.Score)
	return best, true, nil
}

func bestMatch(q ShotQuery, candidates []blackboard.ShotDNA, minSimilarity float64) (*ShotMatch, bool) {
	var best *ShotMatch
	for _, c := range candidates {
		if !c.Locked {
			continue
		}
		score := ShotSimilarity(q, c)
		if !meetsThreshold(score, minSimilarity) {
			continue
		}
		// Ties keep the earliest candidate.
		if best == nil || score > best.Score+scoreEpsilon {
			best = &ShotMatch{DNA: c, Score: score}
		}
	}
	return best, best != nil
}

func meetsThreshold(score, min float64) bool {
	return score+scoreEpsilon >= min
}

func sameFeature(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if key := strings.ToLower(strings.TrimSpace(it)); key != "" {
			set[key] = struct{}{}
		}
	}
	return set
}
