package scorer

import (
	"math"
	"sort"

	"github.com/contentworks/routing-engine/pkg/common/models"
)

const (
	minRawScore = 1
	maxRawScore = 10
)

// WeightedScore combines raw rubric inputs into one score. Inputs are clamped
// to 1..10 and only rubrics with an input contribute, so the result is
// normalized by the weight actually used. Inactive rubrics are ignored.
// Returns 0 when nothing contributes.
func WeightedScore(rubrics []models.ScoringRubric, inputs map[string]float64) float64 {
	var total, weights float64
	for _, rubric := range rubrics {
		if !rubric.IsActive {
			continue
		}
		raw, ok := inputs[rubric.Slug]
		if !ok {
			continue
		}
		total += clamp(raw) * rubric.Weight
		weights += rubric.Weight
	}
	if weights <= 0 {
		return 0
	}
	return round1(total / weights)
}

func clamp(v float64) float64 {
	return math.Max(minRawScore, math.Min(maxRawScore, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// TierFor maps a score onto the highest threshold whose [min, max] interval
// contains it. Scores outside every interval are kill.
func TierFor(thresholds []models.TierThreshold, score float64) models.Tier {
	return ThresholdFor(thresholds, score).Tier
}

// ThresholdFor returns the matching threshold, or a bare kill threshold when none matches.
func ThresholdFor(thresholds []models.TierThreshold, score float64) models.TierThreshold {
	ordered := make([]models.TierThreshold, len(thresholds))
	copy(ordered, thresholds)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].MinScore > ordered[j].MinScore
	})
	for _, t := range ordered {
		if t.IsActive && t.Contains(score) {
			return t
		}
	}
	return models.TierThreshold{Tier: models.TierKill}
}
