package scorer

import (
	"testing"

	"github.com/contentworks/routing-engine/pkg/common/models"
)

func rubric(slug string, weight float64) models.ScoringRubric {
	return models.ScoringRubric{Slug: slug, Name: slug, Weight: weight, IsActive: true}
}

func maxScore(v float64) *float64 { return &v }

func TestWeightedScoreScenario(t *testing.T) {
	rubrics := []models.ScoringRubric{rubric("a", 0.6), rubric("b", 0.4)}
	score := WeightedScore(rubrics, map[string]float64{"a": 8, "b": 6})
	if score != 7.2 {
		t.Fatalf("expected 7.2, got %v", score)
	}
}

func TestWeightedScoreOrderAndScaleInvariant(t *testing.T) {
	inputs := map[string]float64{"hook": 9, "depth": 6, "timing": 4}
	base := []models.ScoringRubric{rubric("hook", 0.5), rubric("depth", 0.3), rubric("timing", 0.2)}
	want := WeightedScore(base, inputs)

	reversed := []models.ScoringRubric{base[2], base[1], base[0]}
	if got := WeightedScore(reversed, inputs); got != want {
		t.Fatalf("order changed score: %v vs %v", got, want)
	}

	for _, k := range []float64{0.1, 2, 7.5, 100} {
		scaled := make([]models.ScoringRubric, len(base))
		for i, r := range base {
			scaled[i] = rubric(r.Slug, r.Weight*k)
		}
		if got := WeightedScore(scaled, inputs); got != want {
			t.Fatalf("scaling by %v changed score: %v vs %v", k, got, want)
		}
	}
}

func TestWeightedScoreNormalizesMissingInputs(t *testing.T) {
	rubrics := []models.ScoringRubric{rubric("a", 0.6), rubric("b", 0.4)}
	if got := WeightedScore(rubrics, map[string]float64{"a": 8}); got != 8 {
		t.Fatalf("missing input should not deflate score, got %v", got)
	}
	if got := WeightedScore(rubrics, map[string]float64{}); got != 0 {
		t.Fatalf("no inputs should score 0, got %v", got)
	}
	if got := WeightedScore(nil, map[string]float64{"a": 8}); got != 0 {
		t.Fatalf("no rubrics should score 0, got %v", got)
	}
}

func TestWeightedScoreClampsRawInputs(t *testing.T) {
	rubrics := []models.ScoringRubric{rubric("a", 1)}
	if got := WeightedScore(rubrics, map[string]float64{"a": 14}); got != 10 {
		t.Fatalf("expected clamp to 10, got %v", got)
	}
	if got := WeightedScore(rubrics, map[string]float64{"a": -3}); got != 1 {
		t.Fatalf("expected clamp to 1, got %v", got)
	}
}

func TestWeightedScoreIgnoresInactiveRubrics(t *testing.T) {
	inactive := rubric("b", 0.5)
	inactive.IsActive = false
	rubrics := []models.ScoringRubric{rubric("a", 0.5), inactive}
	if got := WeightedScore(rubrics, map[string]float64{"a": 6, "b": 10}); got != 6 {
		t.Fatalf("inactive rubric should not count, got %v", got)
	}
}

func TestTierForScenario(t *testing.T) {
	thresholds := []models.TierThreshold{
		{Tier: models.TierKill, MinScore: 0, MaxScore: maxScore(6.9), IsActive: true},
		{Tier: models.TierA, MinScore: 7, IsActive: true},
	}
	if tier := TierFor(thresholds, 7.2); tier != models.TierA {
		t.Fatalf("expected a, got %s", tier)
	}
	if tier := TierFor(thresholds, 5.0); tier != models.TierKill {
		t.Fatalf("expected kill, got %s", tier)
	}
}

func TestTierForBoundaries(t *testing.T) {
	thresholds := []models.TierThreshold{
		{Tier: models.TierPremiumA, MinScore: 9, IsActive: true},
		{Tier: models.TierA, MinScore: 8, MaxScore: maxScore(8.9), IsActive: true},
		{Tier: models.TierB, MinScore: 6.5, MaxScore: maxScore(7.9), IsActive: true},
		{Tier: models.TierC, MinScore: 5, MaxScore: maxScore(6.4), IsActive: true},
	}
	cases := map[float64]models.Tier{
		9:    models.TierPremiumA,
		8.9:  models.TierA,
		8:    models.TierA,
		6.5:  models.TierB,
		5:    models.TierC,
		4.9:  models.TierKill,
		6.45: models.TierKill,
	}
	for score, want := range cases {
		if got := TierFor(thresholds, score); got != want {
			t.Fatalf("score %v: expected %s, got %s", score, want, got)
		}
	}
}

func TestTierForSkipsInactiveThresholds(t *testing.T) {
	thresholds := []models.TierThreshold{
		{Tier: models.TierPremiumA, MinScore: 9, IsActive: false},
		{Tier: models.TierA, MinScore: 7, IsActive: true},
	}
	if tier := TierFor(thresholds, 9.5); tier != models.TierA {
		t.Fatalf("expected a, got %s", tier)
	}
}
