package scorer

import (
	"context"
	"errors"
	"testing"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/statuslog"
	"github.com/google/uuid"
)

type fakeConfig struct {
	publications map[string]models.Publication
	rubrics      map[uuid.UUID][]models.ScoringRubric
	thresholds   []models.TierThreshold
}

func (f *fakeConfig) GetPublicationBySlug(_ context.Context, slug string) (models.Publication, error) {
	p, ok := f.publications[slug]
	if !ok {
		return models.Publication{}, apperr.NotFound("publication", slug)
	}
	return p, nil
}

func (f *fakeConfig) ListRubrics(_ context.Context, id uuid.UUID, _ bool) ([]models.ScoringRubric, error) {
	return f.rubrics[id], nil
}

func (f *fakeConfig) ActiveThresholds(context.Context) ([]models.TierThreshold, error) {
	return f.thresholds, nil
}

type fakeRoutings struct {
	items map[uuid.UUID]models.IdeaRouting
}

func (f *fakeRoutings) GetRouting(_ context.Context, id uuid.UUID) (models.IdeaRouting, error) {
	r, ok := f.items[id]
	if !ok {
		return models.IdeaRouting{}, apperr.NotFound("idea routing", id)
	}
	return r, nil
}

func (f *fakeRoutings) Mutate(ctx context.Context, id uuid.UUID, fn func(*models.IdeaRouting) error) (models.IdeaRouting, error) {
	r, err := f.GetRouting(ctx, id)
	if err != nil {
		return models.IdeaRouting{}, err
	}
	if err := fn(&r); err != nil {
		return models.IdeaRouting{}, err
	}
	f.items[id] = r
	return r, nil
}

type transitions struct {
	items []statuslog.Transition
}

func (t *transitions) Record(_ context.Context, tr statuslog.Transition) {
	t.items = append(t.items, tr)
}

var slugs = models.PublicationSlugs{Core: "core", Beginner: "beginner", Video: "video"}

func newFixture() (*Service, *fakeConfig, *fakeRoutings, *transitions) {
	core := models.Publication{ID: uuid.New(), Slug: "core", IsActive: true}
	beginner := models.Publication{ID: uuid.New(), Slug: "beginner", IsActive: true}
	video := models.Publication{ID: uuid.New(), Slug: "video", IsActive: true}

	cfg := &fakeConfig{
		publications: map[string]models.Publication{"core": core, "beginner": beginner, "video": video},
		rubrics: map[uuid.UUID][]models.ScoringRubric{
			core.ID:     {rubric("a", 0.6), rubric("b", 0.4)},
			beginner.ID: {rubric("a", 0.2), rubric("b", 0.8)},
			video.ID:    {rubric("visual", 1)},
		},
		thresholds: []models.TierThreshold{
			{Tier: models.TierA, MinScore: 7, IsActive: true},
			{Tier: models.TierKill, MinScore: 0, MaxScore: maxScore(6.9), IsActive: true},
		},
	}
	routings := &fakeRoutings{items: map[uuid.UUID]models.IdeaRouting{}}
	recorder := &transitions{}
	return NewService(cfg, routings, recorder, slugs), cfg, routings, recorder
}

func seedRouting(store *fakeRoutings, dest models.Destination, video models.NeedsVideo) models.IdeaRouting {
	r := models.IdeaRouting{
		ID:          uuid.New(),
		IdeaID:      uuid.New(),
		Destination: dest,
		NeedsVideo:  video,
		Status:      models.StatusRouted,
	}
	store.items[r.ID] = r
	return r
}

func TestScoreIdeaCoreDestination(t *testing.T) {
	svc, _, store, recorder := newFixture()
	routing := seedRouting(store, models.DestinationCore, models.NeedsVideoNo)

	result, err := svc.ScoreIdea(context.Background(), routing.ID, map[string]float64{"a": 8, "b": 6}, "editor")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result.PrimaryScore != 7.2 || result.PrimaryTier != models.TierA {
		t.Fatalf("expected 7.2/a, got %v/%s", result.PrimaryScore, result.PrimaryTier)
	}
	if result.Routing.Status != models.StatusScored {
		t.Fatalf("expected scored, got %s", result.Routing.Status)
	}
	if len(result.Breakdowns) != 1 {
		t.Fatalf("core without video scores one publication, got %d", len(result.Breakdowns))
	}
	if len(recorder.items) != 1 || recorder.items[0].From != models.StatusRouted {
		t.Fatalf("expected one routed -> scored transition, got %+v", recorder.items)
	}
}

func TestScoreIdeaBothWithVideo(t *testing.T) {
	svc, _, store, _ := newFixture()
	routing := seedRouting(store, models.DestinationBoth, models.NeedsVideoYes)

	result, err := svc.ScoreIdea(context.Background(), routing.ID, map[string]float64{"a": 8, "b": 6, "visual": 9}, "")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	var order []string
	for _, b := range result.Breakdowns {
		order = append(order, b.PublicationSlug)
	}
	if len(order) != 3 || order[0] != "core" || order[1] != "video" || order[2] != "beginner" {
		t.Fatalf("unexpected publications %v", order)
	}
	if result.PrimaryPublication != "core" {
		t.Fatalf("core should be primary, got %s", result.PrimaryPublication)
	}
	if result.Routing.Scores["beginner"] != 6.4 {
		t.Fatalf("expected beginner 6.4, got %v", result.Routing.Scores["beginner"])
	}
	if result.Breakdowns[2].Tier != models.TierKill {
		t.Fatalf("beginner breakdown should report its own tier, got %s", result.Breakdowns[2].Tier)
	}
}

func TestScoreIdeaBeginnerOnlyKills(t *testing.T) {
	svc, _, store, _ := newFixture()
	routing := seedRouting(store, models.DestinationBeginner, models.NeedsVideoYes)

	result, err := svc.ScoreIdea(context.Background(), routing.ID, map[string]float64{"a": 3, "b": 4}, "")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result.PrimaryPublication != "beginner" {
		t.Fatalf("beginner should be primary, got %s", result.PrimaryPublication)
	}
	if result.Routing.Status != models.StatusKilled || result.Routing.Tier != models.TierKill {
		t.Fatalf("expected killed, got %s/%s", result.Routing.Status, result.Routing.Tier)
	}
}

func TestScoreIdeaWithoutRubricsIsConfigurationError(t *testing.T) {
	svc, cfg, store, _ := newFixture()
	cfg.rubrics[cfg.publications["core"].ID] = nil
	routing := seedRouting(store, models.DestinationCore, models.NeedsVideoNo)

	_, err := svc.ScoreIdea(context.Background(), routing.ID, map[string]float64{"a": 8}, "")
	if !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if store.items[routing.ID].Status != models.StatusRouted {
		t.Fatal("failed scoring must not change the routing")
	}
}

func TestScoreIdeaRejectsScheduledIdea(t *testing.T) {
	svc, _, store, _ := newFixture()
	routing := seedRouting(store, models.DestinationCore, models.NeedsVideoNo)
	routing.Status = models.StatusScheduled
	store.items[routing.ID] = routing

	_, err := svc.ScoreIdea(context.Background(), routing.ID, map[string]float64{"a": 8, "b": 8}, "")
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestOverrideScoreRederivesTierAndIsClearedByRescore(t *testing.T) {
	svc, _, store, recorder := newFixture()
	routing := seedRouting(store, models.DestinationCore, models.NeedsVideoNo)
	if _, err := svc.ScoreIdea(context.Background(), routing.ID, map[string]float64{"a": 4, "b": 4}, ""); err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if store.items[routing.ID].Status != models.StatusKilled {
		t.Fatal("low score should kill the idea")
	}

	overridden, err := svc.OverrideScore(context.Background(), routing.ID, 8.5, "editor pick", "chief")
	if err != nil {
		t.Fatalf("override failed: %v", err)
	}
	if overridden.Tier != models.TierA || overridden.Status != models.StatusScored {
		t.Fatalf("expected a/scored, got %s/%s", overridden.Tier, overridden.Status)
	}
	if score, _ := overridden.EffectiveScore("core"); score != 8.5 {
		t.Fatalf("override should be the effective score, got %v", score)
	}
	last := recorder.items[len(recorder.items)-1]
	if last.Reason != "editor pick" {
		t.Fatalf("override reason should be logged, got %q", last.Reason)
	}

	rescored, err := svc.ScoreIdea(context.Background(), routing.ID, map[string]float64{"a": 9, "b": 9}, "")
	if err != nil {
		t.Fatalf("rescore failed: %v", err)
	}
	if rescored.Routing.OverrideScore != nil {
		t.Fatal("full re-score should clear the override")
	}
}

func TestOverrideScoreValidation(t *testing.T) {
	svc, _, store, _ := newFixture()
	routing := seedRouting(store, models.DestinationCore, models.NeedsVideoNo)

	if _, err := svc.OverrideScore(context.Background(), routing.ID, 11, "too high", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.OverrideScore(context.Background(), routing.ID, 8, "", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for empty reason, got %v", err)
	}
	if _, err := svc.OverrideScore(context.Background(), uuid.New(), 8, "reason", ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPreviewScore(t *testing.T) {
	svc, _, store, _ := newFixture()
	b, err := svc.PreviewScore(context.Background(), "core", map[string]float64{"a": 8, "b": 6})
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if b.Score != 7.2 || b.Tier != models.TierA || b.RubricsUsed != 2 {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if len(store.items) != 0 {
		t.Fatal("preview must not persist")
	}
	if _, err := svc.PreviewScore(context.Background(), "podcast", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown publication, got %v", err)
	}
}
