package scorer

import (
	"context"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/observability/metrics"
	"github.com/contentworks/routing-engine/pkg/statuslog"
	"github.com/google/uuid"
)

type ConfigSource interface {
	GetPublicationBySlug(ctx context.Context, slug string) (models.Publication, error)
	ListRubrics(ctx context.Context, publicationID uuid.UUID, activeOnly bool) ([]models.ScoringRubric, error)
	ActiveThresholds(ctx context.Context) ([]models.TierThreshold, error)
}

type RoutingStore interface {
	GetRouting(ctx context.Context, id uuid.UUID) (models.IdeaRouting, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(routing *models.IdeaRouting) error) (models.IdeaRouting, error)
}

type Recorder interface {
	Record(ctx context.Context, t statuslog.Transition)
}

// Breakdown is the score of one publication.
type Breakdown struct {
	PublicationSlug string             `json:"publication_slug"`
	Score           float64            `json:"score"`
	Tier            models.Tier        `json:"tier"`
	Inputs          map[string]float64 `json:"inputs"`
	RubricsUsed     int                `json:"rubrics_used"`
}

type ScoreResult struct {
	Routing            models.IdeaRouting `json:"routing"`
	Breakdowns         []Breakdown        `json:"breakdowns"`
	PrimaryPublication string             `json:"primary_publication"`
	PrimaryScore       float64            `json:"primary_score"`
	PrimaryTier        models.Tier        `json:"primary_tier"`
}

type Service struct {
	config       ConfigSource
	routings     RoutingStore
	recorder     Recorder
	publications models.PublicationSlugs
	now          func() time.Time
}

func NewService(config ConfigSource, routings RoutingStore, recorder Recorder, publications models.PublicationSlugs) *Service {
	return &Service{
		config:       config,
		routings:     routings,
		recorder:     recorder,
		publications: publications,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// PreviewScore scores inputs against one publication's rubrics without persisting.
func (s *Service) PreviewScore(ctx context.Context, publicationSlug string, inputs map[string]float64) (Breakdown, error) {
	thresholds, err := s.config.ActiveThresholds(ctx)
	if err != nil {
		return Breakdown{}, err
	}
	return s.breakdown(ctx, publicationSlug, inputs, thresholds)
}

func (s *Service) breakdown(ctx context.Context, slug string, inputs map[string]float64, thresholds []models.TierThreshold) (Breakdown, error) {
	publication, err := s.config.GetPublicationBySlug(ctx, slug)
	if err != nil {
		return Breakdown{}, err
	}
	rubrics, err := s.config.ListRubrics(ctx, publication.ID, true)
	if err != nil {
		return Breakdown{}, err
	}
	if len(rubrics) == 0 {
		return Breakdown{}, apperr.Configuration("publication %s has no active scoring rubrics", slug)
	}

	used := map[string]float64{}
	for _, rubric := range rubrics {
		if raw, ok := inputs[rubric.Slug]; ok {
			used[rubric.Slug] = clamp(raw)
		}
	}
	score := WeightedScore(rubrics, inputs)
	return Breakdown{
		PublicationSlug: slug,
		Score:           score,
		Tier:            TierFor(thresholds, score),
		Inputs:          used,
		RubricsUsed:     len(used),
	}, nil
}

// ScoreIdea scores every publication the idea is routed to, derives the
// overall tier from the primary score, and moves the idea to scored or killed.
// A previous manual override is discarded.
func (s *Service) ScoreIdea(ctx context.Context, routingID uuid.UUID, inputs map[string]float64, actor string) (ScoreResult, error) {
	routing, err := s.routings.GetRouting(ctx, routingID)
	if err != nil {
		return ScoreResult{}, err
	}
	if routing.Status == models.StatusUnrouted || routing.Destination == "" {
		return ScoreResult{}, apperr.Invariant("idea routing %s has not been routed", routingID)
	}

	thresholds, err := s.config.ActiveThresholds(ctx)
	if err != nil {
		return ScoreResult{}, err
	}

	slugs := s.publications.Applicable(routing.Destination, routing.NeedsVideo)
	breakdowns := make([]Breakdown, 0, len(slugs))
	scores := make(map[string]float64, len(slugs))
	for _, slug := range slugs {
		b, err := s.breakdown(ctx, slug, inputs, thresholds)
		if err != nil {
			return ScoreResult{}, err
		}
		breakdowns = append(breakdowns, b)
		scores[slug] = b.Score
	}
	if len(breakdowns) == 0 {
		return ScoreResult{}, apperr.Configuration("destination %s maps to no publication", routing.Destination)
	}

	// Applicable already lists publications in primary order.
	primary := breakdowns[0]
	tier := TierFor(thresholds, primary.Score)
	status := models.StatusScored
	if tier == models.TierKill {
		status = models.StatusKilled
	}

	var from models.RoutingStatus
	updated, err := s.routings.Mutate(ctx, routingID, func(r *models.IdeaRouting) error {
		from = r.Status
		if err := statuslog.Validate(from, status); err != nil {
			return err
		}
		now := s.now()
		r.Scores = scores
		r.Tier = tier
		r.OverrideScore = nil
		r.OverrideReason = ""
		r.Status = status
		r.ScoredAt = &now
		return nil
	})
	if err != nil {
		return ScoreResult{}, err
	}

	metrics.ObserveScored(status == models.StatusKilled)
	logger.WithComponent("scorer").WithFields(map[string]interface{}{
		"routing_id":  updated.ID,
		"idea_id":     updated.IdeaID,
		"publication": primary.PublicationSlug,
		"score":       primary.Score,
		"tier":        tier,
	}).Info("idea scored")

	s.recorder.Record(ctx, statuslog.Transition{
		Routing: updated,
		From:    from,
		Actor:   actor,
		Metadata: map[string]interface{}{
			"scores":              scores,
			"inputs":              inputs,
			"tier":                string(tier),
			"primary_publication": primary.PublicationSlug,
			"primary_score":       primary.Score,
		},
	})

	return ScoreResult{
		Routing:            updated,
		Breakdowns:         breakdowns,
		PrimaryPublication: primary.PublicationSlug,
		PrimaryScore:       primary.Score,
		PrimaryTier:        tier,
	}, nil
}

// OverrideScore replaces the primary score with a manual value and re-derives
// the tier from it. Ideas not yet placed move to scored or killed; scheduled
// and queued ideas keep their status. A later ScoreIdea clears the override.
func (s *Service) OverrideScore(ctx context.Context, routingID uuid.UUID, score float64, reason, actor string) (models.IdeaRouting, error) {
	if score < 0 || score > maxRawScore {
		return models.IdeaRouting{}, apperr.Validation("override score must be between 0 and %d", maxRawScore)
	}
	if reason == "" {
		return models.IdeaRouting{}, apperr.Validation("override reason is required")
	}
	thresholds, err := s.config.ActiveThresholds(ctx)
	if err != nil {
		return models.IdeaRouting{}, err
	}
	tier := TierFor(thresholds, score)

	var (
		from         models.RoutingStatus
		previousTier models.Tier
	)
	updated, err := s.routings.Mutate(ctx, routingID, func(r *models.IdeaRouting) error {
		from = r.Status
		previousTier = r.Tier
		status := r.Status
		switch r.Status {
		case models.StatusUnrouted:
			return apperr.Invariant("idea routing %s has not been routed", routingID)
		case models.StatusRouted, models.StatusScored, models.StatusKilled:
			status = models.StatusScored
			if tier == models.TierKill {
				status = models.StatusKilled
			}
		case models.StatusScheduled, models.StatusSlotted:
			if tier == models.TierKill {
				return apperr.Invariant("cannot override a placed idea down to kill")
			}
		}
		if err := statuslog.Validate(from, status); err != nil {
			return err
		}
		overridden := score
		r.OverrideScore = &overridden
		r.OverrideReason = reason
		r.Tier = tier
		r.Status = status
		if r.ScoredAt == nil {
			now := s.now()
			r.ScoredAt = &now
		}
		return nil
	})
	if err != nil {
		return models.IdeaRouting{}, err
	}

	metrics.IncOverride()
	logger.WithComponent("scorer").WithFields(map[string]interface{}{
		"routing_id": updated.ID,
		"score":      score,
		"tier":       tier,
	}).Info("score overridden")

	s.recorder.Record(ctx, statuslog.Transition{
		Routing: updated,
		From:    from,
		Actor:   actor,
		Reason:  reason,
		Metadata: map[string]interface{}{
			"override_score": score,
			"previous_tier":  string(previousTier),
			"tier":           string(tier),
		},
	})
	return updated, nil
}
