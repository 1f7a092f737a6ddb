package router

import (
	"context"
	"errors"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/observability/metrics"
	"github.com/contentworks/routing-engine/pkg/statuslog"
	"github.com/google/uuid"
)

// RuleSource is read on every call; rules are never cached.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]models.RoutingRule, error)
}

type RoutingStore interface {
	GetRouting(ctx context.Context, id uuid.UUID) (models.IdeaRouting, error)
	UpsertByIdea(ctx context.Context, ideaID uuid.UUID, fn func(routing *models.IdeaRouting, created bool) error) (models.IdeaRouting, error)
}

type Recorder interface {
	Record(ctx context.Context, t statuslog.Transition)
}

type Service struct {
	rules    RuleSource
	routings RoutingStore
	recorder Recorder
	now      func() time.Time
}

func NewService(rules RuleSource, routings RoutingStore, recorder Recorder) *Service {
	return &Service{
		rules:    rules,
		routings: routings,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PreviewRouting evaluates the active rules without persisting anything.
func (s *Service) PreviewRouting(ctx context.Context, attrs models.RoutingAttributes) (models.RoutingResult, error) {
	rules, err := s.rules.ActiveRules(ctx)
	if err != nil {
		return models.RoutingResult{}, err
	}
	rule, err := SelectRule(rules, attrs.Context())
	if err != nil {
		return models.RoutingResult{}, err
	}
	return resultOf(rule), nil
}

// RouteIdea selects a rule for the idea and stores the decision on its
// routing record, creating the record on first routing.
func (s *Service) RouteIdea(ctx context.Context, req models.RouteIdeaRequest, actor string) (models.IdeaRouting, models.RoutingResult, error) {
	if req.IdeaID == uuid.Nil {
		return models.IdeaRouting{}, models.RoutingResult{}, apperr.Validation("idea_id is required")
	}
	return s.route(ctx, req.IdeaID, req.UserID, func(models.RoutingAttributes) models.RoutingAttributes {
		return req.Attributes
	}, actor, "")
}

// RerouteIdea merges patch over the stored attributes and routes again.
// Routing restarts the lifecycle: scores, tier and calendar placement are cleared.
func (s *Service) RerouteIdea(ctx context.Context, routingID uuid.UUID, patch models.RoutingAttributes, actor string) (models.IdeaRouting, models.RoutingResult, error) {
	existing, err := s.routings.GetRouting(ctx, routingID)
	if err != nil {
		return models.IdeaRouting{}, models.RoutingResult{}, err
	}
	return s.route(ctx, existing.IdeaID, "", func(stored models.RoutingAttributes) models.RoutingAttributes {
		return stored.Merge(patch)
	}, actor, "reroute")
}

func (s *Service) route(
	ctx context.Context,
	ideaID uuid.UUID,
	userID string,
	attributes func(stored models.RoutingAttributes) models.RoutingAttributes,
	actor, reason string,
) (models.IdeaRouting, models.RoutingResult, error) {
	rules, err := s.rules.ActiveRules(ctx)
	if err != nil {
		return models.IdeaRouting{}, models.RoutingResult{}, err
	}

	var (
		result models.RoutingResult
		from   models.RoutingStatus
		attrs  models.RoutingAttributes
	)
	routing, err := s.routings.UpsertByIdea(ctx, ideaID, func(r *models.IdeaRouting, created bool) error {
		from = r.Status
		if created || from == "" {
			from = models.StatusUnrouted
		}
		if err := statuslog.Validate(from, models.StatusRouted); err != nil {
			return err
		}

		attrs = attributes(r.Attributes)
		rule, err := SelectRule(rules, attrs.Context())
		if err != nil {
			return err
		}
		result = resultOf(rule)

		now := s.now()
		if userID != "" {
			r.UserID = userID
		}
		r.Attributes = attrs
		r.Destination = rule.Destination
		r.NeedsVideo = rule.NeedsVideo
		ruleID := rule.ID
		r.MatchedRuleID = &ruleID
		r.Status = models.StatusRouted
		r.RoutedAt = &now
		clearForwardState(r)
		return nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrConfiguration) {
			metrics.IncRoutingFailure()
			logger.WithComponent("router").WithError(err).WithField("idea_id", ideaID).Error("routing failed")
		}
		return models.IdeaRouting{}, models.RoutingResult{}, err
	}

	metrics.IncRouted()
	logger.WithComponent("router").WithFields(map[string]interface{}{
		"idea_id":     ideaID,
		"routing_id":  routing.ID,
		"rule":        result.RuleName,
		"destination": result.Destination,
		"needs_video": result.NeedsVideo,
	}).Info("idea routed")

	s.recorder.Record(ctx, statuslog.Transition{
		Routing: routing,
		From:    from,
		Actor:   actor,
		Reason:  reason,
		Metadata: map[string]interface{}{
			"rule_id":     result.RuleID.String(),
			"rule_name":   result.RuleName,
			"destination": string(result.Destination),
			"needs_video": string(result.NeedsVideo),
			"attributes":  attrs.Context(),
		},
	})
	return routing, result, nil
}

func clearForwardState(r *models.IdeaRouting) {
	r.Scores = nil
	r.Tier = ""
	r.OverrideScore = nil
	r.OverrideReason = ""
	r.ScoredAt = nil
	r.CalendarDate = nil
	r.SlotID = nil
	r.Stagger = nil
	r.IsStaggered = false
	r.ScheduledAt = nil
}

func resultOf(rule models.RoutingRule) models.RoutingResult {
	return models.RoutingResult{
		Destination: rule.Destination,
		NeedsVideo:  rule.NeedsVideo,
		RuleID:      rule.ID,
		RuleName:    rule.Name,
	}
}
