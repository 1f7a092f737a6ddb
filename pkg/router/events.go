package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/kafka"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
)

// HandleIdeaEvent routes the idea carried by an idea_structured event. Other
// event types are ignored. Payloads that can never be routed are discarded;
// store failures are returned so the message is redelivered.
func (s *Service) HandleIdeaEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventIdeaStructured {
		return nil
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", kafka.ErrDiscard, err)
	}
	var req models.RouteIdeaRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: decode idea: %v", kafka.ErrDiscard, err)
	}
	if req.IdeaID == uuid.Nil {
		return fmt.Errorf("%w: event %s has no idea_id", kafka.ErrDiscard, event.ID)
	}

	actor := event.Source
	if actor == "" {
		actor = "system"
	}
	routing, result, err := s.RouteIdea(ctx, req, actor)
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) || errors.Is(err, apperr.ErrInvariant) {
			return fmt.Errorf("%w: %v", kafka.ErrDiscard, err)
		}
		return err
	}
	logger.WithComponent("router").WithFields(map[string]interface{}{
		"event_id":    event.ID,
		"routing_id":  routing.ID,
		"destination": result.Destination,
	}).Debug("inbound idea routed")
	return nil
}
