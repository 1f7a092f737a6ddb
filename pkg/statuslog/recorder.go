package statuslog

import (
	"context"

	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
)

type Store interface {
	Append(ctx context.Context, entry models.RoutingStatusLog) error
	List(ctx context.Context, routingID uuid.UUID, limit int) ([]models.RoutingStatusLog, error)
}

// EventPublisher receives every recorded transition. Optional.
type EventPublisher interface {
	PublishStatusChange(ctx context.Context, change models.StatusChange) error
}

// Recorder writes the audit trail after the primary state change has been
// persisted. Failures are logged and swallowed: the trail is diagnostic.
type Recorder struct {
	store     Store
	publisher EventPublisher
}

func NewRecorder(store Store, publisher EventPublisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

// Transition describes one recorded status change.
type Transition struct {
	Routing  models.IdeaRouting
	From     models.RoutingStatus
	Actor    string
	Reason   string
	Metadata map[string]interface{}
}

func (r *Recorder) Record(ctx context.Context, t Transition) {
	if t.Actor == "" {
		t.Actor = "system"
	}
	if t.Metadata == nil {
		t.Metadata = map[string]interface{}{}
	}
	if !CanTransition(t.From, t.Routing.Status) {
		logger.WithComponent("statuslog").WithFields(map[string]interface{}{
			"routing_id": t.Routing.ID,
			"from":       t.From,
			"to":         t.Routing.Status,
		}).Warn("recording transition outside the lifecycle whitelist")
	}

	entry := models.RoutingStatusLog{
		IdeaRoutingID: t.Routing.ID,
		FromStatus:    t.From,
		ToStatus:      t.Routing.Status,
		ChangedBy:     t.Actor,
		ChangeReason:  t.Reason,
		Metadata:      t.Metadata,
	}
	if err := r.store.Append(ctx, entry); err != nil {
		logger.WithComponent("statuslog").WithError(err).WithField("routing_id", t.Routing.ID).Error("failed to append status log")
	}

	if r.publisher == nil {
		return
	}
	change := models.StatusChange{
		IdeaRoutingID: t.Routing.ID,
		IdeaID:        t.Routing.IdeaID,
		FromStatus:    t.From,
		ToStatus:      t.Routing.Status,
		ChangedBy:     t.Actor,
		ChangeReason:  t.Reason,
		Metadata:      t.Metadata,
	}
	if err := r.publisher.PublishStatusChange(ctx, change); err != nil {
		logger.WithComponent("statuslog").WithError(err).WithField("routing_id", t.Routing.ID).Warn("failed to publish status change")
	}
}

func (r *Recorder) List(ctx context.Context, routingID uuid.UUID, limit int) ([]models.RoutingStatusLog, error) {
	return r.store.List(ctx, routingID, limit)
}
