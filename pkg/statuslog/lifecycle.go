package statuslog

import (
	"fmt"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
)

// allowedFrom lists, per target status, the statuses an idea may leave to reach it.
// Re-routing restarts the pipeline from any state; re-scoring is allowed until
// the idea has been placed on the calendar or queued.
var allowedFrom = map[models.RoutingStatus][]models.RoutingStatus{
	models.StatusRouted: {
		models.StatusUnrouted,
		models.StatusRouted,
		models.StatusScored,
		models.StatusKilled,
		models.StatusSlotted,
		models.StatusScheduled,
	},
	models.StatusScored:    {models.StatusRouted, models.StatusScored, models.StatusKilled},
	models.StatusKilled:    {models.StatusRouted, models.StatusScored, models.StatusKilled},
	models.StatusScheduled: {models.StatusScored, models.StatusSlotted, models.StatusScheduled},
	models.StatusSlotted:   {models.StatusScored, models.StatusSlotted},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to models.RoutingStatus) bool {
	for _, status := range allowedFrom[to] {
		if status == from {
			return true
		}
	}
	return false
}

// Validate returns an ErrInvalidTransition when from -> to is not whitelisted.
func Validate(from, to models.RoutingStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, from, to)
}
