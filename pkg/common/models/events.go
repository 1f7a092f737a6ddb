package models

import (
	"time"

	"github.com/google/uuid"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // status_changed, idea_structured
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventStatusChanged  = "status_changed"
	EventIdeaStructured = "idea_structured"
)

// StatusChange is published whenever an idea moves through the lifecycle.
type StatusChange struct {
	IdeaRoutingID uuid.UUID              `json:"idea_routing_id"`
	IdeaID        uuid.UUID              `json:"idea_id"`
	FromStatus    RoutingStatus          `json:"from_status"`
	ToStatus      RoutingStatus          `json:"to_status"`
	ChangedBy     string                 `json:"changed_by"`
	ChangeReason  string                 `json:"change_reason,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
