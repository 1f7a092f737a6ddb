package ideastore

import (
	"encoding/json"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ideaRoutingModel struct {
	ID             uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	IdeaID         uuid.UUID      `gorm:"column:idea_id;type:uuid;uniqueIndex"`
	UserID         string         `gorm:"column:user_id"`
	Attributes     datatypes.JSON `gorm:"column:attributes"`
	Destination    string         `gorm:"column:destination"`
	NeedsVideo     string         `gorm:"column:needs_video"`
	MatchedRuleID  *uuid.UUID     `gorm:"column:matched_rule_id;type:uuid"`
	Scores         datatypes.JSON `gorm:"column:scores"`
	Tier           string         `gorm:"column:tier"`
	OverrideScore  *float64       `gorm:"column:override_score"`
	OverrideReason string         `gorm:"column:override_reason"`
	CalendarDate   *time.Time     `gorm:"column:calendar_date;type:date;index"`
	SlotID         *uuid.UUID     `gorm:"column:slot_id;type:uuid"`
	Stagger        datatypes.JSON `gorm:"column:stagger"`
	IsStaggered    bool           `gorm:"column:is_staggered"`
	Status         string         `gorm:"column:status;index"`
	RoutedAt       *time.Time     `gorm:"column:routed_at"`
	ScoredAt       *time.Time     `gorm:"column:scored_at"`
	ScheduledAt    *time.Time     `gorm:"column:scheduled_at"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at"`
}

func (ideaRoutingModel) TableName() string { return "idea_routings" }

type evergreenEntryModel struct {
	ID            uuid.UUID  `gorm:"primaryKey;column:id;type:uuid"`
	IdeaRoutingID uuid.UUID  `gorm:"column:idea_routing_id;type:uuid;index;uniqueIndex:idx_evergreen_open_entry,where:pulled_at IS NULL"`
	PublicationID uuid.UUID  `gorm:"column:publication_id;type:uuid;index;uniqueIndex:idx_evergreen_open_entry"`
	Score         float64    `gorm:"column:score"`
	Tier          string     `gorm:"column:tier"`
	IsStale       bool       `gorm:"column:is_stale"`
	AddedAt       time.Time  `gorm:"column:added_at"`
	PulledAt      *time.Time `gorm:"column:pulled_at"`
	PulledForDate *time.Time `gorm:"column:pulled_for_date;type:date"`
	PullReason    string     `gorm:"column:pull_reason"`
}

func (evergreenEntryModel) TableName() string { return "evergreen_queue" }

func (m ideaRoutingModel) toDomain() models.IdeaRouting {
	routing := models.IdeaRouting{
		ID:             m.ID,
		IdeaID:         m.IdeaID,
		UserID:         m.UserID,
		Destination:    models.Destination(m.Destination),
		NeedsVideo:     models.NeedsVideo(m.NeedsVideo),
		MatchedRuleID:  m.MatchedRuleID,
		Tier:           models.Tier(m.Tier),
		OverrideScore:  m.OverrideScore,
		OverrideReason: m.OverrideReason,
		CalendarDate:   m.CalendarDate,
		SlotID:         m.SlotID,
		IsStaggered:    m.IsStaggered,
		Status:         models.RoutingStatus(m.Status),
		RoutedAt:       m.RoutedAt,
		ScoredAt:       m.ScoredAt,
		ScheduledAt:    m.ScheduledAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if len(m.Attributes) > 0 {
		_ = json.Unmarshal(m.Attributes, &routing.Attributes)
	}
	if len(m.Scores) > 0 {
		_ = json.Unmarshal(m.Scores, &routing.Scores)
	}
	if len(m.Stagger) > 0 && string(m.Stagger) != "null" {
		var stagger models.StaggerDates
		if err := json.Unmarshal(m.Stagger, &stagger); err == nil {
			routing.Stagger = &stagger
		}
	}
	if m.CalendarDate != nil {
		date := models.DateOf(*m.CalendarDate)
		routing.CalendarDate = &date
	}
	return routing
}

func fromDomain(r models.IdeaRouting) ideaRoutingModel {
	return ideaRoutingModel{
		ID:             r.ID,
		IdeaID:         r.IdeaID,
		UserID:         r.UserID,
		Attributes:     toJSON(r.Attributes),
		Destination:    string(r.Destination),
		NeedsVideo:     string(r.NeedsVideo),
		MatchedRuleID:  r.MatchedRuleID,
		Scores:         toJSON(r.Scores),
		Tier:           string(r.Tier),
		OverrideScore:  r.OverrideScore,
		OverrideReason: r.OverrideReason,
		CalendarDate:   r.CalendarDate,
		SlotID:         r.SlotID,
		Stagger:        toJSON(r.Stagger),
		IsStaggered:    r.IsStaggered,
		Status:         string(r.Status),
		RoutedAt:       r.RoutedAt,
		ScoredAt:       r.ScoredAt,
		ScheduledAt:    r.ScheduledAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (m evergreenEntryModel) toDomain() models.EvergreenQueueEntry {
	return models.EvergreenQueueEntry{
		ID:            m.ID,
		IdeaRoutingID: m.IdeaRoutingID,
		PublicationID: m.PublicationID,
		Score:         m.Score,
		Tier:          models.Tier(m.Tier),
		IsStale:       m.IsStale,
		AddedAt:       m.AddedAt,
		PulledAt:      m.PulledAt,
		PulledForDate: m.PulledForDate,
		PullReason:    m.PullReason,
	}
}

func toJSON(value interface{}) datatypes.JSON {
	data, err := json.Marshal(value)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}
