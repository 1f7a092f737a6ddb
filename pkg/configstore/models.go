package configstore

import (
	"encoding/json"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type publicationModel struct {
	ID           uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	Slug         string    `gorm:"column:slug;uniqueIndex"`
	Name         string    `gorm:"column:name"`
	WeeklyTarget int       `gorm:"column:weekly_target"`
	IsActive     bool      `gorm:"column:is_active"`
	SortOrder    int       `gorm:"column:sort_order"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (publicationModel) TableName() string { return "publications" }

type calendarSlotModel struct {
	ID            uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	PublicationID uuid.UUID      `gorm:"column:publication_id;type:uuid;index"`
	DayOfWeek     int            `gorm:"column:day_of_week"`
	IsActive      bool           `gorm:"column:is_active"`
	IsFixed       bool           `gorm:"column:is_fixed"`
	FixedFormat   string         `gorm:"column:fixed_format"`
	PreferredTier string         `gorm:"column:preferred_tier"`
	SkipRules     datatypes.JSON `gorm:"column:skip_rules"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (calendarSlotModel) TableName() string { return "calendar_slots" }

type scoringRubricModel struct {
	ID            uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	PublicationID uuid.UUID `gorm:"column:publication_id;type:uuid;index"`
	Slug          string    `gorm:"column:slug"`
	Name          string    `gorm:"column:name"`
	Description   string    `gorm:"column:description"`
	Weight        float64   `gorm:"column:weight"`
	IsActive      bool      `gorm:"column:is_active"`
	SortOrder     int       `gorm:"column:sort_order"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (scoringRubricModel) TableName() string { return "scoring_rubrics" }

type routingRuleModel struct {
	ID          uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	Name        string         `gorm:"column:name;uniqueIndex"`
	Description string         `gorm:"column:description"`
	Conditions  datatypes.JSON `gorm:"column:conditions"`
	Destination string         `gorm:"column:destination"`
	NeedsVideo  string         `gorm:"column:needs_video"`
	Priority    int            `gorm:"column:priority;index"`
	IsActive    bool           `gorm:"column:is_active"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at"`
}

func (routingRuleModel) TableName() string { return "routing_rules" }

type tierThresholdModel struct {
	ID            uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	Tier          string         `gorm:"column:tier;uniqueIndex"`
	MinScore      float64        `gorm:"column:min_score"`
	MaxScore      *float64       `gorm:"column:max_score"`
	DisplayName   string         `gorm:"column:display_name"`
	AutoStagger   bool           `gorm:"column:auto_stagger"`
	PreferredDays datatypes.JSON `gorm:"column:preferred_days"`
	Actions       datatypes.JSON `gorm:"column:actions"`
	IsActive      bool           `gorm:"column:is_active"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func (tierThresholdModel) TableName() string { return "tier_thresholds" }

type settingModel struct {
	Key       string         `gorm:"primaryKey;column:key"`
	Value     datatypes.JSON `gorm:"column:value"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (settingModel) TableName() string { return "routing_settings" }

func (m publicationModel) toDomain() models.Publication {
	return models.Publication{
		ID:           m.ID,
		Slug:         m.Slug,
		Name:         m.Name,
		WeeklyTarget: m.WeeklyTarget,
		IsActive:     m.IsActive,
		SortOrder:    m.SortOrder,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func (m calendarSlotModel) toDomain(slug string) models.CalendarSlot {
	slot := models.CalendarSlot{
		ID:              m.ID,
		PublicationID:   m.PublicationID,
		PublicationSlug: slug,
		DayOfWeek:       m.DayOfWeek,
		IsActive:        m.IsActive,
		IsFixed:         m.IsFixed,
		FixedFormat:     m.FixedFormat,
		PreferredTier:   models.Tier(m.PreferredTier),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if len(m.SkipRules) > 0 {
		_ = json.Unmarshal(m.SkipRules, &slot.SkipRules)
	}
	return slot
}

func (m scoringRubricModel) toDomain() models.ScoringRubric {
	return models.ScoringRubric{
		ID:            m.ID,
		PublicationID: m.PublicationID,
		Slug:          m.Slug,
		Name:          m.Name,
		Description:   m.Description,
		Weight:        m.Weight,
		IsActive:      m.IsActive,
		SortOrder:     m.SortOrder,
	}
}

func (m routingRuleModel) toDomain() (models.RoutingRule, error) {
	rule := models.RoutingRule{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		Destination: models.Destination(m.Destination),
		NeedsVideo:  models.NeedsVideo(m.NeedsVideo),
		Priority:    m.Priority,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if err := json.Unmarshal(m.Conditions, &rule.Conditions); err != nil {
		return models.RoutingRule{}, err
	}
	return rule, nil
}

func (m tierThresholdModel) toDomain() models.TierThreshold {
	threshold := models.TierThreshold{
		ID:          m.ID,
		Tier:        models.Tier(m.Tier),
		MinScore:    m.MinScore,
		MaxScore:    m.MaxScore,
		DisplayName: m.DisplayName,
		AutoStagger: m.AutoStagger,
		IsActive:    m.IsActive,
	}
	if len(m.PreferredDays) > 0 {
		_ = json.Unmarshal(m.PreferredDays, &threshold.PreferredDays)
	}
	if len(m.Actions) > 0 {
		_ = json.Unmarshal(m.Actions, &threshold.Actions)
	}
	return threshold
}

func toJSON(value interface{}) datatypes.JSON {
	data, err := json.Marshal(value)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}
