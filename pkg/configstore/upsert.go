package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Upserts keyed by natural keys, used by configuration seeding.

func (r *Repository) UpsertPublication(ctx context.Context, p models.Publication) (models.Publication, error) {
	var row publicationModel
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Where(publicationModel{Slug: p.Slug}).
		Attrs(map[string]interface{}{"id": uuid.New(), "created_at": now}).
		Assign(map[string]interface{}{
			"name":          p.Name,
			"weekly_target": p.WeeklyTarget,
			"is_active":     p.IsActive,
			"sort_order":    p.SortOrder,
			"updated_at":    now,
		}).
		FirstOrCreate(&row).Error
	if err != nil {
		return models.Publication{}, fmt.Errorf("upsert publication %s: %w", p.Slug, err)
	}
	return row.toDomain(), nil
}

// UpsertSlot matches on publication and day of week.
func (r *Repository) UpsertSlot(ctx context.Context, s models.CalendarSlot) error {
	var row calendarSlotModel
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Where("publication_id = ? AND day_of_week = ?", s.PublicationID, s.DayOfWeek).
		Attrs(map[string]interface{}{
			"id":             uuid.New(),
			"publication_id": s.PublicationID,
			"day_of_week":    s.DayOfWeek,
			"created_at":     now,
		}).
		Assign(map[string]interface{}{
			"is_active":      s.IsActive,
			"is_fixed":       s.IsFixed,
			"fixed_format":   s.FixedFormat,
			"preferred_tier": string(s.PreferredTier),
			"skip_rules":     toJSON(nonNilSkipRules(s.SkipRules)),
			"updated_at":     now,
		}).
		FirstOrCreate(&row).Error
}

// UpsertRubric matches on publication and rubric slug.
func (r *Repository) UpsertRubric(ctx context.Context, rb models.ScoringRubric) error {
	var row scoringRubricModel
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Where("publication_id = ? AND slug = ?", rb.PublicationID, rb.Slug).
		Attrs(map[string]interface{}{
			"id":             uuid.New(),
			"publication_id": rb.PublicationID,
			"slug":           rb.Slug,
			"created_at":     now,
		}).
		Assign(map[string]interface{}{
			"name":        rb.Name,
			"description": rb.Description,
			"weight":      rb.Weight,
			"is_active":   rb.IsActive,
			"sort_order":  rb.SortOrder,
			"updated_at":  now,
		}).
		FirstOrCreate(&row).Error
}

// UpsertRule matches on rule name.
func (r *Repository) UpsertRule(ctx context.Context, rule models.RoutingRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("encode conditions for %s: %w", rule.Name, err)
	}
	var row routingRuleModel
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Where(routingRuleModel{Name: rule.Name}).
		Attrs(map[string]interface{}{"id": uuid.New(), "created_at": now}).
		Assign(map[string]interface{}{
			"description": rule.Description,
			"conditions":  conditions,
			"destination": string(rule.Destination),
			"needs_video": string(rule.NeedsVideo),
			"priority":    rule.Priority,
			"is_active":   rule.IsActive,
			"updated_at":  now,
		}).
		FirstOrCreate(&row).Error
}

// UpsertThreshold matches on tier.
func (r *Repository) UpsertThreshold(ctx context.Context, t models.TierThreshold) error {
	var row tierThresholdModel
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Where(tierThresholdModel{Tier: string(t.Tier)}).
		Attrs(map[string]interface{}{"id": uuid.New(), "created_at": now}).
		Assign(map[string]interface{}{
			"min_score":      t.MinScore,
			"max_score":      t.MaxScore,
			"display_name":   t.DisplayName,
			"auto_stagger":   t.AutoStagger,
			"preferred_days": toJSON(t.PreferredDays),
			"actions":        toJSON(t.Actions),
			"is_active":      t.IsActive,
			"updated_at":     now,
		}).
		FirstOrCreate(&row).Error
}

// Transaction runs fn against a repository bound to one database transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}
