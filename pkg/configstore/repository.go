package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the typed data access layer for routing configuration.
// It holds no state between calls; every read goes to the database.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&publicationModel{},
		&calendarSlotModel{},
		&scoringRubricModel{},
		&routingRuleModel{},
		&tierThresholdModel{},
		&settingModel{},
	)
}

func notFound(err error, entity string, key interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(entity, key)
	}
	return err
}

func affected(result *gorm.DB, entity string, key interface{}) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound(entity, key)
	}
	return nil
}

// Publications

func (r *Repository) ListPublications(ctx context.Context, activeOnly bool) ([]models.Publication, error) {
	query := r.db.WithContext(ctx).Order("sort_order, slug")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []publicationModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	publications := make([]models.Publication, 0, len(rows))
	for _, row := range rows {
		publications = append(publications, row.toDomain())
	}
	return publications, nil
}

func (r *Repository) GetPublication(ctx context.Context, id uuid.UUID) (models.Publication, error) {
	var row publicationModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return models.Publication{}, notFound(err, "publication", id)
	}
	return row.toDomain(), nil
}

func (r *Repository) GetPublicationBySlug(ctx context.Context, slug string) (models.Publication, error) {
	var row publicationModel
	if err := r.db.WithContext(ctx).First(&row, "slug = ?", slug).Error; err != nil {
		return models.Publication{}, notFound(err, "publication", slug)
	}
	return row.toDomain(), nil
}

func (r *Repository) CreatePublication(ctx context.Context, p models.Publication) (models.Publication, error) {
	now := time.Now().UTC()
	row := &publicationModel{
		ID:           uuid.New(),
		Slug:         p.Slug,
		Name:         p.Name,
		WeeklyTarget: p.WeeklyTarget,
		IsActive:     p.IsActive,
		SortOrder:    p.SortOrder,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.Publication{}, err
	}
	return row.toDomain(), nil
}

// UpdatePublication changes the mutable fields; the slug is the identity and stays.
func (r *Repository) UpdatePublication(ctx context.Context, p models.Publication) (models.Publication, error) {
	result := r.db.WithContext(ctx).Model(&publicationModel{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
		"name":          p.Name,
		"weekly_target": p.WeeklyTarget,
		"is_active":     p.IsActive,
		"sort_order":    p.SortOrder,
		"updated_at":    time.Now().UTC(),
	})
	if err := affected(result, "publication", p.ID); err != nil {
		return models.Publication{}, err
	}
	return r.GetPublication(ctx, p.ID)
}

// Calendar slots

func (r *Repository) ListSlots(ctx context.Context, publicationID *uuid.UUID, activeOnly bool) ([]models.CalendarSlot, error) {
	query := r.db.WithContext(ctx).Order("day_of_week, created_at")
	if publicationID != nil {
		query = query.Where("publication_id = ?", *publicationID)
	}
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []calendarSlotModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	slugs, err := r.publicationSlugs(ctx)
	if err != nil {
		return nil, err
	}
	slots := make([]models.CalendarSlot, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, row.toDomain(slugs[row.PublicationID]))
	}
	return slots, nil
}

func (r *Repository) GetSlot(ctx context.Context, id uuid.UUID) (models.CalendarSlot, error) {
	var row calendarSlotModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return models.CalendarSlot{}, notFound(err, "calendar slot", id)
	}
	pub, err := r.GetPublication(ctx, row.PublicationID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return models.CalendarSlot{}, err
	}
	return row.toDomain(pub.Slug), nil
}

func (r *Repository) CreateSlot(ctx context.Context, s models.CalendarSlot) (models.CalendarSlot, error) {
	now := time.Now().UTC()
	row := &calendarSlotModel{
		ID:            uuid.New(),
		PublicationID: s.PublicationID,
		DayOfWeek:     s.DayOfWeek,
		IsActive:      s.IsActive,
		IsFixed:       s.IsFixed,
		FixedFormat:   s.FixedFormat,
		PreferredTier: string(s.PreferredTier),
		SkipRules:     toJSON(nonNilSkipRules(s.SkipRules)),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.CalendarSlot{}, err
	}
	return r.GetSlot(ctx, row.ID)
}

func (r *Repository) UpdateSlot(ctx context.Context, s models.CalendarSlot) (models.CalendarSlot, error) {
	result := r.db.WithContext(ctx).Model(&calendarSlotModel{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
		"day_of_week":    s.DayOfWeek,
		"is_active":      s.IsActive,
		"is_fixed":       s.IsFixed,
		"fixed_format":   s.FixedFormat,
		"preferred_tier": string(s.PreferredTier),
		"skip_rules":     toJSON(nonNilSkipRules(s.SkipRules)),
		"updated_at":     time.Now().UTC(),
	})
	if err := affected(result, "calendar slot", s.ID); err != nil {
		return models.CalendarSlot{}, err
	}
	return r.GetSlot(ctx, s.ID)
}

func (r *Repository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	return affected(r.db.WithContext(ctx).Delete(&calendarSlotModel{}, "id = ?", id), "calendar slot", id)
}

func (r *Repository) publicationSlugs(ctx context.Context) (map[uuid.UUID]string, error) {
	var rows []publicationModel
	if err := r.db.WithContext(ctx).Select("id", "slug").Find(&rows).Error; err != nil {
		return nil, err
	}
	slugs := make(map[uuid.UUID]string, len(rows))
	for _, row := range rows {
		slugs[row.ID] = row.Slug
	}
	return slugs, nil
}

func nonNilSkipRules(rules []models.SkipRule) []models.SkipRule {
	if rules == nil {
		return []models.SkipRule{}
	}
	return rules
}

// Scoring rubrics

func (r *Repository) ListRubrics(ctx context.Context, publicationID uuid.UUID, activeOnly bool) ([]models.ScoringRubric, error) {
	query := r.db.WithContext(ctx).Where("publication_id = ?", publicationID).Order("sort_order, slug")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []scoringRubricModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	rubrics := make([]models.ScoringRubric, 0, len(rows))
	for _, row := range rows {
		rubrics = append(rubrics, row.toDomain())
	}
	return rubrics, nil
}

func (r *Repository) CreateRubric(ctx context.Context, rb models.ScoringRubric) (models.ScoringRubric, error) {
	now := time.Now().UTC()
	row := &scoringRubricModel{
		ID:            uuid.New(),
		PublicationID: rb.PublicationID,
		Slug:          rb.Slug,
		Name:          rb.Name,
		Description:   rb.Description,
		Weight:        rb.Weight,
		IsActive:      rb.IsActive,
		SortOrder:     rb.SortOrder,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.ScoringRubric{}, err
	}
	return row.toDomain(), nil
}

func (r *Repository) UpdateRubric(ctx context.Context, rb models.ScoringRubric) (models.ScoringRubric, error) {
	result := r.db.WithContext(ctx).Model(&scoringRubricModel{}).Where("id = ?", rb.ID).Updates(map[string]interface{}{
		"name":        rb.Name,
		"description": rb.Description,
		"weight":      rb.Weight,
		"is_active":   rb.IsActive,
		"sort_order":  rb.SortOrder,
		"updated_at":  time.Now().UTC(),
	})
	if err := affected(result, "scoring rubric", rb.ID); err != nil {
		return models.ScoringRubric{}, err
	}
	var row scoringRubricModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", rb.ID).Error; err != nil {
		return models.ScoringRubric{}, notFound(err, "scoring rubric", rb.ID)
	}
	return row.toDomain(), nil
}

func (r *Repository) DeleteRubric(ctx context.Context, id uuid.UUID) error {
	return affected(r.db.WithContext(ctx).Delete(&scoringRubricModel{}, "id = ?", id), "scoring rubric", id)
}

// Routing rules

// ListRules returns rules ordered by priority, highest first.
func (r *Repository) ListRules(ctx context.Context, activeOnly bool) ([]models.RoutingRule, error) {
	query := r.db.WithContext(ctx).Order("priority DESC, name")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []routingRuleModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	rules := make([]models.RoutingRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toDomain()
		if err != nil {
			return nil, apperr.Configuration("rule %q has an unreadable condition: %v", row.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// ActiveRules implements router.RuleSource.
func (r *Repository) ActiveRules(ctx context.Context) ([]models.RoutingRule, error) {
	return r.ListRules(ctx, true)
}

func (r *Repository) GetRule(ctx context.Context, id uuid.UUID) (models.RoutingRule, error) {
	var row routingRuleModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return models.RoutingRule{}, notFound(err, "routing rule", id)
	}
	return row.toDomain()
}

func (r *Repository) CreateRule(ctx context.Context, rule models.RoutingRule) (models.RoutingRule, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return models.RoutingRule{}, fmt.Errorf("encode conditions: %w", err)
	}
	now := time.Now().UTC()
	row := &routingRuleModel{
		ID:          uuid.New(),
		Name:        rule.Name,
		Description: rule.Description,
		Conditions:  conditions,
		Destination: string(rule.Destination),
		NeedsVideo:  string(rule.NeedsVideo),
		Priority:    rule.Priority,
		IsActive:    rule.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.RoutingRule{}, err
	}
	return row.toDomain()
}

func (r *Repository) UpdateRule(ctx context.Context, rule models.RoutingRule) (models.RoutingRule, error) {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return models.RoutingRule{}, fmt.Errorf("encode conditions: %w", err)
	}
	result := r.db.WithContext(ctx).Model(&routingRuleModel{}).Where("id = ?", rule.ID).Updates(map[string]interface{}{
		"name":        rule.Name,
		"description": rule.Description,
		"conditions":  conditions,
		"destination": string(rule.Destination),
		"needs_video": string(rule.NeedsVideo),
		"priority":    rule.Priority,
		"is_active":   rule.IsActive,
		"updated_at":  time.Now().UTC(),
	})
	if err := affected(result, "routing rule", rule.ID); err != nil {
		return models.RoutingRule{}, err
	}
	return r.GetRule(ctx, rule.ID)
}

func (r *Repository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	return affected(r.db.WithContext(ctx).Delete(&routingRuleModel{}, "id = ?", id), "routing rule", id)
}

// Tier thresholds

// ListThresholds returns thresholds ordered by min_score, highest first.
func (r *Repository) ListThresholds(ctx context.Context, activeOnly bool) ([]models.TierThreshold, error) {
	query := r.db.WithContext(ctx).Order("min_score DESC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	var rows []tierThresholdModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	thresholds := make([]models.TierThreshold, 0, len(rows))
	for _, row := range rows {
		thresholds = append(thresholds, row.toDomain())
	}
	return thresholds, nil
}

// ActiveThresholds implements scorer.ThresholdSource.
func (r *Repository) ActiveThresholds(ctx context.Context) ([]models.TierThreshold, error) {
	return r.ListThresholds(ctx, true)
}

func (r *Repository) CreateThreshold(ctx context.Context, t models.TierThreshold) (models.TierThreshold, error) {
	now := time.Now().UTC()
	row := &tierThresholdModel{
		ID:            uuid.New(),
		Tier:          string(t.Tier),
		MinScore:      t.MinScore,
		MaxScore:      t.MaxScore,
		DisplayName:   t.DisplayName,
		AutoStagger:   t.AutoStagger,
		PreferredDays: toJSON(t.PreferredDays),
		Actions:       toJSON(t.Actions),
		IsActive:      t.IsActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return models.TierThreshold{}, err
	}
	return row.toDomain(), nil
}

func (r *Repository) UpdateThreshold(ctx context.Context, t models.TierThreshold) (models.TierThreshold, error) {
	result := r.db.WithContext(ctx).Model(&tierThresholdModel{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
		"min_score":      t.MinScore,
		"max_score":      t.MaxScore,
		"display_name":   t.DisplayName,
		"auto_stagger":   t.AutoStagger,
		"preferred_days": toJSON(t.PreferredDays),
		"actions":        toJSON(t.Actions),
		"is_active":      t.IsActive,
		"updated_at":     time.Now().UTC(),
	})
	if err := affected(result, "tier threshold", t.ID); err != nil {
		return models.TierThreshold{}, err
	}
	var row tierThresholdModel
	if err := r.db.WithContext(ctx).First(&row, "id = ?", t.ID).Error; err != nil {
		return models.TierThreshold{}, notFound(err, "tier threshold", t.ID)
	}
	return row.toDomain(), nil
}

func (r *Repository) DeleteThreshold(ctx context.Context, id uuid.UUID) error {
	return affected(r.db.WithContext(ctx).Delete(&tierThresholdModel{}, "id = ?", id), "tier threshold", id)
}

// Named settings

// GetSetting decodes the stored value for key into out. It reports false when
// the key has never been written.
func (r *Repository) GetSetting(ctx context.Context, key string, out interface{}) (bool, error) {
	var row settingModel
	err := r.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(row.Value, out); err != nil {
		return false, apperr.Configuration("setting %s is not valid JSON: %v", key, err)
	}
	return true, nil
}

func (r *Repository) PutSetting(ctx context.Context, key string, value interface{}) error {
	row := settingModel{Key: key, Value: toJSON(value), UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Save(&row).Error
}

// BufferAlerts returns routing.buffer_alerts, or the defaults when unset.
func (r *Repository) BufferAlerts(ctx context.Context) (models.BufferAlertSettings, error) {
	settings := models.DefaultBufferAlerts()
	if _, err := r.GetSetting(ctx, models.SettingBufferAlerts, &settings); err != nil {
		return models.BufferAlertSettings{}, err
	}
	return settings, nil
}

// StaggerSettings returns routing.premium_stagger, or the defaults when unset.
func (r *Repository) StaggerSettings(ctx context.Context) (models.StaggerSettings, error) {
	settings := models.DefaultStagger()
	if _, err := r.GetSetting(ctx, models.SettingPremiumStagger, &settings); err != nil {
		return models.StaggerSettings{}, err
	}
	return settings, nil
}
