package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"gopkg.in/yaml.v3"
)

type File struct {
	Publications []Publication `yaml:"publications"`
	Rules        []Rule        `yaml:"rules"`
	Thresholds   []Threshold   `yaml:"thresholds"`
	Settings     Settings      `yaml:"settings"`
}

type Publication struct {
	Slug         string   `yaml:"slug"`
	Name         string   `yaml:"name"`
	WeeklyTarget int      `yaml:"weekly_target"`
	Active       *bool    `yaml:"active"`
	SortOrder    int      `yaml:"sort_order"`
	Slots        []Slot   `yaml:"slots"`
	Rubrics      []Rubric `yaml:"rubrics"`
}

type Slot struct {
	DayOfWeek     int               `yaml:"day_of_week"`
	Active        *bool             `yaml:"active"`
	Fixed         bool              `yaml:"fixed"`
	FixedFormat   string            `yaml:"fixed_format"`
	PreferredTier string            `yaml:"preferred_tier"`
	SkipRules     []models.SkipRule `yaml:"skip_rules"`
}

type Rubric struct {
	Slug        string  `yaml:"slug"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Weight      float64 `yaml:"weight"`
	Active      *bool   `yaml:"active"`
	SortOrder   int     `yaml:"sort_order"`
}

// Rule conditions use the same shape as the stored JSON.
type Rule struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Priority    int         `yaml:"priority"`
	Destination string      `yaml:"destination"`
	NeedsVideo  string      `yaml:"needs_video"`
	Active      *bool       `yaml:"active"`
	Conditions  interface{} `yaml:"conditions"`
}

type Threshold struct {
	Tier          string   `yaml:"tier"`
	MinScore      float64  `yaml:"min_score"`
	MaxScore      *float64 `yaml:"max_score"`
	DisplayName   string   `yaml:"display_name"`
	AutoStagger   bool     `yaml:"auto_stagger"`
	PreferredDays []int    `yaml:"preferred_days"`
	Actions       []string `yaml:"actions"`
	Active        *bool    `yaml:"active"`
}

type Settings struct {
	BufferAlerts   *models.BufferAlertSettings `yaml:"buffer_alerts"`
	PremiumStagger *models.StaggerSettings     `yaml:"premium_stagger"`
}

// Target receives the seeded configuration. Upserts are keyed by natural
// keys so applying the same file twice is a no-op.
type Target interface {
	UpsertPublication(ctx context.Context, p models.Publication) (models.Publication, error)
	UpsertSlot(ctx context.Context, s models.CalendarSlot) error
	UpsertRubric(ctx context.Context, rb models.ScoringRubric) error
	UpsertRule(ctx context.Context, rule models.RoutingRule) error
	UpsertThreshold(ctx context.Context, t models.TierThreshold) error
	PutSetting(ctx context.Context, key string, value interface{}) error
}

func Load(path string) (File, error) {
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return File{}, err
	}
	return Parse(content)
}

func Parse(content []byte) (File, error) {
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

func active(flag *bool) bool {
	return flag == nil || *flag
}

// RoutingRules converts and validates the rule section. At least one active
// rule must be a catch-all.
func (f File) RoutingRules() ([]models.RoutingRule, error) {
	rules := make([]models.RoutingRule, 0, len(f.Rules))
	catchAll := false
	for _, r := range f.Rules {
		cond, err := decodeCondition(r.Conditions)
		if err != nil {
			return nil, apperr.Configuration("rule %q: %v", r.Name, err)
		}
		rule := models.RoutingRule{
			Name:        r.Name,
			Description: r.Description,
			Conditions:  cond,
			Destination: models.Destination(r.Destination),
			NeedsVideo:  models.NeedsVideo(r.NeedsVideo),
			Priority:    r.Priority,
			IsActive:    active(r.Active),
		}
		if rule.NeedsVideo == "" {
			rule.NeedsVideo = models.NeedsVideoNo
		}
		if rule.Name == "" {
			return nil, apperr.Configuration("rule without name")
		}
		if !rule.Destination.Valid() {
			return nil, apperr.Configuration("rule %q: unknown destination %q", r.Name, r.Destination)
		}
		if !rule.NeedsVideo.Valid() {
			return nil, apperr.Configuration("rule %q: unknown needs_video %q", r.Name, r.NeedsVideo)
		}
		if rule.IsActive && cond.IsCatchAll() {
			catchAll = true
		}
		rules = append(rules, rule)
	}
	if len(rules) > 0 && !catchAll {
		return nil, apperr.Configuration("no active catch-all rule (conditions: {always: true})")
	}
	return rules, nil
}

func decodeCondition(raw interface{}) (models.Condition, error) {
	if raw == nil {
		return models.Condition{}, fmt.Errorf("conditions are required")
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return models.Condition{}, err
	}
	var cond models.Condition
	if err := json.Unmarshal(encoded, &cond); err != nil {
		return models.Condition{}, err
	}
	return cond, cond.Validate()
}

func (f File) TierThresholds() ([]models.TierThreshold, error) {
	thresholds := make([]models.TierThreshold, 0, len(f.Thresholds))
	for _, t := range f.Thresholds {
		tier := models.Tier(t.Tier)
		if !tier.Valid() {
			return nil, apperr.Configuration("unknown tier %q", t.Tier)
		}
		if t.MaxScore != nil && *t.MaxScore < t.MinScore {
			return nil, apperr.Configuration("tier %s: max_score below min_score", t.Tier)
		}
		thresholds = append(thresholds, models.TierThreshold{
			Tier:          tier,
			MinScore:      t.MinScore,
			MaxScore:      t.MaxScore,
			DisplayName:   t.DisplayName,
			AutoStagger:   t.AutoStagger,
			PreferredDays: t.PreferredDays,
			Actions:       t.Actions,
			IsActive:      active(t.Active),
		})
	}
	return thresholds, nil
}

// Apply validates the whole file first, then upserts it into target.
func Apply(ctx context.Context, target Target, f File) error {
	rules, err := f.RoutingRules()
	if err != nil {
		return err
	}
	thresholds, err := f.TierThresholds()
	if err != nil {
		return err
	}
	hasKill := false
	for _, t := range thresholds {
		if t.Tier == models.TierKill && t.IsActive {
			hasKill = true
		}
	}
	if len(thresholds) > 0 && !hasKill {
		logger.WithComponent("seed").Warn("no active kill threshold; unmatched scores still fall back to kill")
	}

	for _, p := range f.Publications {
		if p.Slug == "" {
			return apperr.Configuration("publication without slug")
		}
		publication, err := target.UpsertPublication(ctx, models.Publication{
			Slug:         p.Slug,
			Name:         p.Name,
			WeeklyTarget: p.WeeklyTarget,
			IsActive:     active(p.Active),
			SortOrder:    p.SortOrder,
		})
		if err != nil {
			return err
		}
		for _, s := range p.Slots {
			if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
				return apperr.Configuration("publication %s: day_of_week %d out of range", p.Slug, s.DayOfWeek)
			}
			if err := target.UpsertSlot(ctx, models.CalendarSlot{
				PublicationID: publication.ID,
				DayOfWeek:     s.DayOfWeek,
				IsActive:      active(s.Active),
				IsFixed:       s.Fixed,
				FixedFormat:   s.FixedFormat,
				PreferredTier: models.Tier(s.PreferredTier),
				SkipRules:     s.SkipRules,
			}); err != nil {
				return err
			}
		}
		for _, rb := range p.Rubrics {
			if err := target.UpsertRubric(ctx, models.ScoringRubric{
				PublicationID: publication.ID,
				Slug:          rb.Slug,
				Name:          rb.Name,
				Description:   rb.Description,
				Weight:        rb.Weight,
				IsActive:      active(rb.Active),
				SortOrder:     rb.SortOrder,
			}); err != nil {
				return err
			}
		}
	}

	for _, rule := range rules {
		if err := target.UpsertRule(ctx, rule); err != nil {
			return err
		}
	}
	for _, t := range thresholds {
		if err := target.UpsertThreshold(ctx, t); err != nil {
			return err
		}
	}

	if f.Settings.BufferAlerts != nil {
		if err := target.PutSetting(ctx, models.SettingBufferAlerts, f.Settings.BufferAlerts); err != nil {
			return err
		}
	}
	if f.Settings.PremiumStagger != nil {
		if err := target.PutSetting(ctx, models.SettingPremiumStagger, f.Settings.PremiumStagger); err != nil {
			return err
		}
	}

	logger.WithComponent("seed").WithFields(map[string]interface{}{
		"publications": len(f.Publications),
		"rules":        len(rules),
		"thresholds":   len(thresholds),
	}).Info("routing configuration applied")
	return nil
}
