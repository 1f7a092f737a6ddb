package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Destination is the publication family an idea is routed to.
type Destination string

const (
	DestinationCore     Destination = "core"
	DestinationBeginner Destination = "beginner"
	DestinationBoth     Destination = "both"
)

func (d Destination) Valid() bool {
	switch d {
	case DestinationCore, DestinationBeginner, DestinationBoth:
		return true
	}
	return false
}

// IncludesCore reports whether the core publication receives the idea.
func (d Destination) IncludesCore() bool {
	return d == DestinationCore || d == DestinationBoth
}

// IncludesBeginner reports whether the beginner publication receives the idea.
func (d Destination) IncludesBeginner() bool {
	return d == DestinationBeginner || d == DestinationBoth
}

// NeedsVideo flags whether a paired video is also produced.
type NeedsVideo string

const (
	NeedsVideoYes NeedsVideo = "yes"
	NeedsVideoNo  NeedsVideo = "no"
	NeedsVideoTBD NeedsVideo = "tbd"
)

func (n NeedsVideo) Valid() bool {
	switch n {
	case NeedsVideoYes, NeedsVideoNo, NeedsVideoTBD:
		return true
	}
	return false
}

// Tier is the named quality band derived from a score.
type Tier string

const (
	TierPremiumA Tier = "premium_a"
	TierA        Tier = "a"
	TierB        Tier = "b"
	TierC        Tier = "c"
	TierKill     Tier = "kill"
)

func (t Tier) Valid() bool {
	switch t {
	case TierPremiumA, TierA, TierB, TierC, TierKill:
		return true
	}
	return false
}

// RoutingStatus drives the idea lifecycle.
type RoutingStatus string

const (
	StatusUnrouted  RoutingStatus = "unrouted"
	StatusRouted    RoutingStatus = "routed"
	StatusScored    RoutingStatus = "scored"
	StatusKilled    RoutingStatus = "killed"
	StatusScheduled RoutingStatus = "scheduled"
	StatusSlotted   RoutingStatus = "slotted"
)

// Configuration

type Publication struct {
	ID           uuid.UUID `json:"id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	WeeklyTarget int       `json:"weekly_target"`
	IsActive     bool      `json:"is_active"`
	SortOrder    int       `json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SkipRuleType distinguishes single-day and range blackouts.
type SkipRuleType string

const (
	SkipSpecificDate SkipRuleType = "specific_date"
	SkipDateRange    SkipRuleType = "date_range"
)

// SkipRule blacks out a recurring month-day ("MM-DD") or an inclusive month-day range.
type SkipRule struct {
	Type   SkipRuleType `json:"type" yaml:"type"`
	Date   string       `json:"date,omitempty" yaml:"date,omitempty"`
	Start  string       `json:"start,omitempty" yaml:"start,omitempty"`
	End    string       `json:"end,omitempty" yaml:"end,omitempty"`
	Reason string       `json:"reason" yaml:"reason"`
}

type CalendarSlot struct {
	ID              uuid.UUID  `json:"id"`
	PublicationID   uuid.UUID  `json:"publication_id"`
	PublicationSlug string     `json:"publication_slug,omitempty"`
	DayOfWeek       int        `json:"day_of_week"`
	IsActive        bool       `json:"is_active"`
	IsFixed         bool       `json:"is_fixed"`
	FixedFormat     string     `json:"fixed_format,omitempty"`
	PreferredTier   Tier       `json:"preferred_tier,omitempty"`
	SkipRules       []SkipRule `json:"skip_rules"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ScoringRubric struct {
	ID            uuid.UUID `json:"id"`
	PublicationID uuid.UUID `json:"publication_id"`
	Slug          string    `json:"slug"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Weight        float64   `json:"weight"`
	IsActive      bool      `json:"is_active"`
	SortOrder     int       `json:"sort_order"`
}

type RoutingRule struct {
	ID          uuid.UUID   `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Conditions  Condition   `json:"conditions"`
	Destination Destination `json:"destination"`
	NeedsVideo  NeedsVideo  `json:"needs_video"`
	Priority    int         `json:"priority"`
	IsActive    bool        `json:"is_active"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type TierThreshold struct {
	ID            uuid.UUID `json:"id"`
	Tier          Tier      `json:"tier"`
	MinScore      float64   `json:"min_score"`
	MaxScore      *float64  `json:"max_score,omitempty"`
	DisplayName   string    `json:"display_name"`
	AutoStagger   bool      `json:"auto_stagger"`
	PreferredDays []int     `json:"preferred_days,omitempty"`
	Actions       []string  `json:"actions,omitempty"`
	IsActive      bool      `json:"is_active"`
}

// Contains reports whether score falls inside [MinScore, MaxScore].
func (t TierThreshold) Contains(score float64) bool {
	if score < t.MinScore {
		return false
	}
	return t.MaxScore == nil || score <= *t.MaxScore
}

// Named settings

const (
	SettingBufferAlerts   = "routing.buffer_alerts"
	SettingPremiumStagger = "routing.premium_stagger"
)

type BufferAlertSettings struct {
	RedWeeks    float64 `json:"red_weeks" yaml:"red_weeks"`
	YellowWeeks float64 `json:"yellow_weeks" yaml:"yellow_weeks"`
}

func DefaultBufferAlerts() BufferAlertSettings {
	return BufferAlertSettings{RedWeeks: 2, YellowWeeks: 4}
}

type StaggerSettings struct {
	Enabled      bool `json:"enabled" yaml:"enabled"`
	YoutubeFirst bool `json:"youtube_first" yaml:"youtube_first"`
	GapDays      int  `json:"gap_days" yaml:"gap_days"`
}

func DefaultStagger() StaggerSettings {
	return StaggerSettings{Enabled: true, YoutubeFirst: true, GapDays: 2}
}

// Idea routing

// RoutingAttributes are the structured attributes rules are evaluated against.
// Empty strings and nil flags mean "not provided".
type RoutingAttributes struct {
	Audience        string                 `json:"audience,omitempty"`
	Action          string                 `json:"action,omitempty"`
	TimeSensitivity string                 `json:"time_sensitivity,omitempty"`
	ResourceType    string                 `json:"resource_type,omitempty"`
	EstimatedLength string                 `json:"estimated_length,omitempty"`
	CanBeEvergreen  *bool                  `json:"can_be_evergreen,omitempty"`
	HasVisualDemo   *bool                  `json:"has_visual_demo,omitempty"`
	IsTutorial      *bool                  `json:"is_tutorial,omitempty"`
	Extra           map[string]interface{} `json:"extra,omitempty"`
}

// Merge overlays patch on a copy of a; provided values win, absent ones are kept.
func (a RoutingAttributes) Merge(patch RoutingAttributes) RoutingAttributes {
	out := a
	if patch.Audience != "" {
		out.Audience = patch.Audience
	}
	if patch.Action != "" {
		out.Action = patch.Action
	}
	if patch.TimeSensitivity != "" {
		out.TimeSensitivity = patch.TimeSensitivity
	}
	if patch.ResourceType != "" {
		out.ResourceType = patch.ResourceType
	}
	if patch.EstimatedLength != "" {
		out.EstimatedLength = patch.EstimatedLength
	}
	if patch.CanBeEvergreen != nil {
		out.CanBeEvergreen = patch.CanBeEvergreen
	}
	if patch.HasVisualDemo != nil {
		out.HasVisualDemo = patch.HasVisualDemo
	}
	if patch.IsTutorial != nil {
		out.IsTutorial = patch.IsTutorial
	}
	if len(a.Extra) > 0 || len(patch.Extra) > 0 {
		extra := make(map[string]interface{}, len(a.Extra)+len(patch.Extra))
		for k, v := range a.Extra {
			extra[k] = v
		}
		for k, v := range patch.Extra {
			if v != nil {
				extra[k] = v
			}
		}
		out.Extra = extra
	}
	return out
}

// Context flattens the attributes into the field map conditions read from.
func (a RoutingAttributes) Context() map[string]interface{} {
	ctx := make(map[string]interface{}, 8+len(a.Extra))
	for k, v := range a.Extra {
		ctx[k] = v
	}
	setString := func(key, value string) {
		if value != "" {
			ctx[key] = value
		}
	}
	setBool := func(key string, value *bool) {
		if value != nil {
			ctx[key] = *value
		}
	}
	setString("audience", a.Audience)
	setString("action", a.Action)
	setString("time_sensitivity", a.TimeSensitivity)
	setString("resource_type", a.ResourceType)
	setString("estimated_length", a.EstimatedLength)
	setBool("can_be_evergreen", a.CanBeEvergreen)
	setBool("has_visual_demo", a.HasVisualDemo)
	setBool("is_tutorial", a.IsTutorial)
	return ctx
}

// RouteIdeaRequest is the input of a routing call.
type RouteIdeaRequest struct {
	IdeaID     uuid.UUID         `json:"idea_id"`
	UserID     string            `json:"user_id,omitempty"`
	Attributes RoutingAttributes `json:"attributes"`
}

// RoutingResult is the outcome of evaluating the active rules.
type RoutingResult struct {
	Destination Destination `json:"destination"`
	NeedsVideo  NeedsVideo  `json:"needs_video"`
	RuleID      uuid.UUID   `json:"rule_id"`
	RuleName    string      `json:"rule_name"`
}

// StaggerDates are the two release dates of a staggered premium idea.
type StaggerDates struct {
	VideoDate time.Time `json:"video_date"`
	TextDate  time.Time `json:"text_date"`
	GapDays   int       `json:"gap_days"`
}

type IdeaRouting struct {
	ID             uuid.UUID          `json:"id"`
	IdeaID         uuid.UUID          `json:"idea_id"`
	UserID         string             `json:"user_id,omitempty"`
	Attributes     RoutingAttributes  `json:"attributes"`
	Destination    Destination        `json:"destination,omitempty"`
	NeedsVideo     NeedsVideo         `json:"needs_video,omitempty"`
	MatchedRuleID  *uuid.UUID         `json:"matched_rule_id,omitempty"`
	Scores         map[string]float64 `json:"scores,omitempty"`
	Tier           Tier               `json:"tier,omitempty"`
	OverrideScore  *float64           `json:"override_score,omitempty"`
	OverrideReason string             `json:"override_reason,omitempty"`
	CalendarDate   *time.Time         `json:"calendar_date,omitempty"`
	SlotID         *uuid.UUID         `json:"slot_id,omitempty"`
	Stagger        *StaggerDates      `json:"stagger,omitempty"`
	IsStaggered    bool               `json:"is_staggered"`
	Status         RoutingStatus      `json:"status"`
	RoutedAt       *time.Time         `json:"routed_at,omitempty"`
	ScoredAt       *time.Time         `json:"scored_at,omitempty"`
	ScheduledAt    *time.Time         `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// EffectiveScore returns the override when set, otherwise the score for slug.
func (r IdeaRouting) EffectiveScore(slug string) (float64, bool) {
	if r.OverrideScore != nil {
		return *r.OverrideScore, true
	}
	score, ok := r.Scores[slug]
	return score, ok
}

// Booking is an idea already placed on a calendar day.
type Booking struct {
	IdeaRoutingID uuid.UUID  `json:"idea_routing_id"`
	Date          time.Time  `json:"date"`
	SlotID        *uuid.UUID `json:"slot_id,omitempty"`
}

// Evergreen queue

// PullReasonGapFill marks entries consumed to fill an empty calendar day.
const PullReasonGapFill = "gap_fill"

type EvergreenQueueEntry struct {
	ID              uuid.UUID  `json:"id"`
	IdeaRoutingID   uuid.UUID  `json:"idea_routing_id"`
	PublicationID   uuid.UUID  `json:"publication_id"`
	PublicationSlug string     `json:"publication_slug,omitempty"`
	Score           float64    `json:"score"`
	Tier            Tier       `json:"tier"`
	IsStale         bool       `json:"is_stale"`
	AddedAt         time.Time  `json:"added_at"`
	PulledAt        *time.Time `json:"pulled_at,omitempty"`
	PulledForDate   *time.Time `json:"pulled_for_date,omitempty"`
	PullReason      string     `json:"pull_reason,omitempty"`
}

// Status log

type RoutingStatusLog struct {
	ID            uuid.UUID              `json:"id"`
	IdeaRoutingID uuid.UUID              `json:"idea_routing_id"`
	FromStatus    RoutingStatus          `json:"from_status"`
	ToStatus      RoutingStatus          `json:"to_status"`
	ChangedBy     string                 `json:"changed_by"`
	ChangeReason  string                 `json:"change_reason,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Calendar dates

const DateLayout = "2006-01-02"

// ParseDate reads a YYYY-MM-DD calendar date as midnight UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return t, nil
}

// DateOf truncates t to its calendar day at midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PublicationSlugs names the publications the engine treats specially.
type PublicationSlugs struct {
	Core     string
	Beginner string
	Video    string
}

// Applicable lists the publications an idea is scored against, in primary
// order: core, paired video, beginner.
func (p PublicationSlugs) Applicable(dest Destination, video NeedsVideo) []string {
	var slugs []string
	if dest.IncludesCore() {
		slugs = append(slugs, p.Core)
		if video == NeedsVideoYes {
			slugs = append(slugs, p.Video)
		}
	}
	if dest.IncludesBeginner() {
		slugs = append(slugs, p.Beginner)
	}
	return slugs
}

// Primary is the publication whose calendar an idea is placed on by default.
func (p PublicationSlugs) Primary(dest Destination) string {
	if dest.IncludesBeginner() && !dest.IncludesCore() {
		return p.Beginner
	}
	return p.Core
}
