package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/scheduler"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// ConfigStore is the configuration CRUD surface exposed over HTTP.
type ConfigStore interface {
	ListPublications(ctx context.Context, activeOnly bool) ([]models.Publication, error)
	GetPublicationBySlug(ctx context.Context, slug string) (models.Publication, error)
	CreatePublication(ctx context.Context, p models.Publication) (models.Publication, error)
	UpdatePublication(ctx context.Context, p models.Publication) (models.Publication, error)

	ListSlots(ctx context.Context, publicationID *uuid.UUID, activeOnly bool) ([]models.CalendarSlot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (models.CalendarSlot, error)
	CreateSlot(ctx context.Context, s models.CalendarSlot) (models.CalendarSlot, error)
	UpdateSlot(ctx context.Context, s models.CalendarSlot) (models.CalendarSlot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	ListRubrics(ctx context.Context, publicationID uuid.UUID, activeOnly bool) ([]models.ScoringRubric, error)
	CreateRubric(ctx context.Context, rb models.ScoringRubric) (models.ScoringRubric, error)
	UpdateRubric(ctx context.Context, rb models.ScoringRubric) (models.ScoringRubric, error)
	DeleteRubric(ctx context.Context, id uuid.UUID) error

	ListRules(ctx context.Context, activeOnly bool) ([]models.RoutingRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (models.RoutingRule, error)
	CreateRule(ctx context.Context, rule models.RoutingRule) (models.RoutingRule, error)
	UpdateRule(ctx context.Context, rule models.RoutingRule) (models.RoutingRule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error

	ListThresholds(ctx context.Context, activeOnly bool) ([]models.TierThreshold, error)
	CreateThreshold(ctx context.Context, t models.TierThreshold) (models.TierThreshold, error)
	UpdateThreshold(ctx context.Context, t models.TierThreshold) (models.TierThreshold, error)
	DeleteThreshold(ctx context.Context, id uuid.UUID) error

	BufferAlerts(ctx context.Context) (models.BufferAlertSettings, error)
	StaggerSettings(ctx context.Context) (models.StaggerSettings, error)
	PutSetting(ctx context.Context, key string, value interface{}) error
}

func (h *Handler) registerConfig(r *mux.Router) {
	r.HandleFunc("/publications", h.handleListPublications).Methods(http.MethodGet)
	r.HandleFunc("/publications", h.handleCreatePublication).Methods(http.MethodPost)
	r.HandleFunc("/publications/{slug}", h.handleGetPublication).Methods(http.MethodGet)
	r.HandleFunc("/publications/{slug}", h.handleUpdatePublication).Methods(http.MethodPut)
	r.HandleFunc("/publications/{slug}/rubrics", h.handleListRubrics).Methods(http.MethodGet)
	r.HandleFunc("/publications/{slug}/rubrics", h.handleCreateRubric).Methods(http.MethodPost)
	r.HandleFunc("/rubrics/{id}", h.handleUpdateRubric).Methods(http.MethodPut)
	r.HandleFunc("/rubrics/{id}", h.handleDeleteRubric).Methods(http.MethodDelete)

	r.HandleFunc("/slots", h.handleListSlots).Methods(http.MethodGet)
	r.HandleFunc("/slots", h.handleCreateSlot).Methods(http.MethodPost)
	r.HandleFunc("/slots/{id}", h.handleGetSlot).Methods(http.MethodGet)
	r.HandleFunc("/slots/{id}", h.handleUpdateSlot).Methods(http.MethodPut)
	r.HandleFunc("/slots/{id}", h.handleDeleteSlot).Methods(http.MethodDelete)

	r.HandleFunc("/rules", h.handleListRules).Methods(http.MethodGet)
	r.HandleFunc("/rules", h.handleCreateRule).Methods(http.MethodPost)
	r.HandleFunc("/rules/{id}", h.handleGetRule).Methods(http.MethodGet)
	r.HandleFunc("/rules/{id}", h.handleUpdateRule).Methods(http.MethodPut)
	r.HandleFunc("/rules/{id}", h.handleDeleteRule).Methods(http.MethodDelete)

	r.HandleFunc("/thresholds", h.handleListThresholds).Methods(http.MethodGet)
	r.HandleFunc("/thresholds", h.handleCreateThreshold).Methods(http.MethodPost)
	r.HandleFunc("/thresholds/{id}", h.handleUpdateThreshold).Methods(http.MethodPut)
	r.HandleFunc("/thresholds/{id}", h.handleDeleteThreshold).Methods(http.MethodDelete)

	r.HandleFunc("/settings/{key}", h.handleGetSetting).Methods(http.MethodGet)
	r.HandleFunc("/settings/{key}", h.handlePutSetting).Methods(http.MethodPut)
}

// Publications

type publicationRequest struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	WeeklyTarget int    `json:"weekly_target"`
	IsActive     *bool  `json:"is_active"`
	SortOrder    int    `json:"sort_order"`
}

func (p publicationRequest) validate() error {
	if p.Name == "" {
		return apperr.Validation("name is required")
	}
	if p.WeeklyTarget < 0 {
		return apperr.Validation("weekly_target must not be negative")
	}
	return nil
}

func activeOr(flag *bool, fallback bool) bool {
	if flag == nil {
		return fallback
	}
	return *flag
}

func (h *Handler) handleListPublications(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Config.ListPublications(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeError(w, err, "list publications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleGetPublication(w http.ResponseWriter, r *http.Request) {
	publication, err := h.svc.Config.GetPublicationBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		writeError(w, err, "get publication")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"publication": publication})
}

func (h *Handler) handleCreatePublication(w http.ResponseWriter, r *http.Request) {
	var req publicationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Slug == "" {
		badRequest(w, "slug is required")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err, "create publication")
		return
	}
	publication, err := h.svc.Config.CreatePublication(r.Context(), models.Publication{
		Slug:         req.Slug,
		Name:         req.Name,
		WeeklyTarget: req.WeeklyTarget,
		IsActive:     activeOr(req.IsActive, true),
		SortOrder:    req.SortOrder,
	})
	if err != nil {
		writeError(w, err, "create publication")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"publication": publication})
}

// handleUpdatePublication edits by slug. Publications are deactivated, never deleted.
func (h *Handler) handleUpdatePublication(w http.ResponseWriter, r *http.Request) {
	existing, err := h.svc.Config.GetPublicationBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		writeError(w, err, "update publication")
		return
	}
	var req publicationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err, "update publication")
		return
	}
	existing.Name = req.Name
	existing.WeeklyTarget = req.WeeklyTarget
	existing.IsActive = activeOr(req.IsActive, existing.IsActive)
	existing.SortOrder = req.SortOrder
	publication, err := h.svc.Config.UpdatePublication(r.Context(), existing)
	if err != nil {
		writeError(w, err, "update publication")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"publication": publication})
}

// Rubrics

type rubricRequest struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	IsActive    *bool   `json:"is_active"`
	SortOrder   int     `json:"sort_order"`
}

func (rb rubricRequest) validate() error {
	if rb.Name == "" {
		return apperr.Validation("name is required")
	}
	if rb.Weight <= 0 {
		return apperr.Validation("weight must be positive")
	}
	return nil
}

func (h *Handler) handleListRubrics(w http.ResponseWriter, r *http.Request) {
	publication, err := h.svc.Config.GetPublicationBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		writeError(w, err, "list rubrics")
		return
	}
	items, err := h.svc.Config.ListRubrics(r.Context(), publication.ID, queryBool(r, "active"))
	if err != nil {
		writeError(w, err, "list rubrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleCreateRubric(w http.ResponseWriter, r *http.Request) {
	publication, err := h.svc.Config.GetPublicationBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		writeError(w, err, "create rubric")
		return
	}
	var req rubricRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Slug == "" {
		badRequest(w, "slug is required")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err, "create rubric")
		return
	}
	rubric, err := h.svc.Config.CreateRubric(r.Context(), models.ScoringRubric{
		PublicationID: publication.ID,
		Slug:          req.Slug,
		Name:          req.Name,
		Description:   req.Description,
		Weight:        req.Weight,
		IsActive:      activeOr(req.IsActive, true),
		SortOrder:     req.SortOrder,
	})
	if err != nil {
		writeError(w, err, "create rubric")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"rubric": rubric})
}

func (h *Handler) handleUpdateRubric(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "rubric")
	if !ok {
		return
	}
	var req rubricRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err, "update rubric")
		return
	}
	rubric, err := h.svc.Config.UpdateRubric(r.Context(), models.ScoringRubric{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Weight:      req.Weight,
		IsActive:    activeOr(req.IsActive, true),
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		writeError(w, err, "update rubric")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rubric": rubric})
}

func (h *Handler) handleDeleteRubric(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "rubric")
	if !ok {
		return
	}
	if err := h.svc.Config.DeleteRubric(r.Context(), id); err != nil {
		writeError(w, err, "delete rubric")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Calendar slots

type slotRequest struct {
	PublicationSlug string            `json:"publication_slug"`
	DayOfWeek       int               `json:"day_of_week"`
	IsActive        *bool             `json:"is_active"`
	IsFixed         bool              `json:"is_fixed"`
	FixedFormat     string            `json:"fixed_format"`
	PreferredTier   models.Tier       `json:"preferred_tier"`
	SkipRules       []models.SkipRule `json:"skip_rules"`
}

func (s slotRequest) validate() error {
	if s.DayOfWeek < 0 || s.DayOfWeek > 6 {
		return apperr.Validation("day_of_week must be 0-6")
	}
	if s.PreferredTier != "" && !s.PreferredTier.Valid() {
		return apperr.Validation("unknown preferred_tier %q", s.PreferredTier)
	}
	for _, rule := range s.SkipRules {
		if err := scheduler.ValidateSkipRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) handleListSlots(w http.ResponseWriter, r *http.Request) {
	var publicationID *uuid.UUID
	if slug := r.URL.Query().Get("publication"); slug != "" {
		publication, err := h.svc.Config.GetPublicationBySlug(r.Context(), slug)
		if err != nil {
			writeError(w, err, "list slots")
			return
		}
		publicationID = &publication.ID
	}
	items, err := h.svc.Config.ListSlots(r.Context(), publicationID, queryBool(r, "active"))
	if err != nil {
		writeError(w, err, "list slots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "slot")
	if !ok {
		return
	}
	slot, err := h.svc.Config.GetSlot(r.Context(), id)
	if err != nil {
		writeError(w, err, "get slot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slot": slot})
}

func (h *Handler) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PublicationSlug == "" {
		badRequest(w, "publication_slug is required")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err, "create slot")
		return
	}
	publication, err := h.svc.Config.GetPublicationBySlug(r.Context(), req.PublicationSlug)
	if err != nil {
		writeError(w, err, "create slot")
		return
	}
	slot, err := h.svc.Config.CreateSlot(r.Context(), models.CalendarSlot{
		PublicationID: publication.ID,
		DayOfWeek:     req.DayOfWeek,
		IsActive:      activeOr(req.IsActive, true),
		IsFixed:       req.IsFixed,
		FixedFormat:   req.FixedFormat,
		PreferredTier: req.PreferredTier,
		SkipRules:     req.SkipRules,
	})
	if err != nil {
		writeError(w, err, "create slot")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"slot": slot})
}

func (h *Handler) handleUpdateSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "slot")
	if !ok {
		return
	}
	var req slotRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err, "update slot")
		return
	}
	slot, err := h.svc.Config.UpdateSlot(r.Context(), models.CalendarSlot{
		ID:            id,
		DayOfWeek:     req.DayOfWeek,
		IsActive:      activeOr(req.IsActive, true),
		IsFixed:       req.IsFixed,
		FixedFormat:   req.FixedFormat,
		PreferredTier: req.PreferredTier,
		SkipRules:     req.SkipRules,
	})
	if err != nil {
		writeError(w, err, "update slot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slot": slot})
}

func (h *Handler) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "slot")
	if !ok {
		return
	}
	if err := h.svc.Config.DeleteSlot(r.Context(), id); err != nil {
		writeError(w, err, "delete slot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routing rules

type ruleRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Conditions  models.Condition   `json:"conditions"`
	Destination models.Destination `json:"destination"`
	NeedsVideo  models.NeedsVideo  `json:"needs_video"`
	Priority    int                `json:"priority"`
	IsActive    *bool              `json:"is_active"`
}

func (rr ruleRequest) toRule(id uuid.UUID) (models.RoutingRule, error) {
	rule := models.RoutingRule{
		ID:          id,
		Name:        rr.Name,
		Description: rr.Description,
		Conditions:  rr.Conditions,
		Destination: rr.Destination,
		NeedsVideo:  rr.NeedsVideo,
		Priority:    rr.Priority,
		IsActive:    activeOr(rr.IsActive, true),
	}
	if rule.NeedsVideo == "" {
		rule.NeedsVideo = models.NeedsVideoNo
	}
	if rule.Name == "" {
		return rule, apperr.Validation("name is required")
	}
	if !rule.Destination.Valid() {
		return rule, apperr.Validation("unknown destination %q", rule.Destination)
	}
	if !rule.NeedsVideo.Valid() {
		return rule, apperr.Validation("unknown needs_video %q", rule.NeedsVideo)
	}
	if err := rule.Conditions.Validate(); err != nil {
		return rule, apperr.Validation("conditions: %v", err)
	}
	return rule, nil
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Config.ListRules(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeError(w, err, "list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "rule")
	if !ok {
		return
	}
	rule, err := h.svc.Config.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, err, "get rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rule": rule})
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !decode(w, r, &req) {
		return
	}
	rule, err := req.toRule(uuid.Nil)
	if err != nil {
		writeError(w, err, "create rule")
		return
	}
	created, err := h.svc.Config.CreateRule(r.Context(), rule)
	if err != nil {
		writeError(w, err, "create rule")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"rule": created})
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "rule")
	if !ok {
		return
	}
	var req ruleRequest
	if !decode(w, r, &req) {
		return
	}
	rule, err := req.toRule(id)
	if err != nil {
		writeError(w, err, "update rule")
		return
	}
	updated, err := h.svc.Config.UpdateRule(r.Context(), rule)
	if err != nil {
		writeError(w, err, "update rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rule": updated})
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "rule")
	if !ok {
		return
	}
	if err := h.svc.Config.DeleteRule(r.Context(), id); err != nil {
		writeError(w, err, "delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tier thresholds

type thresholdRequest struct {
	Tier          models.Tier `json:"tier"`
	MinScore      float64     `json:"min_score"`
	MaxScore      *float64    `json:"max_score"`
	DisplayName   string      `json:"display_name"`
	AutoStagger   bool        `json:"auto_stagger"`
	PreferredDays []int       `json:"preferred_days"`
	Actions       []string    `json:"actions"`
	IsActive      *bool       `json:"is_active"`
}

func (tr thresholdRequest) toThreshold(id uuid.UUID) (models.TierThreshold, error) {
	t := models.TierThreshold{
		ID:            id,
		Tier:          tr.Tier,
		MinScore:      tr.MinScore,
		MaxScore:      tr.MaxScore,
		DisplayName:   tr.DisplayName,
		AutoStagger:   tr.AutoStagger,
		PreferredDays: tr.PreferredDays,
		Actions:       tr.Actions,
		IsActive:      activeOr(tr.IsActive, true),
	}
	if !t.Tier.Valid() {
		return t, apperr.Validation("unknown tier %q", t.Tier)
	}
	if t.MaxScore != nil && *t.MaxScore < t.MinScore {
		return t, apperr.Validation("max_score must not be below min_score")
	}
	for _, d := range t.PreferredDays {
		if d < 0 || d > 6 {
			return t, apperr.Validation("preferred_days must be weekdays 0-6")
		}
	}
	return t, nil
}

func (h *Handler) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Config.ListThresholds(r.Context(), queryBool(r, "active"))
	if err != nil {
		writeError(w, err, "list thresholds")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleCreateThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if !decode(w, r, &req) {
		return
	}
	threshold, err := req.toThreshold(uuid.Nil)
	if err != nil {
		writeError(w, err, "create threshold")
		return
	}
	created, err := h.svc.Config.CreateThreshold(r.Context(), threshold)
	if err != nil {
		writeError(w, err, "create threshold")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"threshold": created})
}

func (h *Handler) handleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "threshold")
	if !ok {
		return
	}
	var req thresholdRequest
	if !decode(w, r, &req) {
		return
	}
	threshold, err := req.toThreshold(id)
	if err != nil {
		writeError(w, err, "update threshold")
		return
	}
	updated, err := h.svc.Config.UpdateThreshold(r.Context(), threshold)
	if err != nil {
		writeError(w, err, "update threshold")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threshold": updated})
}

func (h *Handler) handleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "threshold")
	if !ok {
		return
	}
	if err := h.svc.Config.DeleteThreshold(r.Context(), id); err != nil {
		writeError(w, err, "delete threshold")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Named settings

func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var (
		value interface{}
		err   error
	)
	switch key {
	case models.SettingBufferAlerts:
		value, err = h.svc.Config.BufferAlerts(r.Context())
	case models.SettingPremiumStagger:
		value, err = h.svc.Config.StaggerSettings(r.Context())
	default:
		writeError(w, apperr.NotFound("setting", key), "get setting")
		return
	}
	if err != nil {
		writeError(w, err, "get setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}

func (h *Handler) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var raw json.RawMessage
	if !decode(w, r, &raw) {
		return
	}

	var value interface{}
	switch key {
	case models.SettingBufferAlerts:
		alerts := models.DefaultBufferAlerts()
		if err := json.Unmarshal(raw, &alerts); err != nil {
			badRequest(w, "invalid buffer alert settings")
			return
		}
		if alerts.RedWeeks < 0 || alerts.YellowWeeks < alerts.RedWeeks {
			badRequest(w, "red_weeks must be non-negative and not above yellow_weeks")
			return
		}
		value = alerts
	case models.SettingPremiumStagger:
		stagger := models.DefaultStagger()
		if err := json.Unmarshal(raw, &stagger); err != nil {
			badRequest(w, "invalid stagger settings")
			return
		}
		if stagger.GapDays < 0 {
			badRequest(w, "gap_days must not be negative")
			return
		}
		value = stagger
	default:
		writeError(w, apperr.NotFound("setting", key), "put setting")
		return
	}

	if err := h.svc.Config.PutSetting(r.Context(), key, value); err != nil {
		writeError(w, err, "put setting")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "value": value})
}
