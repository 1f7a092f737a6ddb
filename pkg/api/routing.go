package api

import (
	"net/http"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
)

type rerouteRequest struct {
	Attributes models.RoutingAttributes `json:"attributes"`
}

type scoreRequest struct {
	Inputs map[string]float64 `json:"inputs"`
}

type previewScoreRequest struct {
	PublicationSlug string             `json:"publication_slug"`
	Inputs          map[string]float64 `json:"inputs"`
}

type overrideRequest struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason"`
}

type scheduleRequest struct {
	Date   string     `json:"date"`
	SlotID *uuid.UUID `json:"slot_id,omitempty"`
}

type evergreenRequest struct {
	PublicationSlug string `json:"publication_slug"`
}

func (h *Handler) handleRouteIdea(w http.ResponseWriter, r *http.Request) {
	var req models.RouteIdeaRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IdeaID == uuid.Nil {
		badRequest(w, "idea_id is required")
		return
	}
	routing, result, err := h.svc.Router.RouteIdea(r.Context(), req, resolveActor(r))
	if err != nil {
		writeError(w, err, "route idea")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routing": routing, "result": result})
}

func (h *Handler) handlePreviewRouting(w http.ResponseWriter, r *http.Request) {
	var attrs models.RoutingAttributes
	if !decode(w, r, &attrs) {
		return
	}
	result, err := h.svc.Router.PreviewRouting(r.Context(), attrs)
	if err != nil {
		writeError(w, err, "preview routing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (h *Handler) handleReroute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	var req rerouteRequest
	if !decode(w, r, &req) {
		return
	}
	routing, result, err := h.svc.Router.RerouteIdea(r.Context(), id, req.Attributes, resolveActor(r))
	if err != nil {
		writeError(w, err, "reroute idea")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routing": routing, "result": result})
}

func (h *Handler) handleGetRouting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	routing, err := h.svc.Routings.GetRouting(r.Context(), id)
	if err != nil {
		writeError(w, err, "get routing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routing": routing})
}

// handleListRoutings also resolves ?idea_id= to the single routing of that idea.
func (h *Handler) handleListRoutings(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("idea_id"); raw != "" {
		ideaID, err := uuid.Parse(raw)
		if err != nil {
			badRequest(w, "invalid idea id")
			return
		}
		routing, err := h.svc.Routings.GetRoutingByIdea(r.Context(), ideaID)
		if err != nil {
			writeError(w, err, "get routing")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": []models.IdeaRouting{routing}})
		return
	}
	status := models.RoutingStatus(r.URL.Query().Get("status"))
	items, err := h.svc.Routings.ListRoutings(r.Context(), status, parseLimit(r, 50))
	if err != nil {
		writeError(w, err, "list routings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *Handler) handleStatusLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	if _, err := h.svc.Routings.GetRouting(r.Context(), id); err != nil {
		writeError(w, err, "list status log")
		return
	}
	entries, err := h.svc.StatusLog.List(r.Context(), id, parseLimit(r, 100))
	if err != nil {
		writeError(w, err, "list status log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	var req scoreRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Inputs) == 0 {
		badRequest(w, "inputs are required")
		return
	}
	result, err := h.svc.Scorer.ScoreIdea(r.Context(), id, req.Inputs, resolveActor(r))
	if err != nil {
		writeError(w, err, "score idea")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handlePreviewScore(w http.ResponseWriter, r *http.Request) {
	var req previewScoreRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PublicationSlug == "" {
		badRequest(w, "publication_slug is required")
		return
	}
	breakdown, err := h.svc.Scorer.PreviewScore(r.Context(), req.PublicationSlug, req.Inputs)
	if err != nil {
		writeError(w, err, "preview score")
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	var req overrideRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Score == nil {
		badRequest(w, "score is required")
		return
	}
	routing, err := h.svc.Scorer.OverrideScore(r.Context(), id, *req.Score, req.Reason, resolveActor(r))
	if err != nil {
		writeError(w, err, "override score")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routing": routing})
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	var req scheduleRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	routing, err := h.svc.Scheduler.ScheduleIdea(r.Context(), id, date, req.SlotID, resolveActor(r))
	if err != nil {
		writeError(w, err, "schedule idea")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routing": routing})
}

func (h *Handler) handleAddToEvergreen(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	var req evergreenRequest
	if !decode(w, r, &req) {
		return
	}
	if req.PublicationSlug == "" {
		badRequest(w, "publication_slug is required")
		return
	}
	entry, err := h.svc.Scheduler.AddToEvergreen(r.Context(), id, req.PublicationSlug, resolveActor(r))
	if err != nil {
		writeError(w, err, "add to evergreen")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"entry": entry})
}

type placementResponse struct {
	Date            string      `json:"date"`
	Slot            interface{} `json:"slot"`
	PublicationSlug string      `json:"publication_slug,omitempty"`
	Reason          string      `json:"reason,omitempty"`
}

func dateString(t time.Time) string {
	return t.Format(models.DateLayout)
}

func (h *Handler) handleRecommendedSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "routing")
	if !ok {
		return
	}
	rec, err := h.svc.Scheduler.GetRecommendedSlot(r.Context(), id)
	if err != nil {
		writeError(w, err, "recommend slot")
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"recommendation": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recommendation": placementResponse{
		Date:            dateString(rec.Date),
		Slot:            rec.Slot,
		PublicationSlug: rec.PublicationSlug,
		Reason:          rec.Reason,
	}})
}
