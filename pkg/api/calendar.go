package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/scheduler"
	"github.com/gorilla/mux"
)

type pullRequest struct {
	Date string `json:"date"`
}

type staleRequest struct {
	Stale *bool `json:"stale"`
}

// handleAvailability serves the grid for ?start=&end=; end defaults to a week after start.
func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "start", h.today())
	if err != nil {
		badRequest(w, "start must be YYYY-MM-DD")
		return
	}
	end, err := queryDate(r, "end", start.AddDate(0, 0, 6))
	if err != nil {
		badRequest(w, "end must be YYYY-MM-DD")
		return
	}
	days, err := h.svc.Scheduler.GetDateAvailability(r.Context(), start, end)
	if err != nil {
		writeError(w, err, "compute availability")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": days})
}

func (h *Handler) handleBuffer(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.svc.Scheduler.GetBufferStatus(r.Context())
	if err != nil {
		writeError(w, err, "compute buffer status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": statuses})
}

func parseWeekdays(raw string) ([]int, bool) {
	if raw == "" {
		return nil, true
	}
	var days []int
	for _, part := range strings.Split(raw, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || d < 0 || d > 6 {
			return nil, false
		}
		days = append(days, d)
	}
	return days, true
}

func (h *Handler) handleNextSlot(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	start, err := queryDate(r, "start", h.today())
	if err != nil {
		badRequest(w, "start must be YYYY-MM-DD")
		return
	}
	preferred, ok := parseWeekdays(r.URL.Query().Get("preferred_days"))
	if !ok {
		badRequest(w, "preferred_days must be comma separated weekdays 0-6")
		return
	}
	opts := scheduler.SearchOptions{
		PreferredDays: preferred,
		ExcludeFixed:  queryBool(r, "exclude_fixed"),
		SkipBooked:    queryBool(r, "skip_booked"),
	}
	if raw := r.URL.Query().Get("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days <= 0 {
			badRequest(w, "days must be a positive integer")
			return
		}
		opts.MaxDays = days
	}

	placement, err := h.svc.Scheduler.FindNextAvailableSlot(r.Context(), slug, start, opts)
	if err != nil {
		writeError(w, err, "find next slot")
		return
	}
	if placement == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"placement": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"placement": placementResponse{
		Date:            dateString(placement.Date),
		Slot:            placement.Slot,
		PublicationSlug: slug,
	}})
}

func (h *Handler) handleListEvergreen(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Scheduler.ListEvergreen(r.Context(), mux.Vars(r)["slug"], queryBool(r, "include_pulled"))
	if err != nil {
		writeError(w, err, "list evergreen queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func (h *Handler) handlePullEvergreen(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		badRequest(w, "date must be YYYY-MM-DD")
		return
	}
	result, err := h.svc.Scheduler.PullFromEvergreen(r.Context(), mux.Vars(r)["slug"], date, resolveActor(r))
	if err != nil {
		writeError(w, err, "pull from evergreen")
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"entry": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entry": result.Entry, "routing": result.Routing})
}

func (h *Handler) handleMarkStale(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "evergreen entry")
	if !ok {
		return
	}
	var req staleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Stale == nil {
		badRequest(w, "stale is required")
		return
	}
	entry, err := h.svc.Scheduler.MarkEvergreenStale(r.Context(), id, *req.Stale)
	if err != nil {
		writeError(w, err, "update evergreen entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entry": entry})
}
