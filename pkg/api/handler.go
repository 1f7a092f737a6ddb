package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/gateway/middleware"
	"github.com/contentworks/routing-engine/pkg/scheduler"
	"github.com/contentworks/routing-engine/pkg/scorer"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type Router interface {
	PreviewRouting(ctx context.Context, attrs models.RoutingAttributes) (models.RoutingResult, error)
	RouteIdea(ctx context.Context, req models.RouteIdeaRequest, actor string) (models.IdeaRouting, models.RoutingResult, error)
	RerouteIdea(ctx context.Context, routingID uuid.UUID, patch models.RoutingAttributes, actor string) (models.IdeaRouting, models.RoutingResult, error)
}

type Scorer interface {
	PreviewScore(ctx context.Context, publicationSlug string, inputs map[string]float64) (scorer.Breakdown, error)
	ScoreIdea(ctx context.Context, routingID uuid.UUID, inputs map[string]float64, actor string) (scorer.ScoreResult, error)
	OverrideScore(ctx context.Context, routingID uuid.UUID, score float64, reason, actor string) (models.IdeaRouting, error)
}

type Scheduler interface {
	ScheduleIdea(ctx context.Context, routingID uuid.UUID, date time.Time, slotID *uuid.UUID, actor string) (models.IdeaRouting, error)
	AddToEvergreen(ctx context.Context, routingID uuid.UUID, publicationSlug, actor string) (models.EvergreenQueueEntry, error)
	PullFromEvergreen(ctx context.Context, publicationSlug string, date time.Time, actor string) (*scheduler.PullResult, error)
	ListEvergreen(ctx context.Context, publicationSlug string, includePulled bool) ([]models.EvergreenQueueEntry, error)
	MarkEvergreenStale(ctx context.Context, entryID uuid.UUID, stale bool) (models.EvergreenQueueEntry, error)
	FindNextAvailableSlot(ctx context.Context, publicationSlug string, start time.Time, opts scheduler.SearchOptions) (*scheduler.Placement, error)
	GetRecommendedSlot(ctx context.Context, routingID uuid.UUID) (*scheduler.Recommendation, error)
	GetDateAvailability(ctx context.Context, start, end time.Time) ([]scheduler.DayAvailability, error)
	GetBufferStatus(ctx context.Context) ([]scheduler.BufferStatus, error)
}

type Routings interface {
	GetRouting(ctx context.Context, id uuid.UUID) (models.IdeaRouting, error)
	GetRoutingByIdea(ctx context.Context, ideaID uuid.UUID) (models.IdeaRouting, error)
	ListRoutings(ctx context.Context, status models.RoutingStatus, limit int) ([]models.IdeaRouting, error)
}

type StatusLog interface {
	List(ctx context.Context, routingID uuid.UUID, limit int) ([]models.RoutingStatusLog, error)
}

// Services wires the handler to the engine. Location is the scheduler
// timezone used when a request omits its start date.
type Services struct {
	Router    Router
	Scorer    Scorer
	Scheduler Scheduler
	Routings  Routings
	StatusLog StatusLog
	Config    ConfigStore
	Location  *time.Location
}

type Handler struct {
	svc Services
	now func() time.Time
}

func NewHandler(svc Services) *Handler {
	if svc.Location == nil {
		svc.Location = time.UTC
	}
	return &Handler{svc: svc, now: time.Now}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ideas/route", h.handleRouteIdea).Methods(http.MethodPost)
	r.HandleFunc("/ideas/route/preview", h.handlePreviewRouting).Methods(http.MethodPost)
	r.HandleFunc("/score/preview", h.handlePreviewScore).Methods(http.MethodPost)

	r.HandleFunc("/routings", h.handleListRoutings).Methods(http.MethodGet)
	r.HandleFunc("/routings/{id}", h.handleGetRouting).Methods(http.MethodGet)
	r.HandleFunc("/routings/{id}/log", h.handleStatusLog).Methods(http.MethodGet)
	r.HandleFunc("/routings/{id}/reroute", h.handleReroute).Methods(http.MethodPost)
	r.HandleFunc("/routings/{id}/score", h.handleScore).Methods(http.MethodPost)
	r.HandleFunc("/routings/{id}/override", h.handleOverride).Methods(http.MethodPost)
	r.HandleFunc("/routings/{id}/schedule", h.handleSchedule).Methods(http.MethodPost)
	r.HandleFunc("/routings/{id}/evergreen", h.handleAddToEvergreen).Methods(http.MethodPost)
	r.HandleFunc("/routings/{id}/recommended-slot", h.handleRecommendedSlot).Methods(http.MethodGet)

	r.HandleFunc("/availability", h.handleAvailability).Methods(http.MethodGet)
	r.HandleFunc("/buffer", h.handleBuffer).Methods(http.MethodGet)
	r.HandleFunc("/publications/{slug}/next-slot", h.handleNextSlot).Methods(http.MethodGet)
	r.HandleFunc("/publications/{slug}/evergreen", h.handleListEvergreen).Methods(http.MethodGet)
	r.HandleFunc("/publications/{slug}/evergreen/pull", h.handlePullEvergreen).Methods(http.MethodPost)
	r.HandleFunc("/evergreen/{id}/stale", h.handleMarkStale).Methods(http.MethodPatch)

	h.registerConfig(r)
}

func (h *Handler) today() time.Time {
	return models.DateOf(h.now().In(h.svc.Location))
}

// writeError maps engine errors onto HTTP statuses. Unclassified errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, err error, action string) {
	status := http.StatusInternalServerError
	message := "failed to " + action
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, apperr.ErrInvariant):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, apperr.ErrConfiguration):
		message = err.Error()
		logger.Log.WithError(err).Error("routing configuration error")
	default:
		logger.Log.WithError(err).Error(message)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		badRequest(w, "invalid request")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		badRequest(w, "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}

// queryDate reads a YYYY-MM-DD query parameter, using fallback when absent.
func queryDate(r *http.Request, key string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return models.ParseDate(raw)
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func resolveActor(r *http.Request) string {
	if r == nil {
		return middleware.DefaultActor
	}
	if actor := middleware.ActorFrom(r.Context()); actor != middleware.DefaultActor {
		return actor
	}
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return middleware.DefaultActor
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
