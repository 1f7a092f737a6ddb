package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/logger"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/observability/metrics"
	"github.com/contentworks/routing-engine/pkg/statuslog"
	"github.com/google/uuid"
)

type ConfigSource interface {
	ListPublications(ctx context.Context, activeOnly bool) ([]models.Publication, error)
	GetPublicationBySlug(ctx context.Context, slug string) (models.Publication, error)
	ListSlots(ctx context.Context, publicationID *uuid.UUID, activeOnly bool) ([]models.CalendarSlot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (models.CalendarSlot, error)
	ActiveThresholds(ctx context.Context) ([]models.TierThreshold, error)
	BufferAlerts(ctx context.Context) (models.BufferAlertSettings, error)
	StaggerSettings(ctx context.Context) (models.StaggerSettings, error)
}

type RoutingStore interface {
	GetRouting(ctx context.Context, id uuid.UUID) (models.IdeaRouting, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(routing *models.IdeaRouting) error) (models.IdeaRouting, error)
	Bookings(ctx context.Context, from, to time.Time) ([]models.Booking, error)
}

// EvergreenStore persists the evergreen queue. EnqueueEvergreen and
// PullEvergreen run their callbacks inside the store transaction: a callback
// error leaves nothing written. PullEvergreen only offers entries whose idea
// is slotted, marks entries rejected with apperr.ErrInvariant stale and moves
// on to the next one.
type EvergreenStore interface {
	EnqueueEvergreen(
		ctx context.Context,
		routingID, publicationID uuid.UUID,
		fn func(routing *models.IdeaRouting, open *models.EvergreenQueueEntry) (models.EvergreenQueueEntry, error),
	) (models.EvergreenQueueEntry, models.IdeaRouting, error)
	ListEvergreen(ctx context.Context, publicationID uuid.UUID, includePulled bool) ([]models.EvergreenQueueEntry, error)
	SetEvergreenStale(ctx context.Context, id uuid.UUID, stale bool) (models.EvergreenQueueEntry, error)
	PullEvergreen(
		ctx context.Context,
		publicationID uuid.UUID,
		forDate time.Time,
		reason string,
		place func(entry models.EvergreenQueueEntry) error,
	) (*models.EvergreenQueueEntry, error)
	QueuedCounts(ctx context.Context) (map[uuid.UUID]int, error)
}

type Recorder interface {
	Record(ctx context.Context, t statuslog.Transition)
}

type Options struct {
	Publications models.PublicationSlugs
	HorizonDays  int
	Location     *time.Location
}

// maxAvailabilitySpan bounds one availability grid request.
const maxAvailabilitySpan = 366

type Service struct {
	config    ConfigSource
	routings  RoutingStore
	evergreen EvergreenStore
	recorder  Recorder
	opts      Options
	now       func() time.Time
}

func NewService(config ConfigSource, routings RoutingStore, evergreen EvergreenStore, recorder Recorder, opts Options) *Service {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = DefaultHorizonDays
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		config:    config,
		routings:  routings,
		evergreen: evergreen,
		recorder:  recorder,
		opts:      opts,
		now:       time.Now,
	}
}

// today is the current calendar day in the scheduler timezone.
func (s *Service) today() time.Time {
	return models.DateOf(s.now().In(s.opts.Location))
}

// ScheduleIdea places a scored idea on date. When slotID is nil the first
// available slot of the idea's primary publication on that day is used, if any.
func (s *Service) ScheduleIdea(ctx context.Context, routingID uuid.UUID, date time.Time, slotID *uuid.UUID, actor string) (models.IdeaRouting, error) {
	routing, err := s.routings.GetRouting(ctx, routingID)
	if err != nil {
		return models.IdeaRouting{}, err
	}
	publication, err := s.config.GetPublicationBySlug(ctx, s.opts.Publications.Primary(routing.Destination))
	if err != nil {
		return models.IdeaRouting{}, err
	}
	return s.schedule(ctx, routing, publication, date, slotID, actor, "", nil)
}

func (s *Service) schedule(
	ctx context.Context,
	routing models.IdeaRouting,
	publication models.Publication,
	date time.Time,
	slotID *uuid.UUID,
	actor, reason string,
	extra map[string]interface{},
) (models.IdeaRouting, error) {
	date = models.DateOf(date)
	if routing.Status == models.StatusKilled || routing.Tier == models.TierKill {
		return models.IdeaRouting{}, apperr.Invariant("idea routing %s is killed and cannot be scheduled", routing.ID)
	}
	if err := statuslog.Validate(routing.Status, models.StatusScheduled); err != nil {
		return models.IdeaRouting{}, err
	}

	slot, err := s.resolveSlot(ctx, publication, date, slotID)
	if err != nil {
		return models.IdeaRouting{}, err
	}

	metadata := map[string]interface{}{
		"date":        date.Format(models.DateLayout),
		"publication": publication.Slug,
	}
	for k, v := range extra {
		metadata[k] = v
	}
	if slot != nil {
		metadata["slot_id"] = slot.ID.String()
	}

	stagger, err := s.stagger(ctx, routing, date, metadata)
	if err != nil {
		return models.IdeaRouting{}, err
	}

	var from models.RoutingStatus
	updated, err := s.routings.Mutate(ctx, routing.ID, func(r *models.IdeaRouting) error {
		from = r.Status
		if err := statuslog.Validate(from, models.StatusScheduled); err != nil {
			return err
		}
		now := s.now().UTC()
		r.CalendarDate = &date
		r.SlotID = nil
		if slot != nil {
			id := slot.ID
			r.SlotID = &id
		}
		r.Stagger = stagger
		r.IsStaggered = stagger != nil
		r.Status = models.StatusScheduled
		r.ScheduledAt = &now
		return nil
	})
	if err != nil {
		return models.IdeaRouting{}, err
	}

	metrics.IncScheduled()
	logger.WithComponent("scheduler").WithFields(map[string]interface{}{
		"routing_id":  updated.ID,
		"idea_id":     updated.IdeaID,
		"publication": publication.Slug,
		"date":        date.Format(models.DateLayout),
		"staggered":   updated.IsStaggered,
	}).Info("idea scheduled")

	s.recorder.Record(ctx, statuslog.Transition{
		Routing:  updated,
		From:     from,
		Actor:    actor,
		Reason:   reason,
		Metadata: metadata,
	})
	return updated, nil
}

func (s *Service) resolveSlot(ctx context.Context, publication models.Publication, date time.Time, slotID *uuid.UUID) (*models.CalendarSlot, error) {
	if slotID != nil {
		slot, err := s.config.GetSlot(ctx, *slotID)
		if err != nil {
			return nil, err
		}
		if reason, skipped := SkipReason(slot, date); skipped {
			return nil, apperr.Invariant("slot %s is blacked out on %s: %s", slot.ID, date.Format(models.DateLayout), reason)
		}
		if !IsSlotAvailable(slot, date) {
			return nil, apperr.Invariant("slot %s is not available on %s", slot.ID, date.Format(models.DateLayout))
		}
		return &slot, nil
	}

	slots, err := s.config.ListSlots(ctx, &publication.ID, true)
	if err != nil {
		return nil, err
	}
	if placement, ok := FindNextSlot(slots, date, SearchOptions{MaxDays: 1}, nil); ok {
		return &placement.Slot, nil
	}
	return nil, nil
}

// stagger returns the stagger dates for premium core ideas with a paired
// video. The derived date is not moved; when it misses the video calendar the
// conflict is logged and noted in metadata.
func (s *Service) stagger(ctx context.Context, routing models.IdeaRouting, date time.Time, metadata map[string]interface{}) (*models.StaggerDates, error) {
	if routing.Destination != models.DestinationCore || routing.NeedsVideo != models.NeedsVideoYes {
		return nil, nil
	}
	thresholds, err := s.config.ActiveThresholds(ctx)
	if err != nil {
		return nil, err
	}
	if !thresholdOf(thresholds, routing.Tier).AutoStagger {
		return nil, nil
	}
	settings, err := s.config.StaggerSettings(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, nil
	}

	dates := ComputeStagger(date, settings)
	metadata["stagger"] = map[string]interface{}{
		"video_date": dates.VideoDate.Format(models.DateLayout),
		"text_date":  dates.TextDate.Format(models.DateLayout),
		"gap_days":   dates.GapDays,
	}

	video, err := s.config.GetPublicationBySlug(ctx, s.opts.Publications.Video)
	if errors.Is(err, apperr.ErrNotFound) {
		return &dates, nil
	}
	if err != nil {
		return nil, err
	}
	slots, err := s.config.ListSlots(ctx, &video.ID, true)
	if err != nil {
		return nil, err
	}
	if _, ok := FindNextSlot(slots, dates.VideoDate, SearchOptions{MaxDays: 1}, nil); !ok {
		metadata["stagger_conflict"] = "video date " + dates.VideoDate.Format(models.DateLayout) + " has no open video slot"
		logger.WithComponent("scheduler").WithFields(map[string]interface{}{
			"routing_id": routing.ID,
			"video_date": dates.VideoDate.Format(models.DateLayout),
		}).Warn("stagger video date has no open slot")
	}
	return &dates, nil
}

func thresholdOf(thresholds []models.TierThreshold, tier models.Tier) models.TierThreshold {
	for _, t := range thresholds {
		if t.Tier == tier {
			return t
		}
	}
	return models.TierThreshold{Tier: tier}
}

// primaryScore is the score used to rank the idea in a queue for slug.
func (s *Service) primaryScore(routing models.IdeaRouting, slug string) (float64, bool) {
	if score, ok := routing.EffectiveScore(slug); ok {
		return score, true
	}
	for _, candidate := range s.opts.Publications.Applicable(routing.Destination, routing.NeedsVideo) {
		if score, ok := routing.Scores[candidate]; ok {
			return score, true
		}
	}
	return 0, false
}

// AddToEvergreen queues a scored idea in a publication's reserve. Ideas tiered
// kill are rejected, as is a second unpulled entry for the same publication.
// The idea becomes slotted unless it is already scheduled.
func (s *Service) AddToEvergreen(ctx context.Context, routingID uuid.UUID, publicationSlug, actor string) (models.EvergreenQueueEntry, error) {
	publication, err := s.config.GetPublicationBySlug(ctx, publicationSlug)
	if err != nil {
		return models.EvergreenQueueEntry{}, err
	}

	var (
		from  models.RoutingStatus
		score float64
	)
	entry, updated, err := s.evergreen.EnqueueEvergreen(ctx, routingID, publication.ID,
		func(r *models.IdeaRouting, open *models.EvergreenQueueEntry) (models.EvergreenQueueEntry, error) {
			from = r.Status
			if r.Tier == models.TierKill || r.Status == models.StatusKilled {
				return models.EvergreenQueueEntry{}, apperr.Invariant("idea routing %s is tiered kill and cannot be queued", r.ID)
			}
			if r.Tier == "" {
				return models.EvergreenQueueEntry{}, apperr.Invariant("idea routing %s has not been scored", r.ID)
			}
			// An open entry left behind by a re-route is refreshed; a live one blocks.
			if open != nil && !open.IsStale && (from == models.StatusSlotted || from == models.StatusScheduled) {
				return models.EvergreenQueueEntry{}, apperr.Invariant("idea routing %s is already queued for %s", r.ID, publication.Slug)
			}
			if from != models.StatusScheduled {
				if err := statuslog.Validate(from, models.StatusSlotted); err != nil {
					return models.EvergreenQueueEntry{}, err
				}
				r.Status = models.StatusSlotted
			}
			score, _ = s.primaryScore(*r, publication.Slug)
			return models.EvergreenQueueEntry{
				IdeaRoutingID: r.ID,
				PublicationID: publication.ID,
				Score:         score,
				Tier:          r.Tier,
			}, nil
		})
	if err != nil {
		return models.EvergreenQueueEntry{}, err
	}
	entry.PublicationSlug = publication.Slug

	metrics.IncSlotted()
	logger.WithComponent("scheduler").WithFields(map[string]interface{}{
		"routing_id":  updated.ID,
		"publication": publication.Slug,
		"score":       score,
		"tier":        updated.Tier,
	}).Info("idea added to evergreen queue")

	s.recorder.Record(ctx, statuslog.Transition{
		Routing: updated,
		From:    from,
		Actor:   actor,
		Reason:  "evergreen",
		Metadata: map[string]interface{}{
			"entry_id":    entry.ID.String(),
			"publication": publication.Slug,
			"score":       score,
			"tier":        string(updated.Tier),
		},
	})
	return entry, nil
}

// PullResult is a consumed evergreen entry and the idea it placed.
type PullResult struct {
	Entry   models.EvergreenQueueEntry `json:"entry"`
	Routing models.IdeaRouting         `json:"routing"`
}

// PullFromEvergreen schedules the best queued idea of the publication on date
// and consumes its entry. Entries whose idea can no longer be scheduled are
// marked stale and passed over. It returns nil when the queue has nothing
// eligible.
func (s *Service) PullFromEvergreen(ctx context.Context, publicationSlug string, date time.Time, actor string) (*PullResult, error) {
	publication, err := s.config.GetPublicationBySlug(ctx, publicationSlug)
	if err != nil {
		return nil, err
	}
	date = models.DateOf(date)
	log := logger.WithComponent("scheduler")

	var scheduled models.IdeaRouting
	entry, err := s.evergreen.PullEvergreen(ctx, publication.ID, date, models.PullReasonGapFill, func(entry models.EvergreenQueueEntry) error {
		routing, err := s.routings.GetRouting(ctx, entry.IdeaRoutingID)
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Invariant("idea routing %s no longer exists", entry.IdeaRoutingID)
		}
		if err != nil {
			return err
		}
		placed, err := s.schedule(ctx, routing, publication, date, nil, actor, models.PullReasonGapFill, map[string]interface{}{
			"evergreen_entry_id": entry.ID.String(),
		})
		if err != nil {
			if errors.Is(err, apperr.ErrInvariant) {
				log.WithError(err).WithField("entry_id", entry.ID).Warn("evergreen entry cannot be scheduled, marking stale")
			}
			return err
		}
		scheduled = placed
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("publication", publication.Slug).Error("evergreen pull failed")
		return nil, err
	}
	metrics.ObservePull(entry != nil)
	if entry == nil {
		log.WithField("publication", publication.Slug).Info("evergreen queue empty")
		return nil, nil
	}
	entry.PublicationSlug = publication.Slug

	log.WithFields(map[string]interface{}{
		"publication": publication.Slug,
		"entry_id":    entry.ID,
		"routing_id":  scheduled.ID,
		"date":        date.Format(models.DateLayout),
	}).Info("evergreen pulled")
	return &PullResult{Entry: *entry, Routing: scheduled}, nil
}

func (s *Service) ListEvergreen(ctx context.Context, publicationSlug string, includePulled bool) ([]models.EvergreenQueueEntry, error) {
	publication, err := s.config.GetPublicationBySlug(ctx, publicationSlug)
	if err != nil {
		return nil, err
	}
	entries, err := s.evergreen.ListEvergreen(ctx, publication.ID, includePulled)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].PublicationSlug = publication.Slug
	}
	return entries, nil
}

func (s *Service) MarkEvergreenStale(ctx context.Context, entryID uuid.UUID, stale bool) (models.EvergreenQueueEntry, error) {
	return s.evergreen.SetEvergreenStale(ctx, entryID, stale)
}

// FindNextAvailableSlot searches one publication's calendar from start.
func (s *Service) FindNextAvailableSlot(ctx context.Context, publicationSlug string, start time.Time, opts SearchOptions) (*Placement, error) {
	publication, err := s.config.GetPublicationBySlug(ctx, publicationSlug)
	if err != nil {
		return nil, err
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = s.opts.HorizonDays
	}
	return s.findNext(ctx, publication, start, opts)
}

func (s *Service) findNext(ctx context.Context, publication models.Publication, start time.Time, opts SearchOptions) (*Placement, error) {
	slots, err := s.config.ListSlots(ctx, &publication.ID, true)
	if err != nil {
		return nil, err
	}
	var booked BookedSet
	if opts.SkipBooked {
		start = models.DateOf(start)
		bookings, err := s.routings.Bookings(ctx, start, start.AddDate(0, 0, opts.MaxDays))
		if err != nil {
			return nil, err
		}
		booked = NewBookedSet(bookings)
	}
	placement, ok := FindNextSlot(slots, start, opts, booked)
	if !ok {
		return nil, nil
	}
	placement.Slot.PublicationSlug = publication.Slug
	return &placement, nil
}

// Recommendation is a suggested placement for one idea.
type Recommendation struct {
	Date            time.Time           `json:"date"`
	Slot            models.CalendarSlot `json:"slot"`
	PublicationSlug string              `json:"publication_slug"`
	Reason          string              `json:"reason"`
}

// GetRecommendedSlot suggests the next unbooked, non-fixed slot of the idea's
// primary publication, preferring its tier's weekdays. Returns nil when the
// horizon has no opening.
func (s *Service) GetRecommendedSlot(ctx context.Context, routingID uuid.UUID) (*Recommendation, error) {
	routing, err := s.routings.GetRouting(ctx, routingID)
	if err != nil {
		return nil, err
	}
	if routing.Tier == models.TierKill || routing.Status == models.StatusKilled {
		return nil, apperr.Invariant("idea routing %s is killed", routingID)
	}
	if routing.Tier == "" {
		return nil, apperr.Invariant("idea routing %s has not been scored", routingID)
	}
	publication, err := s.config.GetPublicationBySlug(ctx, s.opts.Publications.Primary(routing.Destination))
	if err != nil {
		return nil, err
	}
	thresholds, err := s.config.ActiveThresholds(ctx)
	if err != nil {
		return nil, err
	}
	threshold := thresholdOf(thresholds, routing.Tier)

	opts := SearchOptions{
		PreferredDays: threshold.PreferredDays,
		ExcludeFixed:  true,
		MaxDays:       s.opts.HorizonDays,
		SkipBooked:    true,
	}
	start := s.today()
	placement, err := s.findNext(ctx, publication, start, opts)
	if err != nil {
		return nil, err
	}
	reason := "next open slot"
	if placement != nil && len(opts.PreferredDays) > 0 {
		reason = "next open slot on a preferred day for tier " + string(routing.Tier)
	}
	if placement == nil && len(opts.PreferredDays) > 0 {
		opts.PreferredDays = nil
		placement, err = s.findNext(ctx, publication, start, opts)
		if err != nil {
			return nil, err
		}
		reason = "no preferred day open; next open slot"
	}
	if placement == nil {
		return nil, nil
	}
	return &Recommendation{
		Date:            placement.Date,
		Slot:            placement.Slot,
		PublicationSlug: publication.Slug,
		Reason:          reason,
	}, nil
}

// SlotAvailability is one slot on one day of the availability grid.
type SlotAvailability struct {
	SlotID      uuid.UUID   `json:"slot_id"`
	IsFixed     bool        `json:"is_fixed"`
	FixedFormat string      `json:"fixed_format,omitempty"`
	Available   bool        `json:"available"`
	SkipReason  string      `json:"skip_reason,omitempty"`
	BookedIdeas []uuid.UUID `json:"booked_ideas,omitempty"`
}

type PublicationDay struct {
	PublicationSlug string             `json:"publication_slug"`
	PublicationName string             `json:"publication_name"`
	Slots           []SlotAvailability `json:"slots"`
	HasOpenSlot     bool               `json:"has_open_slot"`
}

type DayAvailability struct {
	Date         string           `json:"date"`
	Weekday      int              `json:"weekday"`
	Publications []PublicationDay `json:"publications"`
}

// GetDateAvailability builds the per-day, per-publication grid for
// [start, end]. Only slots recurring on each weekday are listed.
func (s *Service) GetDateAvailability(ctx context.Context, start, end time.Time) ([]DayAvailability, error) {
	start, end = models.DateOf(start), models.DateOf(end)
	if end.Before(start) {
		return nil, apperr.Validation("end date %s is before start date %s", end.Format(models.DateLayout), start.Format(models.DateLayout))
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days > maxAvailabilitySpan {
		return nil, apperr.Validation("availability range is limited to %d days", maxAvailabilitySpan)
	}

	publications, err := s.config.ListPublications(ctx, true)
	if err != nil {
		return nil, err
	}
	slots, err := s.config.ListSlots(ctx, nil, true)
	if err != nil {
		return nil, err
	}
	bookings, err := s.routings.Bookings(ctx, start, end)
	if err != nil {
		return nil, err
	}
	booked := NewBookedSet(bookings)

	byPublication := map[uuid.UUID][]models.CalendarSlot{}
	for _, slot := range slots {
		byPublication[slot.PublicationID] = append(byPublication[slot.PublicationID], slot)
	}

	grid := make([]DayAvailability, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		day := DayAvailability{Date: date.Format(models.DateLayout), Weekday: int(date.Weekday())}
		for _, publication := range publications {
			pd := PublicationDay{
				PublicationSlug: publication.Slug,
				PublicationName: publication.Name,
				Slots:           []SlotAvailability{},
			}
			for _, slot := range byPublication[publication.ID] {
				if slot.DayOfWeek != day.Weekday {
					continue
				}
				sa := SlotAvailability{
					SlotID:      slot.ID,
					IsFixed:     slot.IsFixed,
					FixedFormat: slot.FixedFormat,
					Available:   IsSlotAvailable(slot, date),
					BookedIdeas: booked.Ideas(slot.ID, date),
				}
				if reason, skipped := SkipReason(slot, date); skipped {
					sa.SkipReason = reason
				}
				if sa.Available && len(sa.BookedIdeas) == 0 {
					pd.HasOpenSlot = true
				}
				pd.Slots = append(pd.Slots, sa)
			}
			day.Publications = append(day.Publications, pd)
		}
		grid = append(grid, day)
	}
	return grid, nil
}

// GetBufferStatus reports evergreen buffer health for every active publication.
func (s *Service) GetBufferStatus(ctx context.Context) ([]BufferStatus, error) {
	publications, err := s.config.ListPublications(ctx, true)
	if err != nil {
		return nil, err
	}
	counts, err := s.evergreen.QueuedCounts(ctx)
	if err != nil {
		return nil, err
	}
	alerts, err := s.config.BufferAlerts(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]BufferStatus, 0, len(publications))
	for _, publication := range publications {
		status := ComputeBuffer(publication, counts[publication.ID], alerts)
		metrics.ObserveBuffer(publication.Slug, status.Weeks)
		statuses = append(statuses, status)
	}
	return statuses, nil
}
