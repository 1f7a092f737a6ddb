package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/contentworks/routing-engine/pkg/statuslog"
	"github.com/google/uuid"
)

type fakeConfig struct {
	publications []models.Publication
	slots        []models.CalendarSlot
	thresholds   []models.TierThreshold
	stagger      models.StaggerSettings
	alerts       models.BufferAlertSettings
}

func (f *fakeConfig) ListPublications(context.Context, bool) ([]models.Publication, error) {
	return f.publications, nil
}

func (f *fakeConfig) GetPublicationBySlug(_ context.Context, slug string) (models.Publication, error) {
	for _, p := range f.publications {
		if p.Slug == slug {
			return p, nil
		}
	}
	return models.Publication{}, apperr.NotFound("publication", slug)
}

func (f *fakeConfig) ListSlots(_ context.Context, publicationID *uuid.UUID, _ bool) ([]models.CalendarSlot, error) {
	var out []models.CalendarSlot
	for _, s := range f.slots {
		if publicationID == nil || s.PublicationID == *publicationID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeConfig) GetSlot(_ context.Context, id uuid.UUID) (models.CalendarSlot, error) {
	for _, s := range f.slots {
		if s.ID == id {
			return s, nil
		}
	}
	return models.CalendarSlot{}, apperr.NotFound("calendar slot", id)
}

func (f *fakeConfig) ActiveThresholds(context.Context) ([]models.TierThreshold, error) {
	return f.thresholds, nil
}

func (f *fakeConfig) BufferAlerts(context.Context) (models.BufferAlertSettings, error) {
	return f.alerts, nil
}

func (f *fakeConfig) StaggerSettings(context.Context) (models.StaggerSettings, error) {
	return f.stagger, nil
}

type fakeRoutings struct {
	items map[uuid.UUID]models.IdeaRouting
}

func (f *fakeRoutings) GetRouting(_ context.Context, id uuid.UUID) (models.IdeaRouting, error) {
	r, ok := f.items[id]
	if !ok {
		return models.IdeaRouting{}, apperr.NotFound("idea routing", id)
	}
	return r, nil
}

func (f *fakeRoutings) Mutate(ctx context.Context, id uuid.UUID, fn func(*models.IdeaRouting) error) (models.IdeaRouting, error) {
	r, err := f.GetRouting(ctx, id)
	if err != nil {
		return models.IdeaRouting{}, err
	}
	if err := fn(&r); err != nil {
		return models.IdeaRouting{}, err
	}
	f.items[id] = r
	return r, nil
}

func (f *fakeRoutings) Bookings(_ context.Context, from, to time.Time) ([]models.Booking, error) {
	var out []models.Booking
	for _, r := range f.items {
		if r.Status != models.StatusScheduled || r.CalendarDate == nil {
			continue
		}
		if r.CalendarDate.Before(from) || r.CalendarDate.After(to) {
			continue
		}
		out = append(out, models.Booking{IdeaRoutingID: r.ID, Date: *r.CalendarDate, SlotID: r.SlotID})
	}
	return out, nil
}

type fakeEvergreen struct {
	mu       sync.Mutex
	routings *fakeRoutings
	entries  []models.EvergreenQueueEntry
}

func (f *fakeEvergreen) EnqueueEvergreen(
	ctx context.Context,
	routingID, publicationID uuid.UUID,
	fn func(*models.IdeaRouting, *models.EvergreenQueueEntry) (models.EvergreenQueueEntry, error),
) (models.EvergreenQueueEntry, models.IdeaRouting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	routing, err := f.routings.GetRouting(ctx, routingID)
	if err != nil {
		return models.EvergreenQueueEntry{}, models.IdeaRouting{}, err
	}
	openIdx := -1
	var open *models.EvergreenQueueEntry
	for i, e := range f.entries {
		if e.IdeaRoutingID == routingID && e.PublicationID == publicationID && e.PulledAt == nil {
			openIdx = i
			current := e
			open = &current
		}
	}
	want, err := fn(&routing, open)
	if err != nil {
		return models.EvergreenQueueEntry{}, models.IdeaRouting{}, err
	}
	addedAt := time.Now().UTC().Add(time.Duration(len(f.entries)) * time.Second)
	if openIdx >= 0 {
		f.entries[openIdx].Score = want.Score
		f.entries[openIdx].Tier = want.Tier
		f.entries[openIdx].IsStale = false
		f.entries[openIdx].AddedAt = addedAt
		want = f.entries[openIdx]
	} else {
		want.ID = uuid.New()
		want.AddedAt = addedAt
		f.entries = append(f.entries, want)
	}
	f.routings.items[routingID] = routing
	return want, routing, nil
}

func (f *fakeEvergreen) ListEvergreen(_ context.Context, publicationID uuid.UUID, includePulled bool) ([]models.EvergreenQueueEntry, error) {
	var out []models.EvergreenQueueEntry
	for _, e := range f.entries {
		if e.PublicationID == publicationID && (includePulled || e.PulledAt == nil) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEvergreen) SetEvergreenStale(_ context.Context, id uuid.UUID, stale bool) (models.EvergreenQueueEntry, error) {
	for i := range f.entries {
		if f.entries[i].ID == id {
			f.entries[i].IsStale = stale
			return f.entries[i], nil
		}
	}
	return models.EvergreenQueueEntry{}, apperr.NotFound("evergreen entry", id)
}

func (f *fakeEvergreen) pullable(e models.EvergreenQueueEntry, publicationID uuid.UUID) bool {
	if e.PublicationID != publicationID || e.PulledAt != nil || e.IsStale {
		return false
	}
	return f.routings.items[e.IdeaRoutingID].Status == models.StatusSlotted
}

func (f *fakeEvergreen) PullEvergreen(
	_ context.Context,
	publicationID uuid.UUID,
	date time.Time,
	reason string,
	place func(models.EvergreenQueueEntry) error,
) (*models.EvergreenQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		var candidates []int
		for i, e := range f.entries {
			if f.pullable(e, publicationID) {
				candidates = append(candidates, i)
			}
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		sort.SliceStable(candidates, func(a, b int) bool {
			return f.entries[candidates[a]].Score > f.entries[candidates[b]].Score
		})
		idx := candidates[0]
		now := time.Now().UTC()
		entry := f.entries[idx]
		entry.PulledAt = &now
		entry.PulledForDate = &date
		entry.PullReason = reason
		if err := place(entry); err != nil {
			if !errors.Is(err, apperr.ErrInvariant) {
				return nil, err
			}
			f.entries[idx].IsStale = true
			continue
		}
		f.entries[idx] = entry
		return &entry, nil
	}
}

func (f *fakeEvergreen) QueuedCounts(context.Context) (map[uuid.UUID]int, error) {
	counts := map[uuid.UUID]int{}
	for _, e := range f.entries {
		if f.pullable(e, e.PublicationID) {
			counts[e.PublicationID]++
		}
	}
	return counts, nil
}

type transitions struct {
	items []statuslog.Transition
}

func (t *transitions) Record(_ context.Context, tr statuslog.Transition) {
	t.items = append(t.items, tr)
}

type fixture struct {
	svc       *Service
	config    *fakeConfig
	routings  *fakeRoutings
	evergreen *fakeEvergreen
	recorder  *transitions
	core      models.Publication
	video     models.Publication
	monday    models.CalendarSlot
	wednesday models.CalendarSlot
	videoMon  models.CalendarSlot
}

func newFixture() *fixture {
	core := models.Publication{ID: uuid.New(), Slug: "core", Name: "Core", WeeklyTarget: 2, IsActive: true}
	video := models.Publication{ID: uuid.New(), Slug: "video", Name: "Video", WeeklyTarget: 1, IsActive: true}
	monday := models.CalendarSlot{ID: uuid.New(), PublicationID: core.ID, DayOfWeek: 1, IsActive: true,
		SkipRules: []models.SkipRule{{Type: models.SkipDateRange, Start: "12-15", End: "01-05", Reason: "holidays"}}}
	wednesday := models.CalendarSlot{ID: uuid.New(), PublicationID: core.ID, DayOfWeek: 3, IsActive: true}
	videoMon := models.CalendarSlot{ID: uuid.New(), PublicationID: video.ID, DayOfWeek: 1, IsActive: true}

	cfg := &fakeConfig{
		publications: []models.Publication{core, video},
		slots:        []models.CalendarSlot{monday, wednesday, videoMon},
		thresholds: []models.TierThreshold{
			{Tier: models.TierPremiumA, MinScore: 9, AutoStagger: true, PreferredDays: []int{3}, IsActive: true},
			{Tier: models.TierA, MinScore: 7, IsActive: true},
			{Tier: models.TierKill, MinScore: 0, IsActive: true},
		},
		stagger: models.DefaultStagger(),
		alerts:  models.DefaultBufferAlerts(),
	}
	routings := &fakeRoutings{items: map[uuid.UUID]models.IdeaRouting{}}
	evergreen := &fakeEvergreen{routings: routings}
	recorder := &transitions{}
	svc := NewService(cfg, routings, evergreen, recorder, Options{
		Publications: models.PublicationSlugs{Core: "core", Beginner: "beginner", Video: "video"},
	})
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	return &fixture{
		svc: svc, config: cfg, routings: routings, evergreen: evergreen, recorder: recorder,
		core: core, video: video, monday: monday, wednesday: wednesday, videoMon: videoMon,
	}
}

func (f *fixture) scored(tier models.Tier, score float64, video models.NeedsVideo) models.IdeaRouting {
	r := models.IdeaRouting{
		ID:          uuid.New(),
		IdeaID:      uuid.New(),
		Destination: models.DestinationCore,
		NeedsVideo:  video,
		Scores:      map[string]float64{"core": score},
		Tier:        tier,
		Status:      models.StatusScored,
	}
	if tier == models.TierKill {
		r.Status = models.StatusKilled
	}
	f.routings.items[r.ID] = r
	return r
}

func TestScheduleIdeaPicksSlotOnDate(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierA, 7.5, models.NeedsVideoNo)

	updated, err := f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-03-04"), nil, "editor")
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if updated.Status != models.StatusScheduled || updated.SlotID == nil || *updated.SlotID != f.wednesday.ID {
		t.Fatalf("expected wednesday slot, got %+v", updated)
	}
	if updated.IsStaggered {
		t.Fatal("tier a does not stagger")
	}
	if len(f.recorder.items) != 1 || f.recorder.items[0].From != models.StatusScored {
		t.Fatalf("expected scored -> scheduled transition, got %+v", f.recorder.items)
	}
}

func TestScheduleIdeaRejectsBlackedOutSlot(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierA, 7.5, models.NeedsVideoNo)

	_, err := f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-12-21"), &f.monday.ID, "")
	if !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	_, err = f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-03-04"), &f.monday.ID, "")
	if !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("weekday mismatch should be rejected, got %v", err)
	}
	if f.routings.items[r.ID].Status != models.StatusScored {
		t.Fatal("rejected schedule must not change the routing")
	}
}

func TestScheduleIdeaRejectsKilledAndUnscored(t *testing.T) {
	f := newFixture()
	killed := f.scored(models.TierKill, 3, models.NeedsVideoNo)
	if _, err := f.svc.ScheduleIdea(context.Background(), killed.ID, day("2026-03-04"), nil, ""); !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}

	routed := models.IdeaRouting{ID: uuid.New(), Destination: models.DestinationCore, Status: models.StatusRouted}
	f.routings.items[routed.ID] = routed
	if _, err := f.svc.ScheduleIdea(context.Background(), routed.ID, day("2026-03-04"), nil, ""); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestScheduleIdeaStaggersPremiumCoreWithVideo(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierPremiumA, 9.4, models.NeedsVideoYes)

	updated, err := f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-03-02"), nil, "")
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if !updated.IsStaggered || updated.Stagger == nil {
		t.Fatal("premium core idea with video should be staggered")
	}
	if !updated.Stagger.VideoDate.Equal(day("2026-03-02")) || !updated.Stagger.TextDate.Equal(day("2026-03-04")) {
		t.Fatalf("unexpected stagger %+v", updated.Stagger)
	}
	if _, conflict := f.recorder.items[0].Metadata["stagger_conflict"]; conflict {
		t.Fatal("monday has an open video slot")
	}
}

func TestScheduleIdeaFlagsStaggerConflict(t *testing.T) {
	f := newFixture()
	f.config.stagger = models.StaggerSettings{Enabled: true, YoutubeFirst: false, GapDays: 2}
	r := f.scored(models.TierPremiumA, 9.4, models.NeedsVideoYes)

	updated, err := f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-03-02"), nil, "")
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if !updated.Stagger.VideoDate.Equal(day("2026-03-04")) {
		t.Fatalf("text first should put video on the later date, got %+v", updated.Stagger)
	}
	if _, conflict := f.recorder.items[0].Metadata["stagger_conflict"]; !conflict {
		t.Fatal("wednesday has no video slot; conflict should be recorded")
	}
}

func TestScheduleIdeaStaggerDisabled(t *testing.T) {
	f := newFixture()
	f.config.stagger = models.StaggerSettings{Enabled: false, YoutubeFirst: true, GapDays: 2}
	r := f.scored(models.TierPremiumA, 9.4, models.NeedsVideoYes)

	updated, err := f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-03-02"), nil, "")
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if updated.IsStaggered {
		t.Fatal("disabled stagger setting should not stagger")
	}
}

func TestAddToEvergreenRejectsKill(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierKill, 2, models.NeedsVideoNo)
	_, err := f.svc.AddToEvergreen(context.Background(), r.ID, "core", "")
	if !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if len(f.evergreen.entries) != 0 {
		t.Fatal("killed idea must not be queued")
	}
}

func TestAddToEvergreenAndPull(t *testing.T) {
	f := newFixture()
	low := f.scored(models.TierA, 7.1, models.NeedsVideoNo)
	high := f.scored(models.TierA, 8.6, models.NeedsVideoNo)

	for _, r := range []models.IdeaRouting{low, high} {
		entry, err := f.svc.AddToEvergreen(context.Background(), r.ID, "core", "")
		if err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if entry.PublicationSlug != "core" {
			t.Fatalf("entry should carry publication slug, got %q", entry.PublicationSlug)
		}
		if f.routings.items[r.ID].Status != models.StatusSlotted {
			t.Fatalf("queued idea should be slotted, got %s", f.routings.items[r.ID].Status)
		}
	}
	if f.evergreen.entries[1].Score != 8.6 {
		t.Fatalf("entry should snapshot the score, got %v", f.evergreen.entries[1].Score)
	}

	result, err := f.svc.PullFromEvergreen(context.Background(), "core", day("2026-03-04"), "")
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result == nil || result.Entry.IdeaRoutingID != high.ID {
		t.Fatalf("expected highest scoring entry, got %+v", result)
	}
	if result.Entry.PullReason != models.PullReasonGapFill {
		t.Fatalf("expected gap_fill reason, got %q", result.Entry.PullReason)
	}
	if result.Routing.Status != models.StatusScheduled || !result.Routing.CalendarDate.Equal(day("2026-03-04")) {
		t.Fatalf("pulled idea should be scheduled on the date, got %+v", result.Routing)
	}

	buffer, err := f.svc.GetBufferStatus(context.Background())
	if err != nil {
		t.Fatalf("buffer failed: %v", err)
	}
	if buffer[0].PublicationSlug != "core" || buffer[0].Queued != 1 || buffer[0].Status != BufferRed {
		t.Fatalf("unexpected buffer %+v", buffer[0])
	}
}

func TestAddToEvergreenKeepsScheduledStatus(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierA, 7.5, models.NeedsVideoNo)
	if _, err := f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-03-04"), nil, ""); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if _, err := f.svc.AddToEvergreen(context.Background(), r.ID, "video", ""); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if f.routings.items[r.ID].Status != models.StatusScheduled {
		t.Fatalf("scheduled idea should stay scheduled, got %s", f.routings.items[r.ID].Status)
	}
}

func TestPullFromEmptyQueueReturnsNil(t *testing.T) {
	f := newFixture()
	result, err := f.svc.PullFromEvergreen(context.Background(), "core", day("2026-03-04"), "")
	if err != nil {
		t.Fatalf("empty pull should not error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result, got %+v", result)
	}
	if _, err := f.svc.PullFromEvergreen(context.Background(), "podcast", day("2026-03-04"), ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown publication should be not found, got %v", err)
	}
}

func TestPullSkipsStaleEntries(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierA, 8, models.NeedsVideoNo)
	entry, err := f.svc.AddToEvergreen(context.Background(), r.ID, "core", "")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := f.svc.MarkEvergreenStale(context.Background(), entry.ID, true); err != nil {
		t.Fatalf("mark stale failed: %v", err)
	}
	result, err := f.svc.PullFromEvergreen(context.Background(), "core", day("2026-03-04"), "")
	if err != nil || result != nil {
		t.Fatalf("stale entry should not be pulled, got %+v, %v", result, err)
	}
}

func TestPullAfterRerouteServesNextEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.scored(models.TierPremiumA, 9.5, models.NeedsVideoNo)
	second := f.scored(models.TierA, 7.5, models.NeedsVideoNo)
	for _, r := range []models.IdeaRouting{first, second} {
		if _, err := f.svc.AddToEvergreen(ctx, r.ID, "core", ""); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	rerouted := f.routings.items[first.ID]
	rerouted.Status = models.StatusRouted
	rerouted.Tier = ""
	rerouted.Scores = nil
	f.routings.items[first.ID] = rerouted

	result, err := f.svc.PullFromEvergreen(ctx, "core", day("2026-03-04"), "")
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result == nil || result.Entry.IdeaRoutingID != second.ID {
		t.Fatalf("expected the next slotted idea, got %+v", result)
	}
	if f.evergreen.entries[0].PulledAt != nil {
		t.Fatal("entry of the re-routed idea must stay unpulled")
	}
	if f.routings.items[first.ID].CalendarDate != nil {
		t.Fatal("re-routed idea must not be placed")
	}

	buffer, err := f.svc.GetBufferStatus(ctx)
	if err != nil {
		t.Fatalf("buffer failed: %v", err)
	}
	if buffer[0].Queued != 0 {
		t.Fatalf("re-routed idea must not count toward the buffer, got %d", buffer[0].Queued)
	}
}

func TestPullMarksUnschedulableEntryStale(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	doomed := f.scored(models.TierA, 9.1, models.NeedsVideoNo)
	next := f.scored(models.TierA, 7.2, models.NeedsVideoNo)
	for _, r := range []models.IdeaRouting{doomed, next} {
		if _, err := f.svc.AddToEvergreen(ctx, r.ID, "core", ""); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}
	killed := f.routings.items[doomed.ID]
	killed.Tier = models.TierKill
	f.routings.items[doomed.ID] = killed

	result, err := f.svc.PullFromEvergreen(ctx, "core", day("2026-03-04"), "")
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if result == nil || result.Entry.IdeaRoutingID != next.ID {
		t.Fatalf("expected the next entry to be pulled, got %+v", result)
	}
	if !f.evergreen.entries[0].IsStale || f.evergreen.entries[0].PulledAt != nil {
		t.Fatalf("unschedulable entry should be stale and unpulled, got %+v", f.evergreen.entries[0])
	}
	if f.routings.items[doomed.ID].Status != models.StatusSlotted {
		t.Fatalf("skipped idea should keep its status, got %s", f.routings.items[doomed.ID].Status)
	}
}

func TestAddToEvergreenRejectsDuplicateEntry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r := f.scored(models.TierA, 8, models.NeedsVideoNo)
	if _, err := f.svc.AddToEvergreen(ctx, r.ID, "core", ""); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := f.svc.AddToEvergreen(ctx, r.ID, "core", ""); !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("second entry should be rejected, got %v", err)
	}
	if len(f.evergreen.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(f.evergreen.entries))
	}
	buffer, err := f.svc.GetBufferStatus(ctx)
	if err != nil {
		t.Fatalf("buffer failed: %v", err)
	}
	if buffer[0].Queued != 1 {
		t.Fatalf("expected one queued entry, got %d", buffer[0].Queued)
	}
}

func TestScheduledIdeaIsNotRequeuedOrMoved(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r := f.scored(models.TierA, 7.5, models.NeedsVideoNo)
	if _, err := f.svc.ScheduleIdea(ctx, r.ID, day("2026-03-04"), nil, ""); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if _, err := f.svc.AddToEvergreen(ctx, r.ID, "core", ""); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := f.svc.AddToEvergreen(ctx, r.ID, "core", ""); !errors.Is(err, apperr.ErrInvariant) {
		t.Fatalf("second entry should be rejected, got %v", err)
	}

	buffer, err := f.svc.GetBufferStatus(ctx)
	if err != nil {
		t.Fatalf("buffer failed: %v", err)
	}
	if buffer[0].Queued != 0 {
		t.Fatalf("scheduled idea must not count toward the buffer, got %d", buffer[0].Queued)
	}

	result, err := f.svc.PullFromEvergreen(ctx, "core", day("2026-03-11"), "")
	if err != nil || result != nil {
		t.Fatalf("scheduled idea must not be pulled, got %+v, %v", result, err)
	}
	if date := f.routings.items[r.ID].CalendarDate; date == nil || !date.Equal(day("2026-03-04")) {
		t.Fatalf("scheduled idea should keep its date, got %v", date)
	}
}

func TestAddToEvergreenRefreshesEntryAfterReroute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r := f.scored(models.TierA, 7.4, models.NeedsVideoNo)
	if _, err := f.svc.AddToEvergreen(ctx, r.ID, "core", ""); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	rescored := f.routings.items[r.ID]
	rescored.Status = models.StatusScored
	rescored.Scores = map[string]float64{"core": 8.8}
	f.routings.items[r.ID] = rescored

	entry, err := f.svc.AddToEvergreen(ctx, r.ID, "core", "")
	if err != nil {
		t.Fatalf("re-queue after re-route failed: %v", err)
	}
	if len(f.evergreen.entries) != 1 || entry.Score != 8.8 {
		t.Fatalf("expected the open entry to be refreshed, got %d entries, score %v", len(f.evergreen.entries), entry.Score)
	}
}

func TestAddToEvergreenLeavesNoEntryOnRejectedTransition(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierA, 7.5, models.NeedsVideoNo)
	routed := f.routings.items[r.ID]
	routed.Status = models.StatusRouted
	f.routings.items[r.ID] = routed

	if _, err := f.svc.AddToEvergreen(context.Background(), r.ID, "core", ""); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(f.evergreen.entries) != 0 {
		t.Fatal("rejected idea must not leave a queue entry")
	}
}

func TestGetRecommendedSlotPrefersTierDaysAndSkipsBooked(t *testing.T) {
	f := newFixture()
	premium := f.scored(models.TierPremiumA, 9.2, models.NeedsVideoNo)

	rec, err := f.svc.GetRecommendedSlot(context.Background(), premium.ID)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec == nil || !rec.Date.Equal(day("2026-03-04")) || rec.Slot.ID != f.wednesday.ID {
		t.Fatalf("expected wednesday 2026-03-04, got %+v", rec)
	}

	other := f.scored(models.TierA, 7.5, models.NeedsVideoNo)
	if _, err := f.svc.ScheduleIdea(context.Background(), other.ID, day("2026-03-04"), &f.wednesday.ID, ""); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	rec, err = f.svc.GetRecommendedSlot(context.Background(), premium.ID)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if rec == nil || !rec.Date.Equal(day("2026-03-11")) {
		t.Fatalf("booked wednesday should be skipped, got %+v", rec)
	}
}

func TestFindNextAvailableSlotService(t *testing.T) {
	f := newFixture()
	placement, err := f.svc.FindNextAvailableSlot(context.Background(), "core", day("2026-12-16"), SearchOptions{})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if placement == nil || !placement.Date.Equal(day("2026-12-16")) || placement.Slot.ID != f.wednesday.ID {
		t.Fatalf("expected wednesday 2026-12-16, got %+v", placement)
	}
	if placement.Slot.PublicationSlug != "core" {
		t.Fatalf("placement should carry the publication slug, got %q", placement.Slot.PublicationSlug)
	}

	mondays, err := f.svc.FindNextAvailableSlot(context.Background(), "core", day("2026-12-16"), SearchOptions{PreferredDays: []int{1}})
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if mondays == nil || !mondays.Date.Equal(day("2027-01-11")) {
		t.Fatalf("holiday mondays should be skipped, got %+v", mondays)
	}
}

func TestGetDateAvailability(t *testing.T) {
	f := newFixture()
	r := f.scored(models.TierA, 7.5, models.NeedsVideoNo)
	if _, err := f.svc.ScheduleIdea(context.Background(), r.ID, day("2026-12-23"), nil, ""); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	grid, err := f.svc.GetDateAvailability(context.Background(), day("2026-12-21"), day("2026-12-23"))
	if err != nil {
		t.Fatalf("availability failed: %v", err)
	}
	if len(grid) != 3 {
		t.Fatalf("expected three days, got %d", len(grid))
	}

	monday := grid[0].Publications[0]
	if len(monday.Slots) != 1 || monday.Slots[0].Available || monday.Slots[0].SkipReason != "holidays" {
		t.Fatalf("monday 12-21 should be blacked out, got %+v", monday)
	}
	if monday.HasOpenSlot {
		t.Fatal("blacked out day has no open slot")
	}
	tuesday := grid[1].Publications[0]
	if len(tuesday.Slots) != 0 {
		t.Fatalf("no core slot recurs on tuesday, got %+v", tuesday.Slots)
	}
	wednesday := grid[2].Publications[0]
	if len(wednesday.Slots) != 1 || !wednesday.Slots[0].Available || len(wednesday.Slots[0].BookedIdeas) != 1 {
		t.Fatalf("wednesday should be available and booked once, got %+v", wednesday)
	}

	if _, err := f.svc.GetDateAvailability(context.Background(), day("2026-12-16"), day("2026-12-14")); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("inverted range should be a validation error, got %v", err)
	}
}
