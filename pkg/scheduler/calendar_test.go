package scheduler

import (
	"testing"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
)

func day(value string) time.Time {
	t, err := models.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return t
}

func slotOn(weekday int, rules ...models.SkipRule) models.CalendarSlot {
	return models.CalendarSlot{ID: uuid.New(), PublicationID: uuid.New(), DayOfWeek: weekday, IsActive: true, SkipRules: rules}
}

func TestSkipRuleRangeWrapsYear(t *testing.T) {
	rule := models.SkipRule{Type: models.SkipDateRange, Start: "12-15", End: "01-05", Reason: "holidays"}
	if !MatchesSkipRule(rule, day("2026-12-25")) {
		t.Fatal("expected 12-25 to match")
	}
	if !MatchesSkipRule(rule, day("2027-01-01")) {
		t.Fatal("expected 01-01 to match")
	}
	if MatchesSkipRule(rule, day("2026-06-15")) {
		t.Fatal("expected 06-15 not to match")
	}
	if !MatchesSkipRule(rule, day("2026-12-15")) || !MatchesSkipRule(rule, day("2027-01-05")) {
		t.Fatal("range bounds are inclusive")
	}
}

func TestSkipRuleRangeWithinYear(t *testing.T) {
	rule := models.SkipRule{Type: models.SkipDateRange, Start: "07-01", End: "07-14"}
	if !MatchesSkipRule(rule, day("2026-07-04")) {
		t.Fatal("expected 07-04 to match")
	}
	if MatchesSkipRule(rule, day("2026-07-15")) {
		t.Fatal("expected 07-15 not to match")
	}
}

func TestSkipRuleSpecificDateRecursYearly(t *testing.T) {
	rule := models.SkipRule{Type: models.SkipSpecificDate, Date: "12-25", Reason: "christmas"}
	for _, d := range []string{"2026-12-25", "2031-12-25"} {
		if !MatchesSkipRule(rule, day(d)) {
			t.Fatalf("expected %s to match", d)
		}
	}
	if MatchesSkipRule(rule, day("2026-12-24")) {
		t.Fatal("expected 12-24 not to match")
	}
	full := models.SkipRule{Type: models.SkipSpecificDate, Date: "2020-07-04"}
	if !MatchesSkipRule(full, day("2026-07-04")) {
		t.Fatal("year of a full date should be ignored")
	}
	broken := models.SkipRule{Type: models.SkipSpecificDate, Date: "13-40"}
	if MatchesSkipRule(broken, day("2026-07-04")) {
		t.Fatal("malformed rule should never match")
	}
}

func TestIsSlotAvailable(t *testing.T) {
	christmas := models.SkipRule{Type: models.SkipSpecificDate, Date: "12-25", Reason: "christmas"}
	friday := slotOn(5, christmas)

	if !IsSlotAvailable(friday, day("2026-03-06")) {
		t.Fatal("friday slot should be open on a friday")
	}
	if IsSlotAvailable(friday, day("2026-03-04")) {
		t.Fatal("friday slot should not be open on a wednesday")
	}
	if IsSlotAvailable(friday, day("2026-12-25")) {
		t.Fatal("skip rule should black out christmas")
	}
	if reason, ok := SkipReason(friday, day("2026-12-25")); !ok || reason != "christmas" {
		t.Fatalf("expected christmas skip reason, got %q", reason)
	}
	friday.IsActive = false
	if IsSlotAvailable(friday, day("2026-03-06")) {
		t.Fatal("inactive slot is never available")
	}
}

func TestFindNextSlot(t *testing.T) {
	monday := slotOn(1)
	wednesday := slotOn(3)
	slots := []models.CalendarSlot{wednesday, monday}

	placement, ok := FindNextSlot(slots, day("2026-03-02"), SearchOptions{}, nil)
	if !ok || placement.Slot.ID != monday.ID || !placement.Date.Equal(day("2026-03-02")) {
		t.Fatalf("expected monday 2026-03-02, got %+v", placement)
	}

	placement, ok = FindNextSlot(slots, day("2026-03-02"), SearchOptions{PreferredDays: []int{3}}, nil)
	if !ok || placement.Slot.ID != wednesday.ID || !placement.Date.Equal(day("2026-03-04")) {
		t.Fatalf("expected wednesday 2026-03-04, got %+v", placement)
	}
}

func TestFindNextSlotOptions(t *testing.T) {
	fixed := slotOn(1)
	fixed.IsFixed = true
	fixed.FixedFormat = "roundup"
	wednesday := slotOn(3)
	slots := []models.CalendarSlot{fixed, wednesday}

	placement, ok := FindNextSlot(slots, day("2026-03-02"), SearchOptions{ExcludeFixed: true}, nil)
	if !ok || placement.Slot.ID != wednesday.ID {
		t.Fatalf("fixed slot should be excluded, got %+v", placement)
	}

	booked := NewBookedSet([]models.Booking{{IdeaRoutingID: uuid.New(), Date: day("2026-03-04"), SlotID: &wednesday.ID}})
	placement, ok = FindNextSlot([]models.CalendarSlot{wednesday}, day("2026-03-02"), SearchOptions{SkipBooked: true}, booked)
	if !ok || !placement.Date.Equal(day("2026-03-11")) {
		t.Fatalf("booked wednesday should be skipped, got %+v", placement)
	}
	placement, ok = FindNextSlot([]models.CalendarSlot{wednesday}, day("2026-03-02"), SearchOptions{}, booked)
	if !ok || !placement.Date.Equal(day("2026-03-04")) {
		t.Fatalf("bookings are ignored without SkipBooked, got %+v", placement)
	}

	if _, ok := FindNextSlot([]models.CalendarSlot{wednesday}, day("2026-03-05"), SearchOptions{MaxDays: 5}, nil); ok {
		t.Fatal("search must stop at the horizon")
	}
	if _, ok := FindNextSlot(nil, day("2026-03-05"), SearchOptions{}, nil); ok {
		t.Fatal("no slots means no placement")
	}
}

func TestComputeStagger(t *testing.T) {
	anchor := day("2026-03-02")
	dates := ComputeStagger(anchor, models.StaggerSettings{Enabled: true, YoutubeFirst: true, GapDays: 2})
	if !dates.VideoDate.Equal(anchor) || !dates.TextDate.Equal(day("2026-03-04")) {
		t.Fatalf("video first: unexpected dates %+v", dates)
	}

	dates = ComputeStagger(anchor, models.StaggerSettings{Enabled: true, YoutubeFirst: false, GapDays: 2})
	if !dates.TextDate.Equal(anchor) || !dates.VideoDate.Equal(day("2026-03-04")) {
		t.Fatalf("text first: unexpected dates %+v", dates)
	}
	if dates.GapDays != 2 {
		t.Fatalf("expected gap 2, got %d", dates.GapDays)
	}
}

func TestComputeBuffer(t *testing.T) {
	alerts := models.DefaultBufferAlerts()
	pub := models.Publication{Slug: "core", WeeklyTarget: 2}

	cases := []struct {
		queued int
		weeks  float64
		status BufferHealth
	}{
		{0, 0, BufferRed},
		{3, 1.5, BufferRed},
		{4, 2, BufferYellow},
		{7, 3.5, BufferYellow},
		{8, 4, BufferGreen},
	}
	for _, tc := range cases {
		got := ComputeBuffer(pub, tc.queued, alerts)
		if got.Weeks != tc.weeks || got.Status != tc.status {
			t.Fatalf("queued %d: expected %v/%s, got %v/%s", tc.queued, tc.weeks, tc.status, got.Weeks, got.Status)
		}
	}

	noTarget := ComputeBuffer(models.Publication{Slug: "video"}, 5, alerts)
	if noTarget.Weeks != 0 || noTarget.Status != BufferGreen {
		t.Fatalf("publication without target should be green, got %+v", noTarget)
	}
}

func TestValidateSkipRule(t *testing.T) {
	valid := []models.SkipRule{
		{Type: models.SkipSpecificDate, Date: "12-25"},
		{Type: models.SkipDateRange, Start: "12-15", End: "01-05"},
	}
	for _, rule := range valid {
		if err := ValidateSkipRule(rule); err != nil {
			t.Fatalf("expected %+v to be valid: %v", rule, err)
		}
	}
	invalid := []models.SkipRule{
		{Type: models.SkipSpecificDate, Date: "25-12"},
		{Type: models.SkipDateRange, Start: "12-15"},
		{Type: "weekly"},
	}
	for _, rule := range invalid {
		if err := ValidateSkipRule(rule); err == nil {
			t.Fatalf("expected %+v to be rejected", rule)
		}
	}
}
