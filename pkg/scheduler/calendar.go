package scheduler

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/contentworks/routing-engine/pkg/common/apperr"
	"github.com/contentworks/routing-engine/pkg/common/models"
	"github.com/google/uuid"
)

// monthDay encodes "MM-DD" as MM*100+DD so ranges compare numerically.
// A full "YYYY-MM-DD" is accepted and its year ignored.
func monthDay(value string) (int, bool) {
	value = strings.TrimSpace(value)
	if len(value) == len(models.DateLayout) {
		value = value[5:]
	}
	parts := strings.Split(value, "-")
	if len(parts) != 2 {
		return 0, false
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return 0, false
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > 31 {
		return 0, false
	}
	return month*100 + day, true
}

func monthDayOf(date time.Time) int {
	return int(date.Month())*100 + date.Day()
}

// MatchesSkipRule reports whether date is blacked out by rule. Both kinds
// recur every year; a range whose start is after its end wraps the new year.
// Malformed rules never match.
func MatchesSkipRule(rule models.SkipRule, date time.Time) bool {
	value := monthDayOf(date)
	switch rule.Type {
	case models.SkipSpecificDate:
		md, ok := monthDay(rule.Date)
		return ok && md == value
	case models.SkipDateRange:
		start, ok := monthDay(rule.Start)
		if !ok {
			return false
		}
		end, ok := monthDay(rule.End)
		if !ok {
			return false
		}
		if start <= end {
			return value >= start && value <= end
		}
		return value >= start || value <= end
	}
	return false
}

// ValidateSkipRule rejects rules MatchesSkipRule would silently ignore.
func ValidateSkipRule(rule models.SkipRule) error {
	switch rule.Type {
	case models.SkipSpecificDate:
		if _, ok := monthDay(rule.Date); !ok {
			return apperr.Validation("skip rule date %q must be MM-DD", rule.Date)
		}
	case models.SkipDateRange:
		if _, ok := monthDay(rule.Start); !ok {
			return apperr.Validation("skip rule start %q must be MM-DD", rule.Start)
		}
		if _, ok := monthDay(rule.End); !ok {
			return apperr.Validation("skip rule end %q must be MM-DD", rule.End)
		}
	default:
		return apperr.Validation("unknown skip rule type %q", rule.Type)
	}
	return nil
}

// SkipReason returns the reason of the first skip rule blacking out date.
func SkipReason(slot models.CalendarSlot, date time.Time) (string, bool) {
	for _, rule := range slot.SkipRules {
		if MatchesSkipRule(rule, date) {
			reason := rule.Reason
			if reason == "" {
				reason = "skip rule"
			}
			return reason, true
		}
	}
	return "", false
}

// IsSlotAvailable requires a matching weekday, an active slot and no skip rule on date.
func IsSlotAvailable(slot models.CalendarSlot, date time.Time) bool {
	if !slot.IsActive || int(date.Weekday()) != slot.DayOfWeek {
		return false
	}
	_, skipped := SkipReason(slot, date)
	return !skipped
}

// SearchOptions tune FindNextSlot.
type SearchOptions struct {
	// PreferredDays restricts the search to these weekdays (0 = Sunday) when non-empty.
	PreferredDays []int `json:"preferred_days,omitempty"`
	ExcludeFixed  bool  `json:"exclude_fixed"`
	// MaxDays bounds the scan; zero means the default horizon.
	MaxDays int `json:"max_days,omitempty"`
	// SkipBooked passes over (date, slot) pairs already assigned to an idea.
	SkipBooked bool `json:"skip_booked"`
}

// DefaultHorizonDays bounds slot searches when no horizon is configured.
const DefaultHorizonDays = 90

// Placement is a concrete (date, slot) pair.
type Placement struct {
	Date time.Time           `json:"date"`
	Slot models.CalendarSlot `json:"slot"`
}

type bookingKey struct {
	slot uuid.UUID
	date string
}

// BookedSet indexes bookings by slot and day.
type BookedSet map[bookingKey][]uuid.UUID

func NewBookedSet(bookings []models.Booking) BookedSet {
	set := BookedSet{}
	for _, b := range bookings {
		if b.SlotID == nil {
			continue
		}
		key := bookingKey{slot: *b.SlotID, date: b.Date.Format(models.DateLayout)}
		set[key] = append(set[key], b.IdeaRoutingID)
	}
	return set
}

func (b BookedSet) Ideas(slotID uuid.UUID, date time.Time) []uuid.UUID {
	return b[bookingKey{slot: slotID, date: date.Format(models.DateLayout)}]
}

// FindNextSlot scans forward from start one day at a time and returns the
// first available (date, slot). Slots on the same day are tried in the order
// given. booked may be nil when opts.SkipBooked is false.
func FindNextSlot(slots []models.CalendarSlot, start time.Time, opts SearchOptions, booked BookedSet) (Placement, bool) {
	horizon := opts.MaxDays
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}
	preferred := map[int]bool{}
	for _, d := range opts.PreferredDays {
		preferred[d] = true
	}

	ordered := make([]models.CalendarSlot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DayOfWeek < ordered[j].DayOfWeek
	})

	day := models.DateOf(start)
	for i := 0; i < horizon; i++ {
		date := day.AddDate(0, 0, i)
		if len(preferred) > 0 && !preferred[int(date.Weekday())] {
			continue
		}
		for _, slot := range ordered {
			if opts.ExcludeFixed && slot.IsFixed {
				continue
			}
			if !IsSlotAvailable(slot, date) {
				continue
			}
			if opts.SkipBooked && len(booked.Ideas(slot.ID, date)) > 0 {
				continue
			}
			return Placement{Date: date, Slot: slot}, true
		}
	}
	return Placement{}, false
}

// ComputeStagger derives the video and text release dates from one anchor.
// The channel released first gets the anchor, the other anchor+gap.
func ComputeStagger(anchor time.Time, settings models.StaggerSettings) models.StaggerDates {
	anchor = models.DateOf(anchor)
	later := anchor.AddDate(0, 0, settings.GapDays)
	if settings.YoutubeFirst {
		return models.StaggerDates{VideoDate: anchor, TextDate: later, GapDays: settings.GapDays}
	}
	return models.StaggerDates{VideoDate: later, TextDate: anchor, GapDays: settings.GapDays}
}
