package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ideasRouted       atomic.Int64
	routingFailures   atomic.Int64
	ideasScored       atomic.Int64
	ideasKilled       atomic.Int64
	scoreOverrides    atomic.Int64
	ideasScheduled    atomic.Int64
	ideasSlotted      atomic.Int64
	evergreenPulled   atomic.Int64
	evergreenPullMiss atomic.Int64

	bufferMu    sync.Mutex
	bufferWeeks = map[string]float64{}
)

func IncRouted()         { ideasRouted.Add(1) }
func IncRoutingFailure() { routingFailures.Add(1) }
func IncOverride()       { scoreOverrides.Add(1) }
func IncScheduled()      { ideasScheduled.Add(1) }
func IncSlotted()        { ideasSlotted.Add(1) }

// ObserveScored counts a scoring run; killed ideas are counted separately.
func ObserveScored(killed bool) {
	if killed {
		ideasKilled.Add(1)
		return
	}
	ideasScored.Add(1)
}

// ObservePull counts evergreen pulls, split by whether an entry was found.
func ObservePull(found bool) {
	if found {
		evergreenPulled.Add(1)
		return
	}
	evergreenPullMiss.Add(1)
}

// ObserveBuffer records the latest weeks-of-buffer computed for a publication.
func ObserveBuffer(publication string, weeks float64) {
	bufferMu.Lock()
	defer bufferMu.Unlock()
	bufferWeeks[publication] = weeks
}

func Reset() {
	for _, c := range []*atomic.Int64{
		&ideasRouted, &routingFailures, &ideasScored, &ideasKilled, &scoreOverrides,
		&ideasScheduled, &ideasSlotted, &evergreenPulled, &evergreenPullMiss,
	} {
		c.Store(0)
	}
	bufferMu.Lock()
	bufferWeeks = map[string]float64{}
	bufferMu.Unlock()
}

func writeCounter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounter(w, "routing_ideas_routed_total", "Ideas routed to a destination.", ideasRouted.Load())
	writeCounter(w, "routing_failures_total", "Routing calls that found no matching rule.", routingFailures.Load())
	writeCounter(w, "routing_ideas_scored_total", "Scoring runs that kept the idea alive.", ideasScored.Load())
	writeCounter(w, "routing_ideas_killed_total", "Scoring runs that tiered the idea as kill.", ideasKilled.Load())
	writeCounter(w, "routing_score_overrides_total", "Manual score overrides.", scoreOverrides.Load())
	writeCounter(w, "routing_ideas_scheduled_total", "Ideas placed on a calendar date.", ideasScheduled.Load())
	writeCounter(w, "routing_ideas_slotted_total", "Ideas added to an evergreen queue.", ideasSlotted.Load())
	writeCounter(w, "routing_evergreen_pulled_total", "Evergreen entries pulled to fill a date.", evergreenPulled.Load())
	writeCounter(w, "routing_evergreen_pull_empty_total", "Evergreen pulls that found no eligible entry.", evergreenPullMiss.Load())

	bufferMu.Lock()
	defer bufferMu.Unlock()
	if len(bufferWeeks) == 0 {
		return
	}
	publications := make([]string, 0, len(bufferWeeks))
	for slug := range bufferWeeks {
		publications = append(publications, slug)
	}
	sort.Strings(publications)
	fmt.Fprintf(w, "# HELP routing_buffer_weeks Weeks of evergreen buffer at the last buffer check.\n")
	fmt.Fprintf(w, "# TYPE routing_buffer_weeks gauge\n")
	for _, slug := range publications {
		fmt.Fprintf(w, "routing_buffer_weeks{publication=%q} %g\n", slug, bufferWeeks[slug])
	}
}
