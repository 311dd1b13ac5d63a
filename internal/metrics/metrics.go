package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry collects platform counters and renders them in Prometheus text
// exposition format. The zero value is usable.
type Registry struct {
	beats             atomic.Int64
	notes             atomic.Int64
	lateNotes         atomic.Int64
	tempoChanges      atomic.Int64
	simTicks          atomic.Int64
	roomMoves         atomic.Int64
	bulletinClaims    atomic.Int64
	claimConflicts    atomic.Int64
	leaseExpiries     atomic.Int64
	workflowStarted   atomic.Int64
	workflowCompleted atomic.Int64
	workflowFailed    atomic.Int64

	busMutex sync.Mutex
	buses    map[string]*busStats

	activities sync.Map
}

type busStats struct {
	published  map[string]int64
	dropped    map[string]int64
	filtered   int
	unfiltered int
}

type activityStats struct {
	count         atomic.Int64
	failures      atomic.Int64
	retries       atomic.Int64
	durationNanos atomic.Int64
}

var Default = &Registry{}

// The nil check must happen before &r.<field> is evaluated at the call
// site; inc cannot guard it because a nil receiver faults on the field
// address itself.
func (r *Registry) IncBeat() {
	if r == nil {
		return
	}
	r.inc(&r.beats)
}

func (r *Registry) IncNote() {
	if r == nil {
		return
	}
	r.inc(&r.notes)
}

func (r *Registry) IncLateNote() {
	if r == nil {
		return
	}
	r.inc(&r.lateNotes)
}

func (r *Registry) IncTempoChange() {
	if r == nil {
		return
	}
	r.inc(&r.tempoChanges)
}

func (r *Registry) IncSimTick() {
	if r == nil {
		return
	}
	r.inc(&r.simTicks)
}

func (r *Registry) IncRoomMove() {
	if r == nil {
		return
	}
	r.inc(&r.roomMoves)
}

func (r *Registry) IncBulletinClaim() {
	if r == nil {
		return
	}
	r.inc(&r.bulletinClaims)
}

func (r *Registry) IncClaimConflict() {
	if r == nil {
		return
	}
	r.inc(&r.claimConflicts)
}

func (r *Registry) IncLeaseExpiry() {
	if r == nil {
		return
	}
	r.inc(&r.leaseExpiries)
}

func (r *Registry) IncWorkflowStarted() {
	if r == nil {
		return
	}
	r.inc(&r.workflowStarted)
}

func (r *Registry) IncWorkflowCompleted() {
	if r == nil {
		return
	}
	r.inc(&r.workflowCompleted)
}

func (r *Registry) IncWorkflowFailed() {
	if r == nil {
		return
	}
	r.inc(&r.workflowFailed)
}

func (r *Registry) inc(counter *atomic.Int64) {
	if r == nil {
		return
	}
	counter.Add(1)
}

// IncEventPublished records a bus publish by bus and event type.
func (r *Registry) IncEventPublished(bus, eventType string) {
	r.addBusCount(bus, eventType, true)
}

// IncEventDropped records a dropped delivery by bus and event type.
func (r *Registry) IncEventDropped(bus, eventType string) {
	r.addBusCount(bus, eventType, false)
}

// SetEventSubscriberCounts records current subscriber gauges for a bus.
func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.busMutex.Lock()
	defer r.busMutex.Unlock()
	stats := r.busStatsLocked(bus)
	stats.filtered = filtered
	stats.unfiltered = unfiltered
}

func (r *Registry) addBusCount(bus, eventType string, published bool) {
	if r == nil {
		return
	}
	if strings.TrimSpace(eventType) == "" {
		eventType = "unknown"
	}
	r.busMutex.Lock()
	defer r.busMutex.Unlock()
	stats := r.busStatsLocked(bus)
	if published {
		stats.published[eventType]++
		return
	}
	stats.dropped[eventType]++
}

func (r *Registry) busStatsLocked(bus string) *busStats {
	if strings.TrimSpace(bus) == "" {
		bus = "event_bus"
	}
	if r.buses == nil {
		r.buses = make(map[string]*busStats)
	}
	stats, ok := r.buses[bus]
	if !ok {
		stats = &busStats{
			published: make(map[string]int64),
			dropped:   make(map[string]int64),
		}
		r.buses[bus] = stats
	}
	return stats
}

// RecordActivity tracks a workflow activity execution.
func (r *Registry) RecordActivity(name string, duration time.Duration, err error, attempt int32) {
	if r == nil {
		return
	}
	if strings.TrimSpace(name) == "" {
		name = "unknown"
	}
	stats := r.activityStats(name)
	stats.count.Add(1)
	stats.durationNanos.Add(duration.Nanoseconds())
	if err != nil {
		stats.failures.Add(1)
	}
	if attempt > 1 {
		stats.retries.Add(1)
	}
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "ensemble_beats_total", "Total conductor beats fired", r.beats.Load())
	writeCounter(writer, "ensemble_notes_total", "Total musician note reports", r.notes.Load())
	writeCounter(writer, "ensemble_notes_late_total", "Note reports past the latency threshold", r.lateNotes.Load())
	writeCounter(writer, "ensemble_tempo_changes_total", "Tempo adjustments", r.tempoChanges.Load())
	writeCounter(writer, "ensemble_sim_ticks_total", "Character simulation ticks", r.simTicks.Load())
	writeCounter(writer, "ensemble_room_moves_total", "MUD room traversals", r.roomMoves.Load())
	writeCounter(writer, "ensemble_bulletin_claims_total", "Successful bulletin claims", r.bulletinClaims.Load())
	writeCounter(writer, "ensemble_claim_conflicts_total", "Bulletin claims lost to a concurrent claimant", r.claimConflicts.Load())
	writeCounter(writer, "ensemble_lease_expiries_total", "Bulletin claim leases expired", r.leaseExpiries.Load())
	writeCounter(writer, "ensemble_workflows_started_total", "Total workflows started", r.workflowStarted.Load())
	writeCounter(writer, "ensemble_workflows_completed_total", "Total workflows completed", r.workflowCompleted.Load())
	writeCounter(writer, "ensemble_workflows_failed_total", "Total workflows failed", r.workflowFailed.Load())

	r.writeBusMetrics(writer)
	r.writeActivityMetrics(writer)
	return nil
}

func (r *Registry) writeBusMetrics(writer io.Writer) {
	r.busMutex.Lock()
	names := make([]string, 0, len(r.buses))
	for name := range r.buses {
		names = append(names, name)
	}
	sort.Strings(names)

	type busRow struct {
		bus, eventType string
		value          int64
	}
	var published, dropped []busRow
	gauges := make([]busRow, 0, len(names)*2)
	for _, name := range names {
		stats := r.buses[name]
		for _, eventType := range sortedKeys(stats.published) {
			published = append(published, busRow{name, eventType, stats.published[eventType]})
		}
		for _, eventType := range sortedKeys(stats.dropped) {
			dropped = append(dropped, busRow{name, eventType, stats.dropped[eventType]})
		}
		gauges = append(gauges,
			busRow{name, "filtered", int64(stats.filtered)},
			busRow{name, "unfiltered", int64(stats.unfiltered)},
		)
	}
	r.busMutex.Unlock()

	writeHelp(writer, "ensemble_events_published_total", "Events published per bus")
	fmt.Fprintln(writer, "# TYPE ensemble_events_published_total counter")
	for _, row := range published {
		fmt.Fprintf(writer, "ensemble_events_published_total{bus=%s,type=%s} %d\n", formatLabel(row.bus), formatLabel(row.eventType), row.value)
	}
	writeHelp(writer, "ensemble_events_dropped_total", "Events dropped per bus")
	fmt.Fprintln(writer, "# TYPE ensemble_events_dropped_total counter")
	for _, row := range dropped {
		fmt.Fprintf(writer, "ensemble_events_dropped_total{bus=%s,type=%s} %d\n", formatLabel(row.bus), formatLabel(row.eventType), row.value)
	}
	writeHelp(writer, "ensemble_event_subscribers", "Current subscribers per bus")
	fmt.Fprintln(writer, "# TYPE ensemble_event_subscribers gauge")
	for _, row := range gauges {
		fmt.Fprintf(writer, "ensemble_event_subscribers{bus=%s,kind=%s} %d\n", formatLabel(row.bus), formatLabel(row.eventType), row.value)
	}
}

func (r *Registry) writeActivityMetrics(writer io.Writer) {
	names := r.activityNames()
	sort.Strings(names)

	writeHelp(writer, "ensemble_activity_duration_seconds", "Activity duration in seconds")
	fmt.Fprintln(writer, "# TYPE ensemble_activity_duration_seconds summary")
	writeHelp(writer, "ensemble_activity_failures_total", "Activity failures")
	fmt.Fprintln(writer, "# TYPE ensemble_activity_failures_total counter")
	writeHelp(writer, "ensemble_activity_retries_total", "Activity retries")
	fmt.Fprintln(writer, "# TYPE ensemble_activity_retries_total counter")

	for _, name := range names {
		stats := r.activityStats(name)
		label := formatLabel(name)
		durationSeconds := float64(stats.durationNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "ensemble_activity_duration_seconds_sum{activity=%s} %.6f\n", label, durationSeconds)
		fmt.Fprintf(writer, "ensemble_activity_duration_seconds_count{activity=%s} %d\n", label, stats.count.Load())
		fmt.Fprintf(writer, "ensemble_activity_failures_total{activity=%s} %d\n", label, stats.failures.Load())
		fmt.Fprintf(writer, "ensemble_activity_retries_total{activity=%s} %d\n", label, stats.retries.Load())
	}
}

func (r *Registry) activityStats(name string) *activityStats {
	value, _ := r.activities.LoadOrStore(name, &activityStats{})
	return value.(*activityStats)
}

func (r *Registry) activityNames() []string {
	if r == nil {
		return nil
	}
	var names []string
	r.activities.Range(func(key, value interface{}) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	return names
}

func sortedKeys(values map[string]int64) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
