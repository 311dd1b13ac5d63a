// Package conductor implements the beat synchronization engine. Beats are
// scheduled against a fixed epoch, musician latency is smoothed per session
// and tempo adapts with hysteresis so a single noisy beat never moves it.
package conductor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"

	"github.com/google/uuid"
)

const (
	latencyAlpha    = 0.3
	harmonyAlpha    = 0.2
	beatsPerMeasure = 4
)

const (
	MinBPM = 40
	MaxBPM = 220
)

var ErrUnknownSession = errors.New("unknown session")
var ErrSessionExpired = errors.New("session expired")
var ErrStaleBeat = errors.New("note answers a beat older than one measure")
var ErrTempoOutOfRange = errors.New("tempo out of range")

// Snapshot is the full performance state a musician needs to realign after a
// join or resume.
type Snapshot struct {
	Beat     uint64        `json:"beat"`
	BPM      int           `json:"bpm"`
	Interval time.Duration `json:"-"`
	Harmony  float64       `json:"harmony"`
	Epoch    time.Time     `json:"epoch"`
	NextBeat time.Time     `json:"next_beat"`
	OnStage  int           `json:"on_stage"`
}

type MusicianView struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name"`
	Section   string    `json:"section"`
	LatencyMS float64   `json:"latency_ms"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

type musicianState struct {
	sessionID string
	name      string
	section   string
	latencyMS float64
	hasNotes  bool
	lastSeen  time.Time
	connected bool
}

type beatTally struct {
	expected int
	onTime   int
}

type Options struct {
	InitialBPM       int
	OnTimeThreshold  time.Duration
	HysteresisBeats  int
	HeartbeatTimeout time.Duration
	SessionGrace     time.Duration
	Bus              *event.Bus[Event]
	Logger           *logging.Logger
	Registry         *metrics.Registry
}

// Engine owns the performance. The epoch anchors beat scheduling: beat N
// fires at epoch + (N-epochBeat)*interval, so sleep jitter never accumulates.
type Engine struct {
	mutex sync.Mutex

	epoch     time.Time
	epochBeat uint64
	interval  time.Duration
	beat      uint64
	bpm       int
	harmony   float64

	musicians map[string]*musicianState
	tallies   map[uint64]*beatTally

	onTimeThreshold  time.Duration
	hysteresisBeats  int
	heartbeatTimeout time.Duration
	sessionGrace     time.Duration
	slowStreak       int
	fastStreak       int

	bus      *event.Bus[Event]
	logger   *logging.Logger
	registry *metrics.Registry
}

func NewEngine(options Options) (*Engine, error) {
	bpm := options.InitialBPM
	if bpm == 0 {
		bpm = 120
	}
	if bpm < MinBPM || bpm > MaxBPM {
		return nil, fmt.Errorf("%w: %d", ErrTempoOutOfRange, bpm)
	}
	threshold := options.OnTimeThreshold
	if threshold <= 0 {
		threshold = 150 * time.Millisecond
	}
	hysteresis := options.HysteresisBeats
	if hysteresis <= 0 {
		hysteresis = 8
	}
	heartbeatTimeout := options.HeartbeatTimeout
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 15 * time.Second
	}
	sessionGrace := options.SessionGrace
	if sessionGrace <= 0 {
		sessionGrace = time.Minute
	}

	now := time.Now().UTC()
	return &Engine{
		epoch:            now,
		interval:         intervalForBPM(bpm),
		bpm:              bpm,
		harmony:          100,
		musicians:        make(map[string]*musicianState),
		tallies:          make(map[uint64]*beatTally),
		onTimeThreshold:  threshold,
		hysteresisBeats:  hysteresis,
		heartbeatTimeout: heartbeatTimeout,
		sessionGrace:     sessionGrace,
		bus:              options.Bus,
		logger:           options.Logger,
		registry:         options.Registry,
	}, nil
}

func intervalForBPM(bpm int) time.Duration {
	return time.Duration(float64(time.Minute) / float64(bpm))
}

// scheduledAtLocked returns when a beat fires (or fired) on the current
// anchor.
func (engine *Engine) scheduledAtLocked(beat uint64) time.Time {
	if beat < engine.epochBeat {
		return engine.epoch
	}
	return engine.epoch.Add(time.Duration(beat-engine.epochBeat) * engine.interval)
}

// Run fires beats until ctx is cancelled. A missed deadline fires
// immediately; the next deadline still comes from the epoch, which is the
// drift correction the whole module exists for.
func (engine *Engine) Run(ctx context.Context) {
	engine.mutex.Lock()
	engine.epoch = time.Now().UTC()
	engine.epochBeat = engine.beat
	engine.mutex.Unlock()

	if engine.logger != nil {
		engine.logger.Info("performance started", map[string]string{
			"bpm": strconv.Itoa(engine.Tempo()),
		})
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		engine.mutex.Lock()
		deadline := engine.scheduledAtLocked(engine.beat)
		engine.mutex.Unlock()

		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			if engine.logger != nil {
				engine.logger.Info("performance stopped", nil)
			}
			return
		case <-timer.C:
			engine.fireBeat(time.Now().UTC())
		}
	}
}

// fireBeat advances the performance one beat: it settles the previous beat's
// harmony, prunes silent musicians, applies tempo hysteresis and publishes
// the beat event.
func (engine *Engine) fireBeat(now time.Time) {
	engine.mutex.Lock()
	beat := engine.beat
	scheduledAt := engine.scheduledAtLocked(beat)

	engine.settleHarmonyLocked(beat)
	left := engine.pruneLocked(now)
	tempoChanged := engine.adaptTempoLocked(beat, scheduledAt)

	// Notes answering beat N arrive during the following interval, so the
	// tally opens when N fires and settles when N+1 fires.
	engine.tallies[beat] = &beatTally{expected: engine.connectedCountLocked()}
	for expired := range engine.tallies {
		if expired+beatsPerMeasure < beat {
			delete(engine.tallies, expired)
		}
	}
	engine.beat = beat + 1
	bpm := engine.bpm
	harmony := engine.harmony
	engine.mutex.Unlock()

	if engine.registry != nil {
		engine.registry.IncBeat()
	}
	for _, musician := range left {
		engine.publish(Event{
			EventType:  EventTypeMusicianLeft,
			SessionID:  musician.sessionID,
			Name:       musician.name,
			Section:    musician.section,
			Reason:     "timeout",
			OccurredAt: now,
		})
	}
	if tempoChanged {
		if engine.registry != nil {
			engine.registry.IncTempoChange()
		}
		engine.publish(Event{
			EventType:  EventTypeTempoChanged,
			BPM:        bpm,
			Reason:     "latency",
			OccurredAt: now,
		})
	}
	engine.publish(Event{
		EventType:   EventTypeBeat,
		Beat:        beat,
		ScheduledAt: scheduledAt,
		BPM:         bpm,
		Harmony:     round2(harmony),
		OccurredAt:  now,
	})
	engine.publish(Event{
		EventType:  EventTypeHarmonyUpdated,
		Beat:       beat,
		Harmony:    round2(harmony),
		OccurredAt: now,
	})
}

// settleHarmonyLocked folds the previous beat's on-time fraction into the
// smoothed harmony score. An empty stage decays toward 100.
func (engine *Engine) settleHarmonyLocked(beat uint64) {
	if beat == 0 {
		return
	}
	tally := engine.tallies[beat-1]
	if tally == nil || tally.expected == 0 {
		engine.harmony = clampHarmony(engine.harmony + harmonyAlpha*(100-engine.harmony))
		return
	}
	onTimePercent := 100 * float64(tally.onTime) / float64(tally.expected)
	engine.harmony = clampHarmony(harmonyAlpha*onTimePercent + (1-harmonyAlpha)*engine.harmony)
}

func clampHarmony(value float64) float64 {
	return math.Max(0, math.Min(100, value))
}

// adaptTempoLocked nudges tempo by 1 BPM only after the median latency has
// stayed out of band for hysteresisBeats consecutive beats.
func (engine *Engine) adaptTempoLocked(beat uint64, scheduledAt time.Time) bool {
	median, ok := engine.medianLatencyLocked()
	if !ok {
		engine.slowStreak = 0
		engine.fastStreak = 0
		return false
	}

	thresholdMS := float64(engine.onTimeThreshold.Milliseconds())
	switch {
	case median > thresholdMS:
		engine.slowStreak++
		engine.fastStreak = 0
	case median < thresholdMS/2:
		engine.fastStreak++
		engine.slowStreak = 0
	default:
		engine.slowStreak = 0
		engine.fastStreak = 0
	}

	next := engine.bpm
	if engine.slowStreak >= engine.hysteresisBeats {
		next--
	} else if engine.fastStreak >= engine.hysteresisBeats {
		next++
	} else {
		return false
	}
	if next < MinBPM {
		next = MinBPM
	}
	if next > MaxBPM {
		next = MaxBPM
	}
	engine.slowStreak = 0
	engine.fastStreak = 0
	if next == engine.bpm {
		return false
	}
	engine.retempoLocked(next, beat, scheduledAt)
	return true
}

// retempoLocked re-anchors the schedule at the current beat so past beats
// keep their timestamps and future ones use the new interval.
func (engine *Engine) retempoLocked(bpm int, beat uint64, anchor time.Time) {
	engine.bpm = bpm
	engine.interval = intervalForBPM(bpm)
	engine.epoch = anchor
	engine.epochBeat = beat
}

func (engine *Engine) medianLatencyLocked() (float64, bool) {
	var latencies []float64
	for _, musician := range engine.musicians {
		if musician.connected && musician.hasNotes {
			latencies = append(latencies, musician.latencyMS)
		}
	}
	if len(latencies) == 0 {
		return 0, false
	}
	sort.Float64s(latencies)
	middle := len(latencies) / 2
	if len(latencies)%2 == 1 {
		return latencies[middle], true
	}
	return (latencies[middle-1] + latencies[middle]) / 2, true
}

func (engine *Engine) connectedCountLocked() int {
	count := 0
	for _, musician := range engine.musicians {
		if musician.connected {
			count++
		}
	}
	return count
}

// pruneLocked disconnects musicians silent past the heartbeat timeout and
// drops sessions silent past the grace period.
func (engine *Engine) pruneLocked(now time.Time) []*musicianState {
	var left []*musicianState
	for sessionID, musician := range engine.musicians {
		silence := now.Sub(musician.lastSeen)
		if silence > engine.sessionGrace {
			delete(engine.musicians, sessionID)
			left = append(left, musician)
			continue
		}
		if silence > engine.heartbeatTimeout {
			musician.connected = false
		}
	}
	return left
}

// Join registers a musician and returns their session ID with the current
// snapshot.
func (engine *Engine) Join(name, section string) (string, Snapshot, error) {
	if name == "" {
		return "", Snapshot{}, errors.New("musician name is required")
	}
	sessionID := uuid.NewString()
	now := time.Now().UTC()

	engine.mutex.Lock()
	engine.musicians[sessionID] = &musicianState{
		sessionID: sessionID,
		name:      name,
		section:   section,
		lastSeen:  now,
		connected: true,
	}
	snapshot := engine.snapshotLocked()
	engine.mutex.Unlock()

	engine.publish(Event{
		EventType:  EventTypeMusicianJoined,
		SessionID:  sessionID,
		Name:       name,
		Section:    section,
		OccurredAt: now,
	})
	return sessionID, snapshot, nil
}

// Resume revives a session that lost its socket within the grace period and
// returns the state the client needs to realign mid-measure.
func (engine *Engine) Resume(sessionID string) (Snapshot, MusicianView, error) {
	now := time.Now().UTC()

	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	musician, ok := engine.musicians[sessionID]
	if !ok {
		return Snapshot{}, MusicianView{}, ErrUnknownSession
	}
	if now.Sub(musician.lastSeen) > engine.sessionGrace {
		delete(engine.musicians, sessionID)
		return Snapshot{}, MusicianView{}, ErrSessionExpired
	}
	musician.lastSeen = now
	musician.connected = true
	return engine.snapshotLocked(), viewOf(musician), nil
}

func (engine *Engine) Heartbeat(sessionID string) error {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	musician, ok := engine.musicians[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	musician.lastSeen = time.Now().UTC()
	musician.connected = true
	return nil
}

// Leave removes a session immediately (clean disconnect).
func (engine *Engine) Leave(sessionID string) {
	engine.mutex.Lock()
	musician, ok := engine.musicians[sessionID]
	if ok {
		delete(engine.musicians, sessionID)
	}
	engine.mutex.Unlock()

	if ok {
		engine.publish(Event{
			EventType:  EventTypeMusicianLeft,
			SessionID:  sessionID,
			Name:       musician.name,
			Section:    musician.section,
			Reason:     "left",
			OccurredAt: time.Now().UTC(),
		})
	}
}

// ReportNote records a musician's answer to a beat. Latency is measured
// against the beat's scheduled time and smoothed into the per-session EWMA.
func (engine *Engine) ReportNote(sessionID string, beat uint64, receivedAt time.Time) (float64, bool, error) {
	engine.mutex.Lock()
	musician, ok := engine.musicians[sessionID]
	if !ok {
		engine.mutex.Unlock()
		return 0, false, ErrUnknownSession
	}
	if beat+beatsPerMeasure < engine.beat {
		engine.mutex.Unlock()
		if engine.registry != nil {
			engine.registry.IncLateNote()
		}
		return 0, false, fmt.Errorf("%w: beat %d, current %d", ErrStaleBeat, beat, engine.beat)
	}

	latency := receivedAt.Sub(engine.scheduledAtLocked(beat))
	if latency < 0 {
		latency = 0
	}
	latencyMS := float64(latency.Milliseconds())
	if musician.hasNotes {
		musician.latencyMS = latencyAlpha*latencyMS + (1-latencyAlpha)*musician.latencyMS
	} else {
		musician.latencyMS = latencyMS
		musician.hasNotes = true
	}
	musician.lastSeen = receivedAt
	musician.connected = true

	onTime := latency <= engine.onTimeThreshold
	if tally := engine.tallies[beat]; tally != nil && onTime {
		tally.onTime++
	}
	smoothed := musician.latencyMS
	engine.mutex.Unlock()

	if engine.registry != nil {
		engine.registry.IncNote()
	}
	return round2(smoothed), onTime, nil
}

// SetTempo applies a manual tempo change and resets the hysteresis streaks.
func (engine *Engine) SetTempo(bpm int) error {
	if bpm < MinBPM || bpm > MaxBPM {
		return fmt.Errorf("%w: %d", ErrTempoOutOfRange, bpm)
	}

	engine.mutex.Lock()
	changed := bpm != engine.bpm
	if changed {
		engine.retempoLocked(bpm, engine.beat, engine.scheduledAtLocked(engine.beat))
	}
	engine.slowStreak = 0
	engine.fastStreak = 0
	engine.mutex.Unlock()

	if changed {
		if engine.registry != nil {
			engine.registry.IncTempoChange()
		}
		engine.publish(Event{
			EventType:  EventTypeTempoChanged,
			BPM:        bpm,
			Reason:     "manual",
			OccurredAt: time.Now().UTC(),
		})
	}
	return nil
}

func (engine *Engine) Tempo() int {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	return engine.bpm
}

func (engine *Engine) Snapshot() Snapshot {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	return engine.snapshotLocked()
}

func (engine *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Beat:     engine.beat,
		BPM:      engine.bpm,
		Interval: engine.interval,
		Harmony:  round2(engine.harmony),
		Epoch:    engine.epoch,
		NextBeat: engine.scheduledAtLocked(engine.beat),
		OnStage:  engine.connectedCountLocked(),
	}
}

// Musicians lists sessions sorted by name for the status endpoint.
func (engine *Engine) Musicians() []MusicianView {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	views := make([]MusicianView, 0, len(engine.musicians))
	for _, musician := range engine.musicians {
		views = append(views, viewOf(musician))
	}
	sort.Slice(views, func(left, right int) bool {
		if views[left].Name != views[right].Name {
			return views[left].Name < views[right].Name
		}
		return views[left].SessionID < views[right].SessionID
	})
	return views
}

func viewOf(musician *musicianState) MusicianView {
	return MusicianView{
		SessionID: musician.sessionID,
		Name:      musician.name,
		Section:   musician.section,
		LatencyMS: round2(musician.latencyMS),
		Connected: musician.connected,
		LastSeen:  musician.lastSeen,
	}
}

func (engine *Engine) publish(ev Event) {
	if engine.bus == nil {
		return
	}
	engine.bus.Publish(ev)
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
