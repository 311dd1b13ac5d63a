// Package simulation runs the character engine: a roster of characters whose
// stats follow seeded bounded random walks, so a fixed roster replays
// identically for a fixed tick count.
package simulation

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
)

const (
	// walkStep bounds the uniform noise added per tick; baselinePull drags
	// each stat back toward its roster baseline.
	walkStep     = 4.0
	baselinePull = 0.05
)

const (
	MoodRadiant = "radiant"
	MoodContent = "content"
	MoodWeary   = "weary"
	MoodGrim    = "grim"
)

const (
	EventTypeTick            = "sim_tick"
	EventTypeCharacterJoined = "character_joined"
	EventTypeCharacterLeft   = "character_left"
)

type Event struct {
	EventType  string              `json:"type"`
	Tick       uint64              `json:"tick"`
	TIN        string              `json:"tin,omitempty"`
	Characters []CharacterSnapshot `json:"characters,omitempty"`
	OccurredAt time.Time           `json:"timestamp"`
}

func (e Event) Type() string { return e.EventType }

type CharacterSnapshot struct {
	TIN       string  `json:"tin"`
	Name      string  `json:"name"`
	Archetype string  `json:"archetype"`
	Energy    float64 `json:"energy"`
	Morale    float64 `json:"morale"`
	Fatigue   float64 `json:"fatigue"`
	Mood      string  `json:"mood"`
}

type characterState struct {
	definition CharacterDef
	energy     float64
	morale     float64
	fatigue    float64
	rng        *rand.Rand
}

// Engine owns the roster and advances it one tick at a time.
type Engine struct {
	mutex      sync.Mutex
	characters map[string]*characterState
	tick       uint64
	interval   time.Duration
	bus        *event.Bus[Event]
	logger     *logging.Logger
	registry   *metrics.Registry
}

type Options struct {
	Interval time.Duration
	Bus      *event.Bus[Event]
	Logger   *logging.Logger
	Registry *metrics.Registry
}

func NewEngine(roster []CharacterDef, options Options) *Engine {
	interval := options.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	engine := &Engine{
		characters: make(map[string]*characterState),
		interval:   interval,
		bus:        options.Bus,
		logger:     options.Logger,
		registry:   options.Registry,
	}
	engine.applyRosterLocked(roster)
	return engine
}

// seedFor derives a deterministic per-character seed from the TIN.
func seedFor(tin string) int64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(tin))
	return int64(hasher.Sum64())
}

func newCharacterState(definition CharacterDef) *characterState {
	return &characterState{
		definition: definition,
		energy:     definition.Baseline.Energy,
		morale:     definition.Baseline.Morale,
		fatigue:    definition.Baseline.Fatigue,
		rng:        rand.New(rand.NewSource(seedFor(definition.TIN))),
	}
}

// ApplyRoster reconciles a reloaded roster against the live one: new TINs
// join at their baseline, removed TINs drop, surviving characters keep their
// walk state but pick up definition changes.
func (engine *Engine) ApplyRoster(roster []CharacterDef) (joined, left []string) {
	engine.mutex.Lock()
	joined, left = engine.applyRosterLocked(roster)
	tick := engine.tick
	engine.mutex.Unlock()

	for _, tin := range joined {
		engine.publish(Event{EventType: EventTypeCharacterJoined, Tick: tick, TIN: tin, OccurredAt: time.Now().UTC()})
	}
	for _, tin := range left {
		engine.publish(Event{EventType: EventTypeCharacterLeft, Tick: tick, TIN: tin, OccurredAt: time.Now().UTC()})
	}
	return joined, left
}

func (engine *Engine) applyRosterLocked(roster []CharacterDef) (joined, left []string) {
	incoming := make(map[string]CharacterDef, len(roster))
	for _, definition := range roster {
		incoming[definition.TIN] = definition
	}

	for tin := range engine.characters {
		if _, ok := incoming[tin]; !ok {
			delete(engine.characters, tin)
			left = append(left, tin)
		}
	}
	for tin, definition := range incoming {
		if state, ok := engine.characters[tin]; ok {
			state.definition = definition
			continue
		}
		engine.characters[tin] = newCharacterState(definition)
		joined = append(joined, tin)
	}
	sort.Strings(joined)
	sort.Strings(left)
	return joined, left
}

// Step advances every character one tick and returns the resulting snapshot.
func (engine *Engine) Step() []CharacterSnapshot {
	engine.mutex.Lock()
	engine.tick++
	tick := engine.tick
	for _, state := range engine.characters {
		state.energy = walk(state.rng, state.energy, state.definition.Baseline.Energy)
		state.morale = walk(state.rng, state.morale, state.definition.Baseline.Morale)
		state.fatigue = walk(state.rng, state.fatigue, state.definition.Baseline.Fatigue)
	}
	snapshot := engine.snapshotLocked()
	engine.mutex.Unlock()

	if engine.registry != nil {
		engine.registry.IncSimTick()
	}
	engine.publish(Event{
		EventType:  EventTypeTick,
		Tick:       tick,
		Characters: snapshot,
		OccurredAt: time.Now().UTC(),
	})
	return snapshot
}

func walk(rng *rand.Rand, current, baseline float64) float64 {
	noise := (rng.Float64()*2 - 1) * walkStep
	next := current + noise + baselinePull*(baseline-current)
	return clamp(next, 0, 100)
}

func clamp(value, low, high float64) float64 {
	return math.Max(low, math.Min(high, value))
}

// moodScore folds the three stats into one number before bucketing.
func moodScore(energy, morale, fatigue float64) float64 {
	return clamp((energy+morale)/2-fatigue/2, 0, 100)
}

func moodLabel(score float64) string {
	switch {
	case score >= 75:
		return MoodRadiant
	case score >= 50:
		return MoodContent
	case score >= 25:
		return MoodWeary
	default:
		return MoodGrim
	}
}

// Snapshot returns the current roster state without advancing it.
func (engine *Engine) Snapshot() []CharacterSnapshot {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	return engine.snapshotLocked()
}

func (engine *Engine) snapshotLocked() []CharacterSnapshot {
	snapshot := make([]CharacterSnapshot, 0, len(engine.characters))
	for _, state := range engine.characters {
		snapshot = append(snapshot, CharacterSnapshot{
			TIN:       state.definition.TIN,
			Name:      state.definition.Name,
			Archetype: state.definition.Archetype,
			Energy:    round1(state.energy),
			Morale:    round1(state.morale),
			Fatigue:   round1(state.fatigue),
			Mood:      moodLabel(moodScore(state.energy, state.morale, state.fatigue)),
		})
	}
	sort.Slice(snapshot, func(left, right int) bool {
		return snapshot[left].TIN < snapshot[right].TIN
	})
	return snapshot
}

// Character returns the snapshot for one TIN.
func (engine *Engine) Character(tin string) (CharacterSnapshot, bool) {
	for _, snapshot := range engine.Snapshot() {
		if snapshot.TIN == tin {
			return snapshot, true
		}
	}
	return CharacterSnapshot{}, false
}

func (engine *Engine) Tick() uint64 {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()
	return engine.tick
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

// Run drives the tick loop until ctx is cancelled.
func (engine *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(engine.interval)
	defer ticker.Stop()

	if engine.logger != nil {
		engine.logger.Info("simulation started", map[string]string{
			"interval":   engine.interval.String(),
			"characters": strconv.Itoa(len(engine.Snapshot())),
		})
	}
	for {
		select {
		case <-ctx.Done():
			if engine.logger != nil {
				engine.logger.Info("simulation stopped", nil)
			}
			return
		case <-ticker.C:
			engine.Step()
		}
	}
}

func (engine *Engine) publish(ev Event) {
	if engine.bus == nil {
		return
	}
	engine.bus.Publish(ev)
}
