package conductor

import (
	"errors"
	"math"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, options Options) *Engine {
	t.Helper()
	engine, err := NewEngine(options)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestBeatScheduleAnchoredToEpoch(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 60})
	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.epoch = epoch
	engine.epochBeat = 0

	for _, beat := range []uint64{0, 1, 10, 100} {
		want := epoch.Add(time.Duration(beat) * time.Second)
		if got := engine.scheduledAtLocked(beat); !got.Equal(want) {
			t.Fatalf("beat %d scheduled at %s, want %s", beat, got, want)
		}
	}
}

func TestRetempoReanchorsSchedule(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 60})
	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.epoch = epoch
	engine.epochBeat = 0

	// Tempo change at beat 10 keeps beat 10's timestamp and spaces later
	// beats at the new interval.
	anchor := engine.scheduledAtLocked(10)
	engine.retempoLocked(120, 10, anchor)

	if got := engine.scheduledAtLocked(10); !got.Equal(anchor) {
		t.Fatalf("anchor beat moved to %s", got)
	}
	want := anchor.Add(intervalForBPM(120))
	if got := engine.scheduledAtLocked(11); !got.Equal(want) {
		t.Fatalf("beat 11 scheduled at %s, want %s", got, want)
	}
}

func TestJoinAndResume(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120})

	sessionID, snapshot, err := engine.Join("mira", "strings")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected a session id")
	}
	if snapshot.BPM != 120 || snapshot.OnStage != 1 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	resumed, view, err := engine.Resume(sessionID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if view.Name != "mira" || !view.Connected {
		t.Fatalf("unexpected view %+v", view)
	}
	if resumed.OnStage != 1 {
		t.Fatalf("unexpected resumed snapshot %+v", resumed)
	}

	if _, _, err := engine.Resume("no-such-session"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestResumeExpiresAfterGrace(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120, SessionGrace: time.Minute})
	sessionID, _, err := engine.Join("mira", "strings")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	engine.mutex.Lock()
	engine.musicians[sessionID].lastSeen = time.Now().UTC().Add(-2 * time.Minute)
	engine.mutex.Unlock()

	if _, _, err := engine.Resume(sessionID); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	// The expired session is gone for good.
	if _, _, err := engine.Resume(sessionID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession after expiry, got %v", err)
	}
}

func TestReportNoteSmoothsLatency(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 60})
	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.epoch = epoch
	engine.epochBeat = 0
	engine.tallies[0] = &beatTally{expected: 1}

	sessionID, _, err := engine.Join("mira", "strings")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	first, onTime, err := engine.ReportNote(sessionID, 0, epoch.Add(100*time.Millisecond))
	if err != nil {
		t.Fatalf("ReportNote: %v", err)
	}
	if first != 100 {
		t.Fatalf("first note seeds the estimate, got %.2f", first)
	}
	if !onTime {
		t.Fatal("100ms should be on time at the default threshold")
	}

	second, onTime, err := engine.ReportNote(sessionID, 0, epoch.Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("ReportNote: %v", err)
	}
	want := 0.3*200 + 0.7*100
	if math.Abs(second-want) > 0.01 {
		t.Fatalf("expected smoothed %.2f, got %.2f", want, second)
	}
	if onTime {
		t.Fatal("200ms should be late at the default threshold")
	}
	if engine.tallies[0].onTime != 1 {
		t.Fatalf("expected 1 on-time note, got %d", engine.tallies[0].onTime)
	}
}

func TestReportNoteRejectsStaleBeat(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120})
	sessionID, _, err := engine.Join("mira", "strings")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	engine.mutex.Lock()
	engine.beat = 10
	engine.mutex.Unlock()

	if _, _, err := engine.ReportNote(sessionID, 2, time.Now()); !errors.Is(err, ErrStaleBeat) {
		t.Fatalf("expected ErrStaleBeat, got %v", err)
	}
	// One measure back is still accepted.
	if _, _, err := engine.ReportNote(sessionID, 6, time.Now()); err != nil {
		t.Fatalf("note one measure back should be accepted: %v", err)
	}
}

func TestHarmonySettlement(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120})
	engine.tallies[0] = &beatTally{expected: 2, onTime: 1}

	engine.settleHarmonyLocked(1)
	// 0.2*50 + 0.8*100
	if math.Abs(engine.harmony-90) > 0.01 {
		t.Fatalf("expected harmony 90, got %.2f", engine.harmony)
	}
}

func TestHarmonyDecaysToward100OnEmptyStage(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120})
	engine.harmony = 50

	engine.settleHarmonyLocked(1)
	if math.Abs(engine.harmony-60) > 0.01 {
		t.Fatalf("expected harmony to decay to 60, got %.2f", engine.harmony)
	}
}

func TestTempoHysteresis(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120, HysteresisBeats: 3})
	sessionID, _, err := engine.Join("mira", "strings")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	engine.mutex.Lock()
	engine.musicians[sessionID].hasNotes = true
	engine.musicians[sessionID].latencyMS = 300
	engine.mutex.Unlock()

	for beat := 0; beat < 2; beat++ {
		engine.mutex.Lock()
		changed := engine.adaptTempoLocked(uint64(beat), time.Now())
		engine.mutex.Unlock()
		if changed {
			t.Fatalf("tempo changed after only %d slow beats", beat+1)
		}
	}

	engine.mutex.Lock()
	changed := engine.adaptTempoLocked(2, time.Now())
	bpm := engine.bpm
	engine.mutex.Unlock()
	if !changed || bpm != 119 {
		t.Fatalf("expected tempo drop to 119 on the third slow beat, got changed=%t bpm=%d", changed, bpm)
	}
}

func TestTempoHysteresisResetsOnRecovery(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120, HysteresisBeats: 3})
	sessionID, _, err := engine.Join("mira", "strings")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}

	setLatency := func(latency float64) {
		engine.mutex.Lock()
		engine.musicians[sessionID].hasNotes = true
		engine.musicians[sessionID].latencyMS = latency
		engine.mutex.Unlock()
	}
	adapt := func(beat uint64) bool {
		engine.mutex.Lock()
		defer engine.mutex.Unlock()
		return engine.adaptTempoLocked(beat, time.Now())
	}

	setLatency(300)
	adapt(0)
	adapt(1)
	// A single in-band beat clears the streak.
	setLatency(100)
	adapt(2)
	setLatency(300)
	if adapt(3) || adapt(4) {
		t.Fatal("streak should have restarted after the recovery beat")
	}
	if !adapt(5) {
		t.Fatal("expected tempo change after three fresh slow beats")
	}
}

func TestSetTempo(t *testing.T) {
	engine := newTestEngine(t, Options{InitialBPM: 120})

	if err := engine.SetTempo(300); !errors.Is(err, ErrTempoOutOfRange) {
		t.Fatalf("expected ErrTempoOutOfRange, got %v", err)
	}
	if err := engine.SetTempo(90); err != nil {
		t.Fatalf("SetTempo: %v", err)
	}
	if engine.Tempo() != 90 {
		t.Fatalf("expected tempo 90, got %d", engine.Tempo())
	}
	if engine.Snapshot().Interval != intervalForBPM(90) {
		t.Fatalf("interval did not follow tempo")
	}
}

func TestPruneDisconnectsAndDrops(t *testing.T) {
	engine := newTestEngine(t, Options{
		InitialBPM:       120,
		HeartbeatTimeout: 10 * time.Second,
		SessionGrace:     30 * time.Second,
	})
	quietID, _, err := engine.Join("quiet", "brass")
	if err != nil {
		t.Fatalf("Join quiet: %v", err)
	}
	goneID, _, err := engine.Join("gone", "brass")
	if err != nil {
		t.Fatalf("Join gone: %v", err)
	}

	now := time.Now().UTC()
	engine.mutex.Lock()
	engine.musicians[quietID].lastSeen = now.Add(-15 * time.Second)
	engine.musicians[goneID].lastSeen = now.Add(-45 * time.Second)
	left := engine.pruneLocked(now)
	engine.mutex.Unlock()

	if len(left) != 1 || left[0].sessionID != goneID {
		t.Fatalf("expected only the silent session to drop, got %v", left)
	}

	views := engine.Musicians()
	if len(views) != 1 {
		t.Fatalf("expected one remaining musician, got %d", len(views))
	}
	if views[0].Connected {
		t.Fatal("musician past heartbeat timeout should be marked disconnected")
	}
}
