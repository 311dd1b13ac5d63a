package simulation

import (
	"os"
	"path/filepath"
	"testing"
)

func testRoster() []CharacterDef {
	return []CharacterDef{
		{TIN: "alpha-1", Name: "Alpha", Archetype: "soloist", Baseline: Baseline{Energy: 70, Morale: 60, Fatigue: 30}},
		{TIN: "beta-2", Name: "Beta", Archetype: "archivist", Baseline: Baseline{Energy: 50, Morale: 50, Fatigue: 50}},
	}
}

func TestWalkIsDeterministicPerRoster(t *testing.T) {
	first := NewEngine(testRoster(), Options{})
	second := NewEngine(testRoster(), Options{})

	var lastFirst, lastSecond []CharacterSnapshot
	for tick := 0; tick < 50; tick++ {
		lastFirst = first.Step()
		lastSecond = second.Step()
	}

	if len(lastFirst) != len(lastSecond) {
		t.Fatalf("snapshot sizes differ: %d vs %d", len(lastFirst), len(lastSecond))
	}
	for index := range lastFirst {
		if lastFirst[index] != lastSecond[index] {
			t.Fatalf("tick 50 diverged for %s: %+v vs %+v",
				lastFirst[index].TIN, lastFirst[index], lastSecond[index])
		}
	}
}

func TestWalkStaysInRange(t *testing.T) {
	engine := NewEngine(testRoster(), Options{})
	for tick := 0; tick < 500; tick++ {
		for _, snapshot := range engine.Step() {
			for _, stat := range []float64{snapshot.Energy, snapshot.Morale, snapshot.Fatigue} {
				if stat < 0 || stat > 100 {
					t.Fatalf("tick %d: %s stat %.2f out of range", tick, snapshot.TIN, stat)
				}
			}
		}
	}
}

func TestMoodBuckets(t *testing.T) {
	cases := []struct {
		name    string
		energy  float64
		morale  float64
		fatigue float64
		want    string
	}{
		{name: "radiant", energy: 90, morale: 90, fatigue: 10, want: MoodRadiant},
		{name: "content", energy: 70, morale: 60, fatigue: 20, want: MoodContent},
		{name: "weary", energy: 40, morale: 40, fatigue: 20, want: MoodWeary},
		{name: "grim", energy: 20, morale: 20, fatigue: 60, want: MoodGrim},
		{name: "fatigue drags radiant down", energy: 90, morale: 90, fatigue: 90, want: MoodWeary},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			got := moodLabel(moodScore(testCase.energy, testCase.morale, testCase.fatigue))
			if got != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, got)
			}
		})
	}
}

func TestApplyRosterKeepsSurvivorState(t *testing.T) {
	engine := NewEngine(testRoster(), Options{})
	for tick := 0; tick < 20; tick++ {
		engine.Step()
	}
	before, ok := engine.Character("alpha-1")
	if !ok {
		t.Fatal("alpha-1 missing before reload")
	}

	updated := []CharacterDef{
		{TIN: "alpha-1", Name: "Alpha Prime", Archetype: "soloist", Baseline: Baseline{Energy: 70, Morale: 60, Fatigue: 30}},
		{TIN: "gamma-3", Name: "Gamma", Archetype: "percussionist", Baseline: Baseline{Energy: 65, Morale: 65, Fatigue: 35}},
	}
	joined, left := engine.ApplyRoster(updated)

	if len(joined) != 1 || joined[0] != "gamma-3" {
		t.Fatalf("expected gamma-3 to join, got %v", joined)
	}
	if len(left) != 1 || left[0] != "beta-2" {
		t.Fatalf("expected beta-2 to leave, got %v", left)
	}

	after, ok := engine.Character("alpha-1")
	if !ok {
		t.Fatal("alpha-1 missing after reload")
	}
	if after.Name != "Alpha Prime" {
		t.Fatalf("expected definition update to apply, got name %q", after.Name)
	}
	if after.Energy != before.Energy || after.Morale != before.Morale || after.Fatigue != before.Fatigue {
		t.Fatalf("expected walk state to survive reload: before %+v after %+v", before, after)
	}

	gamma, ok := engine.Character("gamma-3")
	if !ok {
		t.Fatal("gamma-3 missing after reload")
	}
	if gamma.Energy != 65 || gamma.Morale != 65 || gamma.Fatigue != 35 {
		t.Fatalf("expected new character to start at baseline, got %+v", gamma)
	}
}

func TestLoadRosterEmbeddedDefault(t *testing.T) {
	roster, err := LoadRoster("")
	if err != nil {
		t.Fatalf("LoadRoster: %v", err)
	}
	if len(roster) == 0 {
		t.Fatal("embedded roster is empty")
	}
}

func TestLoadRosterValidation(t *testing.T) {
	directory := t.TempDir()

	cases := []struct {
		name    string
		payload string
	}{
		{name: "missing tin", payload: "characters:\n  - name: NoTin\n"},
		{
			name:    "duplicate tin",
			payload: "characters:\n  - tin: dup-1\n  - tin: dup-1\n",
		},
		{
			name:    "baseline out of range",
			payload: "characters:\n  - tin: hot-1\n    baseline:\n      energy: 140\n",
		},
		{name: "empty roster", payload: "characters: []\n"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			path := filepath.Join(directory, testCase.name+".yaml")
			if err := os.WriteFile(path, []byte(testCase.payload), 0o644); err != nil {
				t.Fatalf("write roster: %v", err)
			}
			if _, err := LoadRoster(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
