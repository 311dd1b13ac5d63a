package mud

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	world, err := LoadWorld("")
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	engine, err := NewEngine(world, Options{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestJoinPlacesPlayerAtStart(t *testing.T) {
	engine := testEngine(t)

	view, err := engine.Join("nadia")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if view.RoomID != "atrium" {
		t.Fatalf("expected start room atrium, got %s", view.RoomID)
	}
	if _, err := engine.Join("nadia"); !errors.Is(err, ErrPlayerExists) {
		t.Fatalf("expected ErrPlayerExists, got %v", err)
	}
}

func TestMoveFollowsExitsAndCreditsAds(t *testing.T) {
	engine := testEngine(t)
	if _, err := engine.Join("nadia"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	view, err := engine.Move("nadia", "n")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if view.RoomID != "gallery" {
		t.Fatalf("expected gallery, got %s", view.RoomID)
	}

	if _, err := engine.Move("nadia", "e"); !errors.Is(err, ErrNoExit) {
		t.Fatalf("expected ErrNoExit, got %v", err)
	}

	if total := engine.Ledger().Total(); total != adRevenuePerVisitCents {
		t.Fatalf("expected one ad credit of %d cents, got %d", adRevenuePerVisitCents, total)
	}
}

func TestLookSeesOtherPlayers(t *testing.T) {
	engine := testEngine(t)
	if _, err := engine.Join("nadia"); err != nil {
		t.Fatalf("Join nadia: %v", err)
	}
	if _, err := engine.Join("omar"); err != nil {
		t.Fatalf("Join omar: %v", err)
	}

	view, err := engine.Look("nadia")
	if err != nil {
		t.Fatalf("Look: %v", err)
	}
	if len(view.Players) != 1 || view.Players[0] != "omar" {
		t.Fatalf("expected to see omar, got %v", view.Players)
	}
	if len(view.NPCs) != 1 || view.NPCs[0] != "The Curator" {
		t.Fatalf("expected curator in atrium, got %v", view.NPCs)
	}

	if err := engine.Leave("omar"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	view, err = engine.Look("nadia")
	if err != nil {
		t.Fatalf("Look after leave: %v", err)
	}
	if len(view.Players) != 0 {
		t.Fatalf("expected empty room, got %v", view.Players)
	}
}

func TestTalkCyclesDialogue(t *testing.T) {
	engine := testEngine(t)

	var lines []string
	for i := 0; i < 4; i++ {
		line, err := engine.Talk("docent")
		if err != nil {
			t.Fatalf("Talk: %v", err)
		}
		lines = append(lines, line)
	}
	if lines[0] == lines[1] {
		t.Fatalf("expected dialogue to advance, got %q twice", lines[0])
	}
	if lines[0] != lines[2] || lines[1] != lines[3] {
		t.Fatalf("expected round-robin cycle, got %v", lines)
	}

	if _, err := engine.Talk("ghost"); !errors.Is(err, ErrUnknownNPC) {
		t.Fatalf("expected ErrUnknownNPC, got %v", err)
	}
}

func TestLedgerRejectsBadCredits(t *testing.T) {
	ledger := NewLedger()

	if _, err := ledger.Credit(SourceTip, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if _, err := ledger.Credit(SourceTip, -100); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
	if _, err := ledger.Credit("lottery", 100); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}

	if _, err := ledger.Credit(SourcePremium, math.MaxInt64); err != nil {
		t.Fatalf("first max credit should fit: %v", err)
	}
	if _, err := ledger.Credit(SourcePremium, 1); !errors.Is(err, ErrLedgerOverflow) {
		t.Fatalf("expected ErrLedgerOverflow, got %v", err)
	}
}

func TestLedgerBreakdown(t *testing.T) {
	ledger := NewLedger()
	if _, err := ledger.Credit(SourceTip, 250); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := ledger.Credit(SourceAffiliate, 1000); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	entries := ledger.Breakdown()
	if len(entries) != 4 {
		t.Fatalf("expected all 4 sources, got %d", len(entries))
	}
	byCents := make(map[string]int64, len(entries))
	for _, entry := range entries {
		byCents[entry.Source] = entry.Cents
	}
	if byCents[SourceTip] != 250 || byCents[SourceAffiliate] != 1000 || byCents[SourceAd] != 0 {
		t.Fatalf("unexpected breakdown %v", entries)
	}
	if ledger.Total() != 1250 {
		t.Fatalf("expected total 1250, got %d", ledger.Total())
	}
}

func TestWorldValidation(t *testing.T) {
	directory := t.TempDir()

	cases := []struct {
		name    string
		payload string
	}{
		{
			name: "bad direction",
			payload: `start_room: one
rooms:
  - id: one
    exits: {north: one}
`,
		},
		{
			name: "dangling exit",
			payload: `start_room: one
rooms:
  - id: one
    exits: {n: nowhere}
`,
		},
		{
			name: "unreachable room",
			payload: `start_room: one
rooms:
  - id: one
    exits: {}
  - id: island
    exits: {n: one}
`,
		},
		{
			name: "missing start room",
			payload: `start_room: ghost
rooms:
  - id: one
`,
		},
		{
			name: "npc without dialogue",
			payload: `start_room: one
rooms:
  - id: one
    npcs:
      - id: mute
        name: Mute
`,
		},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			path := filepath.Join(directory, testCase.name+".yaml")
			if err := os.WriteFile(path, []byte(testCase.payload), 0o644); err != nil {
				t.Fatalf("write world: %v", err)
			}
			if _, err := LoadWorld(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
