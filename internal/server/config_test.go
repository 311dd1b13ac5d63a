package server

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8420 {
		t.Fatalf("expected default port 8420, got %d", cfg.Port)
	}
	if cfg.InitialBPM != 120 {
		t.Fatalf("expected default tempo 120, got %d", cfg.InitialBPM)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Fatalf("expected default tick interval 5s, got %s", cfg.TickInterval)
	}
	if cfg.LeaseDuration != 15*time.Minute {
		t.Fatalf("expected default lease 15m, got %s", cfg.LeaseDuration)
	}
	if !cfg.TemporalEnabled {
		t.Fatal("expected temporal enabled by default")
	}
	if cfg.Sources["port"] != sourceDefault {
		t.Fatalf("expected port source default, got %s", cfg.Sources["port"])
	}
}

func TestLoadConfigFlagOverridesEnv(t *testing.T) {
	t.Setenv("ENSEMBLE_PORT", "9000")
	t.Setenv("ENSEMBLE_BPM", "90")

	cfg, err := LoadConfig([]string{"--port", "9100"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("expected flag port 9100 to win, got %d", cfg.Port)
	}
	if cfg.Sources["port"] != sourceFlag {
		t.Fatalf("expected port source flag, got %s", cfg.Sources["port"])
	}
	if cfg.InitialBPM != 90 {
		t.Fatalf("expected env tempo 90, got %d", cfg.InitialBPM)
	}
	if cfg.Sources["bpm"] != sourceEnv {
		t.Fatalf("expected bpm source env, got %s", cfg.Sources["bpm"])
	}
}

func TestLoadConfigRejectsTempoOutOfRange(t *testing.T) {
	if _, err := LoadConfig([]string{"--bpm", "300"}); err == nil {
		t.Fatal("expected error for tempo above range")
	}
	if _, err := LoadConfig([]string{"--bpm", "10"}); err == nil {
		t.Fatal("expected error for tempo below range")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{name: "zero port", args: []string{"--port", "0"}},
		{name: "empty data dir", args: []string{"--data-dir", " "}},
		{name: "zero tick interval", args: []string{"--tick-interval", "0s"}},
		{name: "zero lease", args: []string{"--lease-duration", "0s"}},
		{name: "empty temporal host", args: []string{"--temporal-host", " "}},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := LoadConfig(testCase.args); err == nil {
				t.Fatalf("expected error for %v", testCase.args)
			}
		})
	}
}

func TestLoadConfigIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("ENSEMBLE_PORT", "not-a-number")
	t.Setenv("ENSEMBLE_TICK_INTERVAL", "soon")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8420 {
		t.Fatalf("expected malformed env to fall back to default port, got %d", cfg.Port)
	}
	if cfg.TickInterval != 5*time.Second {
		t.Fatalf("expected malformed env to fall back to default tick interval, got %s", cfg.TickInterval)
	}
}

func TestBoardDatabasePath(t *testing.T) {
	cfg := Config{DataDir: "/tmp/ensemble-data"}
	if got := cfg.BoardDatabasePath(); got != "/tmp/ensemble-data/board.db" {
		t.Fatalf("unexpected board database path %q", got)
	}
}
