package simulation

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed roster.yaml
var defaultRosterPayload []byte

// Baseline is the resting point each stat drifts back toward.
type Baseline struct {
	Energy  float64 `yaml:"energy" json:"energy"`
	Morale  float64 `yaml:"morale" json:"morale"`
	Fatigue float64 `yaml:"fatigue" json:"fatigue"`
}

// CharacterDef is one roster entry. The TIN is the stable identity key.
type CharacterDef struct {
	TIN       string   `yaml:"tin" json:"tin"`
	Name      string   `yaml:"name" json:"name"`
	Archetype string   `yaml:"archetype" json:"archetype"`
	Baseline  Baseline `yaml:"baseline" json:"baseline"`
}

type rosterFile struct {
	Characters []CharacterDef `yaml:"characters"`
}

// LoadRoster reads a roster YAML file, falling back to the embedded roster
// when path is empty.
func LoadRoster(path string) ([]CharacterDef, error) {
	payload := defaultRosterPayload
	if strings.TrimSpace(path) != "" {
		fileBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read roster: %w", err)
		}
		payload = fileBytes
	}
	return parseRoster(payload)
}

func parseRoster(payload []byte) ([]CharacterDef, error) {
	var file rosterFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if len(file.Characters) == 0 {
		return nil, errors.New("roster has no characters")
	}

	seen := make(map[string]bool, len(file.Characters))
	for index, definition := range file.Characters {
		tin := strings.TrimSpace(definition.TIN)
		if tin == "" {
			return nil, fmt.Errorf("roster entry %d missing tin", index)
		}
		if seen[tin] {
			return nil, fmt.Errorf("duplicate tin %s", tin)
		}
		seen[tin] = true
		if err := validateBaseline(tin, definition.Baseline); err != nil {
			return nil, err
		}
		file.Characters[index].TIN = tin
	}
	return file.Characters, nil
}

func validateBaseline(tin string, baseline Baseline) error {
	for _, stat := range []struct {
		name  string
		value float64
	}{
		{name: "energy", value: baseline.Energy},
		{name: "morale", value: baseline.Morale},
		{name: "fatigue", value: baseline.Fatigue},
	} {
		if stat.value < 0 || stat.value > 100 {
			return fmt.Errorf("character %s: baseline %s %.1f out of range [0,100]", tin, stat.name, stat.value)
		}
	}
	return nil
}
