// Package mud implements the world engine: a room graph loaded from YAML,
// players that move through it, cycling NPC dialogue and a monotonic revenue
// ledger.
package mud

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed world.yaml
var defaultWorldPayload []byte

// canonicalDirections is the full direction vocabulary. Anything else in an
// exit map fails the load.
var canonicalDirections = map[string]bool{
	"n": true, "s": true, "e": true, "w": true, "u": true, "d": true,
}

type NPC struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Dialogue []string `yaml:"dialogue" json:"dialogue"`
}

type Room struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Exits       map[string]string `yaml:"exits" json:"exits"`
	NPCs        []NPC             `yaml:"npcs" json:"npcs"`
}

type World struct {
	StartRoom string `yaml:"start_room"`
	Rooms     []Room `yaml:"rooms"`
}

// LoadWorld reads a world YAML file, falling back to the embedded world when
// path is empty, and validates the room graph.
func LoadWorld(path string) (*World, error) {
	payload := defaultWorldPayload
	if strings.TrimSpace(path) != "" {
		fileBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read world: %w", err)
		}
		payload = fileBytes
	}

	var world World
	if err := yaml.Unmarshal(payload, &world); err != nil {
		return nil, fmt.Errorf("parse world: %w", err)
	}
	if err := world.validate(); err != nil {
		return nil, err
	}
	return &world, nil
}

func (w *World) validate() error {
	if len(w.Rooms) == 0 {
		return errors.New("world has no rooms")
	}
	if strings.TrimSpace(w.StartRoom) == "" {
		return errors.New("world missing start_room")
	}

	rooms := make(map[string]bool, len(w.Rooms))
	for _, room := range w.Rooms {
		if strings.TrimSpace(room.ID) == "" {
			return errors.New("room missing id")
		}
		if rooms[room.ID] {
			return fmt.Errorf("duplicate room id %s", room.ID)
		}
		rooms[room.ID] = true
	}
	if !rooms[w.StartRoom] {
		return fmt.Errorf("start_room %s does not exist", w.StartRoom)
	}

	npcIDs := make(map[string]bool)
	for _, room := range w.Rooms {
		for direction, target := range room.Exits {
			if !canonicalDirections[direction] {
				return fmt.Errorf("room %s: direction %q is not canonical (n/s/e/w/u/d)", room.ID, direction)
			}
			if !rooms[target] {
				return fmt.Errorf("room %s: exit %s targets unknown room %s", room.ID, direction, target)
			}
		}
		for _, npc := range room.NPCs {
			if strings.TrimSpace(npc.ID) == "" {
				return fmt.Errorf("room %s: npc missing id", room.ID)
			}
			if npcIDs[npc.ID] {
				return fmt.Errorf("duplicate npc id %s", npc.ID)
			}
			npcIDs[npc.ID] = true
			if len(npc.Dialogue) == 0 {
				return fmt.Errorf("npc %s has no dialogue", npc.ID)
			}
		}
	}

	return w.checkReachability(rooms)
}

// checkReachability walks the exit graph from the start room; every room must
// be visitable or the world is misauthored.
func (w *World) checkReachability(rooms map[string]bool) error {
	exits := make(map[string][]string, len(w.Rooms))
	for _, room := range w.Rooms {
		for _, target := range room.Exits {
			exits[room.ID] = append(exits[room.ID], target)
		}
	}

	visited := make(map[string]bool, len(rooms))
	queue := []string{w.StartRoom}
	visited[w.StartRoom] = true
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, target := range exits[current] {
			if !visited[target] {
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}

	for id := range rooms {
		if !visited[id] {
			return fmt.Errorf("room %s is unreachable from %s", id, w.StartRoom)
		}
	}
	return nil
}

func (w *World) room(id string) (Room, bool) {
	for _, room := range w.Rooms {
		if room.ID == id {
			return room, true
		}
	}
	return Room{}, false
}
