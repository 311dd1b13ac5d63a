package mud

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
)

// adRevenuePerVisitCents is credited to the ad source every time a player
// enters a room.
const adRevenuePerVisitCents = 3

var ErrUnknownPlayer = errors.New("unknown player")
var ErrUnknownNPC = errors.New("unknown npc")
var ErrNoExit = errors.New("no exit in that direction")
var ErrPlayerExists = errors.New("player already exists")

const (
	EventTypePlayerJoined = "player_joined"
	EventTypePlayerLeft   = "player_left"
	EventTypeRoomMove     = "room_move"
	EventTypeRevenue      = "revenue_credited"
)

type Event struct {
	EventType  string    `json:"type"`
	Player     string    `json:"player,omitempty"`
	Room       string    `json:"room,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Source     string    `json:"source,omitempty"`
	Cents      int64     `json:"cents,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}

func (e Event) Type() string { return e.EventType }

// RoomView is what Look returns: everything visible from where the player
// stands.
type RoomView struct {
	RoomID      string   `json:"room_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Exits       []string `json:"exits"`
	NPCs        []string `json:"npcs"`
	Players     []string `json:"players"`
}

type playerState struct {
	name string
	room string
}

type npcState struct {
	npc  NPC
	room string
	next int
}

// Engine holds the live world: players, NPC dialogue cursors and the revenue
// ledger. All mutation happens under one lock so moves are atomic.
type Engine struct {
	mutex    sync.Mutex
	world    *World
	players  map[string]*playerState
	npcs     map[string]*npcState
	ledger   *Ledger
	bus      *event.Bus[Event]
	logger   *logging.Logger
	registry *metrics.Registry
}

type Options struct {
	Bus      *event.Bus[Event]
	Logger   *logging.Logger
	Registry *metrics.Registry
}

func NewEngine(world *World, options Options) (*Engine, error) {
	if world == nil {
		return nil, errors.New("world is required")
	}
	engine := &Engine{
		world:    world,
		players:  make(map[string]*playerState),
		npcs:     make(map[string]*npcState),
		ledger:   NewLedger(),
		bus:      options.Bus,
		logger:   options.Logger,
		registry: options.Registry,
	}
	for _, room := range world.Rooms {
		for _, npc := range room.NPCs {
			engine.npcs[npc.ID] = &npcState{npc: npc, room: room.ID}
		}
	}
	return engine, nil
}

// Join places a new player in the start room.
func (engine *Engine) Join(player string) (RoomView, error) {
	engine.mutex.Lock()
	if _, exists := engine.players[player]; exists {
		engine.mutex.Unlock()
		return RoomView{}, fmt.Errorf("%w: %s", ErrPlayerExists, player)
	}
	engine.players[player] = &playerState{name: player, room: engine.world.StartRoom}
	view := engine.lookLocked(engine.world.StartRoom, player)
	engine.mutex.Unlock()

	engine.publish(Event{
		EventType:  EventTypePlayerJoined,
		Player:     player,
		Room:       view.RoomID,
		OccurredAt: time.Now().UTC(),
	})
	return view, nil
}

// Leave removes a player from the world.
func (engine *Engine) Leave(player string) error {
	engine.mutex.Lock()
	state, exists := engine.players[player]
	if !exists {
		engine.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, player)
	}
	room := state.room
	delete(engine.players, player)
	engine.mutex.Unlock()

	engine.publish(Event{
		EventType:  EventTypePlayerLeft,
		Player:     player,
		Room:       room,
		OccurredAt: time.Now().UTC(),
	})
	return nil
}

// Move walks a player through an exit. The exit check, the position change
// and the ad revenue credit happen under the engine lock.
func (engine *Engine) Move(player, direction string) (RoomView, error) {
	engine.mutex.Lock()
	state, exists := engine.players[player]
	if !exists {
		engine.mutex.Unlock()
		return RoomView{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, player)
	}
	currentRoom, _ := engine.world.room(state.room)
	target, ok := currentRoom.Exits[direction]
	if !ok {
		engine.mutex.Unlock()
		return RoomView{}, fmt.Errorf("%w: %s from %s", ErrNoExit, direction, state.room)
	}
	state.room = target
	view := engine.lookLocked(target, player)
	engine.mutex.Unlock()

	balance, err := engine.ledger.Credit(SourceAd, adRevenuePerVisitCents)
	if err == nil {
		engine.publish(Event{
			EventType:  EventTypeRevenue,
			Source:     SourceAd,
			Cents:      balance,
			OccurredAt: time.Now().UTC(),
		})
	}
	if engine.registry != nil {
		engine.registry.IncRoomMove()
	}
	engine.publish(Event{
		EventType:  EventTypeRoomMove,
		Player:     player,
		Room:       target,
		Direction:  direction,
		OccurredAt: time.Now().UTC(),
	})
	return view, nil
}

// Look describes the player's current room.
func (engine *Engine) Look(player string) (RoomView, error) {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	state, exists := engine.players[player]
	if !exists {
		return RoomView{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, player)
	}
	return engine.lookLocked(state.room, player), nil
}

func (engine *Engine) lookLocked(roomID, viewer string) RoomView {
	room, _ := engine.world.room(roomID)

	exits := make([]string, 0, len(room.Exits))
	for direction := range room.Exits {
		exits = append(exits, direction)
	}
	sort.Strings(exits)

	npcs := make([]string, 0, len(room.NPCs))
	for _, npc := range room.NPCs {
		npcs = append(npcs, npc.Name)
	}

	var players []string
	for name, state := range engine.players {
		if state.room == roomID && name != viewer {
			players = append(players, name)
		}
	}
	sort.Strings(players)

	return RoomView{
		RoomID:      room.ID,
		Name:        room.Name,
		Description: room.Description,
		Exits:       exits,
		NPCs:        npcs,
		Players:     players,
	}
}

// Talk returns the NPC's next dialogue line. Lines cycle round-robin so
// repeated conversations are deterministic.
func (engine *Engine) Talk(npcID string) (string, error) {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	state, exists := engine.npcs[npcID]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownNPC, npcID)
	}
	line := state.npc.Dialogue[state.next]
	state.next = (state.next + 1) % len(state.npc.Dialogue)
	return line, nil
}

// Credit applies a manual revenue credit (tips, premium unlocks, affiliate
// payouts) and returns the source's new balance.
func (engine *Engine) Credit(source string, cents int64) (int64, error) {
	balance, err := engine.ledger.Credit(source, cents)
	if err != nil {
		return 0, err
	}
	engine.publish(Event{
		EventType:  EventTypeRevenue,
		Source:     source,
		Cents:      balance,
		OccurredAt: time.Now().UTC(),
	})
	return balance, nil
}

func (engine *Engine) Ledger() *Ledger {
	return engine.ledger
}

func (engine *Engine) World() *World {
	return engine.world
}

// Players returns player names sorted, for the status endpoint.
func (engine *Engine) Players() []string {
	engine.mutex.Lock()
	defer engine.mutex.Unlock()

	names := make([]string, 0, len(engine.players))
	for name := range engine.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (engine *Engine) publish(ev Event) {
	if engine.bus == nil {
		return
	}
	engine.bus.Publish(ev)
}
