package conductor

import "time"

const (
	EventTypeBeat           = "beat"
	EventTypeMusicianJoined = "musician_joined"
	EventTypeMusicianLeft   = "musician_left"
	EventTypeTempoChanged   = "tempo_changed"
	EventTypeHarmonyUpdated = "harmony_updated"
)

type Event struct {
	EventType   string    `json:"type"`
	Beat        uint64    `json:"beat,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	BPM         int       `json:"bpm,omitempty"`
	Harmony     float64   `json:"harmony,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Section     string    `json:"section,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"timestamp"`
}

func (e Event) Type() string { return e.EventType }
