package notification

import "time"

const EventTypeAnnouncement = "announcement"

// Levels are reused by the dashboard to pick toast styling.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

type Event struct {
	EventType  string    `json:"type"`
	Level      string    `json:"level"`
	Source     string    `json:"source"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"timestamp"`
}

func NewAnnouncement(level, source, message string) Event {
	return Event{
		EventType:  EventTypeAnnouncement,
		Level:      level,
		Source:     source,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) Type() string {
	return e.EventType
}

func (e Event) Timestamp() time.Time {
	return e.OccurredAt
}
