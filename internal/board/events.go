package board

import "time"

const (
	EventTypeBulletinPosted    = "bulletin_posted"
	EventTypeBulletinClaimed   = "bulletin_claimed"
	EventTypeBulletinCompleted = "bulletin_completed"
	EventTypeBulletinReleased  = "bulletin_released"
	EventTypeBulletinCancelled = "bulletin_cancelled"
	EventTypeLeaseExpired      = "lease_expired"
)

type Event struct {
	EventType  string    `json:"type"`
	BulletinID string    `json:"bulletin_id"`
	CitizenID  string    `json:"citizen_id,omitempty"`
	Status     Status    `json:"status,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}

func (e Event) Type() string { return e.EventType }

func newEvent(eventType, bulletinID, citizenID string, status Status) Event {
	return Event{
		EventType:  eventType,
		BulletinID: bulletinID,
		CitizenID:  citizenID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}
