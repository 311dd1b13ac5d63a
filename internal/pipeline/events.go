// Package pipeline glues the document generation workflows to the rest of
// the daemon: the workflow client, the deterministic template matcher and
// the progress events activities publish.
package pipeline

import "time"

const (
	EventTypeStageStarted  = "stage_started"
	EventTypeStageFinished = "stage_finished"
)

type Event struct {
	EventType  string    `json:"type"`
	DocumentID string    `json:"document_id"`
	Stage      string    `json:"stage"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"timestamp"`
}

func (e Event) Type() string { return e.EventType }
