package event

import (
	"context"
	"time"
)

// Envelope wraps a domain event for the cross-domain firehose. Source names
// the engine that produced the payload, Kind is the payload's own type tag.
type Envelope struct {
	Source    string    `json:"source"`
	Kind      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func (e Envelope) Type() string { return e.Kind }

// Forward republishes every event from src onto dst wrapped in an Envelope.
// The forwarding goroutine exits when src closes or ctx is cancelled.
func Forward[T any](ctx context.Context, src *Bus[T], dst *Bus[Envelope], source string) {
	if src == nil || dst == nil {
		return
	}
	events, cancel := src.Subscribe()
	if events == nil {
		return
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case payload, ok := <-events:
				if !ok {
					return
				}
				envelope := Envelope{
					Source:    source,
					Payload:   payload,
					Timestamp: time.Now().UTC(),
				}
				if typed, isTyped := any(payload).(Event); isTyped {
					envelope.Kind = typed.Type()
				}
				dst.Publish(envelope)
			}
		}
	}()
}
