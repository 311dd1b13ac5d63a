package api

import (
	"net/http"
	"time"

	"ensemble/internal/event"
	"ensemble/internal/logging"
)

// EventsSSEHandler exposes the firehose to clients that cannot hold a
// websocket open.
type EventsSSEHandler struct {
	Bus       *event.Bus[event.Envelope]
	Logger    *logging.Logger
	AuthToken string
}

func (h *EventsSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireSSEToken(w, r, h.AuthToken, h.Logger) {
		return
	}
	if h.Bus == nil {
		http.Error(w, "event bus unavailable", http.StatusInternalServerError)
		return
	}

	events, cancel := h.Bus.Subscribe()
	if events == nil {
		http.Error(w, "event stream unavailable", http.StatusInternalServerError)
		return
	}
	defer cancel()

	serveSSEStream(w, r, sseStreamConfig[event.Envelope]{
		Logger:    h.Logger,
		Output:    events,
		EventName: "event",
		BuildPayload: func(envelope event.Envelope) (any, bool) {
			if envelope.Timestamp.IsZero() {
				envelope.Timestamp = time.Now().UTC()
			}
			return envelope, true
		},
	})
}
