package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"ensemble/internal/event"
	"ensemble/internal/logging"

	"github.com/gorilla/websocket"
)

const eventsPerMinuteLimit = 100

// EventsHandler streams the cross-domain firehose over a websocket. Clients
// narrow the stream with subscribe messages listing event types; an empty
// list restores the full firehose.
type EventsHandler struct {
	Bus            *event.Bus[event.Envelope]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type eventSubscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

type eventFilter struct {
	mutex sync.RWMutex
	types map[string]struct{}
}

func (filter *eventFilter) Allows(eventType string) bool {
	if filter == nil {
		return true
	}
	filter.mutex.RLock()
	defer filter.mutex.RUnlock()
	if len(filter.types) == 0 {
		return true
	}
	_, ok := filter.types[eventType]
	return ok
}

func (filter *eventFilter) Set(subscriptions []string) {
	if filter == nil {
		return
	}
	types := make(map[string]struct{}, len(subscriptions))
	for _, eventType := range subscriptions {
		if eventType != "" {
			types[eventType] = struct{}{}
		}
	}
	filter.mutex.Lock()
	filter.types = types
	filter.mutex.Unlock()
}

type rateLimiter struct {
	mutex       sync.Mutex
	limit       int
	count       int
	windowStart time.Time
}

func (limiter *rateLimiter) Allow(now time.Time) bool {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()

	if limiter.windowStart.IsZero() || now.Sub(limiter.windowStart) >= time.Minute {
		limiter.windowStart = now
		limiter.count = 0
	}
	limit := limiter.limit
	if limit <= 0 {
		limit = eventsPerMinuteLimit
	}
	if limiter.count >= limit {
		return false
	}
	limiter.count++
	return true
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireWSToken(w, r, h.AuthToken, h.Logger) {
		return
	}

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	if h.Bus == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event bus unavailable",
			SendEnvelope: true,
		})
		return
	}

	filter := &eventFilter{}
	limiter := &rateLimiter{}

	events, cancel := h.Bus.Subscribe()
	if events == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event stream unavailable",
			SendEnvelope: true,
		})
		return
	}
	defer cancel()

	writer, err := startWSWriteLoop(w, r, wsStreamConfig[event.Envelope]{
		Conn:           conn,
		AllowedOrigins: h.AllowedOrigins,
		Logger:         h.Logger,
		Output:         events,
		BuildPayload: func(envelope event.Envelope) (any, bool) {
			if !filter.Allows(envelope.Kind) {
				return nil, false
			}
			if !limiter.Allow(time.Now()) {
				return nil, false
			}
			if envelope.Timestamp.IsZero() {
				envelope.Timestamp = time.Now().UTC()
			}
			return envelope, true
		},
	})
	if err != nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer writer.Stop()

	for {
		messageType, message, readError := conn.ReadMessage()
		if readError != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var payload eventSubscribeMessage
		if unmarshalError := json.Unmarshal(message, &payload); unmarshalError != nil {
			continue
		}
		filter.Set(payload.Subscribe)
	}
}
