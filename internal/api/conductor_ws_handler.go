package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"ensemble/internal/conductor"
	"ensemble/internal/event"
	"ensemble/internal/logging"
)

const musicianHelloTimeout = 10 * time.Second
const musicianOutboundBuffer = 64
const musicianResumeReplayBeats = 16

// wsConn is the slice of *websocket.Conn the musician protocol needs.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// ConductorHandler speaks the musician protocol over a websocket. The first
// client message must be join or resume; afterwards the client sends note,
// heartbeat and leave messages while beats, tempo changes and harmony
// updates stream back.
type ConductorHandler struct {
	Engine         *conductor.Engine
	Bus            *event.Bus[conductor.Event]
	Logger         *logging.Logger
	AuthToken      string
	AllowedOrigins []string
}

type musicianMessage struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Section   string `json:"section,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Beat      uint64 `json:"beat,omitempty"`
}

type musicianWelcome struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id"`
	Snapshot  conductor.Snapshot `json:"snapshot"`
}

type noteAck struct {
	Type      string  `json:"type"`
	Beat      uint64  `json:"beat"`
	LatencyMS float64 `json:"latency_ms"`
	OnTime    bool    `json:"on_time"`
	Error     string  `json:"error,omitempty"`
}

func (h *ConductorHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	if h.Engine == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "conductor unavailable",
			SendEnvelope: true,
		})
		return
	}

	sessionID, snapshot, resumed, helloErr := h.establishSession(conn)
	if helloErr != nil {
		writeWSError(w, r, conn, h.Logger, *helloErr)
		return
	}

	outbound := make(chan any, musicianOutboundBuffer)
	outbound <- musicianWelcome{Type: "welcome", SessionID: sessionID, Snapshot: snapshot}
	if resumed && h.Bus != nil {
		// A resuming musician missed beats while disconnected. Replay the
		// recent ones from bus history before live events start flowing.
		for _, replayed := range h.Bus.HistorySnapshot(musicianResumeReplayBeats) {
			if replayed.EventType != conductor.EventTypeBeat {
				continue
			}
			select {
			case outbound <- replayed:
			default:
			}
		}
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case payload := <-outbound:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(payload); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	if h.Bus != nil {
		events, cancel := h.Bus.SubscribeTypes(
			conductor.EventTypeBeat,
			conductor.EventTypeTempoChanged,
			conductor.EventTypeHarmonyUpdated,
		)
		defer cancel()
		go func() {
			for performanceEvent := range events {
				select {
				case outbound <- performanceEvent:
				default:
				}
			}
		}()
	}

	h.readLoop(conn, sessionID, outbound)
}

// establishSession reads the hello message and turns it into a session,
// returning a wsError describing why the handshake failed otherwise.
func (h *ConductorHandler) establishSession(conn wsConn) (string, conductor.Snapshot, bool, *wsError) {
	_ = conn.SetReadDeadline(time.Now().Add(musicianHelloTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var hello musicianMessage
	if err := conn.ReadJSON(&hello); err != nil {
		return "", conductor.Snapshot{}, false, &wsError{
			Status:       http.StatusBadRequest,
			Message:      "expected join or resume message",
			Err:          err,
			SendEnvelope: true,
		}
	}

	switch hello.Type {
	case "join":
		if strings.TrimSpace(hello.Name) == "" {
			return "", conductor.Snapshot{}, false, &wsError{
				Status:       http.StatusBadRequest,
				Message:      "missing musician name",
				SendEnvelope: true,
			}
		}
		sessionID, snapshot, err := h.Engine.Join(hello.Name, hello.Section)
		if err != nil {
			return "", conductor.Snapshot{}, false, &wsError{
				Status:       http.StatusInternalServerError,
				Message:      "join failed",
				Err:          err,
				SendEnvelope: true,
			}
		}
		return sessionID, snapshot, false, nil
	case "resume":
		snapshot, _, err := h.Engine.Resume(hello.SessionID)
		if err != nil {
			status := http.StatusInternalServerError
			message := "resume failed"
			if errors.Is(err, conductor.ErrUnknownSession) {
				status = http.StatusNotFound
				message = "unknown session"
			} else if errors.Is(err, conductor.ErrSessionExpired) {
				status = http.StatusGone
				message = "session expired"
			}
			return "", conductor.Snapshot{}, false, &wsError{
				Status:       status,
				Message:      message,
				Err:          err,
				SendEnvelope: true,
			}
		}
		return hello.SessionID, snapshot, true, nil
	default:
		return "", conductor.Snapshot{}, false, &wsError{
			Status:       http.StatusBadRequest,
			Message:      "expected join or resume message",
			SendEnvelope: true,
		}
	}
}

func (h *ConductorHandler) readLoop(conn wsConn, sessionID string, outbound chan<- any) {
	for {
		var message musicianMessage
		if err := conn.ReadJSON(&message); err != nil {
			return
		}

		switch message.Type {
		case "note":
			latency, onTime, noteErr := h.Engine.ReportNote(sessionID, message.Beat, time.Now())
			if noteErr != nil {
				if errors.Is(noteErr, conductor.ErrUnknownSession) {
					return
				}
				ack := noteAck{Type: "note_ack", Beat: message.Beat}
				if errors.Is(noteErr, conductor.ErrStaleBeat) {
					ack.Error = "stale_beat"
				} else {
					ack.Error = "note_rejected"
				}
				select {
				case outbound <- ack:
				default:
				}
				continue
			}
			select {
			case outbound <- noteAck{Type: "note_ack", Beat: message.Beat, LatencyMS: latency, OnTime: onTime}:
			default:
			}
		case "heartbeat":
			if err := h.Engine.Heartbeat(sessionID); err != nil {
				return
			}
		case "leave":
			h.Engine.Leave(sessionID)
			return
		default:
			// Unknown message types are ignored so clients can extend the
			// protocol without breaking older servers.
		}
	}
}
