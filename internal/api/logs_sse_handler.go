package api

import (
	"net/http"
	"strings"

	"ensemble/internal/logging"
)

// LogsSSEHandler streams log entries as they are written. An optional
// ?level= parameter drops entries below the requested level.
type LogsSSEHandler struct {
	Logger    *logging.Logger
	AuthToken string
}

func (h *LogsSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !requireSSEToken(w, r, h.AuthToken, h.Logger) {
		return
	}
	if h.Logger == nil {
		http.Error(w, "log stream unavailable", http.StatusInternalServerError)
		return
	}

	minLevel := logging.Level("")
	if rawLevel := strings.TrimSpace(r.URL.Query().Get("level")); rawLevel != "" {
		parsed, ok := logging.ParseLevel(rawLevel)
		if !ok {
			http.Error(w, "invalid log level", http.StatusBadRequest)
			return
		}
		minLevel = parsed
	}

	entries, cancel := h.Logger.Subscribe()
	if entries == nil {
		http.Error(w, "log stream unavailable", http.StatusInternalServerError)
		return
	}
	defer cancel()

	serveSSEStream(w, r, sseStreamConfig[logging.Entry]{
		Logger:    h.Logger,
		Output:    entries,
		EventName: "log",
		BuildPayload: func(entry logging.Entry) (any, bool) {
			if minLevel != "" && !logging.LevelAtLeast(entry.Level, minLevel) {
				return nil, false
			}
			return entry, true
		},
	})
}
