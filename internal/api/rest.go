package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"ensemble/internal/board"
	"ensemble/internal/catalog"
	"ensemble/internal/conductor"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/mud"
	"ensemble/internal/pipeline"
	"ensemble/internal/simulation"
	"ensemble/internal/version"
)

// RestHandler holds the engines the REST surface fronts. Any nil engine
// turns its endpoints into 500s rather than panics.
type RestHandler struct {
	Conductor  *conductor.Engine
	Simulation *simulation.Engine
	Mud        *mud.Engine
	Board      *board.Service
	Pipeline   *pipeline.Service
	Catalog    *catalog.Catalog
	Logger     *logging.Logger
	Registry   *metrics.Registry
	StartedAt  time.Time
}

type statusResponse struct {
	Version         string    `json:"version"`
	ServerTime      time.Time `json:"server_time"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	Beat            uint64    `json:"beat"`
	BPM             int       `json:"bpm"`
	Harmony         float64   `json:"harmony"`
	MusiciansOnline int       `json:"musicians_online"`
	Characters      int       `json:"characters"`
	PlayersOnline   int       `json:"players_online"`
	PipelineEnabled bool      `json:"pipeline_enabled"`
}

type logQuery struct {
	Limit int
	Level logging.Level
	Since *time.Time
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	response := statusResponse{
		Version:         version.Get().Version,
		ServerTime:      time.Now().UTC(),
		PipelineEnabled: h.Pipeline.Enabled(),
	}
	if !h.StartedAt.IsZero() {
		response.UptimeSeconds = int64(time.Since(h.StartedAt).Seconds())
	}
	if h.Conductor != nil {
		snapshot := h.Conductor.Snapshot()
		response.Beat = snapshot.Beat
		response.BPM = snapshot.BPM
		response.Harmony = snapshot.Harmony
		response.MusiciansOnline = snapshot.OnStage
	}
	if h.Simulation != nil {
		response.Characters = len(h.Simulation.Snapshot())
	}
	if h.Mud != nil {
		response.PlayersOnline = len(h.Mud.Players())
	}

	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	registry := h.Registry
	if registry == nil {
		registry = metrics.Default
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	if err := registry.WritePrometheus(w); err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "metrics write failed"}
	}
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireLogger(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	query, err := parseLogQuery(r)
	if err != nil {
		return err
	}

	entries := h.Logger.Buffer().List()
	writeJSON(w, http.StatusOK, filterLogEntries(entries, query))
	return nil
}

func (h *RestHandler) requireLogger() *apiError {
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "log buffer unavailable"}
	}
	return nil
}

func parseLogQuery(r *http.Request) (logQuery, *apiError) {
	values := r.URL.Query()
	query := logQuery{
		Limit: 100,
	}

	if rawLimit := strings.TrimSpace(values.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}

	if rawSince := strings.TrimSpace(values.Get("since")); rawSince != "" {
		parsed, err := time.Parse(time.RFC3339, rawSince)
		if err != nil {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
		}
		query.Since = &parsed
	}

	if rawLevel := strings.TrimSpace(values.Get("level")); rawLevel != "" {
		level, ok := logging.ParseLevel(rawLevel)
		if !ok {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.Level = level
	}

	return query, nil
}

func filterLogEntries(entries []logging.Entry, query logQuery) []logging.Entry {
	filtered := make([]logging.Entry, 0, len(entries))
	for _, entry := range entries {
		if query.Level != "" && !logging.LevelAtLeast(entry.Level, query.Level) {
			continue
		}
		if query.Since != nil && entry.Timestamp.Before(*query.Since) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[len(filtered)-query.Limit:]
	}

	return filtered
}
