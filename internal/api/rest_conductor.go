package api

import (
	"errors"
	"net/http"

	"ensemble/internal/conductor"
)

type performanceResponse struct {
	Snapshot  conductor.Snapshot       `json:"snapshot"`
	Musicians []conductor.MusicianView `json:"musicians"`
}

type setTempoRequest struct {
	BPM int `json:"bpm"`
}

func (h *RestHandler) requireConductor() *apiError {
	if h.Conductor == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "conductor unavailable"}
	}
	return nil
}

func (h *RestHandler) handleConductor(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireConductor(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	writeJSON(w, http.StatusOK, performanceResponse{
		Snapshot:  h.Conductor.Snapshot(),
		Musicians: h.Conductor.Musicians(),
	})
	return nil
}

func (h *RestHandler) handleConductorTempo(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireConductor(); err != nil {
		return err
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request setTempoRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}

	if err := h.Conductor.SetTempo(request.BPM); err != nil {
		if errors.Is(err, conductor.ErrTempoOutOfRange) {
			return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "tempo change failed"}
	}

	writeJSON(w, http.StatusOK, performanceResponse{
		Snapshot:  h.Conductor.Snapshot(),
		Musicians: h.Conductor.Musicians(),
	})
	return nil
}
