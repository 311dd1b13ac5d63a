package api

import (
	"net/http"
	"strings"
)

func (h *RestHandler) requireSimulation() *apiError {
	if h.Simulation == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "simulation unavailable"}
	}
	return nil
}

func (h *RestHandler) handleSimulation(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireSimulation(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	writeJSON(w, http.StatusOK, h.Simulation.Snapshot())
	return nil
}

func (h *RestHandler) handleSimulationCharacter(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireSimulation(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	tin := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/simulation/characters/"), "/")
	if strings.TrimSpace(tin) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing character tin"}
	}

	snapshot, ok := h.Simulation.Character(tin)
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: "character not found"}
	}

	writeJSON(w, http.StatusOK, snapshot)
	return nil
}
