package api

import (
	"errors"
	"net/http"
	"strings"

	"ensemble/internal/board"
)

type createCitizenRequest struct {
	Name string `json:"name"`
}

type createBulletinRequest struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	RewardCents int64  `json:"reward_cents"`
}

type bulletinActionRequest struct {
	CitizenID string `json:"citizen_id"`
}

func (h *RestHandler) requireBoard() *apiError {
	if h.Board == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "board unavailable"}
	}
	return nil
}

func (h *RestHandler) handleBoardCitizens(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireBoard(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		citizens, listError := h.Board.ListCitizens(r.Context())
		if listError != nil {
			return &apiError{Status: http.StatusInternalServerError, Message: "citizen list failed"}
		}
		writeJSON(w, http.StatusOK, citizens)
		return nil
	case http.MethodPost:
		var request createCitizenRequest
		if err := decodeJSONBody(r, &request); err != nil {
			return err
		}
		if strings.TrimSpace(request.Name) == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing citizen name"}
		}
		citizen, createError := h.Board.CreateCitizen(r.Context(), request.Name)
		if createError != nil {
			return &apiError{Status: http.StatusInternalServerError, Message: "citizen create failed"}
		}
		writeJSON(w, http.StatusCreated, citizen)
		return nil
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

func (h *RestHandler) handleBoardCitizen(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireBoard(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/board/citizens/"), "/")
	if strings.TrimSpace(id) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing citizen id"}
	}

	citizen, getError := h.Board.GetCitizen(r.Context(), id)
	if getError != nil {
		return boardError(getError)
	}

	writeJSON(w, http.StatusOK, citizen)
	return nil
}

func (h *RestHandler) handleBoardBulletins(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireBoard(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		status, statusError := parseBulletinStatus(r.URL.Query().Get("status"))
		if statusError != nil {
			return statusError
		}
		bulletins, listError := h.Board.ListBulletins(r.Context(), status)
		if listError != nil {
			return &apiError{Status: http.StatusInternalServerError, Message: "bulletin list failed"}
		}
		writeJSON(w, http.StatusOK, bulletins)
		return nil
	case http.MethodPost:
		var request createBulletinRequest
		if err := decodeJSONBody(r, &request); err != nil {
			return err
		}
		if strings.TrimSpace(request.Title) == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing bulletin title"}
		}
		if request.RewardCents < 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "reward must not be negative"}
		}
		bulletin, createError := h.Board.CreateBulletin(r.Context(), request.Title, request.Body, request.RewardCents)
		if createError != nil {
			return &apiError{Status: http.StatusInternalServerError, Message: "bulletin create failed"}
		}
		writeJSON(w, http.StatusCreated, bulletin)
		return nil
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

// handleBoardBulletin routes /api/board/bulletins/{id} and the claim
// lifecycle actions beneath it.
func (h *RestHandler) handleBoardBulletin(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireBoard(); err != nil {
		return err
	}

	id, action := parseBulletinPath(r.URL.Path)
	if strings.TrimSpace(id) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing bulletin id"}
	}

	if action == "" {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		bulletin, getError := h.Board.GetBulletin(r.Context(), id)
		if getError != nil {
			return boardError(getError)
		}
		writeJSON(w, http.StatusOK, bulletin)
		return nil
	}

	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request bulletinActionRequest
	if action != "cancel" {
		if err := decodeJSONBody(r, &request); err != nil {
			return err
		}
		if strings.TrimSpace(request.CitizenID) == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing citizen id"}
		}
	}

	var bulletin board.Bulletin
	var actionError error
	switch action {
	case "claim":
		bulletin, actionError = h.Board.Claim(r.Context(), id, request.CitizenID)
	case "complete":
		bulletin, actionError = h.Board.Complete(r.Context(), id, request.CitizenID)
	case "release":
		bulletin, actionError = h.Board.Release(r.Context(), id, request.CitizenID)
	case "cancel":
		bulletin, actionError = h.Board.Cancel(r.Context(), id)
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown bulletin action"}
	}
	if actionError != nil {
		return boardError(actionError)
	}

	writeJSON(w, http.StatusOK, bulletin)
	return nil
}

func parseBulletinPath(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/api/board/bulletins/")
	if trimmed == path {
		return "", ""
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	if index := strings.Index(trimmed, "/"); index >= 0 {
		return trimmed[:index], trimmed[index+1:]
	}
	return trimmed, ""
}

func parseBulletinStatus(raw string) (board.Status, *apiError) {
	switch board.Status(strings.TrimSpace(raw)) {
	case "":
		return "", nil
	case board.StatusOpen:
		return board.StatusOpen, nil
	case board.StatusClaimed:
		return board.StatusClaimed, nil
	case board.StatusCompleted:
		return board.StatusCompleted, nil
	case board.StatusCancelled:
		return board.StatusCancelled, nil
	default:
		return "", &apiError{Status: http.StatusBadRequest, Message: "invalid bulletin status"}
	}
}

func boardError(err error) *apiError {
	switch {
	case errors.Is(err, board.ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	case errors.Is(err, board.ErrAlreadyClaimed):
		return &apiError{Status: http.StatusConflict, Message: "bulletin already claimed"}
	case errors.Is(err, board.ErrInvalidTransition):
		return &apiError{Status: http.StatusConflict, Message: "invalid status transition"}
	case errors.Is(err, board.ErrNotClaimant):
		return &apiError{Status: http.StatusForbidden, Message: "citizen does not hold the claim"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: "board operation failed"}
	}
}
