package api

import (
	"errors"
	"net/http"
	"strings"

	"ensemble/internal/mud"
)

type joinWorldRequest struct {
	Player string `json:"player"`
}

type moveRequest struct {
	Direction string `json:"direction"`
}

type talkResponse struct {
	NPC  string `json:"npc"`
	Line string `json:"line"`
}

type ledgerResponse struct {
	TotalCents int64             `json:"total_cents"`
	Breakdown  []mud.LedgerEntry `json:"breakdown"`
}

type creditRequest struct {
	Source string `json:"source"`
	Cents  int64  `json:"cents"`
}

func (h *RestHandler) requireMud() *apiError {
	if h.Mud == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "world engine unavailable"}
	}
	return nil
}

func (h *RestHandler) handleMudPlayers(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireMud(); err != nil {
		return err
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request joinWorldRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Player) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing player name"}
	}

	view, joinError := h.Mud.Join(request.Player)
	if joinError != nil {
		if errors.Is(joinError, mud.ErrPlayerExists) {
			return &apiError{Status: http.StatusConflict, Message: "player already in world"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "join failed"}
	}

	writeJSON(w, http.StatusCreated, view)
	return nil
}

// handleMudPlayer routes /api/mud/players/{id} and its look/move/talk
// sub-resources.
func (h *RestHandler) handleMudPlayer(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireMud(); err != nil {
		return err
	}

	player, action := parseMudPlayerPath(r.URL.Path)
	if strings.TrimSpace(player) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing player id"}
	}

	switch action {
	case "":
		if r.Method != http.MethodDelete {
			return methodNotAllowed(w, "DELETE")
		}
		if err := h.Mud.Leave(player); err != nil {
			return mudPlayerError(err)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	case "look":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		view, err := h.Mud.Look(player)
		if err != nil {
			return mudPlayerError(err)
		}
		writeJSON(w, http.StatusOK, view)
		return nil
	case "move":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		var request moveRequest
		if err := decodeJSONBody(r, &request); err != nil {
			return err
		}
		view, moveError := h.Mud.Move(player, request.Direction)
		if moveError != nil {
			if errors.Is(moveError, mud.ErrNoExit) {
				return &apiError{Status: http.StatusBadRequest, Message: "no exit in that direction"}
			}
			return mudPlayerError(moveError)
		}
		writeJSON(w, http.StatusOK, view)
		return nil
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown player action"}
	}
}

func (h *RestHandler) handleMudTalk(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireMud(); err != nil {
		return err
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	npc := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/mud/npcs/"), "/talk")
	if strings.TrimSpace(npc) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing npc id"}
	}

	line, talkError := h.Mud.Talk(npc)
	if talkError != nil {
		if errors.Is(talkError, mud.ErrUnknownNPC) {
			return &apiError{Status: http.StatusNotFound, Message: "npc not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "dialogue failed"}
	}

	writeJSON(w, http.StatusOK, talkResponse{NPC: npc, Line: line})
	return nil
}

func (h *RestHandler) handleMudLedger(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireMud(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		ledger := h.Mud.Ledger()
		writeJSON(w, http.StatusOK, ledgerResponse{
			TotalCents: ledger.Total(),
			Breakdown:  ledger.Breakdown(),
		})
		return nil
	case http.MethodPost:
		var request creditRequest
		if err := decodeJSONBody(r, &request); err != nil {
			return err
		}
		total, creditError := h.Mud.Credit(request.Source, request.Cents)
		if creditError != nil {
			if errors.Is(creditError, mud.ErrInvalidAmount) || errors.Is(creditError, mud.ErrUnknownSource) {
				return &apiError{Status: http.StatusBadRequest, Message: creditError.Error()}
			}
			return &apiError{Status: http.StatusInternalServerError, Message: "credit failed"}
		}
		writeJSON(w, http.StatusOK, ledgerResponse{
			TotalCents: total,
			Breakdown:  h.Mud.Ledger().Breakdown(),
		})
		return nil
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

func parseMudPlayerPath(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/api/mud/players/")
	if trimmed == path {
		return "", ""
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	if index := strings.Index(trimmed, "/"); index >= 0 {
		return trimmed[:index], trimmed[index+1:]
	}
	return trimmed, ""
}

func mudPlayerError(err error) *apiError {
	if errors.Is(err, mud.ErrUnknownPlayer) {
		return &apiError{Status: http.StatusNotFound, Message: "player not found"}
	}
	return &apiError{Status: http.StatusInternalServerError, Message: "world operation failed"}
}
