package api

import (
	"errors"
	"net/http"
	"strings"

	"ensemble/internal/pipeline"
	"ensemble/internal/pipeline/workflows"
)

type submitDocumentRequest struct {
	DocumentID string            `json:"document_id"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Fields     map[string]string `json:"fields"`
}

type cancelDocumentRequest struct {
	Reason string `json:"reason"`
}

type workflowHistoryResponse struct {
	WorkflowID string   `json:"workflow_id"`
	Events     []string `json:"events"`
}

func (h *RestHandler) handlePipelineDocuments(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request submitDocumentRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Title) == "" && strings.TrimSpace(request.Content) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing document content"}
	}

	submission, submitError := h.Pipeline.Submit(r.Context(), workflows.DocumentRequest{
		DocumentID: request.DocumentID,
		Title:      request.Title,
		Content:    request.Content,
		Fields:     request.Fields,
	})
	if submitError != nil {
		return pipelineError(submitError)
	}

	writeJSON(w, http.StatusAccepted, submission)
	return nil
}

// handlePipelineDocument routes /api/pipeline/documents/{workflow_id} plus
// its history sub-resource; DELETE signals cancellation.
func (h *RestHandler) handlePipelineDocument(w http.ResponseWriter, r *http.Request) *apiError {
	workflowID, wantsHistory := parsePipelinePath(r.URL.Path)
	if strings.TrimSpace(workflowID) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing workflow id"}
	}

	if wantsHistory {
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		events, historyError := h.Pipeline.History(r.Context(), workflowID)
		if historyError != nil {
			return pipelineError(historyError)
		}
		writeJSON(w, http.StatusOK, workflowHistoryResponse{WorkflowID: workflowID, Events: events})
		return nil
	}

	switch r.Method {
	case http.MethodGet:
		state, statusError := h.Pipeline.Status(r.Context(), workflowID)
		if statusError != nil {
			return pipelineError(statusError)
		}
		writeJSON(w, http.StatusOK, state)
		return nil
	case http.MethodDelete:
		var request cancelDocumentRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := decodeJSONBody(r, &request); err != nil {
				return err
			}
		}
		if cancelError := h.Pipeline.Cancel(r.Context(), workflowID, request.Reason); cancelError != nil {
			return pipelineError(cancelError)
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	default:
		return methodNotAllowed(w, "GET, DELETE")
	}
}

func parsePipelinePath(path string) (string, bool) {
	trimmed := strings.TrimPrefix(path, "/api/pipeline/documents/")
	if trimmed == path {
		return "", false
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	if strings.HasSuffix(trimmed, "/history") {
		return strings.TrimSuffix(trimmed, "/history"), true
	}
	return trimmed, false
}

func pipelineError(err error) *apiError {
	if errors.Is(err, pipeline.ErrPipelineDisabled) {
		return &apiError{
			Status:  http.StatusServiceUnavailable,
			Message: "pipeline is disabled",
			Code:    "pipeline_disabled",
		}
	}
	if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "NotFound") {
		return &apiError{Status: http.StatusNotFound, Message: "workflow not found"}
	}
	return &apiError{Status: http.StatusInternalServerError, Message: "pipeline operation failed"}
}
