package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}
var pollInterval = time.Second

type sendError struct {
	Code    int
	Message string
}

func (e *sendError) Error() string {
	return e.Message
}

type submission struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
	DocumentID string `json:"document_id"`
}

type documentState struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Stage      string `json:"stage"`
}

type submitPayload struct {
	DocumentID string            `json:"document_id,omitempty"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func submitDocument(cfg Config, content string) (submission, error) {
	payload, err := json.Marshal(submitPayload{
		DocumentID: cfg.DocumentID,
		Title:      cfg.Title,
		Content:    content,
		Fields:     cfg.Fields,
	})
	if err != nil {
		return submission{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, cfg.URL+"/api/pipeline/documents", bytes.NewReader(payload))
	if err != nil {
		return submission{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	var result submission
	if err := doJSON(cfg, req, &result); err != nil {
		return submission{}, err
	}
	return result, nil
}

func fetchDocumentState(cfg Config, workflowID string) (documentState, error) {
	req, err := http.NewRequest(http.MethodGet, cfg.URL+"/api/pipeline/documents/"+workflowID, nil)
	if err != nil {
		return documentState{}, fmt.Errorf("build request: %w", err)
	}
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	var state documentState
	if err := doJSON(cfg, req, &state); err != nil {
		return documentState{}, err
	}
	return state, nil
}

func waitForDocument(cfg Config, workflowID string) (documentState, error) {
	deadline := time.Now().Add(cfg.WaitTimeout)
	for {
		state, err := fetchDocumentState(cfg, workflowID)
		if err != nil {
			return documentState{}, err
		}
		if cfg.Verbose && cfg.LogWriter != nil {
			fmt.Fprintf(cfg.LogWriter, "status=%s stage=%s\n", state.Status, state.Stage)
		}
		if state.Status != "" && state.Status != "running" {
			return state, nil
		}
		if time.Now().After(deadline) {
			return documentState{}, &sendError{Code: 0, Message: "timed out waiting for document " + workflowID}
		}
		time.Sleep(pollInterval)
	}
}

func doJSON(cfg Config, req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		message := parseErrorMessage(body)
		if message == "" {
			message = resp.Status
		}
		return &sendError{Code: resp.StatusCode, Message: message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseErrorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Error
}
