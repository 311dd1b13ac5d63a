package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"ensemble/internal/logging"
)

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	handler := jsonErrorMiddleware(authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) *apiError {
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
		return nil
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	var payload errorResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", payload.Code)
	}
}

func TestAuthMiddlewareAcceptsQueryToken(t *testing.T) {
	handler := jsonErrorMiddleware(authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) *apiError {
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
		return nil
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/status?token=secret", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", recorder.Code)
	}
}

func TestAuthMiddlewareAllowsAllWhenUnset(t *testing.T) {
	handler := jsonErrorMiddleware(authMiddleware("", func(w http.ResponseWriter, r *http.Request) *apiError {
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
		return nil
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with no token configured, got %d", recorder.Code)
	}
}

func TestRestHandlerSetsSecurityHeaders(t *testing.T) {
	handler := restHandler("", func(w http.ResponseWriter, r *http.Request) *apiError {
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
		return nil
	})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if got := recorder.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", got)
	}
	if got := recorder.Header().Get("Cache-Control"); got == "" {
		t.Fatalf("expected cache-control header")
	}
}

func TestMethodNotAllowedSetsAllowHeader(t *testing.T) {
	handler := jsonErrorMiddleware(func(w http.ResponseWriter, r *http.Request) *apiError {
		return methodNotAllowed(w, "GET, POST")
	})

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodDelete, "/api/status", nil))

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Allow"); got != "GET, POST" {
		t.Fatalf("expected Allow header GET, POST, got %q", got)
	}
	var payload errorResponse
	if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Code != "method_not_allowed" {
		t.Fatalf("expected method_not_allowed code, got %q", payload.Code)
	}
}

func TestLoggingMiddlewareRecordsRequests(t *testing.T) {
	buffer := logging.NewEntryBuffer(10)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelDebug, io.Discard)

	handler := loggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	entries := buffer.List()
	if len(entries) == 0 {
		t.Fatalf("expected a log entry")
	}
	entry := entries[0]
	if entry.Fields["method"] != "GET" || entry.Fields["path"] != "/api/status" {
		t.Fatalf("expected method and path fields, got %+v", entry.Fields)
	}
}

func TestErrorCodeForStatus(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, "invalid_request"},
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "not_found"},
		{http.StatusConflict, "conflict"},
		{http.StatusServiceUnavailable, "service_unavailable"},
		{http.StatusInternalServerError, "internal_error"},
	}
	for _, testCase := range cases {
		if got := errorCodeForStatus(testCase.status); got != testCase.code {
			t.Fatalf("status %d: expected %q, got %q", testCase.status, testCase.code, got)
		}
	}
}
