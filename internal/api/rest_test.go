package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ensemble/internal/board"
	"ensemble/internal/board/sqlite"
	"ensemble/internal/catalog"
	"ensemble/internal/conductor"
	"ensemble/internal/event"
	"ensemble/internal/logging"
	"ensemble/internal/metrics"
	"ensemble/internal/mud"
	"ensemble/internal/pipeline"
	"ensemble/internal/simulation"
)

const testToken = "test-token"

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	buffer := logging.NewEntryBuffer(256)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelDebug, io.Discard)
	registry := &metrics.Registry{}

	conductorBus := event.NewBus[conductor.Event](ctx, event.BusOptions{Name: "conductor_events", Registry: registry, HistorySize: 64})
	t.Cleanup(conductorBus.Close)
	conductorEngine, err := conductor.NewEngine(conductor.Options{
		InitialBPM: 120,
		Bus:        conductorBus,
		Logger:     logger,
		Registry:   registry,
	})
	if err != nil {
		t.Fatalf("new conductor engine: %v", err)
	}

	roster, err := simulation.LoadRoster("")
	if err != nil {
		t.Fatalf("load roster: %v", err)
	}
	simEngine := simulation.NewEngine(roster, simulation.Options{Logger: logger, Registry: registry})

	world, err := mud.LoadWorld("")
	if err != nil {
		t.Fatalf("load world: %v", err)
	}
	mudEngine, err := mud.NewEngine(world, mud.Options{Logger: logger, Registry: registry})
	if err != nil {
		t.Fatalf("new mud engine: %v", err)
	}

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open board store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	boardService, err := board.NewService(store, board.ServiceOptions{Logger: logger, Registry: registry})
	if err != nil {
		t.Fatalf("new board service: %v", err)
	}

	cat, err := catalog.New("")
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	firehose := event.NewBus[event.Envelope](ctx, event.BusOptions{Name: "firehose", Registry: registry})
	t.Cleanup(firehose.Close)

	return Deps{
		Conductor:    conductorEngine,
		ConductorBus: conductorBus,
		Simulation:   simEngine,
		Mud:          mudEngine,
		Board:        boardService,
		Pipeline:     pipeline.NewService(nil, logger),
		Catalog:      cat,
		Firehose:     firehose,
		Logger:       logger,
		Registry:     registry,
		AuthToken:    testToken,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, Deps) {
	t.Helper()
	deps := newTestDeps(t)
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, deps
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, url, err)
		}
	}
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	var status statusResponse
	resp := doJSON(t, http.MethodGet, server.URL+"/api/status", nil, &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if status.BPM != 120 {
		t.Fatalf("expected bpm 120, got %d", status.BPM)
	}
	if status.Characters == 0 {
		t.Fatalf("expected roster characters in status")
	}
	if status.PipelineEnabled {
		t.Fatalf("expected pipeline disabled without a workflow client")
	}
	if status.Version == "" {
		t.Fatalf("expected version to be set")
	}
}

func TestStatusRequiresToken(t *testing.T) {
	server, _ := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", payload.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	var categories []string
	doJSON(t, http.MethodGet, server.URL+"/api/catalog/categories", nil, &categories)
	found := false
	for _, category := range categories {
		if category == "documentation" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected documentation category, got %v", categories)
	}

	var packages []catalog.Package
	doJSON(t, http.MethodGet, server.URL+"/api/catalog/packages?category=documentation", nil, &packages)
	if len(packages) == 0 {
		t.Fatalf("expected documentation packages")
	}
	for index := 1; index < len(packages); index++ {
		if packages[index].Priority > packages[index-1].Priority {
			t.Fatalf("expected packages sorted by priority descending")
		}
	}

	resp := doJSON(t, http.MethodGet, server.URL+"/api/catalog/packages?category=nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown category, got %d", resp.StatusCode)
	}

	var results catalog.SearchResult
	doJSON(t, http.MethodGet, server.URL+"/api/catalog/packages?q=readme", nil, &results)
	if len(results.Packages) == 0 {
		t.Fatalf("expected package search hits for readme")
	}
	if len(results.Templates) == 0 || results.Templates[0].ID != "tmpl-readme" {
		t.Fatalf("expected tmpl-readme keyword hit, got %+v", results.Templates)
	}

	var tmpl catalog.Template
	doJSON(t, http.MethodGet, server.URL+"/api/catalog/templates/tmpl-invoice", nil, &tmpl)
	if tmpl.ID != "tmpl-invoice" {
		t.Fatalf("expected tmpl-invoice, got %q", tmpl.ID)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/api/catalog/templates/tmpl-missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown template, got %d", resp.StatusCode)
	}
}

func TestMudPlayerFlow(t *testing.T) {
	server, _ := newTestServer(t)

	var room mud.RoomView
	resp := doJSON(t, http.MethodPost, server.URL+"/api/mud/players", joinWorldRequest{Player: "ada"}, &room)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on join, got %d", resp.StatusCode)
	}
	if room.RoomID != "atrium" {
		t.Fatalf("expected join to place ada in atrium, got %q", room.RoomID)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/mud/players", joinWorldRequest{Player: "ada"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate join, got %d", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, server.URL+"/api/mud/players/ada/move", moveRequest{Direction: "n"}, &room)
	if room.RoomID != "gallery" {
		t.Fatalf("expected move north to gallery, got %q", room.RoomID)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/mud/players/ada/move", moveRequest{Direction: "n"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing exit, got %d", resp.StatusCode)
	}

	doJSON(t, http.MethodGet, server.URL+"/api/mud/players/ada/look", nil, &room)
	if room.RoomID != "gallery" {
		t.Fatalf("expected look from gallery, got %q", room.RoomID)
	}

	var talk talkResponse
	doJSON(t, http.MethodPost, server.URL+"/api/mud/npcs/docent/talk", nil, &talk)
	if talk.NPC != "docent" || talk.Line == "" {
		t.Fatalf("expected docent dialogue, got %+v", talk)
	}

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/mud/players/ada", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	leaveResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("leave: %v", err)
	}
	leaveResp.Body.Close()
	if leaveResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on leave, got %d", leaveResp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/api/mud/players/ada/look", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after leave, got %d", resp.StatusCode)
	}
}

func TestMudLedgerEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	var ledger ledgerResponse
	doJSON(t, http.MethodPost, server.URL+"/api/mud/ledger", creditRequest{Source: "tip", Cents: 125}, &ledger)
	if ledger.TotalCents != 125 {
		t.Fatalf("expected total 125 after credit, got %d", ledger.TotalCents)
	}

	resp := doJSON(t, http.MethodPost, server.URL+"/api/mud/ledger", creditRequest{Source: "lottery", Cents: 10}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown source, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, server.URL+"/api/mud/ledger", creditRequest{Source: "tip", Cents: -5}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative cents, got %d", resp.StatusCode)
	}

	doJSON(t, http.MethodGet, server.URL+"/api/mud/ledger", nil, &ledger)
	if ledger.TotalCents != 125 {
		t.Fatalf("expected total unchanged at 125, got %d", ledger.TotalCents)
	}
	if len(ledger.Breakdown) != 1 || ledger.Breakdown[0].Source != "tip" {
		t.Fatalf("expected tip breakdown, got %+v", ledger.Breakdown)
	}
}

func TestBoardBulletinFlow(t *testing.T) {
	server, _ := newTestServer(t)

	var citizen board.Citizen
	resp := doJSON(t, http.MethodPost, server.URL+"/api/board/citizens", createCitizenRequest{Name: "Quill"}, &citizen)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating citizen, got %d", resp.StatusCode)
	}
	if citizen.Reputation != 50 {
		t.Fatalf("expected starting reputation 50, got %d", citizen.Reputation)
	}

	var bulletin board.Bulletin
	resp = doJSON(t, http.MethodPost, server.URL+"/api/board/bulletins", createBulletinRequest{
		Title:       "Index the attic crates",
		Body:        "Catalog every retired template upstairs.",
		RewardCents: 400,
	}, &bulletin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating bulletin, got %d", resp.StatusCode)
	}
	if bulletin.Status != board.StatusOpen {
		t.Fatalf("expected open bulletin, got %q", bulletin.Status)
	}

	claimURL := fmt.Sprintf("%s/api/board/bulletins/%s/claim", server.URL, bulletin.ID)
	doJSON(t, http.MethodPost, claimURL, bulletinActionRequest{CitizenID: citizen.ID}, &bulletin)
	if bulletin.Status != board.StatusClaimed || bulletin.Claimant != citizen.ID {
		t.Fatalf("expected bulletin claimed by %s, got %+v", citizen.ID, bulletin)
	}

	resp = doJSON(t, http.MethodPost, claimURL, bulletinActionRequest{CitizenID: citizen.ID}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on double claim, got %d", resp.StatusCode)
	}

	completeURL := fmt.Sprintf("%s/api/board/bulletins/%s/complete", server.URL, bulletin.ID)
	resp = doJSON(t, http.MethodPost, completeURL, bulletinActionRequest{CitizenID: "someone-else"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 completing as non-claimant, got %d", resp.StatusCode)
	}

	doJSON(t, http.MethodPost, completeURL, bulletinActionRequest{CitizenID: citizen.ID}, &bulletin)
	if bulletin.Status != board.StatusCompleted {
		t.Fatalf("expected completed bulletin, got %q", bulletin.Status)
	}

	doJSON(t, http.MethodGet, server.URL+"/api/board/citizens/"+citizen.ID, nil, &citizen)
	if citizen.Completed != 1 || citizen.Reputation != 60 {
		t.Fatalf("expected 1 completion and reputation 60, got %+v", citizen)
	}
	if citizen.EarnedCents != 400 {
		t.Fatalf("expected 400 cents earned, got %d", citizen.EarnedCents)
	}

	var open []board.Bulletin
	doJSON(t, http.MethodGet, server.URL+"/api/board/bulletins?status=open", nil, &open)
	if len(open) != 0 {
		t.Fatalf("expected no open bulletins, got %d", len(open))
	}

	resp = doJSON(t, http.MethodGet, server.URL+"/api/board/bulletins?status=bogus", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status filter, got %d", resp.StatusCode)
	}
}

func TestConductorTempoEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	var perf performanceResponse
	doJSON(t, http.MethodPost, server.URL+"/api/conductor/tempo", map[string]int{"bpm": 96}, nil)
	doJSON(t, http.MethodGet, server.URL+"/api/conductor", nil, &perf)
	if perf.Snapshot.BPM != 96 {
		t.Fatalf("expected bpm 96 after tempo change, got %d", perf.Snapshot.BPM)
	}

	resp := doJSON(t, http.MethodPost, server.URL+"/api/conductor/tempo", map[string]int{"bpm": 500}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of range tempo, got %d", resp.StatusCode)
	}
}

func TestSimulationEndpoints(t *testing.T) {
	server, deps := newTestServer(t)

	snapshots := deps.Simulation.Snapshot()
	if len(snapshots) == 0 {
		t.Fatalf("expected roster characters")
	}

	var listed []simulation.CharacterSnapshot
	doJSON(t, http.MethodGet, server.URL+"/api/simulation", nil, &listed)
	if len(listed) != len(snapshots) {
		t.Fatalf("expected %d characters, got %d", len(snapshots), len(listed))
	}

	var single simulation.CharacterSnapshot
	doJSON(t, http.MethodGet, server.URL+"/api/simulation/characters/"+snapshots[0].TIN, nil, &single)
	if single.TIN != snapshots[0].TIN {
		t.Fatalf("expected character %s, got %s", snapshots[0].TIN, single.TIN)
	}

	resp := doJSON(t, http.MethodGet, server.URL+"/api/simulation/characters/TIN-0000", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown character, got %d", resp.StatusCode)
	}
}

func TestPipelineDisabled(t *testing.T) {
	server, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, server.URL+"/api/pipeline/documents", submitDocumentRequest{
		Title:   "Invoice for services",
		Content: "invoice payment due",
	}, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with pipeline disabled, got %d", resp.StatusCode)
	}
}

func TestPipelineDisabledErrorCode(t *testing.T) {
	server, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/pipeline/documents/document-x", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	var payload errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.Code != "pipeline_disabled" {
		t.Fatalf("expected code pipeline_disabled, got %q", payload.Code)
	}
}

func TestLogsEndpoint(t *testing.T) {
	server, deps := newTestServer(t)

	deps.Logger.Info("catalog reloaded", map[string]string{"templates": "4"})
	deps.Logger.Debug("noise", nil)

	var entries []logging.Entry
	doJSON(t, http.MethodGet, server.URL+"/api/logs?level=info&limit=50", nil, &entries)
	if len(entries) == 0 {
		t.Fatalf("expected log entries")
	}
	for _, entry := range entries {
		if entry.Level == logging.LevelDebug {
			t.Fatalf("expected debug entries filtered out, got %+v", entry)
		}
	}
	found := false
	for _, entry := range entries {
		if entry.Message == "catalog reloaded" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected catalog reloaded entry")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "ensemble_beats_total") {
		t.Fatalf("expected ensemble_beats_total in metrics output")
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("expected text/plain content type, got %q", resp.Header.Get("Content-Type"))
	}
}
