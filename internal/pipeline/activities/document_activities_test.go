package activities

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ensemble/internal/catalog"
	"ensemble/internal/event"
	"ensemble/internal/pipeline"
	"ensemble/internal/pipeline/workflows"
)

func newTestActivities(t *testing.T) (*DocumentActivities, *event.Bus[pipeline.Event]) {
	t.Helper()
	cat, err := catalog.New("")
	if err != nil {
		t.Fatalf("catalog load failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	bus := event.NewBus[pipeline.Event](ctx, event.BusOptions{Name: "pipeline_test", HistorySize: 32})
	t.Cleanup(bus.Close)
	return NewDocumentActivities(cat, bus, nil), bus
}

func TestAnalyzeDocumentNormalizesFields(t *testing.T) {
	handlers, _ := newTestActivities(t)

	analysis, err := handlers.AnalyzeDocument(context.Background(), workflows.DocumentRequest{
		DocumentID: "doc-1",
		Title:      "Invoice",
		Content:    "payment due soon",
		Fields: map[string]string{
			"client":  "  Acme  ",
			"amount":  "100",
			"ignored": "   ",
		},
	})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if analysis.WordCount != 3 {
		t.Fatalf("expected 3 words, got %d", analysis.WordCount)
	}
	if analysis.Fields["client"] != "Acme" {
		t.Fatalf("expected trimmed client field, got %q", analysis.Fields["client"])
	}
	if _, ok := analysis.Fields["ignored"]; ok {
		t.Fatal("blank field should have been dropped")
	}
	if !strings.Contains(analysis.Text, "invoice") {
		t.Fatalf("expected lowered text to contain title, got %q", analysis.Text)
	}
}

func TestMatchTemplateAgainstCatalog(t *testing.T) {
	handlers, _ := newTestActivities(t)

	match, err := handlers.MatchTemplate(context.Background(), "doc-1", workflows.Analysis{
		Fields: map[string]string{"client": "Acme", "amount": "100", "due_date": "2026-09-01"},
		Text:   "invoice for acme, payment due",
	})
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if match.TemplateID != "tmpl-invoice" {
		t.Fatalf("expected tmpl-invoice, got %s", match.TemplateID)
	}
}

func TestMatchTemplateNoMatchIsNotRetryable(t *testing.T) {
	handlers, _ := newTestActivities(t)

	_, err := handlers.MatchTemplate(context.Background(), "doc-1", workflows.Analysis{
		Fields: map[string]string{"unrelated": "value"},
		Text:   "nothing useful here",
	})
	if err == nil {
		t.Fatal("expected match error")
	}
	if !errors.Is(err, pipeline.ErrNoTemplateMatch) {
		t.Fatalf("expected wrapped ErrNoTemplateMatch, got %v", err)
	}
}

func TestGenerateDraftFillsPlaceholders(t *testing.T) {
	handlers, _ := newTestActivities(t)

	draft, err := handlers.GenerateDraft(context.Background(), "doc-1", workflows.DraftRequest{
		TemplateID: "tmpl-invoice",
		Fields: map[string]string{
			"client":   "Acme",
			"amount":   "100",
			"due_date": "2026-09-01",
		},
	})
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.Contains(draft.Body, "Acme") {
		t.Fatalf("expected client substituted, got %q", draft.Body)
	}
	if strings.Contains(draft.Body, "{{") {
		t.Fatalf("expected all placeholders filled, got %q", draft.Body)
	}
}

func TestPackageArtifactChecksumIsStable(t *testing.T) {
	handlers, _ := newTestActivities(t)

	request := workflows.ArtifactRequest{DocumentID: "doc-1", TemplateID: "tmpl-invoice", Body: "hello"}
	first, err := handlers.PackageArtifact(context.Background(), request)
	if err != nil {
		t.Fatalf("package failed: %v", err)
	}
	second, err := handlers.PackageArtifact(context.Background(), request)
	if err != nil {
		t.Fatalf("package failed: %v", err)
	}
	if first.Checksum != second.Checksum {
		t.Fatalf("expected stable checksum, got %s and %s", first.Checksum, second.Checksum)
	}
	if first.Name != "doc-1.md" {
		t.Fatalf("unexpected artifact name %s", first.Name)
	}
	if first.SizeBytes != len("hello") {
		t.Fatalf("unexpected artifact size %d", first.SizeBytes)
	}
}

func TestActivitiesEmitStageEvents(t *testing.T) {
	handlers, bus := newTestActivities(t)

	if _, err := handlers.AnalyzeDocument(context.Background(), workflows.DocumentRequest{
		DocumentID: "doc-events",
		Content:    "invoice body",
	}); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	history := bus.HistorySnapshot(10)
	if len(history) != 2 {
		t.Fatalf("expected 2 stage events, got %d", len(history))
	}
	if history[0].Type() != pipeline.EventTypeStageStarted || history[1].Type() != pipeline.EventTypeStageFinished {
		t.Fatalf("unexpected event ordering: %s then %s", history[0].Type(), history[1].Type())
	}
	if history[0].Stage != workflows.StageAnalyze {
		t.Fatalf("expected analyze stage, got %s", history[0].Stage)
	}
	if history[0].DocumentID != "doc-events" {
		t.Fatalf("unexpected document id %s", history[0].DocumentID)
	}
}
