package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveOrdersByPriorityThenID(t *testing.T) {
	instance, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	packages, err := instance.Resolve("documentation")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(packages) != 3 {
		t.Fatalf("expected 3 documentation packages, got %d", len(packages))
	}
	if packages[0].ID != "docs-api" {
		t.Fatalf("expected highest priority first, got %s", packages[0].ID)
	}
	if packages[2].ID != "docs-onboarding" {
		t.Fatalf("expected lowest priority last, got %s", packages[2].ID)
	}
}

func TestResolveUnknownCategory(t *testing.T) {
	instance, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := instance.Resolve("blockchain"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestOverrideReplacesByID(t *testing.T) {
	directory := t.TempDir()
	overridePath := filepath.Join(directory, "override.yaml")
	payload := `packages:
  - id: cleanup-basic
    name: House Cleanup
    category: cleanup
    priority: 99
`
	if err := os.WriteFile(overridePath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	instance, err := New(overridePath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	packages, err := instance.Resolve("cleanup")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if packages[0].ID != "cleanup-basic" || packages[0].Name != "House Cleanup" {
		t.Fatalf("expected override to win, got %+v", packages[0])
	}
	if packages[0].Priority != 99 {
		t.Fatalf("expected override priority 99, got %d", packages[0].Priority)
	}
}

func TestReloadPicksUpOverrideChanges(t *testing.T) {
	directory := t.TempDir()
	overridePath := filepath.Join(directory, "override.yaml")

	instance, err := New(overridePath)
	if err != nil {
		t.Fatalf("New with missing override should use defaults: %v", err)
	}
	if _, err := instance.Resolve("seasonal"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected seasonal to be unknown before reload, got %v", err)
	}

	payload := `packages:
  - id: seasonal-card
    name: Seasonal Card
    category: seasonal
    priority: 1
`
	if err := os.WriteFile(overridePath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	if err := instance.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	packages, err := instance.Resolve("seasonal")
	if err != nil {
		t.Fatalf("Resolve after reload: %v", err)
	}
	if len(packages) != 1 || packages[0].ID != "seasonal-card" {
		t.Fatalf("unexpected seasonal packages %+v", packages)
	}
}

func TestReloadRejectsInvalidOverride(t *testing.T) {
	directory := t.TempDir()
	overridePath := filepath.Join(directory, "override.yaml")
	payload := `packages:
  - name: missing id
    category: cleanup
`
	if err := os.WriteFile(overridePath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	if _, err := New(overridePath); err == nil {
		t.Fatal("expected error for package without id")
	}
}

func TestSearch(t *testing.T) {
	instance, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		name          string
		query         string
		wantPackages  int
		wantTemplates int
	}{
		{name: "matches id substring", query: "docs", wantPackages: 3},
		{name: "matches name case-insensitive", query: "readme", wantPackages: 1, wantTemplates: 1},
		{name: "matches description", query: "refactor", wantPackages: 1},
		{name: "matches template keyword only", query: "invoice", wantTemplates: 1},
		{name: "empty query", query: "  ", wantPackages: 0},
		{name: "no match", query: "zeppelin", wantPackages: 0},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			matched := instance.Search(testCase.query)
			if len(matched.Packages) != testCase.wantPackages {
				t.Fatalf("expected %d package results, got %d: %+v", testCase.wantPackages, len(matched.Packages), matched.Packages)
			}
			if len(matched.Templates) != testCase.wantTemplates {
				t.Fatalf("expected %d template results, got %d: %+v", testCase.wantTemplates, len(matched.Templates), matched.Templates)
			}
		})
	}
}

func TestSearchKeywordReturnsTemplate(t *testing.T) {
	instance, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	matched := instance.Search("billing")
	if len(matched.Packages) != 0 {
		t.Fatalf("expected no package results, got %+v", matched.Packages)
	}
	if len(matched.Templates) != 1 || matched.Templates[0].ID != "tmpl-invoice" {
		t.Fatalf("expected tmpl-invoice for keyword query, got %+v", matched.Templates)
	}
}

func TestTemplates(t *testing.T) {
	instance, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	templates := instance.Templates()
	if len(templates) != 4 {
		t.Fatalf("expected 4 templates, got %d", len(templates))
	}
	for index := 1; index < len(templates); index++ {
		if templates[index-1].ID >= templates[index].ID {
			t.Fatalf("templates not sorted: %s before %s", templates[index-1].ID, templates[index].ID)
		}
	}

	if _, err := instance.Template("tmpl-invoice"); err != nil {
		t.Fatalf("Template: %v", err)
	}
	if _, err := instance.Template("tmpl-missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}
