// Package catalog holds the package and document template inventory. Defaults
// are compiled into the binary; an optional override file replaces entries by
// ID and can be reloaded while the server runs.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsPayload []byte

var ErrUnknownCategory = errors.New("unknown category")
var ErrTemplateNotFound = errors.New("template not found")

type Package struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Category    string `yaml:"category" json:"category"`
	Priority    int    `yaml:"priority" json:"priority"`
	Description string `yaml:"description" json:"description,omitempty"`
}

type Template struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	RequiredFields []string `yaml:"required_fields" json:"required_fields"`
	Keywords       []string `yaml:"keywords" json:"keywords"`
	Body           string   `yaml:"body" json:"body,omitempty"`
}

type document struct {
	Packages  []Package  `yaml:"packages"`
	Templates []Template `yaml:"templates"`
}

type Catalog struct {
	mutex        sync.RWMutex
	packages     map[string]Package
	templates    map[string]Template
	overridePath string
}

// New builds a catalog from the embedded defaults plus the optional override
// file. An empty overridePath means defaults only.
func New(overridePath string) (*Catalog, error) {
	instance := &Catalog{overridePath: strings.TrimSpace(overridePath)}
	if err := instance.Reload(); err != nil {
		return nil, err
	}
	return instance, nil
}

// Reload re-reads the override file on top of the embedded defaults. It is
// called again by the file watcher when the override changes.
func (c *Catalog) Reload() error {
	if c == nil {
		return errors.New("catalog is nil")
	}

	var defaults document
	if err := yaml.Unmarshal(defaultsPayload, &defaults); err != nil {
		return fmt.Errorf("parse embedded catalog: %w", err)
	}

	packages := make(map[string]Package, len(defaults.Packages))
	templates := make(map[string]Template, len(defaults.Templates))
	for _, entry := range defaults.Packages {
		if err := validatePackage(entry); err != nil {
			return fmt.Errorf("embedded catalog: %w", err)
		}
		packages[entry.ID] = entry
	}
	for _, entry := range defaults.Templates {
		if err := validateTemplate(entry); err != nil {
			return fmt.Errorf("embedded catalog: %w", err)
		}
		templates[entry.ID] = entry
	}

	if c.overridePath != "" {
		payload, err := os.ReadFile(c.overridePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("read catalog override: %w", err)
			}
		} else {
			var override document
			if err := yaml.Unmarshal(payload, &override); err != nil {
				return fmt.Errorf("parse catalog override: %w", err)
			}
			for _, entry := range override.Packages {
				if err := validatePackage(entry); err != nil {
					return fmt.Errorf("catalog override: %w", err)
				}
				packages[entry.ID] = entry
			}
			for _, entry := range override.Templates {
				if err := validateTemplate(entry); err != nil {
					return fmt.Errorf("catalog override: %w", err)
				}
				templates[entry.ID] = entry
			}
		}
	}

	c.mutex.Lock()
	c.packages = packages
	c.templates = templates
	c.mutex.Unlock()
	return nil
}

func validatePackage(entry Package) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("package missing id")
	}
	if strings.TrimSpace(entry.Category) == "" {
		return fmt.Errorf("package %s missing category", entry.ID)
	}
	return nil
}

func validateTemplate(entry Template) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("template missing id")
	}
	if len(entry.RequiredFields) == 0 {
		return fmt.Errorf("template %s has no required fields", entry.ID)
	}
	return nil
}

// Categories returns every known category name, sorted.
func (c *Catalog) Categories() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	seen := make(map[string]bool)
	for _, entry := range c.packages {
		seen[entry.Category] = true
	}
	categories := make([]string, 0, len(seen))
	for category := range seen {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// Resolve returns the packages in a category ordered by priority descending,
// ties broken by ID.
func (c *Catalog) Resolve(category string) ([]Package, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var matched []Package
	for _, entry := range c.packages {
		if entry.Category == category {
			matched = append(matched, entry)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	sort.Slice(matched, func(left, right int) bool {
		if matched[left].Priority != matched[right].Priority {
			return matched[left].Priority > matched[right].Priority
		}
		return matched[left].ID < matched[right].ID
	})
	return matched, nil
}

// SearchResult groups the catalog entries matching a search query.
type SearchResult struct {
	Packages  []Package  `json:"packages"`
	Templates []Template `json:"templates"`
}

// Search matches a case-insensitive substring against package IDs, names and
// descriptions, and against template IDs, names and keywords. An empty query
// returns nothing.
func (c *Catalog) Search(query string) SearchResult {
	result := SearchResult{Packages: []Package{}, Templates: []Template{}}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return result
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, entry := range c.packages {
		if strings.Contains(strings.ToLower(entry.ID), needle) ||
			strings.Contains(strings.ToLower(entry.Name), needle) ||
			strings.Contains(strings.ToLower(entry.Description), needle) {
			result.Packages = append(result.Packages, entry)
		}
	}
	for _, entry := range c.templates {
		if templateMatches(entry, needle) {
			result.Templates = append(result.Templates, entry)
		}
	}
	sort.Slice(result.Packages, func(left, right int) bool {
		return result.Packages[left].ID < result.Packages[right].ID
	})
	sort.Slice(result.Templates, func(left, right int) bool {
		return result.Templates[left].ID < result.Templates[right].ID
	})
	return result
}

func templateMatches(entry Template, needle string) bool {
	if strings.Contains(strings.ToLower(entry.ID), needle) ||
		strings.Contains(strings.ToLower(entry.Name), needle) {
		return true
	}
	for _, keyword := range entry.Keywords {
		if strings.Contains(strings.ToLower(keyword), needle) {
			return true
		}
	}
	return false
}

// Templates returns every document template sorted by ID.
func (c *Catalog) Templates() []Template {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	templates := make([]Template, 0, len(c.templates))
	for _, entry := range c.templates {
		templates = append(templates, entry)
	}
	sort.Slice(templates, func(left, right int) bool {
		return templates[left].ID < templates[right].ID
	})
	return templates
}

func (c *Catalog) Template(id string) (Template, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return entry, nil
}

// OverridePath reports the configured override file, if any. The server uses
// it to decide whether a watch is needed.
func (c *Catalog) OverridePath() string {
	if c == nil {
		return ""
	}
	return c.overridePath
}
