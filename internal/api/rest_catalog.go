package api

import (
	"errors"
	"net/http"
	"strings"

	"ensemble/internal/catalog"
)

func (h *RestHandler) requireCatalog() *apiError {
	if h.Catalog == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "catalog unavailable"}
	}
	return nil
}

func (h *RestHandler) handleCatalogCategories(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireCatalog(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	writeJSON(w, http.StatusOK, h.Catalog.Categories())
	return nil
}

// handleCatalogPackages resolves a category when ?category= is present and
// falls back to substring search on ?q= otherwise.
func (h *RestHandler) handleCatalogPackages(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireCatalog(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	values := r.URL.Query()
	if category := strings.TrimSpace(values.Get("category")); category != "" {
		packages, resolveError := h.Catalog.Resolve(category)
		if resolveError != nil {
			if errors.Is(resolveError, catalog.ErrUnknownCategory) {
				return &apiError{Status: http.StatusNotFound, Message: "unknown category"}
			}
			return &apiError{Status: http.StatusInternalServerError, Message: "category resolve failed"}
		}
		writeJSON(w, http.StatusOK, packages)
		return nil
	}

	query := strings.TrimSpace(values.Get("q"))
	if query == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing category or q parameter"}
	}

	writeJSON(w, http.StatusOK, h.Catalog.Search(query))
	return nil
}

func (h *RestHandler) handleCatalogTemplates(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireCatalog(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	writeJSON(w, http.StatusOK, h.Catalog.Templates())
	return nil
}

func (h *RestHandler) handleCatalogTemplate(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireCatalog(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/catalog/templates/"), "/")
	if strings.TrimSpace(id) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing template id"}
	}

	tmpl, templateError := h.Catalog.Template(id)
	if templateError != nil {
		if errors.Is(templateError, catalog.ErrTemplateNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "template not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "template lookup failed"}
	}

	writeJSON(w, http.StatusOK, tmpl)
	return nil
}
