package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-library/internal/domain"
	"github.com/prn-tf/alexander-library/internal/service"
)

// BookHandler serves the catalog and circulation endpoints.
type BookHandler struct {
	catalog     *service.CatalogService
	circulation *service.CirculationService
	maxBody     int64
	logger      zerolog.Logger
}

// RegisterRoutes registers catalog and circulation routes.
func (h *BookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/books", h.handleListBooks)
	r.Post("/books", h.handleAddBook)
	r.Get("/books/{id}", h.handleGetBook)
	r.Post("/books/issue", h.handleIssue)
	r.Post("/books/return", h.handleReturn)

	r.Get("/issues/{id}", h.handleGetIssue)
	r.Get("/users/{userId}/issues", h.handleListIssues)
	r.Get("/users/{userId}/dashboard", h.handleDashboard)
}

// =============================================================================
// Catalog
// =============================================================================

func (h *BookHandler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if books == nil {
		books = []*domain.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *BookHandler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BookHandler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var input service.AddBookInput
	if err := decodeJSON(w, r, h.maxBody, &input); err != nil {
		writeError(w, h.logger, err)
		return
	}

	book, err := h.catalog.Add(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

// =============================================================================
// Circulation
// =============================================================================

func (h *BookHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var input service.CirculationInput
	if err := decodeJSON(w, r, h.maxBody, &input); err != nil {
		writeError(w, h.logger, err)
		return
	}

	out, err := h.circulation.Issue(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BookHandler) handleReturn(w http.ResponseWriter, r *http.Request) {
	var input service.CirculationInput
	if err := decodeJSON(w, r, h.maxBody, &input); err != nil {
		writeError(w, h.logger, err)
		return
	}

	out, err := h.circulation.Return(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *BookHandler) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, fmt.Errorf("%w: issue id must be a UUID", service.ErrInvalidInput))
		return
	}

	view, err := h.circulation.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BookHandler) handleListIssues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	input := service.ListIssuesInput{
		UserID:   chi.URLParam(r, "userId"),
		OpenOnly: query.Get("open") == "true",
	}

	var err error
	if input.Limit, err = intParam(query.Get("limit")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if input.Offset, err = intParam(query.Get("offset")); err != nil {
		writeError(w, h.logger, err)
		return
	}

	views, err := h.circulation.ListIssues(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *BookHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.Dashboard(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", service.ErrInvalidInput, s)
	}
	return n, nil
}
