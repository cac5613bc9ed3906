package api

import (
	"database/sql"
	"net/http"

	"github.com/avsenik/knjiznica/internal/model"
	"github.com/avsenik/knjiznica/internal/store"
)

// AuthorsHandler handles author and category endpoints.
type AuthorsHandler struct {
	DB *sql.DB
}

type authorRequest struct {
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

type categoryRequest struct {
	Name string `json:"name"`
}

// ListAuthors handles GET /api/authors.
func (h *AuthorsHandler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := store.ListAuthors(r.Context(), h.DB)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list authors")
		return
	}
	if authors == nil {
		authors = []model.Author{}
	}
	jsonResponse(w, http.StatusOK, authors)
}

// CreateAuthor handles POST /api/authors.
func (h *AuthorsHandler) CreateAuthor(w http.ResponseWriter, r *http.Request) {
	var req authorRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	author, err := store.CreateAuthor(r.Context(), h.DB, req.Name, req.Bio)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to create author")
		return
	}
	jsonResponse(w, http.StatusCreated, author)
}

// ListCategories handles GET /api/categories.
func (h *AuthorsHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := store.ListCategories(r.Context(), h.DB)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []model.Category{}
	}
	jsonResponse(w, http.StatusOK, categories)
}

// CreateCategory handles POST /api/categories.
func (h *AuthorsHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	category, err := store.CreateCategory(r.Context(), h.DB, req.Name)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to create category")
		return
	}
	jsonResponse(w, http.StatusCreated, category)
}
