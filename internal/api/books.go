package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/avsenik/knjiznica/internal/imaging"
	"github.com/avsenik/knjiznica/internal/model"
	"github.com/avsenik/knjiznica/internal/store"
)

// BooksHandler handles catalog endpoints.
type BooksHandler struct {
	DB *sql.DB
}

type bookRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	AuthorID        int64  `json:"author_id"`
	CategoryID      int64  `json:"category_id"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

// List handles GET /api/books with optional author, category, and search
// query parameters.
func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := store.ListBooks(r.Context(), h.DB, q.Get("author"), q.Get("category"), q.Get("search"))
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	if books == nil {
		books = []model.Book{}
	}
	jsonResponse(w, http.StatusOK, books)
}

// Get handles GET /api/books/{id}.
func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if book == nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}
	jsonResponse(w, http.StatusOK, book)
}

// Create handles POST /api/books.
func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title == "" || req.AuthorID == 0 || req.CategoryID == 0 {
		jsonError(w, http.StatusBadRequest, "title, author_id and category_id required")
		return
	}
	if err := model.CheckCopyCounts(req.TotalCopies, req.AvailableCopies); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := store.CreateBook(r.Context(), h.DB, req.Title, req.Description,
		req.AuthorID, req.CategoryID, req.TotalCopies, req.AvailableCopies)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to create book")
		return
	}
	jsonResponse(w, http.StatusCreated, book)
}

// Update handles PUT /api/books/{id}.
func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := model.CheckCopyCounts(req.TotalCopies, req.AvailableCopies); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := store.UpdateBook(r.Context(), h.DB, id, req.Title, req.Description,
		req.AuthorID, req.CategoryID, req.TotalCopies, req.AvailableCopies)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to update book")
		return
	}
	if book == nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}
	jsonResponse(w, http.StatusOK, book)
}

// UploadCover handles PUT /api/books/{id}/cover.
func (h *BooksHandler) UploadCover(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	book, err := store.GetBook(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get book")
		return
	}
	if book == nil {
		jsonError(w, http.StatusNotFound, "book not found")
		return
	}

	cover, err := imaging.NormalizeCover(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.SetBookCover(r.Context(), h.DB, id, cover.Data, cover.MIME); err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to store cover")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"message": "cover updated",
		"width":   cover.Width,
		"height":  cover.Height,
	})
}

// GetCover handles GET /api/books/{id}/cover.
func (h *BooksHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid book id")
		return
	}

	data, mime, err := store.GetBookCover(r.Context(), h.DB, id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to get cover")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no cover for this book")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
