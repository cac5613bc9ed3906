package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/avsenik/knjiznica/internal/lending"
	"github.com/avsenik/knjiznica/internal/model"
	"github.com/avsenik/knjiznica/internal/notify"
	"github.com/avsenik/knjiznica/internal/store"
)

// BorrowsHandler binds the lending engine to HTTP.
type BorrowsHandler struct {
	DB  *sql.DB
	Svc *lending.Service
}

type borrowRequest struct {
	BookID int64 `json:"book_id"`
}

type returnRequest struct {
	BorrowID int64 `json:"borrow_id"`
}

// Borrow handles POST /api/borrow.
func (h *BorrowsHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req borrowRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BookID == 0 {
		jsonError(w, http.StatusBadRequest, "book_id required")
		return
	}

	borrow, err := h.Svc.Borrow(r.Context(), claims.UserID, req.BookID)
	if err != nil {
		writeLendingError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, borrow)
}

// ListOpen handles GET /api/borrows: the acting user's open borrows.
func (h *BorrowsHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	borrows, err := store.ListOpenBorrows(r.Context(), h.DB, claims.UserID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list borrows")
		return
	}
	if borrows == nil {
		borrows = []model.Borrow{}
	}
	jsonResponse(w, http.StatusOK, borrows)
}

// Return handles POST /api/return.
func (h *BorrowsHandler) Return(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req returnRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BorrowID == 0 {
		jsonError(w, http.StatusBadRequest, "borrow_id required")
		return
	}

	borrow, err := h.Svc.Return(r.Context(), claims.UserID, req.BorrowID)
	if err != nil {
		writeLendingError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, borrow)
}

// Penalties handles GET /api/users/{id}/penalties. The id may be a user id
// or "me" for the acting user.
func (h *BorrowsHandler) Penalties(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	acting := lending.Actor{ID: claims.UserID, Admin: claims.IsAdmin()}

	targetID := acting.ID
	if raw := r.PathValue("id"); raw != "me" {
		var err error
		targetID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid user id")
			return
		}
	}

	points, err := h.Svc.PenaltyPoints(r.Context(), acting, targetID)
	if err != nil {
		writeLendingError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"user_id":        targetID,
		"penalty_points": points,
	})
}

// writeLendingError maps lending error kinds to HTTP statuses. Anything
// outside the taxonomy is an infrastructure failure.
func writeLendingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lending.ErrBookNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lending.ErrPenaltyLimit):
		jsonError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lending.ErrBorrowLimit), errors.Is(err, lending.ErrOutOfStock):
		jsonError(w, http.StatusConflict, err.Error())
	case errors.Is(err, notify.ErrInvalidAddress):
		jsonError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, lending.ErrInvalidOrReturned):
		jsonError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lending.ErrNotOwner), errors.Is(err, lending.ErrForbidden):
		jsonError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lending.ErrUserNotFound):
		jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lending.ErrConflict):
		jsonError(w, http.StatusServiceUnavailable, err.Error())
	default:
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
