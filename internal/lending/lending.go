// Package lending implements the borrow/return lifecycle: eligibility
// checks, atomic copy-count mutation, late-return penalties, and the borrow
// confirmation dispatch. All state transitions run inside a single database
// transaction per operation, so concurrent requests against the same book or
// borrow serialize at the row level.
package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/avsenik/knjiznica/internal/model"
	"github.com/avsenik/knjiznica/internal/notify"
	"github.com/avsenik/knjiznica/internal/store"
)

// Borrow-time validation failures, checked in this order.
var (
	ErrBookNotFound = errors.New("book not found")
	ErrPenaltyLimit = errors.New("too many penalty points to borrow")
	ErrBorrowLimit  = fmt.Errorf("user cannot borrow more than %d books", model.MaxOpenBorrows)
	ErrOutOfStock   = errors.New("no available copies of this book")
)

// Return-time validation failures. A missing borrow and an already-returned
// borrow are deliberately the same error so callers cannot discover which
// borrow ids exist.
var (
	ErrInvalidOrReturned = errors.New("invalid or already returned borrow record")
	ErrNotOwner          = errors.New("you can only return your own borrowed books")
)

var (
	// ErrForbidden is returned when the acting user may not read the target
	// user's penalty score.
	ErrForbidden = errors.New("not allowed")

	// ErrUserNotFound is returned for a penalty lookup on a missing user.
	ErrUserNotFound = errors.New("user not found")

	// ErrConflict is surfaced when lock contention persists past the
	// internal retries. Callers may simply try again.
	ErrConflict = errors.New("temporary conflict")
)

// maxAttempts bounds the internal retry on transient lock conflicts before
// they surface to the caller.
const maxAttempts = 5

// Actor identifies the authenticated user an operation runs as.
type Actor struct {
	ID    int64
	Admin bool
}

// Service is the lending engine. Now is the server clock and may be swapped
// in tests; when nil, time.Now (UTC) is used.
type Service struct {
	DB       *sql.DB
	Notifier notify.Notifier
	Log      zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Borrow checks the user's eligibility for the book and, if all checks pass,
// takes one copy, records the borrow, and dispatches the confirmation. The
// notification is sent before commit, so a notifier failure aborts the whole
// operation.
func (s *Service) Borrow(ctx context.Context, userID, bookID int64) (*model.Borrow, error) {
	var borrowID int64
	dispatched := false
	err := s.withRetry(ctx, func() error {
		id, err := s.borrowTx(ctx, userID, bookID, &dispatched)
		borrowID = id
		return err
	})
	if err != nil {
		return nil, err
	}

	borrow, err := store.GetBorrow(ctx, s.DB, borrowID)
	if err != nil {
		return nil, err
	}

	s.Log.Info().
		Int64("user_id", userID).
		Int64("book_id", bookID).
		Int64("borrow_id", borrow.ID).
		Time("due_date", borrow.DueDate).
		Msg("borrow created")
	return borrow, nil
}

func (s *Service) borrowTx(ctx context.Context, userID, bookID int64, dispatched *bool) (int64, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var username, email string
	var penaltyPoints int
	err = tx.QueryRowContext(ctx,
		`SELECT username, email, penalty_points FROM users WHERE id = ?`, userID,
	).Scan(&username, &email, &penaltyPoints)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("user %d not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("loading user: %w", err)
	}

	var title string
	err = tx.QueryRowContext(ctx,
		`SELECT title FROM books WHERE id = ?`, bookID,
	).Scan(&title)
	if err == sql.ErrNoRows {
		return 0, ErrBookNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("loading book: %w", err)
	}

	if penaltyPoints >= model.PenaltyThreshold {
		return 0, ErrPenaltyLimit
	}

	var open int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM borrows WHERE user_id = ? AND return_date IS NULL`, userID,
	).Scan(&open)
	if err != nil {
		return 0, fmt.Errorf("counting open borrows: %w", err)
	}
	if open >= model.MaxOpenBorrows {
		return 0, ErrBorrowLimit
	}

	// Take one copy only if one is there. The guard in the WHERE clause is
	// what keeps two racing borrowers from both consuming the last copy.
	result, err := tx.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies - 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND available_copies > 0`, bookID,
	)
	if err != nil {
		return 0, fmt.Errorf("taking copy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, ErrOutOfStock
	}

	now := s.now()
	due := now.Add(model.LoanPeriod)
	result, err = tx.ExecContext(ctx,
		`INSERT INTO borrows (user_id, book_id, borrow_date, due_date) VALUES (?, ?, ?, ?)`,
		userID, bookID, now, due,
	)
	if err != nil {
		return 0, fmt.Errorf("recording borrow: %w", err)
	}
	borrowID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting borrow id: %w", err)
	}

	// Confirmation is part of the borrow contract: an invalid address or a
	// dispatch failure rolls the whole borrow back. A lock conflict at
	// commit can replay this transaction after the confirmation already
	// went out, so the flag keeps a retried borrow from sending it twice.
	if !*dispatched {
		if err := notify.ValidateAddress(email); err != nil {
			return 0, err
		}
		subject, body := notify.BorrowConfirmation(title, username, due)
		if err := s.Notifier.Send(ctx, email, subject, body); err != nil {
			return 0, fmt.Errorf("dispatching confirmation: %w", err)
		}
		*dispatched = true
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing borrow: %w", err)
	}
	return borrowID, nil
}

// Return closes the user's open borrow, restores the copy, and charges
// penalty points for each full day past due. Exactly one Return per borrow
// can succeed; concurrent attempts lose the guarded update and report
// ErrInvalidOrReturned.
func (s *Service) Return(ctx context.Context, userID, borrowID int64) (*model.Borrow, error) {
	var daysLate int
	err := s.withRetry(ctx, func() error {
		n, err := s.returnTx(ctx, userID, borrowID)
		daysLate = n
		return err
	})
	if err != nil {
		return nil, err
	}

	borrow, err := store.GetBorrow(ctx, s.DB, borrowID)
	if err != nil {
		return nil, err
	}

	s.Log.Info().
		Int64("user_id", userID).
		Int64("borrow_id", borrowID).
		Int("days_late", daysLate).
		Msg("borrow returned")
	return borrow, nil
}

func (s *Service) returnTx(ctx context.Context, userID, borrowID int64) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var bookID int64
	var ownerID int64
	var dueDate time.Time
	var returnDate sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, book_id, due_date, return_date FROM borrows WHERE id = ?`, borrowID,
	).Scan(&ownerID, &bookID, &dueDate, &returnDate)
	if err == sql.ErrNoRows {
		return 0, ErrInvalidOrReturned
	}
	if err != nil {
		return 0, fmt.Errorf("loading borrow: %w", err)
	}
	if returnDate.Valid {
		return 0, ErrInvalidOrReturned
	}
	if ownerID != userID {
		return 0, ErrNotOwner
	}

	now := s.now()

	// Compare-and-set on the open state: if another return slipped in
	// between the read above and here, zero rows match and this attempt
	// fails cleanly.
	result, err := tx.ExecContext(ctx,
		`UPDATE borrows SET return_date = ? WHERE id = ? AND return_date IS NULL`,
		now, borrowID,
	)
	if err != nil {
		return 0, fmt.Errorf("closing borrow: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, ErrInvalidOrReturned
	}

	// Restore the copy. The cap guard can only trip if an administrator
	// shrank total_copies mid-loan; that is an inconsistency, not a user
	// error.
	result, err = tx.ExecContext(ctx,
		`UPDATE books SET available_copies = available_copies + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND available_copies < total_copies`, bookID,
	)
	if err != nil {
		return 0, fmt.Errorf("restoring copy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("restoring copy for book %d would exceed total copies", bookID)
	}

	borrow := model.Borrow{DueDate: dueDate}
	daysLate := borrow.DaysLate(now)
	if daysLate > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET penalty_points = penalty_points + ? WHERE id = ?`,
			daysLate*model.PointsPerLateDay, userID,
		)
		if err != nil {
			return 0, fmt.Errorf("charging penalty: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing return: %w", err)
	}
	return daysLate, nil
}

// PenaltyPoints returns the target user's penalty score. Only the user
// themselves or an administrator may read it.
func (s *Service) PenaltyPoints(ctx context.Context, acting Actor, targetID int64) (int, error) {
	if targetID != acting.ID && !acting.Admin {
		return 0, ErrForbidden
	}

	user, err := store.GetUser(ctx, s.DB, targetID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	return user.PenaltyPoints, nil
}

// withRetry runs fn up to maxAttempts times, retrying only on SQLite lock
// contention. Validation errors pass through on the first attempt.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		s.Log.Debug().Int("attempt", attempt).Msg("retrying after lock contention")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConflict, maxAttempts, err)
}

// isBusy reports whether err is SQLite lock contention. The driver does not
// export a typed error for this, so match on the error text.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "is locked")
}
