package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avsenik/knjiznica/internal/model"
)

const borrowColumns = `br.id, br.user_id, br.book_id, br.borrow_date, br.due_date, br.return_date,
	u.username, b.title AS book_title`

// GetBorrow returns a borrow by ID with username and book title joined.
func GetBorrow(ctx context.Context, db *sql.DB, id int64) (*model.Borrow, error) {
	br := &model.Borrow{}
	var returnDate sql.NullTime
	err := db.QueryRowContext(ctx,
		`SELECT `+borrowColumns+`
		 FROM borrows br
		 JOIN users u ON u.id = br.user_id
		 JOIN books b ON b.id = br.book_id
		 WHERE br.id = ?`, id,
	).Scan(&br.ID, &br.UserID, &br.BookID, &br.BorrowDate, &br.DueDate, &returnDate,
		&br.Username, &br.BookTitle)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting borrow: %w", err)
	}
	if returnDate.Valid {
		br.ReturnDate = &returnDate.Time
	}
	return br, nil
}

// ListOpenBorrows returns a user's open borrows, oldest first.
func ListOpenBorrows(ctx context.Context, db *sql.DB, userID int64) ([]model.Borrow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+borrowColumns+`
		 FROM borrows br
		 JOIN users u ON u.id = br.user_id
		 JOIN books b ON b.id = br.book_id
		 WHERE br.user_id = ? AND br.return_date IS NULL
		 ORDER BY br.borrow_date`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing open borrows: %w", err)
	}
	defer rows.Close()

	var borrows []model.Borrow
	for rows.Next() {
		var br model.Borrow
		var returnDate sql.NullTime
		if err := rows.Scan(&br.ID, &br.UserID, &br.BookID, &br.BorrowDate, &br.DueDate, &returnDate,
			&br.Username, &br.BookTitle); err != nil {
			return nil, fmt.Errorf("scanning borrow: %w", err)
		}
		if returnDate.Valid {
			br.ReturnDate = &returnDate.Time
		}
		borrows = append(borrows, br)
	}
	return borrows, rows.Err()
}

// CountOpenBorrows returns how many borrows the user currently has open.
func CountOpenBorrows(ctx context.Context, db *sql.DB, userID int64) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM borrows WHERE user_id = ? AND return_date IS NULL`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting open borrows: %w", err)
	}
	return n, nil
}
