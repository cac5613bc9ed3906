package model

import "time"

// LoanPeriod is how long a book may be kept; the due date is always the
// borrow date plus this, computed on the server.
const LoanPeriod = 14 * 24 * time.Hour

// Borrow represents one checkout of one copy of a book. A nil ReturnDate
// means the borrow is open (the copy is out); once set, the record is
// terminal.
type Borrow struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	BookID     int64      `json:"book_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`

	// Joined fields (not always populated).
	Username  string `json:"username,omitempty"`
	BookTitle string `json:"book_title,omitempty"`
}

// Open reports whether the borrow is still active.
func (b *Borrow) Open() bool {
	return b.ReturnDate == nil
}

// DaysLate returns the number of full days the given return time is past the
// due date, clamped to zero.
func (b *Borrow) DaysLate(returnedAt time.Time) int {
	if !returnedAt.After(b.DueDate) {
		return 0
	}
	return int(returnedAt.Sub(b.DueDate) / (24 * time.Hour))
}
