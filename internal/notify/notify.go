// Package notify builds and dispatches borrow-confirmation messages.
// Delivery itself is delegated: a Notifier hands the message to an external
// transport (the mail queue in production, a logger in development).
package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidAddress is returned for a missing or malformed email address.
var ErrInvalidAddress = errors.New("invalid notification address")

// addressPattern accepts local-part@domain.tld with the usual ASCII set in
// the local part.
var addressPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Notifier delivers a message to a recipient address.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ValidateAddress checks that addr is a syntactically valid email address.
func ValidateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: address is missing", ErrInvalidAddress)
	}
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// BorrowConfirmation builds the subject and body for a borrow confirmation.
func BorrowConfirmation(bookTitle, username string, dueDate time.Time) (subject, body string) {
	subject = fmt.Sprintf("Borrow Confirmation: %s", bookTitle)
	body = fmt.Sprintf(
		"Dear %s,\n\n"+
			"You have borrowed '%s'.\n"+
			"Due Date: %s\n"+
			"Please return it by the due date to avoid penalties.\n",
		username, bookTitle, dueDate.Format("2006-01-02"),
	)
	return subject, body
}
