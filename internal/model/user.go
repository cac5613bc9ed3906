package model

import (
	"fmt"
	"time"
)

// User represents a library member or administrator.
type User struct {
	ID            int64     `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email,omitempty"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	PenaltyPoints int       `json:"penalty_points"`
	CreatedAt     time.Time `json:"created_at"`
}

// Roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// MinPasswordLength is the shortest password accepted at registration and
// password change.
const MinPasswordLength = 8

// ValidatePassword checks a plaintext password against the account policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// Lending policy constants.
const (
	// PenaltyThreshold is the penalty-point score at which borrowing is blocked.
	PenaltyThreshold = 50

	// MaxOpenBorrows is the number of books a user may have out at once.
	MaxOpenBorrows = 3

	// PointsPerLateDay is the penalty accrued for each full day past due.
	PointsPerLateDay = 2
)
