package model

import (
	"fmt"
	"time"
)

// Book represents a title in the catalog. Copy counts are only ever mutated
// through the store's guarded updates; CheckCopyCounts is the shared
// validation applied at every boundary that accepts counts from outside.
type Book struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	AuthorID        int64     `json:"author_id"`
	CategoryID      int64     `json:"category_id"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CoverMime       string    `json:"cover_mime,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Joined fields (not always populated).
	AuthorName   string `json:"author_name,omitempty"`
	CategoryName string `json:"category_name,omitempty"`
}

// CheckCopyCounts validates a (total, available) pair.
func CheckCopyCounts(total, available int) error {
	if total < 0 || available < 0 {
		return fmt.Errorf("copy counts cannot be negative")
	}
	if available > total {
		return fmt.Errorf("available copies (%d) cannot exceed total copies (%d)", available, total)
	}
	return nil
}

// Author represents a book author.
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Bio  string `json:"bio,omitempty"`
}

// Category represents a catalog category.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
