package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avsenik/knjiznica/internal/model"
)

// CreateAuthor adds an author.
func CreateAuthor(ctx context.Context, db *sql.DB, name, bio string) (*model.Author, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO authors (name, bio) VALUES (?, ?)`, name, bio,
	)
	if err != nil {
		return nil, fmt.Errorf("creating author: %w", err)
	}
	id, _ := result.LastInsertId()
	return &model.Author{ID: id, Name: name, Bio: bio}, nil
}

// ListAuthors returns all authors ordered by name.
func ListAuthors(ctx context.Context, db *sql.DB) ([]model.Author, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, COALESCE(bio, '') FROM authors ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing authors: %w", err)
	}
	defer rows.Close()

	var authors []model.Author
	for rows.Next() {
		var a model.Author
		if err := rows.Scan(&a.ID, &a.Name, &a.Bio); err != nil {
			return nil, fmt.Errorf("scanning author: %w", err)
		}
		authors = append(authors, a)
	}
	return authors, rows.Err()
}

// CreateCategory adds a category.
func CreateCategory(ctx context.Context, db *sql.DB, name string) (*model.Category, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO categories (name) VALUES (?)`, name,
	)
	if err != nil {
		return nil, fmt.Errorf("creating category: %w", err)
	}
	id, _ := result.LastInsertId()
	return &model.Category{ID: id, Name: name}, nil
}

// ListCategories returns all categories ordered by name.
func ListCategories(ctx context.Context, db *sql.DB) ([]model.Category, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name FROM categories ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
