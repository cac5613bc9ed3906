package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/avsenik/knjiznica/internal/model"
)

const bookColumns = `b.id, b.title, b.description, b.author_id, b.category_id,
	b.total_copies, b.available_copies, b.cover_mime, b.created_at, b.updated_at,
	a.name AS author_name, c.name AS category_name`

// CreateBook adds a title to the catalog.
func CreateBook(ctx context.Context, db *sql.DB, title, description string, authorID, categoryID int64, total, available int) (*model.Book, error) {
	if err := model.CheckCopyCounts(total, available); err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO books (title, description, author_id, category_id, total_copies, available_copies)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		title, description, authorID, categoryID, total, available,
	)
	if err != nil {
		return nil, fmt.Errorf("creating book: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting book id: %w", err)
	}

	return GetBook(ctx, db, id)
}

// UpdateBook updates a book's catalog fields and copy counts. The copy-count
// invariant is checked here and again by the schema constraints.
func UpdateBook(ctx context.Context, db *sql.DB, id int64, title, description string, authorID, categoryID int64, total, available int) (*model.Book, error) {
	if err := model.CheckCopyCounts(total, available); err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE books SET title = ?, description = ?, author_id = ?, category_id = ?,
		        total_copies = ?, available_copies = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		title, description, authorID, categoryID, total, available, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating book: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, nil
	}

	return GetBook(ctx, db, id)
}

// GetBook returns a book by ID with author and category names joined.
func GetBook(ctx context.Context, db *sql.DB, id int64) (*model.Book, error) {
	b := &model.Book{}
	var description, coverMime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT `+bookColumns+`
		 FROM books b
		 JOIN authors a ON a.id = b.author_id
		 JOIN categories c ON c.id = b.category_id
		 WHERE b.id = ?`, id,
	).Scan(&b.ID, &b.Title, &description, &b.AuthorID, &b.CategoryID,
		&b.TotalCopies, &b.AvailableCopies, &coverMime, &b.CreatedAt, &b.UpdatedAt,
		&b.AuthorName, &b.CategoryName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting book: %w", err)
	}
	b.Description = description.String
	b.CoverMime = coverMime.String
	return b, nil
}

// ListBooks returns catalog books, optionally filtered by author name,
// category name, or a title/description search term.
func ListBooks(ctx context.Context, db *sql.DB, author, category, search string) ([]model.Book, error) {
	query := `SELECT ` + bookColumns + `
	          FROM books b
	          JOIN authors a ON a.id = b.author_id
	          JOIN categories c ON c.id = b.category_id
	          WHERE 1=1`
	var args []any

	if author != "" {
		query += ` AND a.name = ?`
		args = append(args, author)
	}
	if category != "" {
		query += ` AND c.name = ?`
		args = append(args, category)
	}
	if search != "" {
		query += ` AND (b.title LIKE ? OR b.description LIKE ?)`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}

	query += ` ORDER BY b.title`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		var b model.Book
		var description, coverMime sql.NullString
		if err := rows.Scan(&b.ID, &b.Title, &description, &b.AuthorID, &b.CategoryID,
			&b.TotalCopies, &b.AvailableCopies, &coverMime, &b.CreatedAt, &b.UpdatedAt,
			&b.AuthorName, &b.CategoryName); err != nil {
			return nil, fmt.Errorf("scanning book: %w", err)
		}
		b.Description = description.String
		b.CoverMime = coverMime.String
		books = append(books, b)
	}
	return books, rows.Err()
}

// SetBookCover stores the processed cover image for a book.
func SetBookCover(ctx context.Context, db *sql.DB, id int64, data []byte, mime string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE books SET cover = ?, cover_mime = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		data, mime, id,
	)
	if err != nil {
		return fmt.Errorf("setting cover: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("book not found")
	}
	return nil
}

// GetBookCover returns the cover image data and MIME type, or nil if unset.
func GetBookCover(ctx context.Context, db *sql.DB, id int64) ([]byte, string, error) {
	var data []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT cover, cover_mime FROM books WHERE id = ?`, id,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting cover: %w", err)
	}
	return data, mime.String, nil
}
