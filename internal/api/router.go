package api

import (
	"database/sql"
	"net/http"

	"github.com/avsenik/knjiznica/internal/lending"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, jwtSecret string, svc *lending.Service) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	booksHandler := &BooksHandler{DB: db}
	authorsHandler := &AuthorsHandler{DB: db}
	borrowsHandler := &BorrowsHandler{DB: db, Svc: svc}

	authMW := AuthMiddleware(jwtSecret)

	// Public: registration and login.
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Account management.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))

	// Catalog: read (all members), write (admin).
	mux.Handle("GET /api/books", authMW(http.HandlerFunc(booksHandler.List)))
	mux.Handle("GET /api/books/{id}", authMW(http.HandlerFunc(booksHandler.Get)))
	mux.Handle("POST /api/books", authMW(RequireAdmin(http.HandlerFunc(booksHandler.Create))))
	mux.Handle("PUT /api/books/{id}", authMW(RequireAdmin(http.HandlerFunc(booksHandler.Update))))
	mux.Handle("PUT /api/books/{id}/cover", authMW(RequireAdmin(http.HandlerFunc(booksHandler.UploadCover))))
	mux.Handle("GET /api/books/{id}/cover", authMW(http.HandlerFunc(booksHandler.GetCover)))

	mux.Handle("GET /api/authors", authMW(http.HandlerFunc(authorsHandler.ListAuthors)))
	mux.Handle("POST /api/authors", authMW(RequireAdmin(http.HandlerFunc(authorsHandler.CreateAuthor))))
	mux.Handle("GET /api/categories", authMW(http.HandlerFunc(authorsHandler.ListCategories)))
	mux.Handle("POST /api/categories", authMW(RequireAdmin(http.HandlerFunc(authorsHandler.CreateCategory))))

	// Lending.
	mux.Handle("POST /api/borrow", authMW(http.HandlerFunc(borrowsHandler.Borrow)))
	mux.Handle("GET /api/borrows", authMW(http.HandlerFunc(borrowsHandler.ListOpen)))
	mux.Handle("POST /api/return", authMW(http.HandlerFunc(borrowsHandler.Return)))
	mux.Handle("GET /api/users/{id}/penalties", authMW(http.HandlerFunc(borrowsHandler.Penalties)))

	return mux
}
