package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/biblioteca-yeak8/apiserver/types"
)

// BookRepository handles persistence for books.
type BookRepository struct {
	db *sql.DB
}

func NewBookRepository(db *sql.DB) *BookRepository {
	return &BookRepository{db: db}
}

func (r *BookRepository) List(ctx context.Context) ([]types.Book, error) {
	const query = `
		SELECT id, title, author, category, year, kind, copies_available, cover_key, file_keys, created_at, updated_at
		FROM books
		ORDER BY title`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []types.Book
	for rows.Next() {
		var book types.Book
		var fileKeysJSON []byte
		if err := rows.Scan(
			&book.ID,
			&book.Title,
			&book.Author,
			&book.Category,
			&book.Year,
			&book.Kind,
			&book.CopiesAvailable,
			&book.CoverKey,
			&fileKeysJSON,
			&book.CreatedAt,
			&book.UpdatedAt,
		); err != nil {
			return nil, err
		}

		_ = json.Unmarshal(fileKeysJSON, &book.FileKeys)
		books = append(books, book)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

func (r *BookRepository) Get(ctx context.Context, id int) (types.Book, error) {
	const query = `
		SELECT id, title, author, category, year, kind, copies_available, cover_key, file_keys, created_at, updated_at
		FROM books
		WHERE id = $1`
	var book types.Book
	var fileKeysJSON []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&book.ID,
		&book.Title,
		&book.Author,
		&book.Category,
		&book.Year,
		&book.Kind,
		&book.CopiesAvailable,
		&book.CoverKey,
		&fileKeysJSON,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Book{}, ErrNotFound
		}
		return types.Book{}, err
	}

	_ = json.Unmarshal(fileKeysJSON, &book.FileKeys)
	return book, nil
}

// ExistsByTitleAuthor reports whether a book with the same title and author
// is already registered.
func (r *BookRepository) ExistsByTitleAuthor(ctx context.Context, title, author string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM books WHERE title = $1 AND author = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, title, author).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *BookRepository) Create(ctx context.Context, book types.Book) (types.Book, error) {
	now := time.Now()
	book.CreatedAt = now
	book.UpdatedAt = now

	fileKeys := book.FileKeys
	if fileKeys == nil {
		fileKeys = []string{}
	}
	fileKeysJSON, err := json.Marshal(fileKeys)
	if err != nil {
		return types.Book{}, err
	}

	const query = `
		INSERT INTO books (title, author, category, year, kind, copies_available, cover_key, file_keys, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		book.Title,
		book.Author,
		book.Category,
		book.Year,
		book.Kind,
		book.CopiesAvailable,
		book.CoverKey,
		fileKeysJSON,
		book.CreatedAt,
		book.UpdatedAt,
	).Scan(&book.ID); err != nil {
		return types.Book{}, err
	}

	return book, nil
}
