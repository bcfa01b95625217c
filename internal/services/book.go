package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/biblioteca-yeak8/apiserver/internal/storage"
	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
	"github.com/google/uuid"
)

// BookRepository defines persistence operations for books.
type BookRepository interface {
	List(ctx context.Context) ([]types.Book, error)
	Get(ctx context.Context, id int) (types.Book, error)
	ExistsByTitleAuthor(ctx context.Context, title, author string) (bool, error)
	Create(ctx context.Context, book types.Book) (types.Book, error)
}

const (
	maxBookFiles     = 5
	maxCoverBytes    = 5 << 20
	maxTotalPDFBytes = 2 << 30
	minPublishYear   = 1000
)

var coverContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// Upload is an uploaded file held in memory until validation passes.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// BookInput is the validated registration payload for a book.
type BookInput struct {
	Title    string
	Author   string
	Category string
	Year     int
	Kind     string
	Copies   int
}

// BookService encapsulates catalog use-cases. Uploads are validated as pure
// checks over name, content type, and size; object storage is written only
// after every validation has passed, so a rejected registration never leaves
// partial uploads behind.
type BookService struct {
	repo    BookRepository
	storage *storage.Storage
}

func NewBookService(repo BookRepository, objectStorage *storage.Storage) *BookService {
	return &BookService{repo: repo, storage: objectStorage}
}

func (s *BookService) List(ctx context.Context) ([]types.Book, error) {
	return s.repo.List(ctx)
}

func (s *BookService) Get(ctx context.Context, id int) (types.Book, error) {
	return s.repo.Get(ctx, id)
}

// Register validates and stores a new catalog entry together with its
// uploaded cover and files. A duplicate (title, author) pair yields
// store.ErrConflict.
func (s *BookService) Register(ctx context.Context, input BookInput, cover *Upload, files []Upload) (types.Book, error) {
	input, err := ValidateBookInput(input)
	if err != nil {
		return types.Book{}, err
	}
	if err := ValidateCover(cover); err != nil {
		return types.Book{}, err
	}
	if err := ValidateBookFiles(input.Kind, files); err != nil {
		return types.Book{}, err
	}

	exists, err := s.repo.ExistsByTitleAuthor(ctx, input.Title, input.Author)
	if err != nil {
		return types.Book{}, err
	}
	if exists {
		return types.Book{}, fmt.Errorf("book with same title and author: %w", store.ErrConflict)
	}

	// All validation has passed; commit the uploads.
	var written []string
	cleanup := func() {
		for _, key := range written {
			_ = s.storage.Delete(ctx, key)
		}
	}

	var coverKey string
	if cover != nil {
		coverKey = "covers/" + uuid.NewString() + strings.ToLower(path.Ext(cover.Filename))
		if err := s.storage.Put(ctx, coverKey, bytes.NewReader(cover.Data), cover.Size, cover.ContentType); err != nil {
			return types.Book{}, err
		}
		written = append(written, coverKey)
	}

	fileKeys := make([]string, 0, len(files))
	for _, file := range files {
		key := "books/" + uuid.NewString() + ".pdf"
		if err := s.storage.Put(ctx, key, bytes.NewReader(file.Data), file.Size, file.ContentType); err != nil {
			cleanup()
			return types.Book{}, err
		}
		written = append(written, key)
		fileKeys = append(fileKeys, key)
	}

	book, err := s.repo.Create(ctx, types.Book{
		Title:           input.Title,
		Author:          input.Author,
		Category:        input.Category,
		Year:            input.Year,
		Kind:            input.Kind,
		CopiesAvailable: input.Copies,
		CoverKey:        coverKey,
		FileKeys:        fileKeys,
	})
	if err != nil {
		cleanup()
		return types.Book{}, err
	}
	return book, nil
}

// DownloadCover opens the book's cover image for streaming. A book without
// a cover yields store.ErrNotFound.
func (s *BookService) DownloadCover(ctx context.Context, id int) (io.ReadCloser, string, error) {
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if book.CoverKey == "" {
		return nil, "", fmt.Errorf("book has no cover: %w", store.ErrNotFound)
	}
	reader, err := s.storage.Get(ctx, book.CoverKey)
	if err != nil {
		return nil, "", err
	}
	return reader, imageContentType(book.CoverKey), nil
}

// DownloadFile opens the index-th PDF file of the book for streaming.
func (s *BookService) DownloadFile(ctx context.Context, id, index int) (io.ReadCloser, string, error) {
	book, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if index < 0 || index >= len(book.FileKeys) {
		return nil, "", fmt.Errorf("book has no file %d: %w", index, store.ErrNotFound)
	}
	reader, err := s.storage.Get(ctx, book.FileKeys[index])
	if err != nil {
		return nil, "", err
	}
	return reader, "application/pdf", nil
}

func imageContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// ValidateBookInput normalizes and checks the registration fields. Digital
// books always carry zero copies; physical books need at least one.
func ValidateBookInput(input BookInput) (BookInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Author = strings.TrimSpace(input.Author)
	input.Category = strings.TrimSpace(input.Category)

	if input.Title == "" {
		return BookInput{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if input.Author == "" {
		return BookInput{}, fmt.Errorf("%w: author is required", ErrValidation)
	}
	if input.Category == "" {
		return BookInput{}, fmt.Errorf("%w: category is required", ErrValidation)
	}
	if input.Kind != types.KindPhysical && input.Kind != types.KindDigital {
		return BookInput{}, fmt.Errorf("%w: kind must be %q or %q", ErrValidation, types.KindPhysical, types.KindDigital)
	}

	currentYear := time.Now().Year()
	if input.Year < minPublishYear || input.Year > currentYear {
		return BookInput{}, fmt.Errorf("%w: year must be between %d and %d", ErrValidation, minPublishYear, currentYear)
	}

	if input.Kind == types.KindDigital {
		input.Copies = 0
	} else if input.Copies < 1 {
		return BookInput{}, fmt.Errorf("%w: physical books need at least one copy", ErrValidation)
	}

	return input, nil
}

// ValidateCover checks an optional cover image upload.
func ValidateCover(cover *Upload) error {
	if cover == nil {
		return nil
	}
	if !coverContentTypes[strings.ToLower(cover.ContentType)] {
		return fmt.Errorf("%w: cover must be a JPG, PNG, or WEBP image", ErrValidation)
	}
	if cover.Size > maxCoverBytes {
		return fmt.Errorf("%w: cover image must not exceed 5MB", ErrValidation)
	}
	return nil
}

// ValidateBookFiles checks the uploaded PDF files against the book kind.
func ValidateBookFiles(kind string, files []Upload) error {
	if kind == types.KindDigital && len(files) == 0 {
		return fmt.Errorf("%w: digital books require at least one PDF file", ErrValidation)
	}
	if len(files) > maxBookFiles {
		return fmt.Errorf("%w: at most %d PDF files are allowed", ErrValidation, maxBookFiles)
	}

	var total int64
	for _, file := range files {
		if !strings.EqualFold(file.ContentType, "application/pdf") {
			return fmt.Errorf("%w: only PDF files are allowed", ErrValidation)
		}
		total += file.Size
	}
	if total > maxTotalPDFBytes {
		return fmt.Errorf("%w: total PDF size must not exceed 2GB", ErrValidation)
	}
	return nil
}
