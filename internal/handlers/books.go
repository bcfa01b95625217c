package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/biblioteca-yeak8/apiserver/internal/services"
	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 128 << 20
	maxUploadBytes     = 2 << 30

	formFieldTitle    = "title"
	formFieldAuthor   = "author"
	formFieldCategory = "category"
	formFieldYear     = "year"
	formFieldKind     = "kind"
	formFieldCopies   = "copies"
	formFieldCover    = "coverImage"
	formFieldPDFs     = "pdfFiles"
)

// BookHandler provides HTTP handlers for the catalog.
type BookHandler struct {
	bookService *services.BookService
}

// NewBookHandler constructs a handler with the provided service.
func NewBookHandler(bookService *services.BookService) *BookHandler {
	return &BookHandler{bookService: bookService}
}

// BookRouter registers catalog routes on the given router. Listing is
// public; registration requires a librarian or admin session.
func BookRouter(
	r chi.Router,
	bookService *services.BookService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewBookHandler(bookService)

	r.Get("/", handler.ListBooks)
	r.With(authMiddleware, RequireRole(types.RoleLibrarian, types.RoleAdmin)).Post("/", handler.RegisterBook)
	r.Get("/{bookID}", handler.GetBook)
	r.Get("/{bookID}/cover", handler.DownloadCover)
	r.Get("/{bookID}/files/{fileIndex}", handler.DownloadFile)
}

func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.bookService.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list books")
		return
	}

	items := make([]BookResponse, 0, len(books))
	for _, book := range books {
		items = append(items, newBookResponse(book))
	}
	writeJSON(w, http.StatusOK, BookListResponse{Items: items})
}

func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := parseBookID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := h.bookService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch book")
		return
	}

	writeJSON(w, http.StatusOK, newBookResponse(book))
}

func (h *BookHandler) RegisterBook(w http.ResponseWriter, r *http.Request) {
	input, cover, files, err := parseBookForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	book, err := h.bookService.Register(r.Context(), input, cover, files)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "a book with the same title and author already exists")
		default:
			writeError(w, http.StatusInternalServerError, "failed to register book")
		}
		return
	}

	writeJSON(w, http.StatusCreated, newBookResponse(book))
}

// DownloadCover streams the book's cover image from object storage.
func (h *BookHandler) DownloadCover(w http.ResponseWriter, r *http.Request) {
	id, err := parseBookID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reader, contentType, err := h.bookService.DownloadCover(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cover not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch cover")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	_, _ = io.Copy(w, reader)
}

// DownloadFile streams one of the book's PDF files from object storage.
func (h *BookHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseBookID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "fileIndex"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid file index")
		return
	}

	reader, contentType, err := h.bookService.DownloadFile(r.Context(), id, index)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch file")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	_, _ = io.Copy(w, reader)
}

// BookResponse is a catalog entry with its derived availability status.
type BookResponse struct {
	types.Book
	Status string `json:"status"`
}

// BookListResponse is the catalog listing payload.
type BookListResponse struct {
	Items []BookResponse `json:"items"`
}

func newBookResponse(book types.Book) BookResponse {
	return BookResponse{Book: book, Status: book.Status()}
}

func parseBookID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "bookID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid book id")
	}
	return id, nil
}

func parseBookForm(r *http.Request) (services.BookInput, *services.Upload, []services.Upload, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.BookInput{}, nil, nil, errors.New("invalid multipart form")
	}

	year, err := parseOptionalInt(r.FormValue(formFieldYear))
	if err != nil {
		return services.BookInput{}, nil, nil, errors.New("invalid year")
	}
	copies, err := parseOptionalInt(r.FormValue(formFieldCopies))
	if err != nil {
		return services.BookInput{}, nil, nil, errors.New("invalid copies")
	}

	input := services.BookInput{
		Title:    r.FormValue(formFieldTitle),
		Author:   r.FormValue(formFieldAuthor),
		Category: r.FormValue(formFieldCategory),
		Year:     year,
		Kind:     strings.TrimSpace(r.FormValue(formFieldKind)),
		Copies:   copies,
	}

	cover, err := parseSingleUpload(r.MultipartForm, formFieldCover)
	if err != nil {
		return services.BookInput{}, nil, nil, err
	}

	files, err := parseUploads(r.MultipartForm, formFieldPDFs)
	if err != nil {
		return services.BookInput{}, nil, nil, err
	}

	return input, cover, files, nil
}

func parseOptionalInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func parseSingleUpload(form *multipart.Form, field string) (*services.Upload, error) {
	if form == nil {
		return nil, nil
	}
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	if len(headers) > 1 {
		return nil, errors.New("only one " + field + " is allowed")
	}
	upload, err := readUpload(headers[0])
	if err != nil {
		return nil, err
	}
	return &upload, nil
}

func parseUploads(form *multipart.Form, field string) ([]services.Upload, error) {
	if form == nil {
		return nil, nil
	}
	headers := form.File[field]
	uploads := make([]services.Upload, 0, len(headers))
	for _, header := range headers {
		upload, err := readUpload(header)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

func readUpload(header *multipart.FileHeader) (services.Upload, error) {
	file, err := header.Open()
	if err != nil {
		return services.Upload{}, errors.New("failed to read upload")
	}

	data, err := readFileLimited(file, maxUploadBytes)
	_ = file.Close()
	if err != nil {
		return services.Upload{}, err
	}

	return services.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
