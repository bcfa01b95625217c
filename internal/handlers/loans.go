package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/biblioteca-yeak8/apiserver/internal/services"
	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// LoanHandler provides HTTP handlers for the loan ledger.
type LoanHandler struct {
	loanService *services.LoanService
}

// NewLoanHandler constructs a handler with the provided service.
func NewLoanHandler(loanService *services.LoanService) *LoanHandler {
	return &LoanHandler{loanService: loanService}
}

// LoanRouter registers loan routes on the given router. All routes require
// authentication; returning a loan additionally requires librarian or admin.
func LoanRouter(
	r chi.Router,
	loanService *services.LoanService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewLoanHandler(loanService)

	r.With(authMiddleware).Post("/", handler.CreateLoan)
	r.With(authMiddleware, RequireRole(types.RoleLibrarian, types.RoleAdmin)).
		Put("/{loanID}/return", handler.ReturnLoan)
}

func (h *LoanHandler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Handle = strings.TrimSpace(req.Handle)
	if req.Handle == "" || req.BookID < 1 || req.DueDate == "" {
		writeError(w, http.StatusBadRequest, "missing loan data (handle, book id, due date)")
		return
	}

	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "due date must be formatted YYYY-MM-DD")
		return
	}

	loan, err := h.loanService.Create(r.Context(), req.Handle, req.BookID, dueDate, actor)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrForbidden):
			writeError(w, http.StatusForbidden, "students may only create loans for themselves")
		case errors.Is(err, store.ErrUnsupportedKind):
			writeError(w, http.StatusBadRequest, "digital books cannot be loaned physically")
		case errors.Is(err, store.ErrOutOfStock):
			writeError(w, http.StatusConflict, "no copies of this book are available")
		case errors.Is(err, store.ErrDuplicateActiveLoan):
			writeError(w, http.StatusConflict, "an active loan for this book already exists")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "user or book not found")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create loan")
		}
		return
	}

	writeJSON(w, http.StatusCreated, loan)
}

func (h *LoanHandler) ReturnLoan(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "loanID")
	loanID, err := strconv.Atoi(raw)
	if err != nil || loanID < 1 {
		writeError(w, http.StatusBadRequest, "invalid loan id")
		return
	}

	loan, err := h.loanService.Return(r.Context(), loanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "loan not found or already returned")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to return loan")
		return
	}

	writeJSON(w, http.StatusOK, loan)
}

type CreateLoanRequest struct {
	Handle  string `json:"handle"`
	BookID  int    `json:"book_id"`
	DueDate string `json:"due_date"`
}
