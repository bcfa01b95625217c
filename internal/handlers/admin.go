package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/biblioteca-yeak8/apiserver/internal/services"
	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
	"github.com/go-chi/chi/v5"
)

// AdminHandler provides management endpoints for librarian accounts and the
// loan history.
type AdminHandler struct {
	userService *services.UserService
	authService *services.AuthService
	loanService *services.LoanService
}

// NewAdminHandler constructs a handler with the provided services.
func NewAdminHandler(userService *services.UserService, authService *services.AuthService, loanService *services.LoanService) *AdminHandler {
	return &AdminHandler{
		userService: userService,
		authService: authService,
		loanService: loanService,
	}
}

// AdminRouter registers management routes on the given router. Librarian
// account management is admin-only; the loan history is open to librarians.
func AdminRouter(
	r chi.Router,
	userService *services.UserService,
	authService *services.AuthService,
	loanService *services.LoanService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewAdminHandler(userService, authService, loanService)

	r.With(authMiddleware, RequireRole(types.RoleAdmin)).Get("/librarians", handler.ListLibrarians)
	r.With(authMiddleware, RequireRole(types.RoleAdmin)).Post("/librarians", handler.AddLibrarian)
	r.With(authMiddleware, RequireRole(types.RoleLibrarian, types.RoleAdmin)).
		Get("/loan-history", handler.LoanHistory)
}

func (h *AdminHandler) ListLibrarians(w http.ResponseWriter, r *http.Request) {
	librarians, err := h.userService.ListLibrarians(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list librarians")
		return
	}

	if librarians == nil {
		librarians = []types.User{}
	}
	writeJSON(w, http.StatusOK, librarians)
}

func (h *AdminHandler) AddLibrarian(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Handle = strings.TrimSpace(req.Handle)
	req.Contact = strings.TrimSpace(req.Contact)
	if req.Handle == "" || req.Contact == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	user, err := h.authService.Register(r.Context(), req.Handle, req.Contact, req.Password, types.RoleLibrarian)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "handle or contact already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create librarian")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *AdminHandler) LoanHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.loanService.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch loan history")
		return
	}

	if entries == nil {
		entries = []types.LoanHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
