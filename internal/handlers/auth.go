package handlers

import (
	"context"
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
	"github.com/golang-jwt/jwt/v5"
)

// Session tokens carry the user id and role and stay valid for one hour.
const defaultTokenTTL = time.Hour

// AuthHandler provides JWT authentication endpoints.
type AuthHandler struct {
	authService     *services.AuthService
	recoveryService *services.RecoveryService
	secret          []byte
	tokenTTL        time.Duration
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, recoveryService *services.RecoveryService, jwtSecret string) *AuthHandler {
	return &AuthHandler{
		authService:     authService,
		recoveryService: recoveryService,
		secret:          []byte(jwtSecret),
		tokenTTL:        defaultTokenTTL,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, authService *services.AuthService, recoveryService *services.RecoveryService, jwtSecret string) {
	handler := NewAuthHandler(authService, recoveryService, jwtSecret)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/forgot-password", handler.ForgotPassword)
}

// RequireAuth constructs auth middleware for other routers. It verifies the
// bearer token and injects the subject and role into the request context.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return requireAuth([]byte(jwtSecret))
}

// RequireRole gates a route to the given roles. It must run after RequireAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := actorFromContext(r.Context())
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if strings.EqualFold(actor.Role, role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}

func requireAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			subject, role, err := parseToken(tokenString, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
			ctx = context.WithValue(ctx, contextRoleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Register creates a new student account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
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

	user, err := h.authService.Register(r.Context(), req.Handle, req.Contact, req.Password, types.RoleStudent)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "handle or contact already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login verifies credentials under the lockout policy and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Handle = strings.TrimSpace(req.Handle)
	if req.Handle == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	result, err := h.authService.Login(r.Context(), req.Handle, req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	switch result.Outcome {
	case services.LoginSuccess:
		token, err := issueToken(result.User.ID, result.User.Role, h.secret, h.tokenTTL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create token")
			return
		}
		writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: result.User})
	case services.LoginLocked:
		writeJSON(w, http.StatusForbidden, LockedResponse{
			Error:             "account temporarily locked",
			RetryAfterSeconds: result.RetryAfterSeconds,
		})
	case services.LoginExpiredTemporary:
		writeError(w, http.StatusUnauthorized, "temporary password expired")
	default:
		// Unknown accounts take this same path with the same payload shape.
		writeJSON(w, http.StatusUnauthorized, InvalidCredentialResponse{
			Error:             "invalid credentials",
			AttemptsRemaining: result.AttemptsRemaining,
		})
	}
}

// ForgotPassword issues a temporary password. The response is identical
// whether or not the account exists; only mail delivery failures differ.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	if err := h.recoveryService.Request(r.Context(), req.Identifier); err != nil {
		if errors.Is(err, services.ErrDelivery) {
			writeError(w, http.StatusInternalServerError, "could not send recovery mail; check SMTP configuration")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to process recovery")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "if the account exists, a temporary password valid for 10 minutes has been sent",
	})
}

type RegisterRequest struct {
	Handle   string `json:"handle"`
	Contact  string `json:"contact"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Identifier string `json:"identifier"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type InvalidCredentialResponse struct {
	Error             string `json:"error"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

type LockedResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func issueToken(userID int, role string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseToken(tokenString string, secret []byte) (subject, role string, err error) {
	claims := sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", "", err
	}
	if !token.Valid {
		return "", "", errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", "", errors.New("missing subject")
	}
	if strings.TrimSpace(claims.Role) == "" {
		return "", "", errors.New("missing role")
	}
	return claims.Subject, claims.Role, nil
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
