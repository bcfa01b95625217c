package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"github.com/biblioteca-yeak8/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

// AuthService runs the login state machine and account registration.
type AuthService struct {
	repo   UserRepository
	policy LockoutPolicy
}

func NewAuthService(repo UserRepository, policy LockoutPolicy) *AuthService {
	return &AuthService{repo: repo, policy: policy}
}

// Login evaluates one authentication attempt for the handle. The lookup key
// is the handle only; the contact address does not log in. The whole
// read-evaluate-write runs as a single atomic update against the user row,
// so concurrent attempts for the same handle cannot lose counter updates.
//
// An unknown handle yields LoginInvalidCredential, indistinguishable from a
// wrong password.
func (s *AuthService) Login(ctx context.Context, handle, password string) (LoginResult, error) {
	var result LoginResult
	_, err := s.repo.UpdateLoginState(ctx, handle, func(user types.User) (types.User, error) {
		result = s.policy.Evaluate(user, time.Now(), func() bool {
			return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
		})
		return result.User, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Same payload a wrong password on a clean account produces, so
			// the attempts counter does not betray which handles exist.
			return LoginResult{Outcome: LoginInvalidCredential, AttemptsRemaining: s.policy.MaxAttempts - 1}, nil
		}
		return LoginResult{}, err
	}
	return result, nil
}

// Register creates an account with the given role. A handle or contact that
// is already taken yields store.ErrConflict.
func (s *AuthService) Register(ctx context.Context, handle, contact, password, role string) (types.User, error) {
	if _, err := s.repo.GetByHandle(ctx, handle); err == nil {
		return types.User{}, fmt.Errorf("handle taken: %w", store.ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	if _, err := s.repo.GetByHandleOrContact(ctx, contact); err == nil {
		return types.User{}, fmt.Errorf("contact taken: %w", store.ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, err
	}

	return s.repo.Create(ctx, types.User{
		Handle:       handle,
		Contact:      contact,
		Role:         role,
		PasswordHash: string(hashed),
	})
}
