package services

import (
	"context"
	"time"

	"github.com/biblioteca-yeak8/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByHandle(ctx context.Context, handle string) (types.User, error)
	GetByHandleOrContact(ctx context.Context, identifier string) (types.User, error)
	ListByRole(ctx context.Context, role string) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateLoginState(ctx context.Context, handle string, apply func(types.User) (types.User, error)) (types.User, error)
	SetTemporaryPassword(ctx context.Context, userID int, hash string, expiresAt time.Time) error
}

// UserService encapsulates user lookup and account-management use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByHandle(ctx context.Context, handle string) (types.User, error) {
	return s.repo.GetByHandle(ctx, handle)
}

// ListLibrarians returns all librarian accounts.
func (s *UserService) ListLibrarians(ctx context.Context) ([]types.User, error) {
	return s.repo.ListByRole(ctx, types.RoleLibrarian)
}
