package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/biblioteca-yeak8/apiserver/types"
)

const userColumns = `id, handle, contact, role, password_hash, failed_attempts, lockout_until, temp_password_expiry, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByHandle(ctx context.Context, handle string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE handle = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, handle))
}

// GetByHandleOrContact looks up an account by either key. Used by password
// recovery, which accepts both identifiers.
func (r *UserRepository) GetByHandleOrContact(ctx context.Context, identifier string) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE handle = $1 OR contact = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, identifier))
}

func (r *UserRepository) ListByRole(ctx context.Context, role string) ([]types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE role = $1
		ORDER BY handle`
	rows, err := r.db.QueryContext(ctx, query, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (handle, contact, role, password_hash, failed_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Handle,
		user.Contact,
		user.Role,
		user.PasswordHash,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, err
	}
	return user, nil
}

// UpdateLoginState runs apply against the user's current login-throttling
// state and persists the result, all inside one transaction with the row
// locked. Concurrent attempts against the same handle serialize here, so
// counter increments are never lost. The credential hash is persisted along
// with the throttling columns: expiring a temporary password invalidates it.
func (r *UserRepository) UpdateLoginState(
	ctx context.Context,
	handle string,
	apply func(types.User) (types.User, error),
) (types.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const selectQuery = `
		SELECT ` + userColumns + `
		FROM users
		WHERE handle = $1
		FOR UPDATE`
	user, err := r.scanOne(tx.QueryRowContext(ctx, selectQuery, handle))
	if err != nil {
		return types.User{}, err
	}

	updated, err := apply(user)
	if err != nil {
		return types.User{}, err
	}
	updated.UpdatedAt = time.Now()

	const updateQuery = `
		UPDATE users
		SET password_hash = $1,
			failed_attempts = $2,
			lockout_until = $3,
			temp_password_expiry = $4,
			updated_at = $5
		WHERE id = $6`
	if _, err := tx.ExecContext(
		ctx,
		updateQuery,
		updated.PasswordHash,
		updated.FailedAttempts,
		updated.LockoutUntil,
		updated.TempPasswordExpiry,
		updated.UpdatedAt,
		updated.ID,
	); err != nil {
		return types.User{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, err
	}
	return updated, nil
}

// SetTemporaryPassword replaces the stored credential with the temporary
// password hash, stamps its expiry, and grants the account a clean slate
// on the lockout counters.
func (r *UserRepository) SetTemporaryPassword(ctx context.Context, userID int, hash string, expiresAt time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $1,
			temp_password_expiry = $2,
			failed_attempts = 0,
			lockout_until = NULL,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, hash, expiresAt, time.Now(), userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanOne(row rowScanner) (types.User, error) {
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Handle,
		&user.Contact,
		&user.Role,
		&user.PasswordHash,
		&user.FailedAttempts,
		&user.LockoutUntil,
		&user.TempPasswordExpiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}
