package types

import "time"

// Roles assignable to a user account.
const (
	// RoleStudent is the default role for self-registered accounts.
	// Students may only create loans for themselves.
	RoleStudent = "student"

	// RoleLibrarian can register books and manage the loan ledger.
	RoleLibrarian = "librarian"

	// RoleAdmin can additionally manage librarian accounts.
	RoleAdmin = "admin"
)

// User represents an account in the system.
// It contains identity, role, and the login-throttling state consulted
// on every authentication attempt.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Handle is the unique enrollment number used to log in.
	Handle string `json:"handle" db:"handle"`

	// Contact is the user's email address, unique across accounts.
	// Recovery mail is delivered here.
	Contact string `json:"contact" db:"contact"`

	// Role indicates the user's authorization level within the system
	// (one of RoleStudent, RoleLibrarian, RoleAdmin).
	Role string `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// When a temporary password has been issued it replaces the previous
	// hash here. This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// FailedAttempts counts consecutive failed logins. It resets to zero
	// exactly when a login succeeds or a lockout window elapses.
	FailedAttempts int `json:"-" db:"failed_attempts"`

	// LockoutUntil is the moment the account became locked, set when
	// FailedAttempts reaches the configured maximum. The account stays
	// locked for the configured cooldown measured from this timestamp.
	// Nil when the account is not locked.
	LockoutUntil *time.Time `json:"-" db:"lockout_until"`

	// TempPasswordExpiry is the validity deadline of an issued temporary
	// password. A temporary password past this moment never authenticates,
	// even if it still matches PasswordHash. Nil when no temporary
	// password is outstanding.
	TempPasswordExpiry *time.Time `json:"-" db:"temp_password_expiry"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
