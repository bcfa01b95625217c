package services

import (
	"math"
	"time"

	"github.com/biblioteca-yeak8/apiserver/types"
)

// Login outcomes produced by the lockout policy.
type LoginOutcome int

const (
	// LoginSuccess means the credential matched and a session may be issued.
	LoginSuccess LoginOutcome = iota

	// LoginInvalidCredential means the credential did not match (or the
	// account does not exist; callers must not distinguish the two).
	LoginInvalidCredential

	// LoginLocked means the account is inside its lockout cooldown and the
	// credential was not evaluated.
	LoginLocked

	// LoginExpiredTemporary means a temporary password matched but its
	// validity window had already elapsed.
	LoginExpiredTemporary
)

// LoginResult is the decision of a single login attempt, together with the
// user snapshot whose throttling state must be persisted.
type LoginResult struct {
	Outcome LoginOutcome

	// AttemptsRemaining is how many more failed attempts are allowed before
	// the account locks. Only meaningful for LoginInvalidCredential.
	AttemptsRemaining int

	// RetryAfterSeconds is how long until the lockout lifts, rounded up to
	// whole seconds. Only meaningful for LoginLocked.
	RetryAfterSeconds int

	// User carries the updated failed_attempts, lockout and temporary
	// password state to persist.
	User types.User
}

// LockoutPolicy is the pure decision logic applied to every login attempt.
// It owns the failed-attempt counter and the lockout timestamp; persistence
// and credential hashing stay outside.
type LockoutPolicy struct {
	// MaxAttempts is the consecutive-failure count that locks the account.
	MaxAttempts int

	// Cooldown is how long the account stays locked, measured once from the
	// moment of the locking attempt. Later failures during the window do
	// not extend it.
	Cooldown time.Duration
}

// Evaluate decides the outcome of one login attempt against a user snapshot.
// verify is invoked at most once, and never while the account is locked, so
// a locked account leaks nothing about whether the supplied credential was
// correct.
func (p LockoutPolicy) Evaluate(user types.User, now time.Time, verify func() bool) LoginResult {
	if user.LockoutUntil != nil {
		unlockAt := user.LockoutUntil.Add(p.Cooldown)
		if now.Before(unlockAt) {
			return LoginResult{
				Outcome:           LoginLocked,
				RetryAfterSeconds: ceilSeconds(unlockAt.Sub(now)),
				User:              user,
			}
		}
		// Cooldown elapsed: the slate is wiped before the new attempt counts.
		user.FailedAttempts = 0
		user.LockoutUntil = nil
	}

	if !verify() {
		user.FailedAttempts++
		if user.FailedAttempts >= p.MaxAttempts {
			lockedAt := now
			user.LockoutUntil = &lockedAt
			return LoginResult{
				Outcome:           LoginLocked,
				RetryAfterSeconds: ceilSeconds(p.Cooldown),
				User:              user,
			}
		}
		return LoginResult{
			Outcome:           LoginInvalidCredential,
			AttemptsRemaining: p.MaxAttempts - user.FailedAttempts,
			User:              user,
		}
	}

	if user.TempPasswordExpiry != nil && now.After(*user.TempPasswordExpiry) {
		// The temporary password still matches the stored hash but its
		// validity window is over. Clearing only the expiry would leave the
		// matching hash behind as a permanent credential, so the hash is
		// invalidated too: the account needs a fresh recovery.
		user.TempPasswordExpiry = nil
		user.PasswordHash = ""
		return LoginResult{
			Outcome: LoginExpiredTemporary,
			User:    user,
		}
	}

	user.FailedAttempts = 0
	user.LockoutUntil = nil
	user.TempPasswordExpiry = nil
	return LoginResult{
		Outcome: LoginSuccess,
		User:    user,
	}
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
