package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/biblioteca-yeak8/apiserver/internal/mailer"
	"github.com/biblioteca-yeak8/apiserver/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	tempPasswordLength = 8
	tempPasswordTTL    = 10 * time.Minute

	tempPasswordUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	tempPasswordLowercase = "abcdefghijklmnopqrstuvwxyz"
	tempPasswordDigits    = "0123456789"
)

// RecoveryService issues temporary passwords and delivers them by mail.
type RecoveryService struct {
	repo   UserRepository
	sender mailer.Sender
}

func NewRecoveryService(repo UserRepository, sender mailer.Sender) *RecoveryService {
	return &RecoveryService{repo: repo, sender: sender}
}

// Request issues a temporary password for the account matching the given
// handle or contact address. An unknown identifier returns nil, so callers
// cannot probe which accounts exist. A failed mail send returns ErrDelivery.
func (s *RecoveryService) Request(ctx context.Context, identifier string) error {
	user, err := s.repo.GetByHandleOrContact(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	tempPassword, err := GenerateTemporaryPassword()
	if err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(tempPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(tempPasswordTTL)
	if err := s.repo.SetTemporaryPassword(ctx, user.ID, string(hashed), expiresAt); err != nil {
		return err
	}

	subject := "Temporary password (valid for 10 minutes)"
	body := fmt.Sprintf(
		"We received your recovery request. Your temporary password is:\n\n"+
			"    %s\n\n"+
			"Use it to log in within the next 10 minutes and change your password right away.\n",
		tempPassword,
	)
	if err := s.sender.Send(ctx, user.Contact, subject, body); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// GenerateTemporaryPassword builds an 8-character password containing at
// least one uppercase letter, one lowercase letter, and one digit. Character
// selection and the final position shuffle both draw from crypto/rand, so
// the guaranteed characters are not pinned to the leading positions.
func GenerateTemporaryPassword() (string, error) {
	allChars := tempPasswordUppercase + tempPasswordLowercase + tempPasswordDigits

	password := make([]byte, 0, tempPasswordLength)
	for _, alphabet := range []string{tempPasswordUppercase, tempPasswordLowercase, tempPasswordDigits} {
		c, err := randomChar(alphabet)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}
	for len(password) < tempPasswordLength {
		c, err := randomChar(allChars)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}

	// Fisher-Yates with a cryptographic source.
	for i := len(password) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		password[i], password[j] = password[j], password[i]
	}

	return string(password), nil
}

func randomChar(alphabet string) (byte, error) {
	i, err := randomIndex(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
