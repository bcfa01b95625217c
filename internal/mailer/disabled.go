package mailer

import (
	"context"
	"errors"
)

// Disabled is a Sender for deployments without an SMTP relay. Every send
// fails, which surfaces to callers as a delivery error rather than a
// silent drop.
type Disabled struct{}

func (Disabled) Send(ctx context.Context, to, subject, body string) error {
	return errors.New("mail sender is not configured")
}
