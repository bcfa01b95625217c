package mailer

import (
	"context"
	"errors"
	"strings"

	"github.com/biblioteca-yeak8/apiserver/config"
	"github.com/wneessen/go-mail"
)

// SMTPSender delivers mail through an SMTP relay.
type SMTPSender struct {
	client *mail.Client
	from   string
}

// NewSMTPSender constructs an SMTP sender from config.
func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	from := cfg.From
	if strings.TrimSpace(from) == "" {
		from = cfg.User
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("smtp from address is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
	}
	if cfg.UseSSL {
		opts = append(opts, mail.WithSSL())
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}

	return &SMTPSender{
		client: client,
		from:   from,
	}, nil
}

// Send delivers a plain-text message to the recipient.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return err
	}
	if err := msg.To(to); err != nil {
		return err
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	return s.client.DialAndSendWithContext(ctx, msg)
}
