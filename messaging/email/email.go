package email

import (
	"context"
	"errors"
	"strings"

	"github.com/ncobase/telemetry/ecode"
)

// ErrInvalidConfig is returned when a provider configuration is incomplete.
var ErrInvalidConfig = errors.New("invalid email configuration")

// Email holds the configuration for all email providers
type Email struct {
	Provider   string          `json:"provider" yaml:"provider"`
	Recipients []string        `json:"recipients" yaml:"recipients"`
	Mailgun    *MailgunConfig  `json:"mailgun" yaml:"mailgun"`
	SendGrid   *SendGridConfig `json:"sendgrid" yaml:"sendgrid"`
	SMTP       *SMTPConfig     `json:"smtp" yaml:"smtp"`
}

// Message is a plain-text email.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Config is a generic email configuration interface
type Config any

// Sender is a generic interface for sending emails
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// validateEmailConfig validates the common email configuration
func validateEmailConfig(config Config) error {
	switch c := config.(type) {
	case *MailgunConfig:
		return validateMailgunConfig(c)
	case *SendGridConfig:
		return validateSendGridConfig(c)
	case *SMTPConfig:
		return validateSMTPConfig(c)
	default:
		return ErrInvalidConfig
	}
}

// NewSender returns a new Sender
func NewSender(config Config) (Sender, error) {
	if err := validateEmailConfig(config); err != nil {
		return nil, err
	}
	switch c := config.(type) {
	case *MailgunConfig:
		return &MailgunSender{Config: c}, nil
	case *SendGridConfig:
		return &SendGridSender{Config: c}, nil
	case *SMTPConfig:
		return &LocalSMTPSender{Config: c}, nil
	default:
		return nil, errors.New("create email sender failed")
	}
}

// Sender returns the sender for the configured provider.
func (e *Email) Sender() (Sender, error) {
	switch strings.ToLower(e.Provider) {
	case "mailgun":
		return NewSender(e.Mailgun)
	case "sendgrid":
		return NewSender(e.SendGrid)
	case "smtp":
		return NewSender(e.SMTP)
	case "":
		return nil, errors.New(ecode.FieldIsRequired("email provider"))
	default:
		return nil, errors.New(ecode.FieldIsInvalid("email provider " + e.Provider))
	}
}

func validateRecipients(to []string) error {
	if len(to) == 0 {
		return errors.New(ecode.FieldIsRequired("recipients"))
	}
	return nil
}
