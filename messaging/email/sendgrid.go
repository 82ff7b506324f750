package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridConfig holds the configuration for SendGrid
type SendGridConfig struct {
	Key     string `json:"key" yaml:"key"`
	From    string `json:"from" yaml:"from"`
	APIHost string `json:"api_host" yaml:"api_host"`
}

// SendGridSender implements Sender for SendGrid
type SendGridSender struct {
	Config *SendGridConfig
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateRecipients(msg.To); err != nil {
		return "", err
	}

	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail("", s.Config.From))
	m.Subject = msg.Subject
	p := mail.NewPersonalization()
	for _, to := range msg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", msg.Text))

	client := sendgrid.NewSendClient(s.Config.Key)
	if s.Config.APIHost != "" {
		client.BaseURL = strings.TrimRight(s.Config.APIHost, "/") + "/v3/mail/send"
	}

	response, err := client.SendWithContext(ctx, m)
	if err != nil {
		return "", fmt.Errorf("sendgrid send: %w", err)
	}
	if response.StatusCode >= 300 {
		return "", fmt.Errorf("sendgrid send: status code %d", response.StatusCode)
	}

	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		return ids[0], nil
	}
	return "", nil
}

func validateSendGridConfig(config *SendGridConfig) error {
	if config == nil || config.Key == "" || config.From == "" {
		return fmt.Errorf("%w: sendgrid", ErrInvalidConfig)
	}
	return nil
}
