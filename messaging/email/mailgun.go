package email

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

// MailgunConfig holds the configuration for Mailgun
type MailgunConfig struct {
	Key     string `json:"key" yaml:"key"`
	Domain  string `json:"domain" yaml:"domain"`
	From    string `json:"from" yaml:"from"`
	APIBase string `json:"api_base" yaml:"api_base"`
}

// MailgunSender implements Sender for Mailgun
type MailgunSender struct {
	Config *MailgunConfig
}

func (s *MailgunSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateRecipients(msg.To); err != nil {
		return "", err
	}

	mg := mailgun.NewMailgun(s.Config.Domain, s.Config.Key)
	if s.Config.APIBase != "" {
		mg.SetAPIBase(s.Config.APIBase)
	}

	message := mg.NewMessage(s.Config.From, msg.Subject, msg.Text, msg.To...)
	_, id, err := mg.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("mailgun send: %w", err)
	}
	return id, nil
}

func validateMailgunConfig(config *MailgunConfig) error {
	if config == nil || config.Key == "" || config.Domain == "" || config.From == "" {
		return fmt.Errorf("%w: mailgun", ErrInvalidConfig)
	}
	return nil
}
