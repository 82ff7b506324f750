package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
)

// SMTPConfig holds the configuration for local email sending
type SMTPConfig struct {
	SMTPHost string `json:"host" yaml:"host"`
	SMTPPort string `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
}

// LocalSMTPSender implements Sender for local SMTP
type LocalSMTPSender struct {
	Config *SMTPConfig
}

func (s *LocalSMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateRecipients(msg.To); err != nil {
		return "", err
	}

	var auth smtp.Auth
	if s.Config.Username != "" {
		auth = smtp.PlainAuth("", s.Config.Username, s.Config.Password, s.Config.SMTPHost)
	}
	addr := net.JoinHostPort(s.Config.SMTPHost, s.Config.SMTPPort)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.Config.From, msg.To, buildMessage(s.Config.From, msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func buildMessage(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Text, "\n", "\r\n"))
	return []byte(b.String())
}

func validateSMTPConfig(config *SMTPConfig) error {
	if config == nil || config.SMTPHost == "" || config.SMTPPort == "" || config.From == "" {
		return fmt.Errorf("%w: smtp", ErrInvalidConfig)
	}
	return nil
}
