package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncobase/telemetry/messaging/email"
)

// EmailChannel mails alerts to a fixed recipient list.
type EmailChannel struct {
	sender     email.Sender
	recipients []string
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(sender email.Sender, recipients []string) *EmailChannel {
	return &EmailChannel{sender: sender, recipients: append([]string(nil), recipients...)}
}

// Name implements Channel.
func (*EmailChannel) Name() string { return "email" }

// Send implements Channel.
func (c *EmailChannel) Send(ctx context.Context, a Alert) error {
	_, err := c.sender.Send(ctx, email.Message{
		To:      c.recipients,
		Subject: fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Level)), a.Title),
		Text:    a.Text(),
	})
	return err
}
