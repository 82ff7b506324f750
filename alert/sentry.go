package alert

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryChannel reports alerts as Sentry messages.
type SentryChannel struct {
	hub *sentry.Hub
}

// NewSentryChannel creates a channel on hub; a nil hub means the current hub.
func NewSentryChannel(hub *sentry.Hub) *SentryChannel {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryChannel{hub: hub}
}

// Name implements Channel.
func (*SentryChannel) Name() string { return "sentry" }

// Send implements Channel.
func (c *SentryChannel) Send(ctx context.Context, a Alert) error {
	hub := c.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(a.Level))
		scope.SetTag("alert_id", a.ID)
		scope.SetFingerprint([]string{a.Fingerprint()})
		if len(a.Details) > 0 {
			scope.SetContext("details", sentry.Context(a.Details))
		}
		hub.CaptureMessage(a.Title + ": " + a.Message)
	})

	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !hub.Flush(timeout) {
		return errors.New("sentry flush timed out")
	}
	return nil
}

func sentryLevel(l Level) sentry.Level {
	switch l {
	case LevelCritical:
		return sentry.LevelFatal
	case LevelError:
		return sentry.LevelError
	case LevelWarning:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}
