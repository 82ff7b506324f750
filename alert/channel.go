package alert

import (
	"context"

	"github.com/ncobase/telemetry/logging/logger"
	"github.com/sirupsen/logrus"
)

// Channel delivers an alert somewhere. Send must honour ctx.
type Channel interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc struct {
	ChannelName string
	Fn          func(ctx context.Context, a Alert) error
}

// Name implements Channel.
func (f ChannelFunc) Name() string { return f.ChannelName }

// Send implements Channel.
func (f ChannelFunc) Send(ctx context.Context, a Alert) error { return f.Fn(ctx, a) }

// LogChannel writes alerts as structured log entries.
type LogChannel struct {
	log *logger.Logger
}

// NewLogChannel creates a log channel; a nil logger means the process default.
func NewLogChannel(l *logger.Logger) *LogChannel {
	if l == nil {
		l = logger.StdLogger()
	}
	return &LogChannel{log: l}
}

// Name implements Channel.
func (*LogChannel) Name() string { return "log" }

// Send implements Channel.
func (c *LogChannel) Send(ctx context.Context, a Alert) error {
	fields := logrus.Fields{
		"component":   "alert",
		"alert_id":    a.ID,
		"alert_level": string(a.Level),
		"title":       a.Title,
	}
	for k, v := range a.Details {
		fields["detail_"+k] = v
	}
	entry := c.log.EntryWithFields(ctx, fields)
	switch a.Level {
	case LevelCritical, LevelError:
		entry.Error(a.Message)
	case LevelWarning:
		entry.Warn(a.Message)
	default:
		entry.Info(a.Message)
	}
	return nil
}
