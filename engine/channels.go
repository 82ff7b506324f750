package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/ncobase/telemetry/alert"
	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/logging/logger"
	"github.com/ncobase/telemetry/messaging/queue"
	"github.com/ncobase/telemetry/observes"
)

// buildChannels creates every enabled channel. A channel that fails to build
// is skipped and its error joined into the result; the others still work.
// The returned closer releases broker connections.
func buildChannels(cfg *config.Channels, l *logger.Logger) ([]alert.Channel, func(), error) {
	var (
		channels []alert.Channel
		closers  []func() error
		errs     []error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	if cfg == nil {
		return nil, closeAll, nil
	}

	if cfg.Log != nil && cfg.Log.Enabled {
		channels = append(channels, alert.NewLogChannel(l))
	}
	if cfg.Chat != nil && cfg.Chat.Enabled {
		channels = append(channels, alert.NewChatChannel(cfg.Chat))
	}
	if cfg.Email != nil && cfg.Email.Enabled {
		sender, err := cfg.Email.Sender()
		if err != nil {
			errs = append(errs, fmt.Errorf("email channel: %w", err))
		} else {
			channels = append(channels, alert.NewEmailChannel(sender, cfg.Email.Recipients))
		}
	}
	if cfg.Sentry != nil && cfg.Sentry.Enabled {
		host, _ := os.Hostname()
		hub, err := observes.NewSentry(cfg.Sentry, host)
		if err != nil {
			errs = append(errs, fmt.Errorf("sentry channel: %w", err))
		} else {
			channels = append(channels, alert.NewSentryChannel(hub))
		}
	}
	if cfg.Broker != nil && cfg.Broker.Enabled {
		pub, err := queue.New(&cfg.Broker.Config)
		if err != nil {
			errs = append(errs, fmt.Errorf("broker channel: %w", err))
		} else {
			ch := alert.NewBrokerChannel(pub)
			channels = append(channels, ch)
			closers = append(closers, ch.Close)
		}
	}
	return channels, closeAll, errors.Join(errs...)
}
