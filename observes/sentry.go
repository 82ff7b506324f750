package observes

import (
	"github.com/getsentry/sentry-go"
	"github.com/ncobase/telemetry/config"
)

// NewSentry builds a dedicated sentry hub from cfg. A nil or disabled config
// yields a nil hub and no error.
func NewSentry(cfg *config.Sentry, serverName string) (*sentry.Hub, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		AttachStacktrace: true,
		ServerName:       serverName,
		Release:          cfg.Release,
		Environment:      cfg.Environment,
	})
	if err != nil {
		return nil, err
	}
	return sentry.NewHub(client, sentry.NewScope()), nil
}
