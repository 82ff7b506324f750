package engine

import (
	"context"
	"time"

	"github.com/google/wire"
	"github.com/ncobase/telemetry/config"
	"github.com/ncobase/telemetry/logging/logger"
)

// StopTimeout bounds the drain done by the cleanup ProvideEngine returns.
const StopTimeout = 10 * time.Second

// ProviderSet is the wire provider set for the engine package
var ProviderSet = wire.NewSet(ProvideEngine)

// ProvideEngine builds and starts an engine sharing the host logger. The
// returned cleanup stops it.
func ProvideEngine(ctx context.Context, cfg *config.Config, l *logger.Logger) (*Engine, func(), error) {
	e, err := New(ctx, cfg, WithLogger(l))
	if err != nil {
		return nil, nil, err
	}
	e.Start()
	cleanup := func() {
		if err := e.Stop(StopTimeout); err != nil {
			e.log.Warnf(context.Background(), "telemetry engine stop: %v", err)
		}
	}
	return e, cleanup, nil
}
