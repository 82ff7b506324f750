package logger

import (
	"github.com/google/wire"
	"github.com/ncobase/telemetry/logging/logger/config"
)

// ProviderSet is the wire provider set for the logger package
var ProviderSet = wire.NewSet(ProvideLogger)

// ProvideLogger builds a logger from cfg. A nil cfg gives the JSON default.
func ProvideLogger(cfg *config.Config) (*Logger, func(), error) {
	return New(cfg)
}
