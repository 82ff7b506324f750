package config

import (
	"github.com/google/wire"
	loggerConfig "github.com/ncobase/telemetry/logging/logger/config"
)

// ProviderSet is the wire provider set for the config package. It extracts
// the per-component sections from *Config; the host binds *Config itself,
// usually from LoadConfig or FromViper over its own file.
//
// Usage:
//
//	wire.Build(
//	    config.ProviderSet,
//	    logger.ProviderSet,
//	    engine.ProviderSet,
//	    // ... provider for *config.Config
//	)
var ProviderSet = wire.NewSet(
	ProvideLoggerConfig,
	ProvideCollectorConfig,
	ProvideAggregatorConfig,
	ProvideErrorsConfig,
	ProvideDataConfig,
	ProvideAlertConfig,
	ProvideObservesConfig,
)

// ProvideLoggerConfig provides the logger configuration.
func ProvideLoggerConfig(cfg *Config) *loggerConfig.Config {
	if cfg == nil {
		return nil
	}
	return cfg.Logger
}

// ProvideCollectorConfig provides the collector configuration.
func ProvideCollectorConfig(cfg *Config) *Collector {
	if cfg == nil {
		return nil
	}
	return cfg.Collector
}

// ProvideAggregatorConfig provides the metric aggregator configuration.
func ProvideAggregatorConfig(cfg *Config) *Aggregator {
	if cfg == nil {
		return nil
	}
	return cfg.Aggregator
}

// ProvideErrorsConfig provides the error tracking configuration.
func ProvideErrorsConfig(cfg *Config) *Errors {
	if cfg == nil {
		return nil
	}
	return cfg.Errors
}

// ProvideDataConfig provides the data store configuration.
func ProvideDataConfig(cfg *Config) *Data {
	if cfg == nil {
		return nil
	}
	return cfg.Data
}

// ProvideAlertConfig provides the alert configuration.
func ProvideAlertConfig(cfg *Config) *Alert {
	if cfg == nil {
		return nil
	}
	return cfg.Alert
}

// ProvideObservesConfig provides the observability configuration.
func ProvideObservesConfig(cfg *Config) *Observes {
	if cfg == nil {
		return nil
	}
	return cfg.Observes
}
