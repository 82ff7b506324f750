package config

import "github.com/spf13/viper"

// Observes holds the engine's own observability settings.
type Observes struct {
	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace"`
}

// Sentry sentry config struct
type Sentry struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	DSN         string `json:"dsn" yaml:"dsn"`
	Environment string `json:"environment" yaml:"environment"`
	Release     string `json:"release" yaml:"release"`
}

func getObservesConfig(v *viper.Viper) *Observes {
	return &Observes{
		MetricsNamespace: getStringOrDefault(v, Root+".observes.metrics_namespace", "telemetry"),
	}
}

func getSentryConfig(v *viper.Viper, prefix string) *Sentry {
	return &Sentry{
		Enabled:     v.GetBool(prefix + ".enabled"),
		DSN:         v.GetString(prefix + ".dsn"),
		Environment: getStringOrDefault(v, prefix+".environment", "production"),
		Release:     v.GetString(prefix + ".release"),
	}
}
