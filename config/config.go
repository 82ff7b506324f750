package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/ncobase/telemetry/ecode"
	loggerConfig "github.com/ncobase/telemetry/logging/logger/config"
	"github.com/spf13/viper"
)

// Root is the key every telemetry setting lives under.
const Root = "telemetry"

// Config represents the telemetry engine configuration.
type Config struct {
	Enabled    bool                 `json:"enabled" yaml:"enabled"`
	Logger     *loggerConfig.Config `json:"logger" yaml:"logger"`
	Collector  *Collector           `json:"collector" yaml:"collector"`
	Aggregator *Aggregator          `json:"aggregator" yaml:"aggregator"`
	Errors     *Errors              `json:"errors" yaml:"errors"`
	Data       *Data                `json:"data" yaml:"data"`
	Alert      *Alert               `json:"alert" yaml:"alert"`
	Observes   *Observes            `json:"observes" yaml:"observes"`
	Viper      *viper.Viper         `json:"-" yaml:"-"`
}

// Default returns the configuration used when no key is set.
func Default() *Config {
	return FromViper(viper.New())
}

// LoadConfig reads the file at path and applies TELEMETRY_* environment
// overrides. An empty path loads defaults plus environment only.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := FromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper builds a Config from an existing viper instance, for hosts that
// keep telemetry keys inside their own configuration file.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Enabled:    getBoolOrDefault(v, Root+".enabled", true),
		Logger:     getLoggerConfig(v),
		Collector:  getCollectorConfig(v),
		Aggregator: getAggregatorConfig(v),
		Errors:     getErrorsConfig(v),
		Data:       getDataConfig(v),
		Alert:      getAlertConfig(v),
		Observes:   getObservesConfig(v),
		Viper:      v,
	}
}

// Validate reports every invalid section at once. A missing section is an
// error; configs built by hand should start from Default.
func (c *Config) Validate() error {
	var errs []error
	sections := []struct {
		key     string
		missing bool
		check   func() error
	}{
		{"collector", c.Collector == nil, func() error { return c.Collector.Validate() }},
		{"aggregator", c.Aggregator == nil, func() error { return c.Aggregator.Validate() }},
		{"errors", c.Errors == nil, func() error { return c.Errors.Validate() }},
		{"data", c.Data == nil, func() error { return c.Data.Validate() }},
		{"alert", c.Alert == nil, func() error { return c.Alert.Validate() }},
		{"observes", c.Observes == nil, nil},
	}
	for _, s := range sections {
		if s.missing {
			errs = append(errs, errors.New(ecode.FieldIsRequired(s.key)))
			continue
		}
		if s.check == nil {
			continue
		}
		if err := s.check(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch watches the loaded file and calls callback with the reloaded
// configuration. Reloads that fail validation are passed to onError and
// otherwise ignored.
func (c *Config) Watch(callback func(*Config), onError func(error)) {
	if c.Viper == nil || c.Viper.ConfigFileUsed() == "" {
		return
	}
	c.Viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next := FromViper(c.Viper)
		if err := next.Validate(); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(next)
	})
	c.Viper.WatchConfig()
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func getLoggerConfig(v *viper.Viper) *loggerConfig.Config {
	return loggerConfig.GetConfig(v, Root+".logger")
}

func positive(key string, n int64) error {
	if n <= 0 {
		return errors.New(ecode.FieldOutOfRange(key))
	}
	return nil
}
