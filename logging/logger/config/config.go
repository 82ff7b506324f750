package config

import (
	"github.com/spf13/viper"
)

// Config configuration struct
type Config struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	OutputFile string `json:"output_file" yaml:"output_file"`
	Version    string `json:"version" yaml:"version"`
}

// Default returns the logger configuration used when none is set
func Default() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Output: "stderr",
	}
}

// GetConfig returns the logger configuration stored under prefix,
// e.g. "telemetry.logger".
func GetConfig(v *viper.Viper, prefix string) *Config {
	cfg := Default()
	if v.IsSet(prefix + ".level") {
		cfg.Level = v.GetString(prefix + ".level")
	}
	if v.IsSet(prefix + ".format") {
		cfg.Format = v.GetString(prefix + ".format")
	}
	if v.IsSet(prefix + ".output") {
		cfg.Output = v.GetString(prefix + ".output")
	}
	cfg.OutputFile = v.GetString(prefix + ".output_file")
	cfg.Version = v.GetString(prefix + ".version")

	return cfg
}
