package config

import (
	"errors"
	"strings"
	"time"

	"github.com/ncobase/telemetry/ecode"
	"github.com/spf13/viper"
)

// Data selects the durable store. An empty Driver disables persistence.
type Data struct {
	Driver          string        `json:"driver" yaml:"driver"`
	Source          string        `json:"source" yaml:"source"`
	Addr            string        `json:"addr" yaml:"addr"`
	Password        string        `json:"password" yaml:"password"`
	DB              int           `json:"db" yaml:"db"`
	KeyPrefix       string        `json:"key_prefix" yaml:"key_prefix"`
	MaxOpenConn     int           `json:"max_open_conn" yaml:"max_open_conn"`
	MaxIdleConn     int           `json:"max_idle_conn" yaml:"max_idle_conn"`
	ConnMaxLifeTime time.Duration `json:"conn_max_life_time" yaml:"conn_max_life_time"`
	RetentionDays   int           `json:"retention_days" yaml:"retention_days"`
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

func getDataConfig(v *viper.Viper) *Data {
	p := Root + ".data."
	return &Data{
		Driver:          strings.ToLower(getStringOrDefault(v, p+"driver", "sqlite")),
		Source:          getStringOrDefault(v, p+"source", "telemetry.db"),
		Addr:            getStringOrDefault(v, p+"addr", "localhost:6379"),
		Password:        v.GetString(p + "password"),
		DB:              v.GetInt(p + "db"),
		KeyPrefix:       getStringOrDefault(v, p+"key_prefix", "telemetry"),
		MaxOpenConn:     v.GetInt(p + "max_open_conn"),
		MaxIdleConn:     v.GetInt(p + "max_idle_conn"),
		ConnMaxLifeTime: v.GetDuration(p + "conn_max_life_time"),
		RetentionDays:   getIntOrDefault(v, p+"retention_days", 30),
		CleanupInterval: getDurationOrDefault(v, p+"cleanup_interval", time.Hour),
	}
}

// Enabled reports whether a durable store is configured.
func (c *Data) Enabled() bool {
	return c.Driver != "" && c.Driver != "none"
}

// Validate checks the data settings. Driver names are resolved later by the
// data registry.
func (c *Data) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var errs []error
	if c.RetentionDays < 0 {
		errs = append(errs, errors.New(ecode.FieldOutOfRange("data.retention_days")))
	}
	if c.CleanupInterval < 0 {
		errs = append(errs, errors.New(ecode.FieldOutOfRange("data.cleanup_interval")))
	}
	if (c.Driver == "sqlite" || c.Driver == "postgres") && c.Source == "" {
		errs = append(errs, errors.New(ecode.FieldIsRequired("data.source")))
	}
	if c.Driver == "redis" && c.Addr == "" {
		errs = append(errs, errors.New(ecode.FieldIsRequired("data.addr")))
	}
	return errors.Join(errs...)
}
