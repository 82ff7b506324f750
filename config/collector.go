package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Collector holds the two-stage pipeline settings. Stage one feeds the
// in-memory aggregator, stage two the durable store; their thresholds are
// independent.
type Collector struct {
	QueueSize        int           `json:"queue_size" yaml:"queue_size"`
	BatchSize        int           `json:"batch_size" yaml:"batch_size"`
	FlushInterval    time.Duration `json:"flush_interval" yaml:"flush_interval"`
	PersistEnabled   bool          `json:"persist_enabled" yaml:"persist_enabled"`
	PersistQueueSize int           `json:"persist_queue_size" yaml:"persist_queue_size"`
	PersistBatchSize int           `json:"persist_batch_size" yaml:"persist_batch_size"`
	PersistInterval  time.Duration `json:"persist_interval" yaml:"persist_interval"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// Aggregator holds the in-memory metric window settings.
type Aggregator struct {
	Retention  time.Duration `json:"retention" yaml:"retention"`
	MaxSamples int           `json:"max_samples" yaml:"max_samples"`
}

// Errors holds the error grouping settings.
type Errors struct {
	AggregationWindow time.Duration `json:"aggregation_window" yaml:"aggregation_window"`
	Retention         time.Duration `json:"retention" yaml:"retention"`
	MaxOccurrences    int           `json:"max_occurrences" yaml:"max_occurrences"`
	MaxMessageLength  int           `json:"max_message_length" yaml:"max_message_length"`
	AlertOnNew        bool          `json:"alert_on_new" yaml:"alert_on_new"`
	PersistQueueSize  int           `json:"persist_queue_size" yaml:"persist_queue_size"`
}

func getCollectorConfig(v *viper.Viper) *Collector {
	p := Root + ".collector."
	return &Collector{
		QueueSize:        getIntOrDefault(v, p+"queue_size", 10000),
		BatchSize:        getIntOrDefault(v, p+"batch_size", 100),
		FlushInterval:    getDurationOrDefault(v, p+"flush_interval", 200*time.Millisecond),
		PersistEnabled:   getBoolOrDefault(v, p+"persist_enabled", true),
		PersistQueueSize: getIntOrDefault(v, p+"persist_queue_size", 100),
		PersistBatchSize: getIntOrDefault(v, p+"persist_batch_size", 500),
		PersistInterval:  getDurationOrDefault(v, p+"persist_interval", 5*time.Second),
		WriteTimeout:     getDurationOrDefault(v, p+"write_timeout", 5*time.Second),
	}
}

func getAggregatorConfig(v *viper.Viper) *Aggregator {
	p := Root + ".aggregator."
	return &Aggregator{
		Retention:  getDurationOrDefault(v, p+"retention", time.Hour),
		MaxSamples: getIntOrDefault(v, p+"max_samples", 100000),
	}
}

func getErrorsConfig(v *viper.Viper) *Errors {
	p := Root + ".errors."
	return &Errors{
		AggregationWindow: getDurationOrDefault(v, p+"aggregation_window", 5*time.Minute),
		Retention:         getDurationOrDefault(v, p+"retention", 24*time.Hour),
		MaxOccurrences:    getIntOrDefault(v, p+"max_occurrences", 100),
		MaxMessageLength:  getIntOrDefault(v, p+"max_message_length", 512),
		AlertOnNew:        getBoolOrDefault(v, p+"alert_on_new", true),
		PersistQueueSize:  getIntOrDefault(v, p+"persist_queue_size", 1000),
	}
}

// Validate checks the collector settings.
func (c *Collector) Validate() error {
	return errors.Join(
		positive("collector.queue_size", int64(c.QueueSize)),
		positive("collector.batch_size", int64(c.BatchSize)),
		positive("collector.flush_interval", int64(c.FlushInterval)),
		positive("collector.persist_queue_size", int64(c.PersistQueueSize)),
		positive("collector.persist_batch_size", int64(c.PersistBatchSize)),
		positive("collector.persist_interval", int64(c.PersistInterval)),
		positive("collector.write_timeout", int64(c.WriteTimeout)),
	)
}

// Validate checks the aggregator settings. MaxSamples of zero means unbounded.
func (c *Aggregator) Validate() error {
	var errs []error
	errs = append(errs, positive("aggregator.retention", int64(c.Retention)))
	if c.MaxSamples < 0 {
		errs = append(errs, positive("aggregator.max_samples", int64(c.MaxSamples)))
	}
	return errors.Join(errs...)
}

// Validate checks the error grouping settings.
func (c *Errors) Validate() error {
	return errors.Join(
		positive("errors.aggregation_window", int64(c.AggregationWindow)),
		positive("errors.retention", int64(c.Retention)),
		positive("errors.max_occurrences", int64(c.MaxOccurrences)),
		positive("errors.max_message_length", int64(c.MaxMessageLength)),
		positive("errors.persist_queue_size", int64(c.PersistQueueSize)),
	)
}
