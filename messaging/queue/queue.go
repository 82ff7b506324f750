// Package queue publishes payloads to a message broker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ncobase/telemetry/ecode"
)

// ErrNotConnected is returned when the broker connection is gone.
var ErrNotConnected = errors.New("broker connection is not available")

// Config selects and configures a broker.
type Config struct {
	Type       string   `json:"type" yaml:"type"`
	URL        string   `json:"url" yaml:"url"`
	Exchange   string   `json:"exchange" yaml:"exchange"`
	RoutingKey string   `json:"routing_key" yaml:"routing_key"`
	Brokers    []string `json:"brokers" yaml:"brokers"`
	Topic      string   `json:"topic" yaml:"topic"`
}

// Validate checks the fields the selected broker needs.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Type) {
	case "rabbitmq":
		if c.URL == "" {
			return errors.New(ecode.FieldIsRequired("rabbitmq url"))
		}
		if c.Exchange == "" {
			return errors.New(ecode.FieldIsRequired("rabbitmq exchange"))
		}
	case "kafka":
		if len(c.Brokers) == 0 {
			return errors.New(ecode.FieldIsRequired("kafka brokers"))
		}
		if c.Topic == "" {
			return errors.New(ecode.FieldIsRequired("kafka topic"))
		}
	case "":
		return errors.New(ecode.FieldIsRequired("broker type"))
	default:
		return errors.New(ecode.FieldIsInvalid("broker type " + c.Type))
	}
	return nil
}

// Publisher sends one message under a routing key. For kafka the key is the
// message key; for rabbitmq it overrides the configured routing key.
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) error
	Close() error
}

// New connects to the configured broker.
func New(cfg *Config) (Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Type) {
	case "rabbitmq":
		return DialRabbitMQ(cfg.URL, cfg.Exchange, cfg.RoutingKey)
	case "kafka":
		return NewKafka(cfg.Brokers, cfg.Topic), nil
	default:
		return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
	}
}
