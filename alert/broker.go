package alert

import (
	"context"
	"encoding/json"

	"github.com/ncobase/telemetry/messaging/queue"
)

// BrokerChannel publishes alerts as JSON to a message broker.
type BrokerChannel struct {
	pub queue.Publisher
}

// NewBrokerChannel creates a broker channel on pub.
func NewBrokerChannel(pub queue.Publisher) *BrokerChannel {
	return &BrokerChannel{pub: pub}
}

// Name implements Channel.
func (*BrokerChannel) Name() string { return "broker" }

// Send implements Channel.
func (c *BrokerChannel) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(struct {
		Alert
		Fingerprint string `json:"fingerprint"`
	}{a, a.Fingerprint()})
	if err != nil {
		return err
	}
	return c.pub.Publish(ctx, "", body)
}

// Close closes the publisher.
func (c *BrokerChannel) Close() error {
	return c.pub.Close()
}
