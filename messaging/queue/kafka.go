package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes to a single topic.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a synchronous writer for topic. No connection is made
// until the first publish.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Topic returns the topic messages are written to.
func (k *Kafka) Topic() string {
	return k.writer.Topic
}

// Publish writes one message.
func (k *Kafka) Publish(ctx context.Context, key string, body []byte) error {
	msg := kafka.Message{Value: body, Time: time.Now()}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
