package queue

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ publishes to a durable topic exchange with publisher confirms.
type RabbitMQ struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	confirms   chan amqp.Confirmation
	exchange   string
	routingKey string
	mu         sync.Mutex
}

// DialRabbitMQ connects to url and declares exchange.
func DialRabbitMQ(url, exchange, routingKey string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	r := &RabbitMQ{conn: conn, exchange: exchange, routingKey: routingKey}
	if err := r.openChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return r, nil
}

// IsConnected checks if the RabbitMQ connection is valid
func (r *RabbitMQ) IsConnected() bool {
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQ) openChannel() error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		r.exchange, // exchange name
		"topic",    // exchange type
		true,       // durable
		false,      // auto-delete
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("failed to put channel in confirm mode: %w", err)
	}

	r.ch = ch
	r.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

// Publish publishes body and waits for the broker confirmation.
func (r *RabbitMQ) Publish(ctx context.Context, key string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.IsConnected() {
		return ErrNotConnected
	}
	if r.ch == nil || r.ch.IsClosed() {
		if err := r.openChannel(); err != nil {
			return err
		}
	}

	if key == "" {
		key = r.routingKey
	}

	err := r.ch.PublishWithContext(
		ctx,
		r.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	select {
	case confirmed, ok := <-r.confirms:
		if !ok {
			r.ch = nil
			return fmt.Errorf("confirmation channel closed")
		}
		if !confirmed.Ack {
			return fmt.Errorf("failed to receive publish confirmation")
		}
		return nil
	case <-ctx.Done():
		// the confirm may still arrive; drop the channel so it is not read as the next publish's ack
		_ = r.ch.Close()
		r.ch = nil
		return fmt.Errorf("publish confirmation: %w", ctx.Err())
	}
}

// Close closes the channel and the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		_ = r.ch.Close()
		r.ch = nil
	}
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}
