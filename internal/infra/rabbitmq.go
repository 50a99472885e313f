package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ bundles a broker connection with one channel.
type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// NewRabbitMQ dials the broker and opens a channel. name is reported as the connection name.
func NewRabbitMQ(url, name string) (*RabbitMQ, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	conn, err := amqp.DialConfig(url, amqp.Config{
		Properties: amqp.Table{"connection_name": name},
	})
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	return &RabbitMQ{Conn: conn, Channel: ch}, nil
}

// Close closes the channel and then the connection.
func (r *RabbitMQ) Close() error {
	if r == nil {
		return nil
	}
	chErr := r.Channel.Close()
	if err := r.Conn.Close(); err != nil {
		return err
	}
	return chErr
}
