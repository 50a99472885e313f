package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is the topic exchange carrying ledger notifications.
	Exchange = "ledger_events"
	// RoutingPrefix prefixes the message kind in routing keys, e.g. notification.transfer.
	RoutingPrefix = "notification."
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitPublisher publishes notifications as persistent JSON messages on the ledger exchange.
type RabbitPublisher struct {
	mu      sync.Mutex
	channel Channel
}

// NewRabbitPublisher declares the exchange and returns a publisher bound to ch.
func NewRabbitPublisher(ch Channel) (*RabbitPublisher, error) {
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	return &RabbitPublisher{channel: ch}, nil
}

// RoutingKey returns the routing key used for messages of the given kind.
func RoutingKey(kind string) string {
	return RoutingPrefix + kind
}

// Send publishes message to the ledger exchange.
func (p *RabbitPublisher) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, Exchange, RoutingKey(message.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    message.OccurredAt,
		Type:         message.Kind,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
