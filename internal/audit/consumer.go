package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lumipay/lumipay/internal/notification"
)

const (
	// Queue receives every notification published on the ledger exchange.
	Queue = "ledger_audit"
	// Binding matches all notification routing keys.
	Binding = notification.RoutingPrefix + "#"

	defaultSaveTimeout = 5 * time.Second
)

// Channel is the subset of *amqp.Channel used by the consumer.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Consumer records ledger notifications in the audit store.
type Consumer struct {
	store       Store
	logger      *slog.Logger
	saveTimeout time.Duration
}

// NewConsumer builds a consumer writing to store.
func NewConsumer(store Store, logger *slog.Logger, saveTimeout time.Duration) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if saveTimeout <= 0 {
		saveTimeout = defaultSaveTimeout
	}
	return &Consumer{store: store, logger: logger, saveTimeout: saveTimeout}
}

// Run declares the topology and handles deliveries one at a time until ctx is cancelled
// or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context, ch Channel) error {
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if err := ch.ExchangeDeclare(notification.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, Binding, notification.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "audit_worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	c.logger.Info("audit consumer started", slog.String("queue", q.Name))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery. Malformed bodies are rejected, store failures requeued.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	entry, err := Decode(d.RoutingKey, d.Body)
	if err != nil {
		c.logger.Warn("discarding notification", slog.String("routing_key", d.RoutingKey), slog.Any("error", err))
		if err := d.Reject(false); err != nil {
			c.logger.Error("reject delivery", slog.Any("error", err))
		}
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, c.saveTimeout)
	err = c.store.Save(saveCtx, entry)
	cancel()
	if err != nil {
		c.logger.Error("store audit entry", slog.String("kind", entry.Kind), slog.Any("error", err))
		if err := d.Nack(false, true); err != nil {
			c.logger.Error("nack delivery", slog.Any("error", err))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("ack delivery", slog.Any("error", err))
		return
	}
	c.logger.Info("notification delivered",
		slog.String("kind", entry.Kind),
		slog.String("destinations", strings.Join(entry.Destinations, ",")),
		slog.String("body", entry.Body),
	)
}
