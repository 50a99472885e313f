package notification

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	// KindTransfer notifies both parties of a completed transfer.
	KindTransfer = "transfer"
	// KindCardIssued notifies an owner that a new card was issued.
	KindCardIssued = "card_issued"
)

// Message describes a notification payload.
type Message struct {
	Kind         string            `json:"kind"`
	Destinations []string          `json:"destinations"`
	Body         string            `json:"body"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destinations", strings.Join(message.Destinations, ",")),
		slog.String("body", message.Body),
	)
	return nil
}
