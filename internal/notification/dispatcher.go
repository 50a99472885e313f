package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultSendTimeout = 10 * time.Second

// Dispatcher sends notifications in the background. Delivery failures are logged and never
// reach the caller, whose operation has already committed.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher wraps notifier for fire-and-forget delivery. A nil notifier drops messages.
func NewDispatcher(notifier Notifier, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Dispatcher{notifier: notifier, logger: logger, timeout: timeout}
}

// Dispatch schedules message for delivery and returns immediately.
func (d *Dispatcher) Dispatch(message Message) {
	if d == nil || d.notifier == nil {
		return
	}
	if message.OccurredAt.IsZero() {
		message.OccurredAt = time.Now().UTC()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(message); err != nil {
			d.logger.Error("notification delivery failed",
				slog.String("kind", message.Kind),
				slog.Any("error", err),
			)
		}
	}()
}

func (d *Dispatcher) send(message Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.notifier.Send(ctx, message)
}

// Close waits for in-flight deliveries or until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
