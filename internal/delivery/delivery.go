// Package delivery sends report text to the session it belongs to.
package delivery

//go:generate mockgen -source=delivery.go -destination=delivery_mock.go -package=delivery

import (
	"context"
	"errors"
	"fmt"

	"bookkeeper/internal/log"
)

// Backend names accepted in configuration.
const (
	BackendLog     = "log"
	BackendAMQP    = "amqp"
	BackendDiscord = "discord"
)

// Deliverer sends text to a session. Callers log failures; nothing retries.
type Deliverer interface {
	Deliver(ctx context.Context, session, text string) error
}

// Fanout delivers to every target and joins their errors.
type Fanout []Deliverer

// Deliver implements Deliverer.
func (f Fanout) Deliver(ctx context.Context, session, text string) error {
	var errs []error
	for _, d := range f {
		if err := d.Deliver(ctx, session, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes reports to the application log. It is the default when no
// transport is configured.
type Log struct {
	logger *log.Logger
}

// NewLog returns a log deliverer.
func NewLog(logger *log.Logger) *Log {
	if logger == nil {
		logger = log.Discard()
	}
	return &Log{logger: logger.WithComponent(log.ComponentDelivery)}
}

// Deliver implements Deliverer.
func (l *Log) Deliver(ctx context.Context, session, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("deliver to %s: %w", session, err)
	}
	l.logger.InfoContext(ctx, "Report", log.FieldSession, session, "text", text)
	return nil
}
