// Package notify delivers discovery and task events to external endpoints.
// Delivery is best effort: failures are logged and counted, never returned to
// the code that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-radar-service/internal/domain"
	"github.com/helixir/paper-radar-service/internal/observability"
)

// DefaultTimeout bounds a single notifier delivery.
const DefaultTimeout = 10 * time.Second

// Notifier delivers an event to one endpoint.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event domain.Event) error
}

// Dispatcher fans events out to every configured notifier. It is safe for
// concurrent use.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A zero timeout uses DefaultTimeout.
func NewDispatcher(timeout time.Duration, metrics *observability.Metrics, logger zerolog.Logger, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		metrics:   metrics,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
}

// Len returns the number of notifiers.
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// Notify sends event to all notifiers in the background and returns
// immediately. Events after Close are dropped.
func (d *Dispatcher) Notify(event domain.Event) {
	if d == nil || len(d.notifiers) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug().Str("event", string(event.Kind)).Msg("dispatcher closed, dropping event")
		return
	}
	d.wg.Add(len(d.notifiers))
	d.mu.Unlock()

	for _, n := range d.notifiers {
		go d.deliver(n, event)
	}
}

func (d *Dispatcher) deliver(n Notifier, event domain.Event) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("notifier", n.Name()).Msg("notifier panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := n.Notify(ctx, event)
	d.metrics.RecordNotification(n.Name(), err)
	if err != nil {
		d.logger.Warn().Err(err).
			Str("notifier", n.Name()).
			Str("event", string(event.Kind)).
			Str("event_id", event.ID).
			Msg("notification delivery failed")
		return
	}
	d.logger.Debug().
		Str("notifier", n.Name()).
		Str("event", string(event.Kind)).
		Msg("notification delivered")
}

// Close stops accepting events and waits for in-flight deliveries, up to
// ctx's deadline.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, n := range d.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
