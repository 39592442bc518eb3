package events

import (
	"context"
	"log/slog"
	"sync"
)

// LocalBus delivers events in-process on a goroutine per handler. It is used
// when NATS is disabled and in tests.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: map[string]Handler{}}
}

func (b *LocalBus) Publish(ctx context.Context, e AppointmentEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for queue, h := range b.handlers {
		b.wg.Add(1)
		go func(queue string, h Handler) {
			defer b.wg.Done()
			if err := h(context.WithoutCancel(ctx), e); err != nil {
				slog.Warn("events: handler failed",
					"queue", queue,
					"action", e.Action,
					"appointment_id", e.AppointmentID,
					"err", err,
				)
			}
		}(queue, h)
	}
	return nil
}

func (b *LocalBus) Subscribe(queue string, h Handler) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[queue] = h
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, queue)
		return nil
	}, nil
}

// Wait blocks until every delivered event has been handled.
func (b *LocalBus) Wait() {
	b.wg.Wait()
}
