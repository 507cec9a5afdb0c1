package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueue       = 256
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to sinks from a single background goroutine so
// callers holding locks never block on a slow database. Events arriving
// while the queue is full are dropped and logged.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
	queue  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
		queue:  make(chan Event, defaultQueue),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// Len reports the number of configured sinks.
func (d *Dispatcher) Len() int { return len(d.sinks) }

// Enqueue schedules e for delivery. It never blocks.
func (d *Dispatcher) Enqueue(e Event) {
	if len(d.sinks) == 0 {
		return
	}
	defer func() {
		// enqueue after Close
		if recover() != nil {
			d.logger.Debug("history event after close", "service", e.ServiceID)
		}
	}()
	select {
	case d.queue <- e:
	default:
		d.logger.Warn("history queue full, dropping event", "service", e.ServiceID, "type", e.Type)
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
		if err := s.Send(ctx, e); err != nil {
			d.logger.Warn("history sink failed", "service", e.ServiceID, "type", e.Type, "error", err)
		}
		cancel()
	}
}

// Close drains queued events, then closes sinks that implement io.Closer.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() { close(d.queue) })
	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
