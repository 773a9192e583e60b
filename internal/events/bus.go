// Package events fans job transition events out to sinks off the hot path. Producers call
// Notify, which never blocks; a single dispatcher goroutine delivers to every sink in order.
package events

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
)

const (
	DefaultBuffer        = 1024
	defaultHandleTimeout = 5 * time.Second
	drainTimeout         = 2 * time.Second
)

// Sink consumes transition events
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev jobs.Event) error
}

// Bus is a buffered, lossy event dispatcher
type Bus struct {
	logger        *slog.Logger
	events        chan jobs.Event
	sinks         []Sink
	handleTimeout time.Duration

	delivered atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewBus creates a Bus. A buffer <= 0 uses DefaultBuffer.
func NewBus(logger *slog.Logger, buffer int, sinks ...Sink) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		logger:        logger,
		events:        make(chan jobs.Event, buffer),
		sinks:         sinks,
		handleTimeout: defaultHandleTimeout,
	}
}

// Notify implements jobs.Listener. Events are dropped when the buffer is full.
func (b *Bus) Notify(ev jobs.Event) {
	if len(b.sinks) == 0 {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Event buffer full, dropping event",
			slog.String("job_id", ev.JobID),
			slog.String("to", string(ev.To)),
		)
	}
}

// Run dispatches events until ctx is done, then drains what is buffered
func (b *Bus) Run(ctx context.Context) error {
	names := make([]string, 0, len(b.sinks))
	for _, s := range b.sinks {
		names = append(names, s.Name())
	}
	b.logger.Info("Event bus started", slog.Any("sinks", names))

	for {
		select {
		case <-ctx.Done():
			b.drain()
			b.logger.Info("Event bus stopped",
				slog.Int64("delivered", b.delivered.Load()),
				slog.Int64("dropped", b.dropped.Load()),
				slog.Int64("failed", b.failed.Load()),
			)
			return nil
		case ev := <-b.events:
			b.dispatch(context.Background(), ev)
		}
	}
}

func (b *Bus) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case ev := <-b.events:
			b.dispatch(ctx, ev)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (b *Bus) dispatch(parent context.Context, ev jobs.Event) {
	for _, sink := range b.sinks {
		ctx, cancel := context.WithTimeout(parent, b.handleTimeout)
		err := sink.Handle(ctx, ev)
		cancel()
		if err != nil {
			b.failed.Add(1)
			b.logger.Error("Event sink failed",
				slog.String("sink", sink.Name()),
				slog.String("job_id", ev.JobID),
				slog.String("to", string(ev.To)),
				slog.String("error", err.Error()),
			)
			continue
		}
		b.delivered.Add(1)
	}
}

// Stats reports delivery counters
type Stats struct {
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// Stats returns the current delivery counters
func (b *Bus) Stats() Stats {
	return Stats{
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
		Pending:   len(b.events),
	}
}

var _ jobs.Listener = (*Bus)(nil)
