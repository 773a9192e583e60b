package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/stylize-service/internal/jobs"
)

// Publisher sends a message to a broker under a routing key
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitSink publishes each event as JSON with routing key "<prefix>.<status>"
type RabbitSink struct {
	publisher Publisher
	prefix    string
}

// NewRabbitSink creates a RabbitSink. An empty prefix defaults to "job".
func NewRabbitSink(publisher Publisher, prefix string) *RabbitSink {
	if prefix == "" {
		prefix = "job"
	}
	return &RabbitSink{publisher: publisher, prefix: prefix}
}

// Name implements Sink
func (s *RabbitSink) Name() string { return "rabbitmq" }

// RoutingKey returns the routing key used for ev
func (s *RabbitSink) RoutingKey(ev jobs.Event) string {
	return s.prefix + "." + string(ev.To)
}

// Handle implements Sink
func (s *RabbitSink) Handle(ctx context.Context, ev jobs.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.publisher.PublishWithRetry(ctx, s.RoutingKey(ev), body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// LogSink writes events to a logger, used when no broker or database is configured
type LogSink struct {
	logf func(msg string, args ...any)
}

// NewLogSink creates a sink that logs every event with logf (e.g. logger.Debug)
func NewLogSink(logf func(msg string, args ...any)) *LogSink {
	return &LogSink{logf: logf}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Handle implements Sink
func (s *LogSink) Handle(_ context.Context, ev jobs.Event) error {
	s.logf("Job transition",
		"job_id", ev.JobID,
		"from", string(ev.From),
		"to", string(ev.To),
		"detail", ev.Detail,
	)
	return nil
}
