package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	name string
	err  error

	mu     sync.Mutex
	events []jobs.Event
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Handle(_ context.Context, ev jobs.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *memorySink) snapshot() []jobs.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobs.Event(nil), s.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBus_DeliversInOrderToAllSinks(t *testing.T) {
	first := &memorySink{name: "first"}
	second := &memorySink{name: "second"}
	bus := NewBus(discardLogger(), 16, first, second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx) }()

	bus.Notify(jobs.Event{JobID: "a", To: jobs.StatusQueued})
	bus.Notify(jobs.Event{JobID: "a", From: jobs.StatusQueued, To: jobs.StatusProcessing})
	bus.Notify(jobs.Event{JobID: "a", From: jobs.StatusProcessing, To: jobs.StatusDone})

	require.Eventually(t, func() bool { return len(second.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, sink := range []*memorySink{first, second} {
		got := sink.snapshot()
		require.Len(t, got, 3)
		assert.Equal(t, jobs.StatusQueued, got[0].To)
		assert.Equal(t, jobs.StatusProcessing, got[1].To)
		assert.Equal(t, jobs.StatusDone, got[2].To)
	}
	assert.Equal(t, int64(6), bus.Stats().Delivered)
}

func TestBus_NotifyNeverBlocks(t *testing.T) {
	sink := &memorySink{name: "mem"}
	bus := NewBus(discardLogger(), 2, sink)

	// Run is not started, so the buffer fills up
	finished := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Notify(jobs.Event{JobID: "a", To: jobs.StatusQueued})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}

	stats := bus.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, int64(8), stats.Dropped)
}

func TestBus_DrainsOnShutdown(t *testing.T) {
	sink := &memorySink{name: "mem"}
	bus := NewBus(discardLogger(), 8, sink)

	for i := 0; i < 5; i++ {
		bus.Notify(jobs.Event{JobID: "a", To: jobs.StatusQueued})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))

	// Either the loop or the drain delivered every buffered event
	assert.Len(t, sink.snapshot(), 5)
	assert.Zero(t, bus.Stats().Pending)
}

func TestBus_SinkFailureDoesNotStopOthers(t *testing.T) {
	broken := &memorySink{name: "broken", err: errors.New("down")}
	healthy := &memorySink{name: "healthy"}
	bus := NewBus(discardLogger(), 4, broken, healthy)

	bus.Notify(jobs.Event{JobID: "a", To: jobs.StatusQueued})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, bus.Run(ctx))

	assert.Len(t, healthy.snapshot(), 1)
	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Delivered)
}

func TestBus_NoSinksIsNoop(t *testing.T) {
	bus := NewBus(discardLogger(), 1)
	bus.Notify(jobs.Event{JobID: "a"})
	bus.Notify(jobs.Event{JobID: "b"})
	assert.Equal(t, Stats{}, bus.Stats())
}

type recordingPublisher struct {
	routingKey  string
	body        []byte
	contentType string
	err         error
}

func (p *recordingPublisher) PublishWithRetry(_ context.Context, routingKey string, body []byte, contentType string) error {
	p.routingKey = routingKey
	p.body = body
	p.contentType = contentType
	return p.err
}

func TestRabbitSink_Handle(t *testing.T) {
	pub := &recordingPublisher{}
	sink := NewRabbitSink(pub, "")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := sink.Handle(context.Background(), jobs.Event{
		JobID:      "a",
		From:       jobs.StatusProcessing,
		To:         jobs.StatusDone,
		OccurredAt: at,
	})
	require.NoError(t, err)

	assert.Equal(t, "job.done", pub.routingKey)
	assert.Equal(t, "application/json", pub.contentType)

	var decoded jobs.Event
	require.NoError(t, json.Unmarshal(pub.body, &decoded))
	assert.Equal(t, "a", decoded.JobID)
	assert.Equal(t, jobs.StatusProcessing, decoded.From)
	assert.Equal(t, jobs.StatusDone, decoded.To)
	assert.True(t, at.Equal(decoded.OccurredAt))
}

func TestRabbitSink_RoutingKey(t *testing.T) {
	sink := NewRabbitSink(&recordingPublisher{}, "stylize")
	assert.Equal(t, "stylize.cancelled", sink.RoutingKey(jobs.Event{To: jobs.StatusCancelled}))
}

func TestRabbitSink_PublishError(t *testing.T) {
	sink := NewRabbitSink(&recordingPublisher{err: errors.New("channel closed")}, "job")

	err := sink.Handle(context.Background(), jobs.Event{JobID: "a", To: jobs.StatusError})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel closed")
}

func TestLogSink_Handle(t *testing.T) {
	var msgs []string
	sink := NewLogSink(func(msg string, args ...any) { msgs = append(msgs, msg) })

	require.NoError(t, sink.Handle(context.Background(), jobs.Event{JobID: "a", To: jobs.StatusDone}))
	assert.Equal(t, []string{"Job transition"}, msgs)
}
