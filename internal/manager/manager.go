// Package manager is the façade the HTTP surface talks to. It validates submissions,
// owns cancellation and retention, and delegates storage and execution to the job store
// and the worker pool.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
)

// Scheduler accepts queued jobs for execution
type Scheduler interface {
	// Enqueue queues jobID without blocking. onAccept runs only if the job was accepted,
	// before any worker can claim it.
	Enqueue(jobID string, onAccept func()) error
	Interrupt(jobID string) bool
}

// StyleCatalog answers which styles exist
type StyleCatalog interface {
	Has(name string) bool
	Default() string
}

// Config holds manager dependencies and policy
type Config struct {
	Logger        *slog.Logger
	Store         *jobs.Store
	Scheduler     Scheduler
	Styles        StyleCatalog
	Events        jobs.Listener
	Limits        Limits
	Retention     time.Duration
	SweepInterval time.Duration
}

// Manager implements submit, poll and cancel over the job store
type Manager struct {
	logger        *slog.Logger
	store         *jobs.Store
	scheduler     Scheduler
	styles        StyleCatalog
	events        jobs.Listener
	limits        Limits
	retention     time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// New creates a new Manager
func New(cfg *Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = jobs.NopListener
	}
	return &Manager{
		logger:        logger,
		store:         cfg.Store,
		scheduler:     cfg.Scheduler,
		styles:        cfg.Styles,
		events:        events,
		limits:        cfg.Limits.withDefaults(),
		retention:     cfg.Retention,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
	}
}

// SubmitRequest is a raw, unvalidated submission
type SubmitRequest struct {
	Content    []byte
	StyleImage []byte
	Style      string
	MaxSide    int
	Variant    string
}

// Submit validates the request, records a queued job and hands it to the scheduler.
// It never waits for inference.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	params, err := m.Validate(req)
	if err != nil {
		return "", err
	}

	id, err := m.store.Create(params, jobs.Input{Content: req.Content, Style: req.StyleImage})
	if err != nil {
		m.logger.Warn("Job store rejected submission", slog.String("error", err.Error()))
		return "", err
	}

	view, err := m.store.Get(id)
	if err != nil {
		return "", err
	}

	// A rejected job must leave no trace in the event sinks
	announce := func() {
		m.events.Notify(jobs.Event{JobID: id, To: jobs.StatusQueued, OccurredAt: view.CreatedAt})
	}
	if err := m.scheduler.Enqueue(id, announce); err != nil {
		m.store.Remove(id)
		m.logger.Warn("Scheduler rejected job",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	m.logger.Info("Job submitted",
		slog.String("job_id", id),
		slog.String("style", params.Style),
		slog.String("variant", string(params.Variant)),
		slog.Int("max_side", params.MaxSide),
		slog.Int("content_bytes", len(req.Content)),
		slog.Bool("style_image", len(req.StyleImage) > 0),
	)

	return id, nil
}

// Poll returns the current snapshot of a job without blocking
func (m *Manager) Poll(id string) (jobs.View, error) {
	return m.store.Get(id)
}

// Cancel moves a non-terminal job to cancelled. Inference that already started is only
// interrupted if the engine honours context cancellation; its result is discarded either way.
func (m *Manager) Cancel(id string) (jobs.View, error) {
	for {
		cur, err := m.store.Get(id)
		if err != nil {
			return jobs.View{}, err
		}
		if cur.Status.IsTerminal() {
			return cur, fmt.Errorf("%w: job %s is %s", jobs.ErrJobFinished, id, cur.Status)
		}

		job, err := m.store.Transition(id, cur.Status, jobs.StatusCancelled, jobs.Update{})
		if errors.Is(err, jobs.ErrConflict) {
			// Claimed or finished meanwhile; re-read and retry
			continue
		}
		if err != nil {
			return jobs.View{}, err
		}

		interrupted := false
		if cur.Status == jobs.StatusProcessing {
			interrupted = m.scheduler.Interrupt(id)
		}
		m.events.Notify(jobs.Event{
			JobID:      id,
			From:       cur.Status,
			To:         jobs.StatusCancelled,
			Detail:     job.ErrorDetail,
			OccurredAt: job.CompletedAt,
		})

		m.logger.Info("Job cancelled",
			slog.String("job_id", id),
			slog.String("from", string(cur.Status)),
			slog.Bool("interrupted", interrupted),
		)
		return job.View(), nil
	}
}

// Stats summarises store occupancy
type Stats struct {
	Capacity int                 `json:"capacity"`
	Live     int                 `json:"live"`
	ByStatus map[jobs.Status]int `json:"by_status"`
}

// Stats returns current store occupancy
func (m *Manager) Stats() Stats {
	return Stats{
		Capacity: m.store.Capacity(),
		Live:     m.store.Len(),
		ByStatus: m.store.Counts(),
	}
}

// Sweep evicts terminal jobs older than the retention window and returns how many were removed
func (m *Manager) Sweep() int {
	if m.retention <= 0 {
		return 0
	}
	evicted := m.store.Evict(m.now().Add(-m.retention))
	if evicted > 0 {
		m.logger.Info("Evicted expired jobs",
			slog.Int("evicted", evicted),
			slog.Int("live", m.store.Len()),
		)
	}
	return evicted
}

// RunJanitor sweeps on every interval until ctx is done
func (m *Manager) RunJanitor(ctx context.Context) error {
	if m.retention <= 0 || m.sweepInterval <= 0 {
		m.logger.Info("Job retention sweeping disabled")
		<-ctx.Done()
		return nil
	}

	m.logger.Info("Job janitor started",
		slog.Duration("retention", m.retention),
		slog.Duration("sweep_interval", m.sweepInterval),
	)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Job janitor stopped")
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}
