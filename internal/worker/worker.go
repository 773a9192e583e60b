package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
	"github.com/google/uuid"
)

// Engine is the inference capability the pool executes jobs against
type Engine interface {
	Stylize(ctx context.Context, params jobs.Params, input jobs.Input) (*jobs.Result, error)
}

// Config holds worker pool configuration
type Config struct {
	Logger      *slog.Logger
	Store       *jobs.Store
	Engine      Engine
	Events      jobs.Listener
	Concurrency int
	QueueSize   int
	JobTimeout  time.Duration
}

// Pool runs queued jobs against the engine with at most Concurrency calls in flight
type Pool struct {
	logger      *slog.Logger
	store       *jobs.Store
	engine      Engine
	events      jobs.Listener
	poolID      string
	concurrency int
	jobTimeout  time.Duration

	queue    chan string
	admitMu  sync.RWMutex // held by Enqueue; workers pass through it before claiming
	running  sync.Map     // job id -> context.CancelFunc
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewPool creates a new worker pool instance
func NewPool(cfg *Config) *Pool {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = jobs.DefaultCapacity
	}
	events := cfg.Events
	if events == nil {
		events = jobs.NopListener
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		logger:      logger,
		store:       cfg.Store,
		engine:      cfg.Engine,
		events:      events,
		poolID:      uuid.NewString()[:8],
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		queue:       make(chan string, queueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the worker goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.logger.Info("Starting worker pool",
		slog.String("pool_id", p.poolID),
		slog.Int("concurrency", p.concurrency),
		slog.Int("queue_size", cap(p.queue)),
		slog.Duration("job_timeout", p.jobTimeout),
	)

	p.spawnWorkerPool(ctx)
}

// Stop signals all workers to exit and waits for in-flight jobs to finish
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("Stopping worker pool...", slog.String("pool_id", p.poolID))
		close(p.stopChan)
	})
	p.wg.Wait()
	p.logger.Info("Worker pool stopped", slog.String("pool_id", p.poolID))
}

// Enqueue schedules a queued job. It never blocks; a full queue is reported as ErrResourceExhausted.
// onAccept runs once the id is in the queue and before any worker can claim it.
func (p *Pool) Enqueue(jobID string, onAccept func()) error {
	select {
	case <-p.stopChan:
		return fmt.Errorf("%w: worker pool is stopped", jobs.ErrResourceExhausted)
	default:
	}

	p.admitMu.Lock()
	defer p.admitMu.Unlock()

	if len(p.queue) == cap(p.queue) {
		p.compactLocked()
	}

	select {
	case p.queue <- jobID:
		if onAccept != nil {
			onAccept()
		}
		p.logger.Debug("Job enqueued",
			slog.String("job_id", jobID),
			slog.Int("queue_depth", len(p.queue)),
		)
		return nil
	default:
		return fmt.Errorf("%w: queue holds %d jobs", jobs.ErrResourceExhausted, cap(p.queue))
	}
}

// compactLocked drops ids whose job is no longer queued (cancelled or evicted while waiting).
// Caller holds admitMu, so no other sender competes for the freed slots.
func (p *Pool) compactLocked() {
	dropped := 0
drain:
	for n := len(p.queue); n > 0; n-- {
		var jobID string
		select {
		case jobID = <-p.queue:
		default:
			// Workers took the rest
			break drain
		}
		if view, err := p.store.Get(jobID); err != nil || view.Status != jobs.StatusQueued {
			dropped++
			continue
		}
		p.queue <- jobID
	}
	if dropped > 0 {
		p.logger.Debug("Dropped stale queue entries",
			slog.Int("dropped", dropped),
			slog.Int("queue_depth", len(p.queue)),
		)
	}
}

// Interrupt cancels the context of a running job. The engine may or may not honour it.
func (p *Pool) Interrupt(jobID string) bool {
	v, ok := p.running.Load(jobID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// QueueDepth returns the number of job ids waiting to be claimed
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Concurrency returns the number of worker goroutines
func (p *Pool) Concurrency() int {
	return p.concurrency
}
