package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/stylize-service/internal/jobs"
)

// processJob claims a job, runs the engine and records the outcome
func (p *Pool) processJob(ctx context.Context, workerName, jobID string) {
	// Step 1: Claim job (queued -> processing)
	job, err := p.store.Transition(jobID, jobs.StatusQueued, jobs.StatusProcessing, jobs.Update{})
	if err != nil {
		if errors.Is(err, jobs.ErrConflict) || errors.Is(err, jobs.ErrNotFound) {
			// Cancelled or evicted while waiting in the queue
			p.logger.Debug("Job no longer claimable, skipping",
				slog.String("worker_name", workerName),
				slog.String("job_id", jobID),
				slog.String("reason", err.Error()),
			)
			return
		}
		p.logger.Error("Failed to claim job",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	p.emit(job, jobs.StatusQueued)

	p.logger.Info("Processing job",
		slog.String("worker_name", workerName),
		slog.String("job_id", jobID),
		slog.String("style", job.Params.Style),
		slog.String("variant", string(job.Params.Variant)),
	)

	// Step 2: Per-job context, cancellable by Interrupt and by the timeout watchdog
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.running.Store(jobID, cancel)
	defer p.running.Delete(jobID)

	if p.jobTimeout > 0 {
		watchdog := time.AfterFunc(p.jobTimeout, func() {
			p.expire(jobID)
			cancel()
		})
		defer watchdog.Stop()
	}

	// Step 3: Run the engine. The slot stays occupied until the engine returns.
	start := time.Now()
	result, err := p.invoke(jobCtx, job)
	latency := time.Since(start)

	// Step 4: Record the outcome (processing -> done|error)
	if err != nil {
		p.logger.Warn("Job execution failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.Duration("latency", latency),
			slog.String("error", err.Error()),
		)
		p.finish(jobID, jobs.StatusError, jobs.Update{ErrorDetail: err.Error()})
		return
	}

	if p.finish(jobID, jobs.StatusDone, jobs.Update{Result: result}) {
		p.logger.Info("Job completed successfully",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.Duration("latency", latency),
			slog.Int("result_bytes", len(result.Data)),
		)
	}
}

// invoke calls the engine and converts panics and empty results into inference failures
func (p *Pool) invoke(ctx context.Context, job jobs.Job) (result *jobs.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: engine panic: %v", jobs.ErrInferenceFailure, r)
		}
	}()

	result, err = p.engine.Stylize(ctx, job.Params, job.Input)
	if err != nil {
		return nil, jobs.InferenceError(err)
	}
	if result == nil || len(result.Data) == 0 {
		return nil, fmt.Errorf("%w: engine returned an empty result", jobs.ErrInferenceFailure)
	}
	return result, nil
}

// finish applies the terminal transition. A conflict means the job was cancelled or timed
// out meanwhile; the result is discarded. Returns whether the transition was applied.
func (p *Pool) finish(jobID string, to jobs.Status, upd jobs.Update) bool {
	job, err := p.store.Transition(jobID, jobs.StatusProcessing, to, upd)
	if err != nil {
		if errors.Is(err, jobs.ErrConflict) || errors.Is(err, jobs.ErrNotFound) {
			p.logger.Info("Discarding job result",
				slog.String("job_id", jobID),
				slog.String("outcome", string(to)),
				slog.String("reason", err.Error()),
			)
			return false
		}
		p.logger.Error("Failed to record job outcome",
			slog.String("job_id", jobID),
			slog.String("outcome", string(to)),
			slog.String("error", err.Error()),
		)
		return false
	}
	p.emit(job, jobs.StatusProcessing)
	return true
}

// expire moves a job stuck in processing past the deadline to error
func (p *Pool) expire(jobID string) {
	detail := fmt.Sprintf("%s: inference timed out after %s", jobs.ErrInferenceFailure, p.jobTimeout)
	job, err := p.store.Transition(jobID, jobs.StatusProcessing, jobs.StatusError, jobs.Update{ErrorDetail: detail})
	if err != nil {
		return
	}
	p.logger.Warn("Job timed out",
		slog.String("job_id", jobID),
		slog.Duration("job_timeout", p.jobTimeout),
	)
	p.emit(job, jobs.StatusProcessing)
}

func (p *Pool) emit(job jobs.Job, from jobs.Status) {
	at := job.CompletedAt
	if job.Status == jobs.StatusProcessing {
		at = job.StartedAt
	}
	p.events.Notify(jobs.Event{
		JobID:      job.ID,
		From:       from,
		To:         job.Status,
		Detail:     job.ErrorDetail,
		OccurredAt: at,
	})
}
