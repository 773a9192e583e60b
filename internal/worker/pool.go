package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (p *Pool) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}

	p.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", p.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine
func (p *Pool) workerLoop(ctx context.Context, workerNum int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("%s-%d", p.poolID, workerNum)
	p.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		// Stop signals win over pending work
		select {
		case <-p.stopChan:
			p.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return
		case <-ctx.Done():
			p.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return
		default:
		}

		select {
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			// Wait out an Enqueue still announcing this id
			p.admitMu.RLock()
			p.admitMu.RUnlock()
			p.processJob(ctx, workerName, jobID)
		}
	}
}
