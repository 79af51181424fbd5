package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	errorsx "github.com/decksense/presentation-backend/pkg/errors"
	logx "github.com/decksense/presentation-backend/pkg/logger"
	"github.com/decksense/presentation-backend/pkg/repository"
)

const (
	// popTimeout bounds each blocking queue pop so the loop can observe
	// shutdown between iterations.
	popTimeout = 5 * time.Second

	// errorPause throttles the loop after an unexpected error so a broken
	// queue connection doesn't spin the worker.
	errorPause = time.Second
)

// Worker is a single logical queue consumer: it pops one job at a time and
// runs it through the Processor. Throughput scales by running more Worker
// instances, not by concurrency inside the loop.
type Worker struct {
	queue     repository.JobQueue
	processor *Processor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker builds a queue consumer.
func NewWorker(queue repository.JobQueue, processor *Processor) *Worker {
	return &Worker{
		queue:     queue,
		processor: processor,
	}
}

// Start launches the polling loop in the background.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop signals the loop to exit and waits for the in-flight job, if any, to
// finish. In-flight work is never cancelled mid-stage.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	logger, _ := logx.GetZapLogger(ctx)
	logger.Info("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopped")
			return
		default:
		}

		job, err := w.queue.Pop(ctx, popTimeout)
		if err != nil {
			// An empty-queue timeout is the steady state, not an error
			if errors.Is(err, errorsx.ErrNoJob) {
				continue
			}
			if ctx.Err() != nil {
				logger.Info("Worker stopped")
				return
			}
			logger.Error("Worker failed to pop job", zap.Error(err))
			time.Sleep(errorPause)
			continue
		}

		// Run the job on a context detached from the loop's cancellation so
		// shutdown lets it finish.
		jobCtx := context.WithoutCancel(ctx)
		if err := w.processor.Run(jobCtx, job); err != nil {
			// Run records the failure; the loop only has to survive it
			logger.Error("Job processing failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}
}
