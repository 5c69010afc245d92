// Package jobs runs pools of long-lived workers that claim jobs from the
// durable queue, dispatch them to a handler, and record the outcome.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/engagic/engagic/domain/queue"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// Handler processes one claimed job. Implementations declare which job
// kinds they serve.
type Handler interface {
	Kinds() []string
	Process(ctx context.Context, job *queue.Job) error
}

// Queue is the slice of the queue repository the workers need.
type Queue interface {
	NextJob(ctx context.Context, kinds ...string) (*queue.Job, error)
	MarkComplete(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, jobErr string, maxAttempts int) (bool, error)
	MarkFailedPermanent(ctx context.Context, id int64, jobErr string) error
}

// WorkerConfig contains configuration for a background worker
type WorkerConfig struct {
	// Name is a descriptive name for the worker (for logging)
	Name string
	// PollInterval is how often to poll when the queue is empty (default: 5s)
	PollInterval time.Duration
	// MaxAttempts is the retry budget before a job dead-letters (default: 3)
	MaxAttempts int
}

// Worker is a long-lived loop that drains the queue: it claims jobs back to
// back while work is available and falls back to polling when the queue is
// empty. Graceful shutdown finishes the in-flight job before exiting.
type Worker struct {
	config    WorkerConfig
	queue     Queue
	handler   Handler
	log       *slog.Logger
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex

	// Metrics
	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewWorker creates a new background worker
func NewWorker(config WorkerConfig, q Queue, handler Handler, log *slog.Logger) *Worker {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}

	return &Worker{
		config:    config,
		queue:     q,
		handler:   handler,
		log:       log.With(logger.Scope("jobs"), slog.String("worker", config.Name)),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins the worker's claim loop
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Any("kinds", w.handler.Kinds()))

	go w.run(ctx)
	return nil
}

// Stop gracefully stops the worker, waiting for the in-flight job to finish
// or the context to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.stoppedCh:
		w.log.Info("worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("worker stop timeout, abandoning in-flight job to the stuck sweeper")
	}

	return nil
}

// run is the main worker loop
func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := w.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("claim failed", logger.Error(err))
			claimed = false
		}
		if claimed {
			continue
		}

		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(w.config.PollInterval):
		}
	}
}

// step claims and runs at most one job, reporting whether one was available.
func (w *Worker) step(ctx context.Context) (bool, error) {
	job, err := w.queue.NextJob(ctx, w.handler.Kinds()...)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	if err := w.handler.Process(ctx, job); err != nil {
		w.incrementFailure()
		w.recordFailure(ctx, job, err)
		return true, nil
	}

	w.incrementSuccess()
	if err := w.queue.MarkComplete(ctx, job.ID); err != nil {
		w.log.Error("failed to mark job complete", slog.Int64("job_id", job.ID), logger.Error(err))
		return true, nil
	}

	w.log.Debug("job completed",
		slog.Int64("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Duration("duration", time.Since(start)))
	return true, nil
}

// recordFailure routes a job failure to retry or a terminal state. Permanent
// errors (missing entities, bad payloads, model refusals, unusable
// documents) skip the retry budget.
func (w *Worker) recordFailure(ctx context.Context, job *queue.Job, jobErr error) {
	w.log.Warn("job failed",
		slog.Int64("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempts", job.Attempts),
		logger.Error(jobErr))

	if isPermanent(jobErr) {
		if err := w.queue.MarkFailedPermanent(ctx, job.ID, jobErr.Error()); err != nil {
			w.log.Error("failed to record permanent failure", slog.Int64("job_id", job.ID), logger.Error(err))
		}
		return
	}

	dead, err := w.queue.MarkFailed(ctx, job.ID, jobErr.Error(), w.config.MaxAttempts)
	if err != nil {
		w.log.Error("failed to record job failure", slog.Int64("job_id", job.ID), logger.Error(err))
		return
	}
	if dead {
		w.log.Error("job dead-lettered",
			slog.Int64("job_id", job.ID),
			slog.String("kind", job.Kind),
			slog.String("last_error", jobErr.Error()))
	}
}

// isPermanent reports whether retrying cannot possibly help. Database and
// vendor transport errors retry; everything the job itself cannot outgrow
// does not.
func isPermanent(err error) bool {
	return errors.Is(err, apperror.ErrNotFound) ||
		errors.Is(err, apperror.ErrValidation) ||
		errors.Is(err, apperror.ErrBadRequest) ||
		errors.Is(err, apperror.ErrProcessing) ||
		errors.Is(err, apperror.ErrExtraction)
}

// Metrics returns current worker metrics
func (w *Worker) Metrics() WorkerMetrics {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()

	return WorkerMetrics{
		Processed: w.processedCount,
		Succeeded: w.successCount,
		Failed:    w.failureCount,
	}
}

func (w *Worker) incrementSuccess() {
	w.metricsMu.Lock()
	w.processedCount++
	w.successCount++
	w.metricsMu.Unlock()
}

func (w *Worker) incrementFailure() {
	w.metricsMu.Lock()
	w.processedCount++
	w.failureCount++
	w.metricsMu.Unlock()
}

// IsRunning returns whether the worker is currently running
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WorkerMetrics contains worker metrics
type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
