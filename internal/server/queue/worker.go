package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
)

// Handler processes one job. Returning an error wrapping ErrPermanent drops
// the job; any other error re-queues it with exponential backoff.
type Handler func(ctx context.Context, job *Job) error

type WorkerOptions struct {
	PollInterval time.Duration
	BackoffBase  time.Duration
	// MaxAttempts caps re-queues for handlers that never give up on their own.
	MaxAttempts int
}

// Worker polls a Queue and dispatches due jobs to registered handlers.
// Register all handlers before calling Run.
type Worker struct {
	queue    Queue
	handlers map[string]Handler
	logger   logging.Logger
	opts     WorkerOptions
	now      func() time.Time
}

func NewWorker(q Queue, logger logging.Logger, opts WorkerOptions) *Worker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	return &Worker{
		queue:    q,
		handlers: make(map[string]Handler),
		logger:   logger.With("module", "queue_worker"),
		opts:     opts,
		now:      time.Now,
	}
}

func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run drains due jobs, then sleeps for PollInterval, until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.Info(ctx, "Starting queue worker", "poll_interval", w.opts.PollInterval.String())
	for {
		for {
			processed, err := w.RunOnce(ctx)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				w.logger.Error(ctx, "dequeue failed", "error", err)
				break
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Stopping queue worker...")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims and handles at most one due job. It reports whether a job
// was claimed. Handler failures are handled here and not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	h, ok := w.handlers[job.Type]
	if !ok {
		w.logger.Error(ctx, "no handler for job type, dropping", "job_id", job.ID, "job_type", job.Type)
		w.ack(ctx, job)
		return true, nil
	}

	err = w.safeHandle(ctx, h, job)
	switch {
	case err == nil:
		w.logger.Debug(ctx, "job done", "job_id", job.ID, "job_type", job.Type)
		w.ack(ctx, job)
	case errors.Is(err, ErrPermanent):
		w.logger.Warn(ctx, "job failed permanently", "job_id", job.ID, "job_type", job.Type, "error", err)
		w.ack(ctx, job)
	case job.Attempt+1 >= w.opts.MaxAttempts:
		w.logger.Error(ctx, "job exhausted attempts", "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempt, "error", err)
		w.ack(ctx, job)
	default:
		runAt := w.now().Add(w.backoff(job.Attempt))
		if rqErr := w.queue.Requeue(ctx, job, runAt); rqErr != nil {
			// the claim expires and the job comes back on its own
			w.logger.Error(ctx, "requeue failed", "job_id", job.ID, "error", rqErr)
			return true, nil
		}
		w.logger.Warn(ctx, "job failed, retrying", "job_id", job.ID, "job_type", job.Type,
			"attempt", job.Attempt+1, "run_at", runAt, "error", err)
	}
	return true, nil
}

func (w *Worker) ack(ctx context.Context, job *Job) {
	if err := w.queue.Ack(ctx, job); err != nil {
		w.logger.Error(ctx, "ack failed", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	return w.opts.BackoffBase * time.Duration(1<<attempt)
}

func (w *Worker) safeHandle(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrPermanent, p)
		}
	}()
	return h(ctx, job)
}
