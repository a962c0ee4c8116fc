// Package queue implements the delayed job queue used for notifications:
// an in-memory backend for single-process deployments and tests, a Redis
// backend for production, and a polling Worker that dispatches jobs by type.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/ids"
)

var (
	// ErrPermanent marks a handler failure that must not be retried.
	ErrPermanent = errors.New("permanent job failure")
	ErrClosed    = errors.New("queue closed")
)

// Job is a unit of work. Payload is the JSON encoding of the enqueued value.
type Job struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	RunAt   time.Time       `json:"run_at"`
	Attempt int             `json:"attempt"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// DefaultVisibilityTimeout is how long a claimed job stays invisible before
// it becomes due again unless it is acked or requeued.
const DefaultVisibilityTimeout = 5 * time.Minute

// EnqueueOptions control scheduling. A job with a UniqueID that is already
// waiting or claimed is not enqueued twice. Delay <= 0 means run immediately.
type EnqueueOptions struct {
	UniqueID string
	Delay    time.Duration
}

type Queue interface {
	// Enqueue schedules a job and returns its id.
	Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (string, error)
	// Dequeue claims the earliest job due at now. It returns nil, nil when
	// nothing is due. Claims older than the visibility timeout are made due
	// again first.
	Dequeue(ctx context.Context, now time.Time) (*Job, error)
	// Requeue puts a claimed job back with Attempt incremented.
	Requeue(ctx context.Context, job *Job, runAt time.Time) error
	// Ack removes a claimed job for good.
	Ack(ctx context.Context, job *Job) error
	Close() error
}

func newJob(jobType string, payload any, opts EnqueueOptions, now time.Time) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	id := opts.UniqueID
	if id == "" {
		id = ids.New()
	}
	runAt := now
	if opts.Delay > 0 {
		runAt = now.Add(opts.Delay)
	}
	return &Job{ID: id, Type: jobType, Payload: data, RunAt: runAt}, nil
}
