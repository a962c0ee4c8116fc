package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is a process-local delayed queue ordered by RunAt. Claimed
// jobs are held until acked or requeued and come back after the visibility
// timeout otherwise.
type MemoryQueue struct {
	mu         sync.Mutex
	jobs       jobHeap
	byID       map[string]*Job
	claimed    map[string]claim
	visibility time.Duration
	closed     bool
	now        func() time.Time
}

type claim struct {
	job      *Job
	deadline time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		byID:       make(map[string]*Job),
		claimed:    make(map[string]claim),
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (string, error) {
	job, err := newJob(jobType, payload, opts, q.now())
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}
	if _, ok := q.byID[job.ID]; ok {
		return job.ID, nil
	}
	if _, ok := q.claimed[job.ID]; ok {
		return job.ID, nil
	}
	q.push(job)
	return job.ID, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, now time.Time) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	for id, c := range q.claimed {
		if !c.deadline.After(now) {
			delete(q.claimed, id)
			back := *c.job
			back.RunAt = now
			q.push(&back)
		}
	}

	if len(q.jobs) == 0 || q.jobs[0].RunAt.After(now) {
		return nil, nil
	}
	job := heap.Pop(&q.jobs).(*Job)
	delete(q.byID, job.ID)
	q.claimed[job.ID] = claim{job: job, deadline: now.Add(q.visibility)}
	return job, nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, job *Job, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	delete(q.claimed, job.ID)
	next := *job
	next.Attempt++
	next.RunAt = runAt
	q.push(&next)
	return nil
}

func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.claimed, job.ID)
	return nil
}

// Len returns the number of waiting jobs.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Claimed returns the number of jobs claimed but not yet acked.
func (q *MemoryQueue) Claimed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.claimed)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *MemoryQueue) push(job *Job) {
	q.byID[job.ID] = job
	heap.Push(&q.jobs, job)
}

type jobHeap []*Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].RunAt.Before(h[j].RunAt) }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)        { *h = append(*h, x.(*Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
