// Package jobqueuetest provides a queue that only fires when a test says so.
package jobqueuetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campaign-dispatch/internal/jobqueue"
)

type Job struct {
	Handle  jobqueue.Handle
	Payload jobqueue.Payload
	Delay   time.Duration
	seq     int
}

type Queue struct {
	mu        sync.Mutex
	seq       int
	jobs      map[jobqueue.Handle]Job
	Cancelled []jobqueue.Handle
}

func New() *Queue {
	return &Queue{jobs: make(map[jobqueue.Handle]Job)}
}

func (q *Queue) Schedule(_ context.Context, p jobqueue.Payload, delay time.Duration) (jobqueue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	h := jobqueue.Handle(fmt.Sprintf("job-%d", q.seq))
	q.jobs[h] = Job{Handle: h, Payload: p, Delay: delay, seq: q.seq}
	return h, nil
}

func (q *Queue) Cancel(_ context.Context, h jobqueue.Handle) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[h]; !ok {
		return false, nil
	}
	delete(q.jobs, h)
	q.Cancelled = append(q.Cancelled, h)
	return true, nil
}

// Run blocks until ctx is done; jobs are delivered with Take.
func (q *Queue) Run(ctx context.Context, _ jobqueue.Handler) error {
	<-ctx.Done()
	return nil
}

// Jobs returns the waiting jobs in scheduling order.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].seq < out[k].seq })
	return out
}

// Take removes a waiting job as if it had fired.
func (q *Queue) Take(h jobqueue.Handle) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[h]
	delete(q.jobs, h)
	return j, ok
}

// Drain removes and returns every waiting job.
func (q *Queue) Drain() []Job {
	jobs := q.Jobs()
	q.mu.Lock()
	for _, j := range jobs {
		delete(q.jobs, j.Handle)
	}
	q.mu.Unlock()
	return jobs
}
