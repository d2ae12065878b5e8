// Package jobqueue schedules delayed sequence-step jobs. A Handle identifies
// one scheduled job until it fires or is cancelled.
package jobqueue

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

type Handle string

// Payload identifies the step invocation a job stands for.
type Payload struct {
	CampaignID uint `json:"campaign_id"`
	StepID     uint `json:"step_id"`
	ContactID  uint `json:"contact_id"`
	Attempt    int  `json:"attempt"`
}

type Handler func(ctx context.Context, h Handle, p Payload)

type Queue interface {
	Schedule(ctx context.Context, p Payload, delay time.Duration) (Handle, error)
	// Cancel reports whether the job was still waiting. Jobs already handed
	// to a worker are not interrupted.
	Cancel(ctx context.Context, h Handle) (bool, error)
	// Run delivers due jobs to handler until ctx is done.
	Run(ctx context.Context, handler Handler) error
}

// DefaultDrainTimeout bounds how long a handler that was running at shutdown
// may keep going. It exceeds the default send timeout.
const DefaultDrainTimeout = 45 * time.Second

type job struct {
	handle  Handle
	payload Payload
}

// runWorkers consumes jobs with a fixed number of goroutines. Once ctx is done
// no new job is taken. A handler already running keeps a live context for up
// to drain more, so a claimed job still records its outcome on shutdown.
func runWorkers(ctx context.Context, workers int, drain time.Duration, jobs <-chan job, handler Handler) error {
	if workers < 1 {
		workers = 1
	}
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() { time.AfterFunc(drain, cancel) })
	defer stop()

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-jobs:
					handler(hctx, j.handle, j.payload)
				}
			}
		})
	}
	return g.Wait()
}
