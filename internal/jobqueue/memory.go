package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps jobs as process timers. Jobs do not survive a restart; the
// pending task records do, and resuming a campaign re-schedules them.
type Memory struct {
	workers int
	// DrainTimeout is how long running handlers may continue after Run's
	// context is done.
	DrainTimeout time.Duration

	mu      sync.Mutex
	timers  map[Handle]*time.Timer
	ready   chan job
	stopped chan struct{}
	once    sync.Once
}

func NewMemory(workers int) *Memory {
	return &Memory{
		workers:      workers,
		DrainTimeout: DefaultDrainTimeout,
		timers:       make(map[Handle]*time.Timer),
		ready:        make(chan job),
		stopped:      make(chan struct{}),
	}
}

func (m *Memory) Schedule(_ context.Context, p Payload, delay time.Duration) (Handle, error) {
	if delay < 0 {
		delay = 0
	}
	h := Handle(uuid.NewString())

	// Holding the lock while arming keeps a zero-delay timer from firing
	// before its entry exists.
	m.mu.Lock()
	m.timers[h] = time.AfterFunc(delay, func() { m.fire(h, p) })
	m.mu.Unlock()
	return h, nil
}

func (m *Memory) fire(h Handle, p Payload) {
	m.mu.Lock()
	_, ok := m.timers[h]
	delete(m.timers, h)
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case m.ready <- job{handle: h, payload: p}:
	case <-m.stopped:
	}
}

func (m *Memory) Cancel(_ context.Context, h Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[h]
	if !ok {
		return false, nil
	}
	delete(m.timers, h)
	t.Stop()
	return true, nil
}

// Len returns the number of jobs still waiting for their timer.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Memory) Run(ctx context.Context, handler Handler) error {
	err := runWorkers(ctx, m.workers, m.DrainTimeout, m.ready, handler)
	m.once.Do(func() { close(m.stopped) })
	return err
}
