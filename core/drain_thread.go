package core

import (
	"fmt"
	"sync"
	"time"
)

// DefaultDrainInterval is the fixed idle sleep between drain thread turns.
const DefaultDrainInterval = 100 * time.Millisecond

// DrainThreadConfig holds configuration options for a DrainThread.
type DrainThreadConfig struct {
	// Name identifies the thread's loop and queue in logs and metrics.
	// Defaults to "drain-thread".
	Name string

	// Interval is the fixed idle sleep between loop turns.
	// Defaults to DefaultDrainInterval.
	Interval time.Duration

	// Logger receives lifecycle events. Defaults to NoOpLogger.
	Logger Logger

	// Metrics receives queue activity events. Defaults to NilMetrics.
	Metrics Metrics
}

// DefaultDrainThreadConfig returns a config with default values.
func DefaultDrainThreadConfig() *DrainThreadConfig {
	return &DrainThreadConfig{
		Name:     "drain-thread",
		Interval: DefaultDrainInterval,
	}
}

// DrainThread is a perpetually-running background goroutine that owns its own
// RunLoop plus a sink-mode CoalescingQueue. Callers hand it objects whose
// release should happen off the caller's goroutine, coalesced into throttled
// turns rather than one at a time: once the queue drops the last reference,
// the garbage collector reclaims the object on the drain thread's cadence.
//
// The loop runs in throttled mode: run until it would otherwise block, then
// sleep a fixed interval before resuming. The sleep is the throttle, it lets
// released objects accumulate so each turn discards a batch.
type DrainThread struct {
	loop  *RunLoop
	queue *CoalescingQueue[any]

	stopOnce sync.Once
}

// StartDrainThread starts a drain thread. cfg may be nil for defaults.
func StartDrainThread(cfg *DrainThreadConfig) (*DrainThread, error) {
	if cfg == nil {
		cfg = DefaultDrainThreadConfig()
	}
	name := cfg.Name
	if name == "" {
		name = "drain-thread"
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}

	loop := NewRunLoop(&RunLoopConfig{
		Name:      name,
		IdleSleep: interval,
		Logger:    cfg.Logger,
	})

	// Pure sink: no consumer, and no membership scan since releases of
	// distinct objects never coalesce.
	queue, err := NewCoalescingQueue[any](loop, nil, &QueueConfig{
		Name:                      name + "-sink",
		BatchSize:                 1,
		EnsureExclusiveMembership: false,
		Logger:                    cfg.Logger,
		Metrics:                   cfg.Metrics,
	})
	if err != nil {
		loop.Stop()
		return nil, fmt.Errorf("start drain thread %s: %w", name, err)
	}

	return &DrainThread{loop: loop, queue: queue}, nil
}

// Release hands obj to the drain thread. The reference is dropped, without
// any callback, on a subsequent throttled turn. Safe from any goroutine.
func (d *DrainThread) Release(obj any) {
	d.queue.Enqueue(obj)
}

// Queue returns the thread's sink queue.
func (d *DrainThread) Queue() *CoalescingQueue[any] {
	return d.queue
}

// Loop returns the thread's run loop.
func (d *DrainThread) Loop() *RunLoop {
	return d.loop
}

// Stop closes the sink queue and stops the loop goroutine. Idempotent.
// Objects still pending are dropped immediately rather than on the throttle.
func (d *DrainThread) Stop() {
	d.stopOnce.Do(func() {
		d.queue.Close()
		d.loop.Stop()
	})
}
