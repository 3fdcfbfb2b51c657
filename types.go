package runloopqueue

import "github.com/meanreaksmey/go-runloop-queue/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the runloopqueue package for most use cases.

// CoalescingQueue is the coalescing, batch-draining work queue
type CoalescingQueue[T comparable] = core.CoalescingQueue[T]

// Consumer processes one drained item
type Consumer[T comparable] = core.Consumer[T]

// QueueConfig configures a CoalescingQueue (batch size, membership policy, ...)
type QueueConfig = core.QueueConfig

// QueueStats is a snapshot of queue activity counters
type QueueStats = core.QueueStats

// HostLoop is the cooperative event loop abstraction queues bind to
type HostLoop = core.HostLoop

// ObserverHandle deregisters an idle observer from a HostLoop
type ObserverHandle = core.ObserverHandle

// WakeSource is a manual wake primitive registered on a HostLoop
type WakeSource = core.WakeSource

// RunLoop is the dedicated-goroutine HostLoop implementation
type RunLoop = core.RunLoop

// RunLoopConfig configures a RunLoop
type RunLoopConfig = core.RunLoopConfig

// LoopStats is a snapshot of loop activity counters
type LoopStats = core.LoopStats

// DrainThread is the background deferred-release thread
type DrainThread = core.DrainThread

// DrainThreadConfig configures a DrainThread
type DrainThreadConfig = core.DrainThreadConfig

// Logger and Field for structured logging
type Logger = core.Logger
type Field = core.Field

// Sentinel errors
var (
	ErrInvalidBatchSize = core.ErrInvalidBatchSize
	ErrNilLoop          = core.ErrNilLoop
	ErrLoopClosed       = core.ErrLoopClosed
)

// Convenience re-exports
var (
	F                        = core.F
	DefaultQueueConfig       = core.DefaultQueueConfig
	DefaultDrainThreadConfig = core.DefaultDrainThreadConfig
	NewDefaultLogger         = core.NewDefaultLogger
	NewNoOpLogger            = core.NewNoOpLogger
)

// NewRunLoop creates and starts a new RunLoop on a dedicated goroutine.
func NewRunLoop(cfg *RunLoopConfig) *RunLoop {
	return core.NewRunLoop(cfg)
}

// NewCoalescingQueue creates a queue bound to loop.
// See core.NewCoalescingQueue for the full contract.
func NewCoalescingQueue[T comparable](loop HostLoop, consumer Consumer[T], cfg *QueueConfig) (*CoalescingQueue[T], error) {
	return core.NewCoalescingQueue(loop, consumer, cfg)
}

// StartDrainThread starts a dedicated background drain thread.
// Most callers want SharedDeallocationSink instead.
func StartDrainThread(cfg *DrainThreadConfig) (*DrainThread, error) {
	return core.StartDrainThread(cfg)
}
