package runloopqueue

import (
	"sync"

	"github.com/meanreaksmey/go-runloop-queue/core"
)

// =============================================================================
// Shared Deallocation Sink (Singleton)
// =============================================================================

var (
	sharedSink *core.DrainThread
	sharedMu   sync.Mutex
)

// SharedDeallocationSink returns the process-wide deferred-release sink: a
// queue bound to a lazily-started background drain thread, with no consumer
// and exclusive membership disabled. Objects enqueued here have their
// reference dropped, off the caller's goroutine, on a throttled turn of the
// drain thread (every 100ms by default).
//
// The first call starts the thread; exactly one thread and one queue exist
// process-wide regardless of concurrent first access.
func SharedDeallocationSink() *core.CoalescingQueue[any] {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedSink == nil {
		thread, err := core.StartDrainThread(nil)
		if err != nil {
			// Only reachable if a freshly-started loop refuses registrations,
			// which indicates a programming error in this package.
			panic("runloopqueue: failed to start shared drain thread: " + err.Error())
		}
		sharedSink = thread
	}
	return sharedSink.Queue()
}

// ReleaseDeferred hands obj to the shared deallocation sink.
// Equivalent to SharedDeallocationSink().Enqueue(obj).
func ReleaseDeferred(obj any) {
	SharedDeallocationSink().Enqueue(obj)
}

// ShutdownSharedDeallocationSink stops the shared drain thread, dropping any
// objects still pending. The next SharedDeallocationSink call starts a fresh
// thread. Mainly useful in tests and at orderly process shutdown.
func ShutdownSharedDeallocationSink() {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	if sharedSink != nil {
		sharedSink.Stop()
		sharedSink = nil
	}
}
