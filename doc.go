// Package runloopqueue provides a coalescing, batch-draining work queue that
// integrates with a cooperative run loop.
//
// Producers on any goroutine enqueue opaque work items; a single loop
// goroutine drains them in bounded batches at the loop's idle points. The
// queue guarantees serialized, non-reentrant consumption without holding a
// lock while the consumer runs. The design is inspired by the run-loop queues
// UI frameworks use to defer object teardown and layout passes off their main
// thread.
//
// # Quick Start
//
// Create a run loop and bind a queue to it:
//
//	loop := runloopqueue.NewRunLoop(nil)
//	defer loop.Stop()
//
//	queue, err := runloopqueue.NewCoalescingQueue(loop,
//		func(item *Node, drained bool) {
//			item.Teardown()
//		}, nil)
//	if err != nil {
//		// invalid config or loop rejected the registration
//	}
//	defer queue.Close()
//
//	queue.Enqueue(node) // from any goroutine
//
// # Key Concepts
//
// CoalescingQueue: the pending-items buffer. Enqueue appends and wakes the
// loop; the loop's idle phase pops up to BatchSize items, releases the lock,
// and invokes the consumer once per item with a drained flag. A backlog of N
// items drains in ceil(N/BatchSize) loop turns, yielding control back to the
// loop between batches.
//
// Exclusive membership: with EnsureExclusiveMembership enabled (the default),
// enqueuing an item identity that is already pending is a no-op, so repeated
// invalidations of the same object coalesce into one unit of work.
//
// RunLoop: a dedicated-goroutine cooperative loop with an idle phase and a
// coalesced manual wake. Any type implementing HostLoop can host a queue; a
// hand-driven fake works for tests.
//
// Deferred release: SharedDeallocationSink returns a process-wide sink queue
// on a lazily-started background drain thread. Handing it an object defers
// dropping the last reference off the caller's goroutine, throttled to the
// drain thread's turn interval.
//
// # Thread Safety
//
// Enqueue is safe from any goroutine. Draining happens only on the owning
// loop goroutine, which is the system's sole mutual-exclusion boundary for
// consumption: consumers need no locks for state owned by the loop, and may
// re-enqueue into the same queue.
package runloopqueue
