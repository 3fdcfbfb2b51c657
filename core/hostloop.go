package core

import (
	"fmt"
	"sync"
)

// =============================================================================
// HostLoop: Abstraction over the cooperative event loop a queue binds to
// =============================================================================

// HostLoop is the cooperative scheduler a CoalescingQueue piggybacks on for
// "when idle, do a little work" semantics.
//
// Two registration primitives are required:
//  1. Idle observers, which the loop invokes whenever it has no other
//     scheduled work to run.
//  2. Wake sources, which allow any thread to force the loop to wake and
//     re-enter its idle phase rather than blocking indefinitely.
//
// RunLoop is the in-package implementation. Tests can drive a hand-written
// fake to exercise queue behavior turn by turn.
type HostLoop interface {
	// AddIdleObserver registers fn to run on the loop goroutine whenever the
	// loop runs out of scheduled work. Returns an error if the loop no longer
	// accepts registrations (e.g., it has been stopped).
	AddIdleObserver(fn func()) (ObserverHandle, error)

	// AddWakeSource registers a manual wake source on the loop. Signaling the
	// source forces the loop through another turn, including its idle phase.
	AddWakeSource() (WakeSource, error)
}

// ObserverHandle deregisters a previously added idle observer.
type ObserverHandle interface {
	// Remove deregisters the observer. Safe to call more than once, and safe
	// to call after the loop has already discarded its registrations.
	Remove()
}

// WakeSource is a manual wake primitive registered on a HostLoop.
type WakeSource interface {
	// Signal wakes the loop. Callable from any thread; never blocks.
	// Signals raised while the loop is busy coalesce into a single wake.
	Signal()

	// Remove deregisters the source. Safe to call more than once; Signal
	// becomes a no-op afterwards.
	Remove()
}

// =============================================================================
// loopBinding: One queue's registrations on its host loop
// =============================================================================

// loopBinding holds the idle observer and wake source a queue registered on
// its host loop. The binding is fixed at queue construction and torn down
// exactly once when the queue closes.
type loopBinding struct {
	observer ObserverHandle
	source   WakeSource
	once     sync.Once
}

// bindToLoop registers onIdle as an idle observer plus a wake source on loop.
// On failure nothing stays registered.
func bindToLoop(loop HostLoop, onIdle func()) (*loopBinding, error) {
	source, err := loop.AddWakeSource()
	if err != nil {
		return nil, fmt.Errorf("add wake source: %w", err)
	}

	observer, err := loop.AddIdleObserver(onIdle)
	if err != nil {
		source.Remove()
		return nil, fmt.Errorf("add idle observer: %w", err)
	}

	return &loopBinding{observer: observer, source: source}, nil
}

// wake signals the bound wake source.
func (b *loopBinding) wake() {
	b.source.Signal()
}

// teardown deregisters both the idle observer and the wake source.
// Idempotent; later calls are no-ops.
func (b *loopBinding) teardown() {
	b.once.Do(func() {
		b.observer.Remove()
		b.source.Remove()
	})
}
