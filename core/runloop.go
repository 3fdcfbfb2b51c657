package core

import (
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrLoopClosed is returned when registering on a stopped RunLoop.
var ErrLoopClosed = errors.New("run loop is closed")

// RunLoopConfig holds configuration options for a RunLoop.
type RunLoopConfig struct {
	// Name identifies the loop in logs and panic reports. Defaults to "runloop".
	Name string

	// IdleSleep, when positive, switches the loop to throttled mode: after
	// each idle phase the loop sleeps this fixed interval and then re-checks
	// for work, instead of parking until the next wake. This is the turn
	// discipline used by the dedicated drain thread.
	IdleSleep time.Duration

	// WorkBuffer is the capacity of the posted-work channel. Defaults to 100.
	WorkBuffer int

	// Logger receives lifecycle events. Defaults to NoOpLogger.
	Logger Logger

	// PanicHandler is called when a posted closure or idle observer panics.
	// Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler
}

// LoopStats is a point-in-time snapshot of loop activity counters.
type LoopStats struct {
	Name    string
	Turns   uint64
	Wakes   uint64
	Posted  uint64
	Panics  uint64
	Running bool
}

// RunLoop binds a dedicated goroutine to a cooperative event loop with an
// idle phase. It is the in-package HostLoop implementation.
//
// Each turn runs all immediately-ready posted work, then fires every
// registered idle observer once, then parks until a wake source is signaled,
// new work arrives, or the loop is stopped. Queue draining therefore never
// starves posted work, but also never stalls indefinitely while items are
// pending: an Enqueue on a bound queue signals its wake source, which forces
// another turn.
//
// Key difference from a plain worker goroutine: the idle phase. Work that
// should happen "when there is nothing better to do" registers an idle
// observer instead of competing with posted closures.
type RunLoop struct {
	// Posted closures: buffered channel, consumed only by the loop goroutine
	work chan func()

	// Manual wake: 1-buffered so a signal raised while the loop is busy
	// coalesces and is never lost before the next park
	wakeCh chan struct{}

	// Lifecycle control
	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool

	idleSleep time.Duration

	logger       Logger
	panicHandler PanicHandler

	obsMu     sync.Mutex
	observers []*idleObserver
	nextObsID int64

	// Metadata
	name string
	mu   sync.Mutex

	// Activity counters, exported via Stats()
	turns  atomic.Uint64
	wakes  atomic.Uint64
	posted atomic.Uint64
	panics atomic.Uint64
}

type idleObserver struct {
	id int64
	fn func()
}

var _ HostLoop = (*RunLoop)(nil)

// NewRunLoop creates and starts a new RunLoop. It immediately spawns the
// dedicated loop goroutine. cfg may be nil for defaults.
func NewRunLoop(cfg *RunLoopConfig) *RunLoop {
	if cfg == nil {
		cfg = &RunLoopConfig{}
	}

	l := &RunLoop{
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		stopped:      make(chan struct{}),
		idleSleep:    cfg.IdleSleep,
		name:         cfg.Name,
		logger:       cfg.Logger,
		panicHandler: cfg.PanicHandler,
	}
	buffer := cfg.WorkBuffer
	if buffer <= 0 {
		buffer = 100 // Buffer to avoid blocking senders
	}
	l.work = make(chan func(), buffer)
	if l.name == "" {
		l.name = "runloop"
	}
	if l.logger == nil {
		l.logger = NewNoOpLogger()
	}
	if l.panicHandler == nil {
		l.panicHandler = &DefaultPanicHandler{}
	}

	go l.runLoop()

	return l
}

// Name returns the name of the loop.
func (l *RunLoop) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.name
}

// SetName sets the name of the loop.
func (l *RunLoop) SetName(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = name
}

// Post submits a closure for execution on the loop goroutine. Closures run
// in submission order, before the next idle phase. Posting to a stopped loop
// drops the closure.
func (l *RunLoop) Post(fn func()) {
	if fn == nil || l.closed.Load() {
		return
	}

	select {
	case <-l.stopCh:
		// Loop stopped, drop closure
	case l.work <- fn:
		l.posted.Add(1)
	}
}

// Wake forces the loop through another turn, including its idle phase.
// Callable from any goroutine; never blocks. Redundant wakes coalesce.
func (l *RunLoop) Wake() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
		// A wake is already pending, nothing to do
	}
}

// AddIdleObserver registers fn to run on the loop goroutine at every idle
// phase. Implements HostLoop.
func (l *RunLoop) AddIdleObserver(fn func()) (ObserverHandle, error) {
	if fn == nil {
		return nil, errors.New("idle observer must not be nil")
	}
	if l.closed.Load() {
		return nil, ErrLoopClosed
	}

	l.obsMu.Lock()
	l.nextObsID++
	obs := &idleObserver{id: l.nextObsID, fn: fn}
	l.observers = append(l.observers, obs)
	l.obsMu.Unlock()

	l.logger.Debug("idle observer registered", F("loop", l.Name()), F("id", obs.id))

	// Give the new observer an idle pass even if the loop is parked
	l.Wake()

	return &runLoopObserverHandle{loop: l, id: obs.id}, nil
}

// AddWakeSource registers a manual wake source. Implements HostLoop.
// All sources share the loop's coalesced wake channel.
func (l *RunLoop) AddWakeSource() (WakeSource, error) {
	if l.closed.Load() {
		return nil, ErrLoopClosed
	}
	return &runLoopWakeSource{loop: l}, nil
}

// IsClosed returns true if the loop has been stopped.
func (l *RunLoop) IsClosed() bool {
	return l.closed.Load()
}

// Stats returns a snapshot of loop activity counters.
func (l *RunLoop) Stats() LoopStats {
	return LoopStats{
		Name:    l.Name(),
		Turns:   l.turns.Load(),
		Wakes:   l.wakes.Load(),
		Posted:  l.posted.Load(),
		Panics:  l.panics.Load(),
		Running: !l.closed.Load(),
	}
}

// Stop stops the loop and waits for the loop goroutine to finish its current
// turn. Idempotent. Pending posted work is dropped.
func (l *RunLoop) Stop() {
	l.stopOnce.Do(func() {
		// 1. Mark as closed so registrations and posts are refused
		l.closed.Store(true)

		// 2. Signal the loop goroutine
		close(l.stopCh)

		// 3. Wait for the current turn to complete
		<-l.stopped

		l.logger.Debug("run loop stopped", F("loop", l.Name()))
	})
}

// runLoop is the core of the loop, it occupies a dedicated goroutine.
func (l *RunLoop) runLoop() {
	defer close(l.stopped)

	for {
		l.turns.Add(1)

		// Phase 1: run everything that is immediately ready
		if !l.runReadyWork() {
			return
		}

		// Phase 2: idle phase, fire observers once
		l.notifyIdle()

		// Phase 3: park until the next event, or throttle
		if l.idleSleep > 0 {
			select {
			case <-l.stopCh:
				return
			case <-time.After(l.idleSleep):
			}
			continue
		}

		select {
		case fn := <-l.work:
			l.invoke(fn)
		case <-l.wakeCh:
			l.wakes.Add(1)
		case <-l.stopCh:
			return
		}
	}
}

// runReadyWork drains the posted-work channel without blocking.
// Returns false when the loop should exit.
func (l *RunLoop) runReadyWork() bool {
	for {
		select {
		case <-l.stopCh:
			return false
		case fn := <-l.work:
			l.invoke(fn)
		default:
			return true
		}
	}
}

// notifyIdle fires every registered observer once, in registration order.
// The observer list is copied so observers may remove themselves.
func (l *RunLoop) notifyIdle() {
	l.obsMu.Lock()
	obs := make([]*idleObserver, len(l.observers))
	copy(obs, l.observers)
	l.obsMu.Unlock()

	for _, o := range obs {
		l.invoke(o.fn)
	}
}

// invoke executes fn and contains its panic to the current turn unit.
func (l *RunLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.panicHandler.HandlePanic(l.Name(), r, debug.Stack())
		}
	}()
	fn()
}

func (l *RunLoop) removeObserver(id int64) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	for i, o := range l.observers {
		if o.id == id {
			l.observers = append(l.observers[:i], l.observers[i+1:]...)
			return
		}
	}
}

// =============================================================================
// Handle implementations
// =============================================================================

type runLoopObserverHandle struct {
	loop    *RunLoop
	id      int64
	removed atomic.Bool
}

func (h *runLoopObserverHandle) Remove() {
	if h.removed.Swap(true) {
		return
	}
	h.loop.removeObserver(h.id)
}

type runLoopWakeSource struct {
	loop    *RunLoop
	removed atomic.Bool
}

func (s *runLoopWakeSource) Signal() {
	if s.removed.Load() || s.loop.closed.Load() {
		return
	}
	s.loop.Wake()
}

func (s *runLoopWakeSource) Remove() {
	s.removed.Store(true)
}
