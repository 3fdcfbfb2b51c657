package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// recordingPanicHandler captures panics for assertions.
type recordingPanicHandler struct {
	mu     sync.Mutex
	panics []any
}

func (h *recordingPanicHandler) HandlePanic(loopName string, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics = append(h.panics, panicInfo)
}

func (h *recordingPanicHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.panics)
}

// TestRunLoop_PostExecutesInOrder verifies serialized in-order execution
// Given: A running loop
// When: Five closures are posted from one goroutine
// Then: They execute in submission order on the loop goroutine
func TestRunLoop_PostExecutesInOrder(t *testing.T) {
	// Arrange
	loop := NewRunLoop(nil)
	defer loop.Stop()

	var order []int
	done := make(chan struct{})

	// Act
	for i := 0; i < 5; i++ {
		id := i
		loop.Post(func() {
			order = append(order, id)
			if id == 4 {
				close(done)
			}
		})
	}
	<-done

	// Assert
	for i, got := range order {
		if got != i {
			t.Errorf("order[%d] = %d, want %d", i, got, i)
		}
	}
}

// TestRunLoop_IdleObserverRunsWhenIdle verifies the idle phase
// Given: A loop with an idle observer registered
// When: Work is posted and completes
// Then: The observer fires after the posted work
func TestRunLoop_IdleObserverRunsWhenIdle(t *testing.T) {
	// Arrange
	loop := NewRunLoop(nil)
	defer loop.Stop()

	var workDone atomic.Bool
	var firedAfterWork atomic.Bool

	handle, err := loop.AddIdleObserver(func() {
		if workDone.Load() {
			firedAfterWork.Store(true)
		}
	})
	if err != nil {
		t.Fatalf("AddIdleObserver failed: %v", err)
	}
	defer handle.Remove()

	// Act
	loop.Post(func() { workDone.Store(true) })

	// Assert - an idle phase follows the posted work
	waitFor(t, 2*time.Second, func() bool { return firedAfterWork.Load() })
}

// TestRunLoop_WakeSourceTriggersTurn verifies the manual wake primitive
// Given: A parked loop with an idle observer
// When: A wake source is signaled from another goroutine
// Then: The loop runs another idle phase
func TestRunLoop_WakeSourceTriggersTurn(t *testing.T) {
	// Arrange
	loop := NewRunLoop(nil)
	defer loop.Stop()

	var fired atomic.Int32
	handle, err := loop.AddIdleObserver(func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("AddIdleObserver failed: %v", err)
	}
	defer handle.Remove()

	source, err := loop.AddWakeSource()
	if err != nil {
		t.Fatalf("AddWakeSource failed: %v", err)
	}
	defer source.Remove()

	// Let the loop reach its park point, then wake it repeatedly
	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })
	before := fired.Load()

	// Act
	source.Signal()

	// Assert
	waitFor(t, 2*time.Second, func() bool { return fired.Load() > before })
}

// TestRunLoop_QueueDrainsThroughLoop verifies end-to-end queue integration
// Given: A queue bound to a real loop with batch size 2
// When: Five distinct items are enqueued from another goroutine
// Then: All five are consumed in FIFO order, the last with drained = true
func TestRunLoop_QueueDrainsThroughLoop(t *testing.T) {
	// Arrange
	loop := NewRunLoop(&RunLoopConfig{Name: "drain-test"})
	defer loop.Stop()

	type record struct {
		item    *int
		drained bool
	}
	var mu sync.Mutex
	var records []record

	q, err := NewCoalescingQueue(loop, func(item *int, drained bool) {
		mu.Lock()
		records = append(records, record{item, drained})
		mu.Unlock()
	}, &QueueConfig{BatchSize: 2, EnsureExclusiveMembership: true})
	if err != nil {
		t.Fatalf("NewCoalescingQueue failed: %v", err)
	}
	defer q.Close()

	items := make([]*int, 5)
	for i := range items {
		items[i] = new(int)
	}

	// Act
	go func() {
		for _, item := range items {
			q.Enqueue(item)
		}
	}()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(records) == 5
	})

	// Assert
	mu.Lock()
	defer mu.Unlock()
	for i, rec := range records {
		if rec.item != items[i] {
			t.Errorf("record %d delivered wrong item (want FIFO order)", i)
		}
	}
	if !records[4].drained {
		t.Error("final record drained = false, want true")
	}
}

// TestRunLoop_StopIdempotent verifies loop teardown
// Given: A running loop
// When: Stop is called twice
// Then: Both calls return, registrations are refused afterwards, and posting
// is a no-op
func TestRunLoop_StopIdempotent(t *testing.T) {
	// Arrange
	loop := NewRunLoop(nil)

	// Act
	loop.Stop()
	loop.Stop()

	// Assert
	if !loop.IsClosed() {
		t.Error("IsClosed() = false, want true")
	}
	if _, err := loop.AddIdleObserver(func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Errorf("AddIdleObserver err = %v, want ErrLoopClosed", err)
	}
	if _, err := loop.AddWakeSource(); !errors.Is(err, ErrLoopClosed) {
		t.Errorf("AddWakeSource err = %v, want ErrLoopClosed", err)
	}
	loop.Post(func() { t.Error("posted closure ran on a stopped loop") })
	time.Sleep(20 * time.Millisecond)
}

// TestRunLoop_PanicRecoveryKeepsLoopAlive verifies the turn-level panic policy
// Given: A loop with a recording panic handler
// When: A posted closure panics
// Then: The handler observes the panic and the loop keeps executing work
func TestRunLoop_PanicRecoveryKeepsLoopAlive(t *testing.T) {
	// Arrange
	handler := &recordingPanicHandler{}
	loop := NewRunLoop(&RunLoopConfig{Name: "panicky", PanicHandler: handler})
	defer loop.Stop()

	// Act
	loop.Post(func() { panic("boom") })

	done := make(chan struct{})
	loop.Post(func() { close(done) })

	// Assert
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop stopped executing after a panic")
	}
	if handler.count() != 1 {
		t.Errorf("recorded panics = %d, want 1", handler.count())
	}
	if got := loop.Stats().Panics; got != 1 {
		t.Errorf("Stats().Panics = %d, want 1", got)
	}
}

// TestRunLoop_ObserverRemoveIdempotent verifies handle removal semantics
// Given: A loop with one idle observer
// When: The handle is removed twice
// Then: The observer no longer fires and the second removal is harmless
func TestRunLoop_ObserverRemoveIdempotent(t *testing.T) {
	// Arrange
	loop := NewRunLoop(nil)
	defer loop.Stop()

	var fired atomic.Int32
	handle, err := loop.AddIdleObserver(func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("AddIdleObserver failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return fired.Load() >= 1 })

	// Act
	handle.Remove()
	handle.Remove()
	settled := fired.Load()

	source, err := loop.AddWakeSource()
	if err != nil {
		t.Fatalf("AddWakeSource failed: %v", err)
	}
	source.Signal()
	time.Sleep(20 * time.Millisecond)

	// Assert - allow for one turn that was already in flight during removal
	if got := fired.Load(); got > settled+1 {
		t.Errorf("observer fired %d times after removal", got-settled)
	}
}

// TestRunLoop_ThrottledModeDrains verifies the fixed idle sleep discipline
// Given: A loop in throttled mode with a short interval and a sink queue
// When: Items are enqueued
// Then: The queue empties on a subsequent throttled turn without manual wakes
func TestRunLoop_ThrottledModeDrains(t *testing.T) {
	// Arrange
	loop := NewRunLoop(&RunLoopConfig{Name: "throttled", IdleSleep: 5 * time.Millisecond})
	defer loop.Stop()

	q, err := NewCoalescingQueue[*int](loop, nil, &QueueConfig{BatchSize: 1})
	if err != nil {
		t.Fatalf("NewCoalescingQueue failed: %v", err)
	}
	defer q.Close()

	// Act
	for range 20 {
		q.Enqueue(new(int))
	}

	// Assert
	waitFor(t, 2*time.Second, func() bool { return q.Len() == 0 })
}

// TestRunLoop_StatsSnapshot verifies loop counters
func TestRunLoop_StatsSnapshot(t *testing.T) {
	loop := NewRunLoop(&RunLoopConfig{Name: "stats-loop"})

	done := make(chan struct{})
	loop.Post(func() {})
	loop.Post(func() { close(done) })
	<-done

	stats := loop.Stats()
	if stats.Name != "stats-loop" {
		t.Errorf("Name = %q, want %q", stats.Name, "stats-loop")
	}
	if stats.Posted != 2 {
		t.Errorf("Posted = %d, want 2", stats.Posted)
	}
	if !stats.Running {
		t.Error("Running = false, want true")
	}

	loop.Stop()
	if loop.Stats().Running {
		t.Error("Running = true after Stop, want false")
	}
}
