package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

var (
	// ErrInvalidBatchSize is returned when a queue is configured with a batch
	// size below 1. A zero batch size would starve the queue forever, so it
	// is rejected eagerly instead of being clamped silently.
	ErrInvalidBatchSize = errors.New("batch size must be at least 1")

	// ErrNilLoop is returned when a queue is constructed without a host loop.
	ErrNilLoop = errors.New("host loop is required")
)

// Consumer processes one drained item.
//
// drained reports whether the pending buffer was empty immediately after the
// current batch was popped. It is computed once per drain cycle and passed to
// every callback of that cycle, so consumers can use it to know whether more
// work is imminent, not whether their specific item was the last one.
type Consumer[T comparable] func(item T, drained bool)

// QueueConfig holds configuration options for a CoalescingQueue.
type QueueConfig struct {
	// Name identifies the queue in logs and metrics. Defaults to "queue".
	Name string

	// BatchSize is the number of items popped per drain cycle. Must be at
	// least 1; NewCoalescingQueue rejects zero and negative values.
	BatchSize int

	// EnsureExclusiveMembership makes Enqueue a no-op when the same item
	// identity is already pending. Items are compared with ==, so pointer
	// and handle types get reference-identity semantics.
	EnsureExclusiveMembership bool

	// Logger receives lifecycle events. Defaults to NoOpLogger.
	Logger Logger

	// Metrics receives queue activity events. Defaults to NilMetrics.
	Metrics Metrics
}

// DefaultQueueConfig returns the configuration used when nil is passed to
// NewCoalescingQueue: batch size 1, exclusive membership enabled.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		BatchSize:                 1,
		EnsureExclusiveMembership: true,
	}
}

// QueueStats is a point-in-time snapshot of queue activity counters.
type QueueStats struct {
	Name      string
	Depth     int
	Enqueued  uint64
	Coalesced uint64
	Drains    uint64
	Processed uint64
	Dropped   uint64
	Closed    bool
}

// CoalescingQueue defers and throttles processing of opaque work items.
//
// Producers on any goroutine call Enqueue; the host loop the queue is bound
// to drains pending items in bounded batches at its idle points. Consumption
// is serialized on the loop goroutine and the internal lock is never held
// while the consumer runs, so a consumer may re-enqueue into the same queue.
//
// A queue with a nil consumer operates in sink mode: each drain cycle
// discards the entire pending buffer without invoking anything. This is the
// throttled "collect and drop" mode used for deferred object release.
//
// The element type is constrained to comparable so the exclusive membership
// scan can compare identities with ==. Use pointer or handle types; with an
// interface element type the caller must only enqueue comparable dynamic
// values while exclusive membership is enabled.
type CoalescingQueue[T comparable] struct {
	name      string
	consumer  Consumer[T]
	batchSize int
	exclusive bool
	logger    Logger
	metrics   Metrics

	binding *loopBinding

	mu    sync.Mutex
	items []T

	closed    atomic.Bool
	closeOnce sync.Once

	// Activity counters, exported via Stats()
	enqueued  atomic.Uint64
	coalesced atomic.Uint64
	drains    atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewCoalescingQueue creates a queue bound to loop. The binding is fixed for
// the queue's lifetime: an idle observer invoking the drain cycle plus a
// manual wake source are registered up front, and construction fails if the
// loop rejects either registration.
//
// consumer may be nil, which puts the queue in sink mode (see type docs).
// cfg may be nil, in which case DefaultQueueConfig is used.
func NewCoalescingQueue[T comparable](loop HostLoop, consumer Consumer[T], cfg *QueueConfig) (*CoalescingQueue[T], error) {
	if loop == nil {
		return nil, ErrNilLoop
	}
	if cfg == nil {
		cfg = DefaultQueueConfig()
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, cfg.BatchSize)
	}

	q := &CoalescingQueue[T]{
		name:      cfg.Name,
		consumer:  consumer,
		batchSize: cfg.BatchSize,
		exclusive: cfg.EnsureExclusiveMembership,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		items:     make([]T, 0, defaultQueueCap),
	}
	if q.name == "" {
		q.name = "queue"
	}
	if q.logger == nil {
		q.logger = NewNoOpLogger()
	}
	if q.metrics == nil {
		q.metrics = &NilMetrics{}
	}

	binding, err := bindToLoop(loop, q.drainBatch)
	if err != nil {
		return nil, fmt.Errorf("bind queue %s to loop: %w", q.name, err)
	}
	q.binding = binding

	return q, nil
}

// Name returns the queue's configured name.
func (q *CoalescingQueue[T]) Name() string {
	return q.name
}

// Enqueue appends item to the pending buffer and wakes the host loop.
//
// Callable from any goroutine. A zero-value item (nil pointer, nil
// interface) is a silent no-op. When exclusive membership is enabled and the
// same identity is already pending, the call is a no-op and no wake is
// raised. Enqueue after Close drops the item.
func (q *CoalescingQueue[T]) Enqueue(item T) {
	var zero T
	if item == zero {
		return
	}
	if q.closed.Load() {
		return
	}

	q.mu.Lock()
	if q.exclusive {
		for _, existing := range q.items {
			if existing == item {
				q.mu.Unlock()
				q.coalesced.Add(1)
				q.metrics.RecordCoalesced(q.name)
				return
			}
		}
	}
	q.items = append(q.items, item)
	depth := len(q.items)
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.metrics.RecordEnqueue(q.name)
	q.metrics.RecordQueueDepth(q.name, depth)

	// Raised outside the lock so a waking loop never contends with the
	// producer for the buffer.
	q.binding.wake()
}

// drainBatch pops and processes up to batchSize pending items. It is invoked
// only from the owning loop goroutine, via the idle observer registered at
// construction, which is what serializes consumption without a lock.
func (q *CoalescingQueue[T]) drainBatch() {
	if q.consumer == nil {
		q.drainSink()
		return
	}

	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}

	n := min(q.batchSize, len(q.items))
	batch := make([]T, n)
	copy(batch, q.items[:n])

	// Zero out the popped slots in the underlying array to prevent memory leak
	var zero T
	for i := range n {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	q.maybeCompactLocked()

	remaining := len(q.items)
	drained := remaining == 0
	q.mu.Unlock()

	q.drains.Add(1)
	q.metrics.RecordBatchDrain(q.name, n, drained)
	q.metrics.RecordQueueDepth(q.name, remaining)

	if !drained {
		// Deferred so a panicking consumer aborts the rest of this batch
		// (fatal to the turn) without starving the remaining backlog.
		defer q.binding.wake()
	}

	for _, item := range batch {
		q.processed.Add(1)
		q.consumer(item, drained)
	}
}

// drainSink discards the entire pending buffer. Sink mode is not batched:
// the throttle is the loop's own turn cadence.
func (q *CoalescingQueue[T]) drainSink() {
	q.mu.Lock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	q.maybeCompactLocked()
	q.mu.Unlock()

	if n == 0 {
		return
	}
	q.drains.Add(1)
	q.dropped.Add(uint64(n))
	q.metrics.RecordItemsDropped(q.name, n, "sink")
	q.metrics.RecordQueueDepth(q.name, 0)
}

func (q *CoalescingQueue[T]) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]T, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]T, n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

// Len returns the current pending buffer depth.
func (q *CoalescingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty returns true if no items are pending.
func (q *CoalescingQueue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// IsClosed returns true if the queue has been closed.
func (q *CoalescingQueue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Stats returns a snapshot of queue activity counters.
func (q *CoalescingQueue[T]) Stats() QueueStats {
	return QueueStats{
		Name:      q.name,
		Depth:     q.Len(),
		Enqueued:  q.enqueued.Load(),
		Coalesced: q.coalesced.Load(),
		Drains:    q.drains.Load(),
		Processed: q.processed.Load(),
		Dropped:   q.dropped.Load(),
		Closed:    q.closed.Load(),
	}
}

// Close deregisters the queue's idle observer and wake source from its host
// loop and drops any pending items without delivering them to the consumer.
// Idempotent; calling Close again is a no-op. A drain cycle already running
// on the loop goroutine finishes normally.
func (q *CoalescingQueue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		q.binding.teardown()

		q.mu.Lock()
		n := len(q.items)
		clear(q.items)
		q.items = nil
		q.mu.Unlock()

		if n > 0 {
			q.dropped.Add(uint64(n))
			q.metrics.RecordItemsDropped(q.name, n, "close")
			q.logger.Warn("queue closed with undelivered items",
				F("queue", q.name), F("dropped", n))
		}
		q.metrics.RecordQueueDepth(q.name, 0)
	})
}
