package core

import (
	"fmt"
)

// =============================================================================
// PanicHandler: Interface for handling panics raised on a run loop
// =============================================================================

// PanicHandler is called when a work item or idle observer panics on a RunLoop.
// This allows custom panic handling, logging, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently
// when multiple loops share one handler.
type PanicHandler interface {
	// HandlePanic is called when a turn unit panics.
	//
	// Parameters:
	// - loopName: The name of the run loop where the panic occurred
	// - panicInfo: The panic value recovered from the turn unit
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(loopName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(loopName string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[RunLoop %s] Panic: %v\nStack trace:\n%s",
		loopName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting queue activity metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// All methods are optional; implementations should handle nil receivers gracefully.
// Methods should be non-blocking and fast to avoid impacting enqueue/drain performance.
type Metrics interface {
	// RecordEnqueue records that an item was appended to the pending buffer.
	RecordEnqueue(queueName string)

	// RecordCoalesced records that an enqueue was dropped because the same
	// item identity was already pending (exclusive membership hit).
	RecordCoalesced(queueName string)

	// RecordBatchDrain records one drain cycle.
	//
	// Parameters:
	// - queueName: The name of the queue
	// - batchSize: The number of items popped in this cycle
	// - drained: Whether the pending buffer was empty after the pop
	RecordBatchDrain(queueName string, batchSize int, drained bool)

	// RecordQueueDepth records the current pending buffer depth.
	RecordQueueDepth(queueName string, depth int)

	// RecordItemsDropped records items discarded without being delivered to a
	// consumer (sink drains, or undelivered items at queue close).
	//
	// Parameters:
	// - queueName: The name of the queue
	// - count: How many items were discarded
	// - reason: Why they were discarded (e.g., "sink", "close")
	RecordItemsDropped(queueName string, count int, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordEnqueue is a no-op.
func (m *NilMetrics) RecordEnqueue(queueName string) {
}

// RecordCoalesced is a no-op.
func (m *NilMetrics) RecordCoalesced(queueName string) {
}

// RecordBatchDrain is a no-op.
func (m *NilMetrics) RecordBatchDrain(queueName string, batchSize int, drained bool) {
}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(queueName string, depth int) {
}

// RecordItemsDropped is a no-op.
func (m *NilMetrics) RecordItemsDropped(queueName string, count int, reason string) {
}
