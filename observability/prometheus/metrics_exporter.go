package prometheus

import (
	"errors"
	"fmt"

	"github.com/meanreaksmey/go-runloop-queue/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	BatchSizeBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	enqueueTotal    *prom.CounterVec
	coalescedTotal  *prom.CounterVec
	batchDrainTotal *prom.CounterVec
	batchSize       *prom.HistogramVec
	droppedTotal    *prom.CounterVec
	queueDepth      *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = "runloopqueue"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.BatchSizeBuckets
	if len(buckets) == 0 {
		buckets = []float64{1, 2, 4, 8, 16, 32, 64}
	}

	enqueueVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "enqueue_total",
		Help:      "Total number of items appended to the pending buffer.",
	}, []string{"queue"})
	coalescedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "coalesced_total",
		Help:      "Total number of enqueues dropped by exclusive membership.",
	}, []string{"queue"})
	drainVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "batch_drain_total",
		Help:      "Total number of drain cycles.",
	}, []string{"queue", "drained"})
	sizeVec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size",
		Help:      "Number of items popped per drain cycle.",
		Buckets:   buckets,
	}, []string{"queue"})
	droppedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "items_dropped_total",
		Help:      "Total number of items discarded without consumer delivery.",
	}, []string{"queue", "reason"})
	depthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current pending buffer depth.",
	}, []string{"queue"})

	var err error
	if enqueueVec, err = registerCollector(reg, enqueueVec); err != nil {
		return nil, err
	}
	if coalescedVec, err = registerCollector(reg, coalescedVec); err != nil {
		return nil, err
	}
	if drainVec, err = registerCollector(reg, drainVec); err != nil {
		return nil, err
	}
	if sizeVec, err = registerCollector(reg, sizeVec); err != nil {
		return nil, err
	}
	if droppedVec, err = registerCollector(reg, droppedVec); err != nil {
		return nil, err
	}
	if depthVec, err = registerCollector(reg, depthVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		enqueueTotal:    enqueueVec,
		coalescedTotal:  coalescedVec,
		batchDrainTotal: drainVec,
		batchSize:       sizeVec,
		droppedTotal:    droppedVec,
		queueDepth:      depthVec,
	}, nil
}

// RecordEnqueue records an appended item.
func (m *MetricsExporter) RecordEnqueue(queueName string) {
	if m == nil {
		return
	}
	m.enqueueTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

// RecordCoalesced records an exclusive membership hit.
func (m *MetricsExporter) RecordCoalesced(queueName string) {
	if m == nil {
		return
	}
	m.coalescedTotal.WithLabelValues(normalizeLabel(queueName, "unknown")).Inc()
}

// RecordBatchDrain records one drain cycle.
func (m *MetricsExporter) RecordBatchDrain(queueName string, batchSize int, drained bool) {
	if m == nil {
		return
	}
	queue := normalizeLabel(queueName, "unknown")
	m.batchDrainTotal.WithLabelValues(queue, drainedLabel(drained)).Inc()
	m.batchSize.WithLabelValues(queue).Observe(float64(batchSize))
}

// RecordQueueDepth records the pending buffer depth.
func (m *MetricsExporter) RecordQueueDepth(queueName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(queueName, "unknown")).Set(float64(depth))
}

// RecordItemsDropped records undelivered item discards.
func (m *MetricsExporter) RecordItemsDropped(queueName string, count int, reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(normalizeLabel(queueName, "unknown"), normalizeLabel(reason, "unknown")).Add(float64(count))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func drainedLabel(drained bool) string {
	if drained {
		return "true"
	}
	return "false"
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
