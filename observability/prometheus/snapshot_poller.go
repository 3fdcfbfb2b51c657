package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/meanreaksmey/go-runloop-queue/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// QueueSnapshotProvider provides current queue stats snapshots.
type QueueSnapshotProvider interface {
	Stats() core.QueueStats
}

// LoopSnapshotProvider provides current loop stats snapshots.
type LoopSnapshotProvider interface {
	Stats() core.LoopStats
}

// SnapshotPoller periodically exports queue/loop Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	queuesMu sync.RWMutex
	queues   map[string]QueueSnapshotProvider

	loopsMu sync.RWMutex
	loops   map[string]LoopSnapshotProvider

	queuePending   *prom.GaugeVec
	queueEnqueued  *prom.GaugeVec
	queueCoalesced *prom.GaugeVec
	queueProcessed *prom.GaugeVec
	queueDropped   *prom.GaugeVec
	queueClosed    *prom.GaugeVec

	loopTurns   *prom.GaugeVec
	loopWakes   *prom.GaugeVec
	loopPosted  *prom.GaugeVec
	loopPanics  *prom.GaugeVec
	loopRunning *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queuePending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "queue_pending",
		Help:      "Number of pending items per queue.",
	}, []string{"queue"})
	queueEnqueued := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "queue_enqueued_total",
		Help:      "Queue enqueued count snapshot.",
	}, []string{"queue"})
	queueCoalesced := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "queue_coalesced_total",
		Help:      "Queue exclusive membership hit count snapshot.",
	}, []string{"queue"})
	queueProcessed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "queue_processed_total",
		Help:      "Queue processed item count snapshot.",
	}, []string{"queue"})
	queueDropped := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "queue_dropped_total",
		Help:      "Queue undelivered discard count snapshot.",
	}, []string{"queue"})
	queueClosed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "queue_closed",
		Help:      "Queue closed state (1=closed, 0=open).",
	}, []string{"queue"})

	loopTurns := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "loop_turns_total",
		Help:      "Loop turn count snapshot.",
	}, []string{"loop"})
	loopWakes := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "loop_wakes_total",
		Help:      "Loop manual wake count snapshot.",
	}, []string{"loop"})
	loopPosted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "loop_posted_total",
		Help:      "Loop posted closure count snapshot.",
	}, []string{"loop"})
	loopPanics := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "loop_panics_total",
		Help:      "Loop recovered panic count snapshot.",
	}, []string{"loop"})
	loopRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "runloopqueue",
		Name:      "loop_running",
		Help:      "Loop running state (1=running, 0=stopped).",
	}, []string{"loop"})

	var err error
	if queuePending, err = registerCollector(reg, queuePending); err != nil {
		return nil, err
	}
	if queueEnqueued, err = registerCollector(reg, queueEnqueued); err != nil {
		return nil, err
	}
	if queueCoalesced, err = registerCollector(reg, queueCoalesced); err != nil {
		return nil, err
	}
	if queueProcessed, err = registerCollector(reg, queueProcessed); err != nil {
		return nil, err
	}
	if queueDropped, err = registerCollector(reg, queueDropped); err != nil {
		return nil, err
	}
	if queueClosed, err = registerCollector(reg, queueClosed); err != nil {
		return nil, err
	}
	if loopTurns, err = registerCollector(reg, loopTurns); err != nil {
		return nil, err
	}
	if loopWakes, err = registerCollector(reg, loopWakes); err != nil {
		return nil, err
	}
	if loopPosted, err = registerCollector(reg, loopPosted); err != nil {
		return nil, err
	}
	if loopPanics, err = registerCollector(reg, loopPanics); err != nil {
		return nil, err
	}
	if loopRunning, err = registerCollector(reg, loopRunning); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		queues:         make(map[string]QueueSnapshotProvider),
		loops:          make(map[string]LoopSnapshotProvider),
		queuePending:   queuePending,
		queueEnqueued:  queueEnqueued,
		queueCoalesced: queueCoalesced,
		queueProcessed: queueProcessed,
		queueDropped:   queueDropped,
		queueClosed:    queueClosed,
		loopTurns:      loopTurns,
		loopWakes:      loopWakes,
		loopPosted:     loopPosted,
		loopPanics:     loopPanics,
		loopRunning:    loopRunning,
	}, nil
}

// AddQueue adds or replaces a queue snapshot provider by name.
func (p *SnapshotPoller) AddQueue(name string, provider QueueSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.queuesMu.Lock()
	p.queues[name] = provider
	p.queuesMu.Unlock()
}

// AddLoop adds or replaces a loop snapshot provider by name.
func (p *SnapshotPoller) AddLoop(name string, provider LoopSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "loop")
	p.loopsMu.Lock()
	p.loops[name] = provider
	p.loopsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.queuesMu.RLock()
	for name, provider := range p.queues {
		stats := provider.Stats()
		p.queuePending.WithLabelValues(name).Set(float64(stats.Depth))
		p.queueEnqueued.WithLabelValues(name).Set(float64(stats.Enqueued))
		p.queueCoalesced.WithLabelValues(name).Set(float64(stats.Coalesced))
		p.queueProcessed.WithLabelValues(name).Set(float64(stats.Processed))
		p.queueDropped.WithLabelValues(name).Set(float64(stats.Dropped))
		if stats.Closed {
			p.queueClosed.WithLabelValues(name).Set(1)
		} else {
			p.queueClosed.WithLabelValues(name).Set(0)
		}
	}
	p.queuesMu.RUnlock()

	p.loopsMu.RLock()
	for name, provider := range p.loops {
		stats := provider.Stats()
		p.loopTurns.WithLabelValues(name).Set(float64(stats.Turns))
		p.loopWakes.WithLabelValues(name).Set(float64(stats.Wakes))
		p.loopPosted.WithLabelValues(name).Set(float64(stats.Posted))
		p.loopPanics.WithLabelValues(name).Set(float64(stats.Panics))
		if stats.Running {
			p.loopRunning.WithLabelValues(name).Set(1)
		} else {
			p.loopRunning.WithLabelValues(name).Set(0)
		}
	}
	p.loopsMu.RUnlock()
}
