// Package metrics exposes the fleet's operational state as Prometheus
// gauges/counters and keeps a bounded in-memory history of snapshots
// for the dashboard to replay without re-querying every subsystem.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is one point-in-time capture of fleet-wide metrics.
type Snapshot struct {
	Timestamp       time.Time
	QueueDepth      int
	TrustHistogram  map[string]int // trust.Level -> count
	OrderParameter  float64
	QuarantineCount int
}

// Collector owns the Prometheus gauges/counters and a bounded history
// ring buffer of Snapshots.
type Collector struct {
	mu         sync.RWMutex
	history    []Snapshot
	maxHistory int

	queueDepth      prometheus.Gauge
	orderParameter  prometheus.Gauge
	quarantineCount prometheus.Gauge
	trustHistogram  *prometheus.GaugeVec
	tasksCompleted  prometheus.Counter
	tasksFailed     prometheus.Counter
}

// NewCollector constructs a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		maxHistory: 1000,
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleet",
			Name:      "dispatcher_queue_depth",
			Help:      "Number of tasks currently queued for dispatch.",
		}),
		orderParameter: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleet",
			Name:      "oscillator_order_parameter",
			Help:      "Kuramoto order parameter r in [0,1] across the oscillator bus.",
		}),
		quarantineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleet",
			Name:      "agents_quarantined",
			Help:      "Number of agents currently quarantined.",
		}),
		trustHistogram: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleet",
			Name:      "agents_by_trust_level",
			Help:      "Number of agents at each trust classification.",
		}, []string{"level"}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "tasks_completed_total",
			Help:      "Total tasks completed by the dispatcher.",
		}),
		tasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleet",
			Name:      "tasks_failed_total",
			Help:      "Total tasks that failed terminally.",
		}),
	}

	reg.MustRegister(c.queueDepth, c.orderParameter, c.quarantineCount, c.trustHistogram, c.tasksCompleted, c.tasksFailed)
	return c
}

// RecordTaskCompleted increments the completed-tasks counter.
func (c *Collector) RecordTaskCompleted() {
	c.tasksCompleted.Inc()
}

// RecordTaskFailed increments the failed-tasks counter.
func (c *Collector) RecordTaskFailed() {
	c.tasksFailed.Inc()
}

// Observe records a fresh Snapshot: it updates the live gauges and
// appends to the bounded history, evicting the oldest entry once
// maxHistory is exceeded.
func (c *Collector) Observe(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s.Timestamp = time.Now()
	c.queueDepth.Set(float64(s.QueueDepth))
	c.orderParameter.Set(s.OrderParameter)
	c.quarantineCount.Set(float64(s.QuarantineCount))
	for level, count := range s.TrustHistogram {
		c.trustHistogram.WithLabelValues(level).Set(float64(count))
	}

	c.history = append(c.history, s)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}
}

// History returns a defensive copy of the retained snapshot history.
func (c *Collector) History() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ResetHistory clears the retained snapshot history without touching
// the live Prometheus gauges.
func (c *Collector) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}
