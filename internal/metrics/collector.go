// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the Prometheus instruments for the workflow
// engine. Each engine owns one collector; passing a nil registerer
// creates an isolated registry, which keeps parallel tests from
// colliding on metric names.
type Collector struct {
	nodeExecutionsTotal  *prometheus.CounterVec
	nodeDurationSeconds  *prometheus.HistogramVec
	checkpointSavesTotal *prometheus.CounterVec
	routingFallbacks     *prometheus.CounterVec
	interruptsTotal      *prometheus.CounterVec
	activeRuns           prometheus.Gauge

	registry prometheus.Registerer
	logger   *zap.Logger
}

// NewCollector creates a collector registered on reg.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node handler executions",
		},
		[]string{"node", "status"},
	)

	c.nodeDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node handler execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node"},
	)

	c.checkpointSavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Total number of checkpoint save attempts",
		},
		[]string{"status"},
	)

	c.routingFallbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_fallbacks_total",
			Help:      "Total number of routing decisions that fell back to the default target",
		},
		[]string{"node"},
	)

	c.interruptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of workflow interrupts raised",
		},
		[]string{"node"},
	)

	c.activeRuns = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of workflow runs currently executing",
		},
	)

	return c
}

// RecordNodeExecution records one handler execution with its outcome.
func (c *Collector) RecordNodeExecution(node, status string, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(node, status).Inc()
	c.nodeDurationSeconds.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordCheckpointSave records a checkpoint save attempt.
func (c *Collector) RecordCheckpointSave(status string) {
	c.checkpointSavesTotal.WithLabelValues(status).Inc()
}

// RecordRoutingFallback records a router key that missed the declared
// target set.
func (c *Collector) RecordRoutingFallback(node string) {
	c.routingFallbacks.WithLabelValues(node).Inc()
}

// RecordInterrupt records a suspension raised by a node.
func (c *Collector) RecordInterrupt(node string) {
	c.interruptsTotal.WithLabelValues(node).Inc()
}

// RunStarted and RunFinished track the active run gauge.
func (c *Collector) RunStarted()  { c.activeRuns.Inc() }
func (c *Collector) RunFinished() { c.activeRuns.Dec() }
