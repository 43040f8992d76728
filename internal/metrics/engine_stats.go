package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BaSui01/agentgraph/graph"
)

// StatsSource reports engine totals. *graph.Engine implements it.
type StatsSource interface {
	GetStats() graph.Stats
}

// executionStatuses are always reported so dashboards see explicit zeros.
var executionStatuses = []graph.ExecutionStatus{
	graph.ExecutionStatusPending,
	graph.ExecutionStatusRunning,
	graph.ExecutionStatusWaitingInput,
	graph.ExecutionStatusCompleted,
	graph.ExecutionStatusFailed,
}

// EngineStatsCollector exposes graph.Stats as gauges computed at scrape time.
type EngineStatsCollector struct {
	source StatsSource

	graphs      *prometheus.Desc
	handlers    *prometheus.Desc
	executions  *prometheus.Desc
	pending     *prometheus.Desc
	checkpoints *prometheus.Desc
}

// NewEngineStatsCollector creates a collector over source.
func NewEngineStatsCollector(namespace string, source StatsSource) *EngineStatsCollector {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "graph", n) }
	return &EngineStatsCollector{
		source:      source,
		graphs:      prometheus.NewDesc(name("registered_graphs"), "Number of registered graphs", nil, nil),
		handlers:    prometheus.NewDesc(name("registered_handlers"), "Number of registered handlers", nil, nil),
		executions:  prometheus.NewDesc(name("resident_executions"), "Resident executions by status", []string{"status"}, nil),
		pending:     prometheus.NewDesc(name("pending_human_inputs"), "Open approval requests", nil, nil),
		checkpoints: prometheus.NewDesc(name("resident_checkpoints"), "Checkpoints held in memory", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *EngineStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.graphs
	ch <- c.handlers
	ch <- c.executions
	ch <- c.pending
	ch <- c.checkpoints
}

// Collect implements prometheus.Collector.
func (c *EngineStatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.GetStats()
	ch <- prometheus.MustNewConstMetric(c.graphs, prometheus.GaugeValue, float64(s.RegisteredGraphs))
	ch <- prometheus.MustNewConstMetric(c.handlers, prometheus.GaugeValue, float64(len(s.RegisteredHandlers)))
	for _, st := range executionStatuses {
		ch <- prometheus.MustNewConstMetric(c.executions, prometheus.GaugeValue,
			float64(s.ExecutionsByStatus[st]), string(st))
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(s.PendingInputs))
	ch <- prometheus.MustNewConstMetric(c.checkpoints, prometheus.GaugeValue, float64(s.Checkpoints))
}
