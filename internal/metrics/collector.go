// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时作为引擎观察者记录图执行事件
type Collector struct {
	graph.NopObserver

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 图执行指标
	executionsStarted  *prometheus.CounterVec
	executionsStopped  *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	nodeExecutions     *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec
	checkpointsCreated *prometheus.CounterVec
	inputsRequested    prometheus.Counter
	inputsResolved     *prometheus.CounterVec
	executionsEvicted  prometheus.Counter

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 图执行指标
	c.executionsStarted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_executions_started_total",
			Help:      "Total number of walks started, including resumes",
		},
		[]string{"graph_id"},
	)

	c.executionsStopped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_executions_stopped_total",
			Help:      "Total number of walks stopped, by resulting status",
		},
		[]string{"graph_id", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_execution_duration_seconds",
			Help:      "Wall time from execution start to completion or failure",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"graph_id", "status"},
	)

	c.nodeExecutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_node_executions_total",
			Help:      "Total number of node dispatches",
		},
		[]string{"node_type", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_node_duration_seconds",
			Help:      "Node dispatch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node_type"},
	)

	c.checkpointsCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_checkpoints_created_total",
			Help:      "Total number of checkpoints created",
		},
		[]string{"graph_id"},
	)

	c.inputsRequested = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_human_inputs_requested_total",
			Help:      "Total number of approval requests opened",
		},
	)

	c.inputsResolved = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_human_inputs_resolved_total",
			Help:      "Total number of approval requests answered or expired",
		},
		[]string{"status", "response"},
	)

	c.executionsEvicted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_executions_evicted_total",
			Help:      "Total number of executions removed by retention",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🕸️ 图执行指标（graph.Observer）
// =============================================================================

// ExecutionStarted 记录一次遍历开始
func (c *Collector) ExecutionStarted(exec *graph.GraphExecution) {
	c.executionsStarted.WithLabelValues(exec.GraphID).Inc()
}

// ExecutionStopped 记录遍历停止；终态时记录总耗时
func (c *Collector) ExecutionStopped(exec *graph.GraphExecution) {
	status := string(exec.Status)
	c.executionsStopped.WithLabelValues(exec.GraphID, status).Inc()
	if exec.Status.Terminal() && exec.CompletedAt != nil {
		c.executionDuration.WithLabelValues(exec.GraphID, status).
			Observe(exec.CompletedAt.Sub(exec.StartedAt).Seconds())
	}
}

// NodeFinished 记录节点分派结果
func (c *Collector) NodeFinished(_ string, rec *graph.NodeExecution) {
	nodeType := string(rec.NodeType)
	c.nodeExecutions.WithLabelValues(nodeType, string(rec.Status)).Inc()
	if rec.CompletedAt != nil {
		c.nodeDuration.WithLabelValues(nodeType).Observe(rec.CompletedAt.Sub(rec.StartedAt).Seconds())
	}
}

// CheckpointCreated 记录检查点
func (c *Collector) CheckpointCreated(cp *graph.Checkpoint) {
	c.checkpointsCreated.WithLabelValues(cp.GraphID).Inc()
}

// InputRequested 记录审批请求
func (c *Collector) InputRequested(*graph.HumanInputRequest) {
	c.inputsRequested.Inc()
}

// InputResolved 记录审批请求的结果
func (c *Collector) InputResolved(req *graph.HumanInputRequest) {
	c.inputsResolved.WithLabelValues(string(req.Status), req.Response).Inc()
}

// ExecutionsEvicted 记录保留策略淘汰的执行数
func (c *Collector) ExecutionsEvicted(n int) {
	c.executionsEvicted.Add(float64(n))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

var _ graph.Observer = (*Collector)(nil)
