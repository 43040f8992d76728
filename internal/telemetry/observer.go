package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
)

// =============================================================================
// 🔭 Graph execution tracing
// =============================================================================

// Observer turns engine events into spans and OTel instruments.
// Each walk gets a root span; node executions become child spans carrying the
// timestamps recorded by the engine, and approval events are span events.
type Observer struct {
	graph.NopObserver

	tracer trace.Tracer
	logger *zap.Logger

	nodeCount    metric.Int64Counter
	nodeDuration metric.Float64Histogram
	inputCount   metric.Int64Counter

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewObserver builds an Observer. Pass p.Tracer() and p.Meter() in production.
func NewObserver(tracer trace.Tracer, meter metric.Meter, logger *zap.Logger) (*Observer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Observer{
		tracer: tracer,
		logger: logger.With(zap.String("component", "telemetry_observer")),
		spans:  make(map[string]trace.Span),
	}

	var err error
	if o.nodeCount, err = meter.Int64Counter("agentgraph.node.executions",
		metric.WithDescription("Node executions by type and status")); err != nil {
		return nil, fmt.Errorf("create node counter: %w", err)
	}
	if o.nodeDuration, err = meter.Float64Histogram("agentgraph.node.duration",
		metric.WithDescription("Node execution duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("create node histogram: %w", err)
	}
	if o.inputCount, err = meter.Int64Counter("agentgraph.human_input.events",
		metric.WithDescription("Human input requests by lifecycle event")); err != nil {
		return nil, fmt.Errorf("create input counter: %w", err)
	}
	return o, nil
}

func executionAttrs(exec *graph.GraphExecution) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("graph.id", exec.GraphID),
		attribute.String("graph.execution.id", exec.ID),
	}
}

// ExecutionStarted opens the walk span.
func (o *Observer) ExecutionStarted(exec *graph.GraphExecution) {
	_, span := o.tracer.Start(context.Background(), "graph.execution",
		trace.WithTimestamp(exec.StartedAt),
		trace.WithAttributes(executionAttrs(exec)...),
	)
	o.mu.Lock()
	if prev, ok := o.spans[exec.ID]; ok {
		prev.End()
	}
	o.spans[exec.ID] = span
	o.mu.Unlock()
}

// ExecutionStopped closes the walk span. A walk the observer never saw start,
// such as one driven by Resume, gets a span covering its whole lifetime.
func (o *Observer) ExecutionStopped(exec *graph.GraphExecution) {
	o.mu.Lock()
	span, ok := o.spans[exec.ID]
	delete(o.spans, exec.ID)
	o.mu.Unlock()

	if !ok {
		_, span = o.tracer.Start(context.Background(), "graph.execution",
			trace.WithTimestamp(exec.StartedAt),
			trace.WithAttributes(executionAttrs(exec)...),
		)
	}

	span.SetAttributes(
		attribute.String("graph.execution.status", string(exec.Status)),
		attribute.Int("graph.execution.nodes", exec.History.Len()),
	)
	if exec.Status == graph.ExecutionStatusFailed {
		span.SetStatus(codes.Error, exec.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	end := exec.UpdatedAt
	if exec.CompletedAt != nil {
		end = *exec.CompletedAt
	}
	span.End(trace.WithTimestamp(end))
}

// NodeFinished records the node as a child of the walk span.
func (o *Observer) NodeFinished(executionID string, rec *graph.NodeExecution) {
	attrs := []attribute.KeyValue{
		attribute.String("graph.node.type", string(rec.NodeType)),
		attribute.String("graph.node.status", string(rec.Status)),
	}
	o.nodeCount.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	o.nodeDuration.Record(context.Background(), float64(rec.DurationMs),
		metric.WithAttributes(attrs[0]))

	ctx := o.parent(executionID)
	_, span := o.tracer.Start(ctx, "graph.node "+rec.NodeID,
		trace.WithTimestamp(rec.StartedAt),
		trace.WithAttributes(append(attrs,
			attribute.String("graph.execution.id", executionID),
			attribute.String("graph.node.id", rec.NodeID),
			attribute.Int("graph.node.iteration", rec.Iteration),
			attribute.Int("graph.node.sequence", rec.Sequence),
		)...),
	)
	if rec.Status == graph.NodeStatusFailed {
		span.SetStatus(codes.Error, rec.Error)
	}
	end := rec.StartedAt.Add(time.Duration(rec.DurationMs) * time.Millisecond)
	if rec.CompletedAt != nil {
		end = *rec.CompletedAt
	}
	span.End(trace.WithTimestamp(end))
}

// CheckpointCreated adds an event to the walk span.
func (o *Observer) CheckpointCreated(cp *graph.Checkpoint) {
	o.event(cp.ExecutionID, "checkpoint",
		attribute.String("graph.checkpoint.id", cp.ID),
		attribute.String("graph.node.id", cp.NodeID),
		attribute.Int("graph.checkpoint.sequence", cp.Sequence),
	)
}

// InputRequested counts the request and marks the walk span.
func (o *Observer) InputRequested(req *graph.HumanInputRequest) {
	o.inputCount.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", "requested")))
	o.event(req.ExecutionID, "human_input.requested",
		attribute.String("graph.input.id", req.ID),
		attribute.String("graph.node.id", req.NodeID),
	)
}

// InputResolved counts answered and expired requests.
func (o *Observer) InputResolved(req *graph.HumanInputRequest) {
	o.inputCount.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("event", string(req.Status)),
		attribute.String("response", req.Response),
	))
	o.event(req.ExecutionID, "human_input."+string(req.Status),
		attribute.String("graph.input.id", req.ID),
		attribute.String("graph.input.response", req.Response),
	)
}

// ExecutionsEvicted logs the sweep; evicted executions have already stopped.
func (o *Observer) ExecutionsEvicted(n int) {
	o.logger.Debug("executions evicted", zap.Int("count", n))
}

// OpenSpans returns the number of walks in flight.
func (o *Observer) OpenSpans() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.spans)
}

func (o *Observer) parent(executionID string) context.Context {
	o.mu.Lock()
	span, ok := o.spans[executionID]
	o.mu.Unlock()
	if !ok {
		return context.Background()
	}
	return trace.ContextWithSpan(context.Background(), span)
}

func (o *Observer) event(executionID, name string, attrs ...attribute.KeyValue) {
	o.mu.Lock()
	span, ok := o.spans[executionID]
	o.mu.Unlock()
	if ok {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
