package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph/expr"
)

// Engine runs registered graphs. Each Execute call owns its execution; the
// engine keeps executions resident until the retention sweeper evicts them.
type Engine struct {
	cfg       Config
	handlers  *HandlerRegistry
	graphs    *GraphRegistry
	evaluator *expr.Evaluator
	resident  *MemoryCheckpointStore
	durable   CheckpointStore
	listeners []CheckpointListener
	observer  observers
	inputs    *inputGateway
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	runs   map[string]*run
	seq    uint64
	closed bool

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// run is the resident form of one execution.
type run struct {
	mu      sync.Mutex
	seq     uint64
	exec    *GraphExecution
	graph   *Graph
	driving bool
	// set once retention has dropped the run
	evicted bool
	// completed-record count when the last checkpoint was taken
	ckptMark int
}

// Option configures an Engine.
type Option func(*Engine)

// WithHandlerRegistry shares a handler registry between engines.
func WithHandlerRegistry(r *HandlerRegistry) Option {
	return func(e *Engine) { e.handlers = r }
}

// WithGraphRegistry shares a graph registry between engines.
func WithGraphRegistry(r *GraphRegistry) Option {
	return func(e *Engine) { e.graphs = r }
}

// WithCheckpointStore attaches a durable store. Every checkpoint is written to
// it, and lookups that miss the resident store fall back to it.
func WithCheckpointStore(s CheckpointStore) Option {
	return func(e *Engine) { e.durable = s }
}

// WithCheckpointListener subscribes fn to checkpoint creation.
func WithCheckpointListener(fn CheckpointListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, fn) }
}

// WithObserver subscribes o to engine events.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = append(e.observer, o) }
}

// WithPredicates sets the evaluator used for conditions and loop conditions.
func WithPredicates(ev *expr.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	e := &Engine{
		cfg:      cfg,
		resident: NewMemoryCheckpointStore(),
		inputs:   newInputGateway(),
		runs:     make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.handlers == nil {
		e.handlers = NewHandlerRegistry()
	}
	if e.graphs == nil {
		e.graphs = NewGraphRegistry()
	}
	if e.evaluator == nil {
		e.evaluator = expr.NewEvaluator()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.logger = e.logger.With(zap.String("component", "graph_engine"))
	return e, nil
}

// Config returns the engine limits.
func (e *Engine) Config() Config { return e.cfg }

// Handlers returns the handler registry.
func (e *Engine) Handlers() *HandlerRegistry { return e.handlers }

// Predicates returns the expression evaluator.
func (e *Engine) Predicates() *expr.Evaluator { return e.evaluator }

// RegisterHandler binds a handler name.
func (e *Engine) RegisterHandler(name string, fn HandlerFunc) error {
	return e.handlers.Register(name, fn)
}

// ListHandlers returns the registered handler names sorted.
func (e *Engine) ListHandlers() []string { return e.handlers.Names() }

// RegisterGraph stores nodes under graphID in declaration order. Structural
// validation runs only when the engine is configured with ValidateGraphs.
func (e *Engine) RegisterGraph(graphID string, nodes []GraphNode) error {
	normalized := make([]GraphNode, len(nodes))
	for i, n := range nodes {
		normalized[i] = e.applyNodeDefaults(n)
	}
	if e.cfg.ValidateGraphs {
		if err := ValidateNodes(normalized, e.evaluator); err != nil {
			return err
		}
	}
	if _, err := e.graphs.Register(graphID, normalized); err != nil {
		return err
	}
	e.logger.Info("graph registered", zap.String("graph_id", graphID), zap.Int("nodes", len(nodes)))
	return nil
}

func (e *Engine) applyNodeDefaults(n GraphNode) GraphNode {
	if n.Name == "" {
		n.Name = n.ID
	}
	if n.Type == "" {
		n.Type = NodeTypeAction
	}
	if n.MaxIterations == 0 {
		n.MaxIterations = 10
	}
	if n.TimeoutSeconds == 0 {
		n.TimeoutSeconds = int(e.cfg.HumanInputTimeout / time.Second)
	}
	return n
}

// ListGraphs returns the registered graph ids sorted.
func (e *Engine) ListGraphs() []string { return e.graphs.IDs() }

// GetGraph returns the nodes of a registered graph in declaration order.
func (e *Engine) GetGraph(graphID string) ([]GraphNode, error) {
	g, ok := e.graphs.Get(graphID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}
	return g.Nodes(), nil
}

// ExecuteOption configures a single Execute call.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	startNode string
	metadata  map[string]any
}

// WithStartNode starts the walk at nodeID instead of the inferred start node.
func WithStartNode(nodeID string) ExecuteOption {
	return func(o *executeOptions) { o.startNode = nodeID }
}

// WithMetadata attaches metadata to the execution.
func WithMetadata(md map[string]any) ExecuteOption {
	return func(o *executeOptions) { o.metadata = md }
}

// Execute runs graphID from its start node until the walk completes, fails or
// parks at an approval gate. Node failures are recorded on the returned
// execution and never returned as errors. The error is non-nil only when the
// graph is unknown, the engine is closed, or ctx ends mid-walk; in the last
// case the execution is still returned with status failed.
func (e *Engine) Execute(ctx context.Context, graphID string, initial map[string]any, opts ...ExecuteOption) (*GraphExecution, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	g, ok := e.graphs.Get(graphID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, graphID)
	}

	var o executeOptions
	for _, opt := range opts {
		opt(&o)
	}
	start := o.startNode
	if start == "" {
		start = g.StartNode()
	}

	now := e.now()
	state := cloneState(initial)
	if state == nil {
		state = make(map[string]any)
	}
	exec := &GraphExecution{
		ID:               uuid.NewString(),
		GraphID:          graphID,
		Status:           ExecutionStatusRunning,
		State:            state,
		History:          NewHistory(),
		Checkpoints:      []CheckpointSummary{},
		PendingApprovals: []string{},
		StartedAt:        now,
		UpdatedAt:        now,
		Metadata:         cloneState(o.metadata),
	}
	if start != "" {
		exec.Frontier = []Step{{NodeID: start}}
	}

	r := &run{exec: exec, graph: g, driving: true}
	e.track(r)

	e.logger.Info("execution started",
		zap.String("execution_id", exec.ID),
		zap.String("graph_id", graphID),
		zap.String("start_node", start),
	)
	e.observer.ExecutionStarted(exec.Clone())

	return e.drive(ctx, r)
}

// Resume continues a suspended execution from its stored frontier. Every
// approval the execution waited on must have been granted.
func (e *Engine) Resume(ctx context.Context, executionID string) (*GraphExecution, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	r, err := e.lookup(executionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.evicted {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if r.driving {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExecutionBusy, executionID)
	}
	if r.exec.Status.Terminal() {
		status := r.exec.Status
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotResumable, executionID, status)
	}
	for _, id := range r.exec.PendingApprovals {
		req, err := e.inputs.get(id)
		if err == nil && req.Status == InputStatusResponded && req.Response != ResponseApprove {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: request %s answered %q", ErrApprovalRejected, id, req.Response)
		}
	}
	if n := len(r.exec.PendingApprovals); n > 0 {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %d request(s) outstanding", ErrApprovalPending, n)
	}
	r.driving = true
	r.exec.Status = ExecutionStatusRunning
	r.exec.CompletedAt = nil
	r.exec.UpdatedAt = e.now()
	r.mu.Unlock()

	e.logger.Info("execution resumed", zap.String("execution_id", executionID))
	return e.drive(ctx, r)
}

// GetExecution returns a snapshot of a resident execution.
func (e *Engine) GetExecution(executionID string) (*GraphExecution, error) {
	r, err := e.lookup(executionID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Clone(), nil
}

// ListExecutions returns snapshots of resident executions in start order,
// optionally filtered by graph. A non-positive limit means 100.
func (e *Engine) ListExecutions(graphID string, limit int) []*GraphExecution {
	if limit <= 0 {
		limit = 100
	}
	e.mu.RLock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		if graphID == "" || r.graph.ID == graphID {
			runs = append(runs, r)
		}
	}
	e.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].seq < runs[j].seq })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	out := make([]*GraphExecution, len(runs))
	for i, r := range runs {
		r.mu.Lock()
		out[i] = r.exec.Clone()
		r.mu.Unlock()
	}
	return out
}

func (e *Engine) track(r *run) {
	e.mu.Lock()
	e.seq++
	r.seq = e.seq
	e.runs[r.exec.ID] = r
	e.mu.Unlock()
}

func (e *Engine) lookup(executionID string) (*run, error) {
	e.mu.RLock()
	r, ok := e.runs[executionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return r, nil
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}
