package graph

import (
	"time"
)

// NodeType defines the kind of a graph node
type NodeType string

const (
	// NodeTypeAction invokes a registered handler
	NodeTypeAction NodeType = "action"
	// NodeTypeCondition branches on an expression
	NodeTypeCondition NodeType = "condition"
	// NodeTypeLoop repeats its body while a condition holds
	NodeTypeLoop NodeType = "loop"
	// NodeTypeParallel fans out to several nodes and joins
	NodeTypeParallel NodeType = "parallel"
	// NodeTypeInput is dispatched like an action
	NodeTypeInput NodeType = "input"
	// NodeTypeOutput is dispatched like an action
	NodeTypeOutput NodeType = "output"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeAction, NodeTypeCondition, NodeTypeLoop, NodeTypeParallel, NodeTypeInput, NodeTypeOutput:
		return true
	}
	return false
}

// NodeStatus is the lifecycle state of a node execution.
type NodeStatus string

const (
	NodeStatusPending      NodeStatus = "pending"
	NodeStatusRunning      NodeStatus = "running"
	NodeStatusCompleted    NodeStatus = "completed"
	NodeStatusFailed       NodeStatus = "failed"
	NodeStatusSkipped      NodeStatus = "skipped"
	NodeStatusWaitingInput NodeStatus = "waiting_input"
)

// ExecutionStatus is the lifecycle state of a graph execution.
type ExecutionStatus string

const (
	ExecutionStatusPending      ExecutionStatus = "pending"
	ExecutionStatusRunning      ExecutionStatus = "running"
	ExecutionStatusWaitingInput ExecutionStatus = "waiting_input"
	ExecutionStatusCompleted    ExecutionStatus = "completed"
	ExecutionStatusFailed       ExecutionStatus = "failed"
)

// Terminal reports whether no further traversal can happen without a checkpoint resume.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// GraphNode is one step of a workflow graph. Nodes are immutable once registered.
type GraphNode struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type      NodeType       `json:"type" yaml:"type"`
	Handler   string         `json:"handler,omitempty" yaml:"handler,omitempty"`
	Config    map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	NextNodes []string       `json:"next_nodes,omitempty" yaml:"next_nodes,omitempty"`

	// condition
	Condition   string `json:"condition,omitempty" yaml:"condition,omitempty"`
	TrueBranch  string `json:"true_branch,omitempty" yaml:"true_branch,omitempty"`
	FalseBranch string `json:"false_branch,omitempty" yaml:"false_branch,omitempty"`

	// parallel
	ParallelNodes []string `json:"parallel_nodes,omitempty" yaml:"parallel_nodes,omitempty"`
	JoinNode      string   `json:"join_node,omitempty" yaml:"join_node,omitempty"`

	// loop
	LoopCondition string   `json:"loop_condition,omitempty" yaml:"loop_condition,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	LoopBody      []string `json:"loop_body,omitempty" yaml:"loop_body,omitempty"`

	// approval gate
	RequiresApproval bool   `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
	ApprovalPrompt   string `json:"approval_prompt,omitempty" yaml:"approval_prompt,omitempty"`
	TimeoutSeconds   int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (n GraphNode) clone() GraphNode {
	c := n
	c.Config = cloneState(n.Config)
	c.Metadata = cloneState(n.Metadata)
	c.NextNodes = append([]string(nil), n.NextNodes...)
	c.ParallelNodes = append([]string(nil), n.ParallelNodes...)
	c.LoopBody = append([]string(nil), n.LoopBody...)
	return c
}

// NodeExecution records one dispatch of a node.
type NodeExecution struct {
	NodeID      string         `json:"node_id"`
	NodeName    string         `json:"node_name"`
	NodeType    NodeType       `json:"node_type"`
	Status      NodeStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	InputData   map[string]any `json:"input_data,omitempty"`
	OutputData  map[string]any `json:"output_data,omitempty"`
	Error       string         `json:"error,omitempty"`
	Iteration   int            `json:"iteration"`
	// Sequence is the position of the record in the execution history, from 1.
	Sequence int `json:"sequence"`
}

// Clone returns a deep copy of the record.
func (n *NodeExecution) Clone() *NodeExecution {
	if n == nil {
		return nil
	}
	c := *n
	if n.CompletedAt != nil {
		t := *n.CompletedAt
		c.CompletedAt = &t
	}
	c.InputData = cloneState(n.InputData)
	c.OutputData = cloneState(n.OutputData)
	return &c
}

// Step is one pending unit of traversal.
type Step struct {
	NodeID string `json:"node_id"`
	// RequestID is set once the step has parked at an approval gate.
	RequestID string `json:"request_id,omitempty"`
}

// CheckpointSummary is the lightweight reference an execution keeps per checkpoint.
type CheckpointSummary struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

// GraphExecution is one run of a registered graph.
type GraphExecution struct {
	ID               string              `json:"id"`
	GraphID          string              `json:"graph_id"`
	Status           ExecutionStatus     `json:"status"`
	Error            string              `json:"error,omitempty"`
	State            map[string]any      `json:"state"`
	History          *History            `json:"node_executions"`
	Frontier         []Step              `json:"frontier,omitempty"`
	Checkpoints      []CheckpointSummary `json:"checkpoints"`
	PendingApprovals []string            `json:"pending_approvals"`
	StartedAt        time.Time           `json:"started_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
}

// NodeExecutions returns the latest record per node id, the keyed view of the history.
func (e *GraphExecution) NodeExecutions() map[string]*NodeExecution {
	if e == nil || e.History == nil {
		return map[string]*NodeExecution{}
	}
	return e.History.LatestByNode()
}

// Clone returns a deep copy of the execution.
func (e *GraphExecution) Clone() *GraphExecution {
	if e == nil {
		return nil
	}
	c := *e
	c.State = cloneState(e.State)
	c.History = e.History.Clone()
	c.Frontier = append([]Step(nil), e.Frontier...)
	c.Checkpoints = append([]CheckpointSummary{}, e.Checkpoints...)
	c.PendingApprovals = append([]string{}, e.PendingApprovals...)
	c.Metadata = cloneState(e.Metadata)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Checkpoint is a point-in-time snapshot of an execution.
type Checkpoint struct {
	ID             string           `json:"id"`
	ExecutionID    string           `json:"execution_id"`
	GraphID        string           `json:"graph_id"`
	NodeID         string           `json:"node_id"`
	Sequence       int              `json:"sequence"`
	Timestamp      time.Time        `json:"timestamp"`
	State          map[string]any   `json:"state"`
	NodeExecutions []*NodeExecution `json:"node_executions"`
	Frontier       []Step           `json:"frontier,omitempty"`
}

// Summary returns the reference stored on the execution.
func (c *Checkpoint) Summary() CheckpointSummary {
	return CheckpointSummary{ID: c.ID, NodeID: c.NodeID, Timestamp: c.Timestamp}
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.State = cloneState(c.State)
	cp.Frontier = append([]Step(nil), c.Frontier...)
	cp.NodeExecutions = make([]*NodeExecution, len(c.NodeExecutions))
	for i, r := range c.NodeExecutions {
		cp.NodeExecutions[i] = r.Clone()
	}
	return &cp
}

// InputStatus is the lifecycle state of a human-input request.
type InputStatus string

const (
	InputStatusPending   InputStatus = "pending"
	InputStatusResponded InputStatus = "responded"
	InputStatusExpired   InputStatus = "expired"
)

// Default approval responses.
const (
	ResponseApprove = "approve"
	ResponseReject  = "reject"
)

// HumanInputRequest is an open or answered approval request raised by a gate.
type HumanInputRequest struct {
	ID             string      `json:"id"`
	ExecutionID    string      `json:"execution_id"`
	NodeID         string      `json:"node_id"`
	NodeName       string      `json:"node_name"`
	Prompt         string      `json:"prompt"`
	Options        []string    `json:"options"`
	Status         InputStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Response       string      `json:"response,omitempty"`
	RespondedAt    *time.Time  `json:"responded_at,omitempty"`
}

// ExpiresAt returns when the request lapses. A zero timeout never lapses.
func (r *HumanInputRequest) ExpiresAt() (time.Time, bool) {
	if r.TimeoutSeconds <= 0 {
		return time.Time{}, false
	}
	return r.CreatedAt.Add(time.Duration(r.TimeoutSeconds) * time.Second), true
}

// Clone returns a copy of the request.
func (r *HumanInputRequest) Clone() *HumanInputRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.Options = append([]string(nil), r.Options...)
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}
