package api

import (
	"time"

	"github.com/BaSui01/agentgraph/graph"
)

// =============================================================================
// 📥 请求类型
// =============================================================================

// ExecuteRequest 启动一次图执行。
// @Description 图执行请求结构
type ExecuteRequest struct {
	// 初始共享状态
	Input map[string]any `json:"input,omitempty"`
	// 起始节点，缺省为图的第一个节点
	StartNode string `json:"start_node,omitempty" example:"validate"`
	// 附加到执行上的元数据
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProvideInputRequest 回复一个人工审批请求。
// @Description 人工输入回复
type ProvideInputRequest struct {
	// "approve"、"reject" 或选项之一
	Response string `json:"response" example:"approve" binding:"required"`
}

// =============================================================================
// 📤 响应类型
// =============================================================================

// GraphInfo 描述一个已注册的图。
type GraphInfo struct {
	ID    string            `json:"id"`
	Nodes []graph.GraphNode `json:"nodes"`
}

// ExecutionSummary 是列表接口返回的执行摘要，不含状态与历史。
type ExecutionSummary struct {
	ID               string                `json:"id"`
	GraphID          string                `json:"graph_id"`
	Status           graph.ExecutionStatus `json:"status"`
	Error            string                `json:"error,omitempty"`
	NodeCount        int                   `json:"node_count"`
	Checkpoints      int                   `json:"checkpoints"`
	PendingApprovals []string              `json:"pending_approvals"`
	StartedAt        time.Time             `json:"started_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

// SummarizeExecution 生成执行摘要
func SummarizeExecution(e *graph.GraphExecution) ExecutionSummary {
	pending := e.PendingApprovals
	if pending == nil {
		pending = []string{}
	}
	return ExecutionSummary{
		ID:               e.ID,
		GraphID:          e.GraphID,
		Status:           e.Status,
		Error:            e.Error,
		NodeCount:        e.History.Len(),
		Checkpoints:      len(e.Checkpoints),
		PendingApprovals: pending,
		StartedAt:        e.StartedAt,
		UpdatedAt:        e.UpdatedAt,
		CompletedAt:      e.CompletedAt,
	}
}

// CheckpointInfo 是检查点列表项，不含状态快照。
type CheckpointInfo struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	GraphID     string    `json:"graph_id"`
	NodeID      string    `json:"node_id"`
	Sequence    int       `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	NodeCount   int       `json:"node_count"`
	Frontier    int       `json:"frontier"`
}

// DescribeCheckpoint 生成检查点列表项
func DescribeCheckpoint(cp *graph.Checkpoint) CheckpointInfo {
	return CheckpointInfo{
		ID:          cp.ID,
		ExecutionID: cp.ExecutionID,
		GraphID:     cp.GraphID,
		NodeID:      cp.NodeID,
		Sequence:    cp.Sequence,
		Timestamp:   cp.Timestamp,
		NodeCount:   len(cp.NodeExecutions),
		Frontier:    len(cp.Frontier),
	}
}
