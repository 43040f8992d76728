package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/types"
)

// =============================================================================
// 🕸️ 图执行 Handler
// =============================================================================

// Engine is the part of *graph.Engine the HTTP surface drives.
type Engine interface {
	ListGraphs() []string
	GetGraph(graphID string) ([]graph.GraphNode, error)
	RegisterDefinition(def *graph.GraphDefinition) error
	Execute(ctx context.Context, graphID string, initial map[string]any, opts ...graph.ExecuteOption) (*graph.GraphExecution, error)
	Resume(ctx context.Context, executionID string) (*graph.GraphExecution, error)
	GetExecution(executionID string) (*graph.GraphExecution, error)
	ListExecutions(graphID string, limit int) []*graph.GraphExecution
	GetPendingInputs(executionID string) []*graph.HumanInputRequest
	GetInput(requestID string) (*graph.HumanInputRequest, error)
	ProvideInput(requestID, response string) (*graph.HumanInputRequest, error)
	GetCheckpoints(ctx context.Context, executionID string) ([]*graph.Checkpoint, error)
	GetCheckpoint(ctx context.Context, checkpointID string) (*graph.Checkpoint, error)
	RestoreFromCheckpoint(ctx context.Context, checkpointID string) (*graph.GraphExecution, error)
	ResumeFromCheckpoint(ctx context.Context, checkpointID string) (*graph.GraphExecution, error)
	GetStats() graph.Stats
}

// ExecutionArchive serves executions evicted from memory.
type ExecutionArchive interface {
	GetArchivedExecution(ctx context.Context, executionID string) (*graph.GraphExecution, error)
	ListArchivedExecutions(ctx context.Context, graphID string, limit int) ([]*graph.GraphExecution, error)
}

// GraphHandler 图执行 API 处理器
type GraphHandler struct {
	engine  Engine
	archive ExecutionArchive
	logger  *zap.Logger
}

// NewGraphHandler 创建图执行处理器。archive 可为 nil。
func NewGraphHandler(engine Engine, archive ExecutionArchive, logger *zap.Logger) *GraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHandler{
		engine:  engine,
		archive: archive,
		logger:  logger.With(zap.String("component", "graph_handler")),
	}
}

// Register 在 mux 上注册全部路由
func (h *GraphHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/graphs", h.HandleListGraphs)
	mux.HandleFunc("POST /v1/graphs", h.HandleRegisterGraph)
	mux.HandleFunc("GET /v1/graphs/{id}", h.HandleGetGraph)
	mux.HandleFunc("POST /v1/graphs/{id}/executions", h.HandleExecute)

	mux.HandleFunc("GET /v1/executions", h.HandleListExecutions)
	mux.HandleFunc("GET /v1/executions/{id}", h.HandleGetExecution)
	mux.HandleFunc("POST /v1/executions/{id}/resume", h.HandleResume)
	mux.HandleFunc("GET /v1/executions/{id}/checkpoints", h.HandleListCheckpoints)

	mux.HandleFunc("GET /v1/checkpoints/{id}", h.HandleGetCheckpoint)
	mux.HandleFunc("POST /v1/checkpoints/{id}/restore", h.HandleRestore)
	mux.HandleFunc("POST /v1/checkpoints/{id}/resume", h.HandleResumeFromCheckpoint)

	mux.HandleFunc("GET /v1/inputs", h.HandleListInputs)
	mux.HandleFunc("GET /v1/inputs/{id}", h.HandleGetInput)
	mux.HandleFunc("POST /v1/inputs/{id}", h.HandleProvideInput)

	mux.HandleFunc("GET /v1/stats", h.HandleStats)

	if h.archive != nil {
		mux.HandleFunc("GET /v1/archive/executions", h.HandleListArchived)
		mux.HandleFunc("GET /v1/archive/executions/{id}", h.HandleGetArchived)
	}
}

// walkContext detaches a traversal from the client connection so a dropped
// request does not fail the execution.
func walkContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// =============================================================================
// 📐 图
// =============================================================================

// HandleListGraphs GET /v1/graphs
func (h *GraphHandler) HandleListGraphs(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.engine.ListGraphs())
}

// HandleRegisterGraph POST /v1/graphs
func (h *GraphHandler) HandleRegisterGraph(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var def graph.GraphDefinition
	if !DecodeJSONBody(w, r, &def, false, h.logger) {
		return
	}
	if def.ID == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "id is required", h.logger)
		return
	}
	if err := h.engine.RegisterDefinition(&def); err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	nodes, err := h.engine.GetGraph(def.ID)
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, api.GraphInfo{ID: def.ID, Nodes: nodes})
}

// HandleGetGraph GET /v1/graphs/{id}
func (h *GraphHandler) HandleGetGraph(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	nodes, err := h.engine.GetGraph(id)
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.GraphInfo{ID: id, Nodes: nodes})
}

// HandleExecute POST /v1/graphs/{id}/executions
//
// The call returns once the walk stops: completed, failed or parked at an
// approval gate.
func (h *GraphHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ExecuteRequest
	if !DecodeJSONBody(w, r, &req, true, h.logger) {
		return
	}

	var opts []graph.ExecuteOption
	if req.StartNode != "" {
		opts = append(opts, graph.WithStartNode(req.StartNode))
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, graph.WithMetadata(req.Metadata))
	}

	exec, err := h.engine.Execute(walkContext(r), r.PathValue("id"), req.Input, opts...)
	if err != nil && exec == nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, exec)
}

// =============================================================================
// ▶️ 执行
// =============================================================================

// HandleListExecutions GET /v1/executions?graph_id=&limit=
func (h *GraphHandler) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
		return
	}
	execs := h.engine.ListExecutions(r.URL.Query().Get("graph_id"), limit)
	out := make([]api.ExecutionSummary, len(execs))
	for i, e := range execs {
		out[i] = api.SummarizeExecution(e)
	}
	WriteSuccess(w, r, out)
}

// HandleGetExecution GET /v1/executions/{id}
//
// Executions evicted from memory are served from the archive when one is configured.
func (h *GraphHandler) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	exec, err := h.engine.GetExecution(id)
	if err != nil && h.archive != nil {
		exec, err = h.archive.GetArchivedExecution(r.Context(), id)
	}
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exec)
}

// HandleResume POST /v1/executions/{id}/resume
func (h *GraphHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.Resume(walkContext(r), r.PathValue("id"))
	if err != nil && exec == nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exec)
}

// =============================================================================
// 💾 检查点
// =============================================================================

// HandleListCheckpoints GET /v1/executions/{id}/checkpoints
func (h *GraphHandler) HandleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	cps, err := h.engine.GetCheckpoints(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	out := make([]api.CheckpointInfo, len(cps))
	for i, cp := range cps {
		out[i] = api.DescribeCheckpoint(cp)
	}
	WriteSuccess(w, r, out)
}

// HandleGetCheckpoint GET /v1/checkpoints/{id}
func (h *GraphHandler) HandleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.engine.GetCheckpoint(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, cp)
}

// HandleRestore POST /v1/checkpoints/{id}/restore
func (h *GraphHandler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.RestoreFromCheckpoint(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exec)
}

// HandleResumeFromCheckpoint POST /v1/checkpoints/{id}/resume
func (h *GraphHandler) HandleResumeFromCheckpoint(w http.ResponseWriter, r *http.Request) {
	exec, err := h.engine.ResumeFromCheckpoint(walkContext(r), r.PathValue("id"))
	if err != nil && exec == nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exec)
}

// =============================================================================
// 🙋 人工输入
// =============================================================================

// HandleListInputs GET /v1/inputs?execution_id=
func (h *GraphHandler) HandleListInputs(w http.ResponseWriter, r *http.Request) {
	reqs := h.engine.GetPendingInputs(r.URL.Query().Get("execution_id"))
	if reqs == nil {
		reqs = []*graph.HumanInputRequest{}
	}
	WriteSuccess(w, r, reqs)
}

// HandleGetInput GET /v1/inputs/{id}
func (h *GraphHandler) HandleGetInput(w http.ResponseWriter, r *http.Request) {
	req, err := h.engine.GetInput(r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, req)
}

// HandleProvideInput POST /v1/inputs/{id}
func (h *GraphHandler) HandleProvideInput(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body api.ProvideInputRequest
	if !DecodeJSONBody(w, r, &body, false, h.logger) {
		return
	}
	if body.Response == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "response is required", h.logger)
		return
	}

	req, err := h.engine.ProvideInput(r.PathValue("id"), body.Response)
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, req)
}

// =============================================================================
// 📊 统计与归档
// =============================================================================

// HandleStats GET /v1/stats
func (h *GraphHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.engine.GetStats())
}

// HandleListArchived GET /v1/archive/executions?graph_id=&limit=
func (h *GraphHandler) HandleListArchived(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r)
	if !ok {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
		return
	}
	execs, err := h.archive.ListArchivedExecutions(r.Context(), r.URL.Query().Get("graph_id"), limit)
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	out := make([]api.ExecutionSummary, len(execs))
	for i, e := range execs {
		out[i] = api.SummarizeExecution(e)
	}
	WriteSuccess(w, r, out)
}

// HandleGetArchived GET /v1/archive/executions/{id}
func (h *GraphHandler) HandleGetArchived(w http.ResponseWriter, r *http.Request) {
	exec, err := h.archive.GetArchivedExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteEngineError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, exec)
}
