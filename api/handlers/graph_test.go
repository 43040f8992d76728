package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func newGraphServer(t *testing.T, archive ExecutionArchive) (*graph.Engine, *http.ServeMux) {
	t.Helper()
	cfg := graph.DefaultConfig()
	cfg.DefaultTimeout = 2 * time.Second
	cfg.CheckpointInterval = 1
	cfg.Retention.Enabled = false

	e, err := graph.New(cfg, graph.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.RegisterHandler("double", func(_ context.Context, state, _ map[string]any) (map[string]any, error) {
		n, _ := state["n"].(float64)
		return map[string]any{"n": n * 2}, nil
	}))
	require.NoError(t, e.RegisterGraph("pipeline", []graph.GraphNode{
		{ID: "a", Type: graph.NodeTypeAction, Handler: "double", NextNodes: []string{"b"}},
		{ID: "b", Type: graph.NodeTypeAction, Handler: "double"},
	}))
	require.NoError(t, e.RegisterGraph("gated", []graph.GraphNode{
		{ID: "review", Type: graph.NodeTypeAction, RequiresApproval: true, ApprovalPrompt: "ship it?", NextNodes: []string{"publish"}},
		{ID: "publish", Type: graph.NodeTypeAction},
	}))

	mux := http.NewServeMux()
	NewGraphHandler(e, archive, zaptest.NewLogger(t)).Register(mux)
	return e, mux
}

func do(t *testing.T, mux http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func dataAs[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// =============================================================================
// 🧪 图与执行
// =============================================================================

func TestGraphHandler_ListAndGetGraphs(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	w, env := do(t, mux, http.MethodGet, "/v1/graphs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []string{"pipeline", "gated"}, dataAs[[]string](t, env))

	w, env = do(t, mux, http.MethodGet, "/v1/graphs/pipeline", "")
	assert.Equal(t, http.StatusOK, w.Code)
	info := dataAs[api.GraphInfo](t, env)
	assert.Equal(t, "pipeline", info.ID)
	assert.Len(t, info.Nodes, 2)

	w, env = do(t, mux, http.MethodGet, "/v1/graphs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrGraphNotFound), env.Error.Code)
}

func TestGraphHandler_RegisterGraph(t *testing.T) {
	e, mux := newGraphServer(t, nil)

	w, env := do(t, mux, http.MethodPost, "/v1/graphs",
		`{"id":"solo","nodes":[{"id":"x","type":"action"}]}`)
	require.Equal(t, http.StatusCreated, w.Code, env.Error)
	assert.Equal(t, "solo", dataAs[api.GraphInfo](t, env).ID)
	_, err := e.GetGraph("solo")
	assert.NoError(t, err)

	w, env = do(t, mux, http.MethodPost, "/v1/graphs", `{"nodes":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), env.Error.Code)

	w, _ = do(t, mux, http.MethodPost, "/v1/graphs", `{"id":"x","bogus":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGraphHandler_ExecuteAndInspect(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	w, env := do(t, mux, http.MethodPost, "/v1/graphs/pipeline/executions",
		`{"input":{"n":3},"metadata":{"caller":"test"}}`)
	require.Equal(t, http.StatusCreated, w.Code)
	exec := dataAs[graph.GraphExecution](t, env)
	assert.Equal(t, graph.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, float64(12), exec.State["n"])
	assert.Equal(t, "test", exec.Metadata["caller"])

	w, env = do(t, mux, http.MethodGet, "/v1/executions/"+exec.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, exec.ID, dataAs[graph.GraphExecution](t, env).ID)

	w, env = do(t, mux, http.MethodGet, "/v1/executions?graph_id=pipeline&limit=10", "")
	assert.Equal(t, http.StatusOK, w.Code)
	list := dataAs[[]api.ExecutionSummary](t, env)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].NodeCount)

	w, _ = do(t, mux, http.MethodGet, "/v1/executions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, mux, http.MethodGet, "/v1/executions/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrExecutionNotFound), env.Error.Code)
}

func TestGraphHandler_ExecuteWithoutBody(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	w, env := do(t, mux, http.MethodPost, "/v1/graphs/pipeline/executions", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, graph.ExecutionStatusCompleted, dataAs[graph.GraphExecution](t, env).Status)

	w, env = do(t, mux, http.MethodPost, "/v1/graphs/unknown/executions", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrGraphNotFound), env.Error.Code)
}

// =============================================================================
// 🧪 审批与恢复
// =============================================================================

func TestGraphHandler_ApprovalFlow(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	_, env := do(t, mux, http.MethodPost, "/v1/graphs/gated/executions", `{}`)
	exec := dataAs[graph.GraphExecution](t, env)
	require.Equal(t, graph.ExecutionStatusWaitingInput, exec.Status)
	require.Len(t, exec.PendingApprovals, 1)
	reqID := exec.PendingApprovals[0]

	w, env := do(t, mux, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrApprovalPending), env.Error.Code)

	_, env = do(t, mux, http.MethodGet, "/v1/inputs?execution_id="+exec.ID, "")
	pending := dataAs[[]graph.HumanInputRequest](t, env)
	require.Len(t, pending, 1)
	assert.Equal(t, "ship it?", pending[0].Prompt)

	w, _ = do(t, mux, http.MethodPost, "/v1/inputs/"+reqID, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, mux, http.MethodPost, "/v1/inputs/"+reqID, `{"response":"approve"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, graph.InputStatusResponded, dataAs[graph.HumanInputRequest](t, env).Status)

	_, env = do(t, mux, http.MethodGet, "/v1/inputs/"+reqID, "")
	assert.Equal(t, "approve", dataAs[graph.HumanInputRequest](t, env).Response)

	w, env = do(t, mux, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, graph.ExecutionStatusCompleted, dataAs[graph.GraphExecution](t, env).Status)

	w, env = do(t, mux, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrNotResumable), env.Error.Code)
}

func TestGraphHandler_RejectedApproval(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	_, env := do(t, mux, http.MethodPost, "/v1/graphs/gated/executions", "")
	exec := dataAs[graph.GraphExecution](t, env)
	require.Len(t, exec.PendingApprovals, 1)

	do(t, mux, http.MethodPost, "/v1/inputs/"+exec.PendingApprovals[0], `{"response":"reject"}`)

	w, env := do(t, mux, http.MethodPost, "/v1/executions/"+exec.ID+"/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrApprovalRejected), env.Error.Code)
}

func TestGraphHandler_UnknownInput(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	w, env := do(t, mux, http.MethodGet, "/v1/inputs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrInputNotFound), env.Error.Code)

	w, _ = do(t, mux, http.MethodPost, "/v1/inputs/nope", `{"response":"approve"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = do(t, mux, http.MethodGet, "/v1/inputs", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", string(env.Data))
}

// =============================================================================
// 🧪 检查点
// =============================================================================

func TestGraphHandler_Checkpoints(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	_, env := do(t, mux, http.MethodPost, "/v1/graphs/pipeline/executions", `{"input":{"n":1}}`)
	exec := dataAs[graph.GraphExecution](t, env)

	w, env := do(t, mux, http.MethodGet, "/v1/executions/"+exec.ID+"/checkpoints", "")
	require.Equal(t, http.StatusOK, w.Code)
	cps := dataAs[[]api.CheckpointInfo](t, env)
	require.NotEmpty(t, cps)
	first := cps[0]
	assert.Equal(t, exec.ID, first.ExecutionID)

	w, env = do(t, mux, http.MethodGet, "/v1/checkpoints/"+first.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first.ID, dataAs[graph.Checkpoint](t, env).ID)

	w, env = do(t, mux, http.MethodPost, "/v1/checkpoints/"+first.ID+"/restore", "")
	require.Equal(t, http.StatusOK, w.Code)
	restored := dataAs[graph.GraphExecution](t, env)
	assert.Equal(t, exec.ID, restored.ID)
	assert.Equal(t, first.NodeCount, restored.History.Len())

	w, env = do(t, mux, http.MethodPost, "/v1/checkpoints/"+first.ID+"/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	resumed := dataAs[graph.GraphExecution](t, env)
	assert.Equal(t, graph.ExecutionStatusCompleted, resumed.Status)

	w, env = do(t, mux, http.MethodGet, "/v1/checkpoints/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrCheckpointNotFound), env.Error.Code)
}

func TestGraphHandler_Stats(t *testing.T) {
	_, mux := newGraphServer(t, nil)
	do(t, mux, http.MethodPost, "/v1/graphs/pipeline/executions", "")

	w, env := do(t, mux, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := dataAs[graph.Stats](t, env)
	assert.Equal(t, 2, stats.RegisteredGraphs)
	assert.Equal(t, 1, stats.TotalExecutions)
	assert.Equal(t, []string{"double"}, stats.RegisteredHandlers)
}

// =============================================================================
// 🧪 归档
// =============================================================================

type fakeArchive struct {
	execs map[string]*graph.GraphExecution
	err   error
}

func (f *fakeArchive) GetArchivedExecution(_ context.Context, id string) (*graph.GraphExecution, error) {
	if e, ok := f.execs[id]; ok {
		return e, nil
	}
	return nil, graph.ErrExecutionNotFound
}

func (f *fakeArchive) ListArchivedExecutions(_ context.Context, graphID string, limit int) ([]*graph.GraphExecution, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*graph.GraphExecution
	for _, e := range f.execs {
		if graphID == "" || e.GraphID == graphID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestGraphHandler_Archive(t *testing.T) {
	old := &graph.GraphExecution{ID: "old-1", GraphID: "pipeline", Status: graph.ExecutionStatusCompleted}
	archive := &fakeArchive{execs: map[string]*graph.GraphExecution{"old-1": old}}
	_, mux := newGraphServer(t, archive)

	w, env := do(t, mux, http.MethodGet, "/v1/executions/old-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "old-1", dataAs[graph.GraphExecution](t, env).ID)

	w, env = do(t, mux, http.MethodGet, "/v1/archive/executions?graph_id=pipeline", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := dataAs[[]api.ExecutionSummary](t, env)
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].NodeCount)

	w, _ = do(t, mux, http.MethodGet, "/v1/archive/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	archive.err = errors.New("db down")
	w, env = do(t, mux, http.MethodGet, "/v1/archive/executions", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", env.Error.Message)
}

func TestGraphHandler_NoArchiveRoutes(t *testing.T) {
	_, mux := newGraphServer(t, nil)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/archive/executions", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
