package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// inputGateway holds approval requests. Pending requests are answerable;
// answered and expired ones stay readable until their execution is evicted.
type inputGateway struct {
	mu       sync.RWMutex
	pending  map[string]*HumanInputRequest
	resolved map[string]*HumanInputRequest
}

func newInputGateway() *inputGateway {
	return &inputGateway{
		pending:  make(map[string]*HumanInputRequest),
		resolved: make(map[string]*HumanInputRequest),
	}
}

func (g *inputGateway) open(req *HumanInputRequest) {
	g.mu.Lock()
	g.pending[req.ID] = req
	g.mu.Unlock()
}

func (g *inputGateway) get(id string) (*HumanInputRequest, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if req, ok := g.pending[id]; ok {
		return req.Clone(), nil
	}
	if req, ok := g.resolved[id]; ok {
		return req.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
}

// resolve answers a pending request and moves it out of the pending table.
func (g *inputGateway) resolve(id, response string, at time.Time) (*HumanInputRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	delete(g.pending, id)
	req.Response = response
	req.RespondedAt = &at
	req.Status = InputStatusResponded
	g.resolved[id] = req
	return req.Clone(), nil
}

// expire moves every pending request whose timeout has lapsed to expired.
func (g *inputGateway) expire(now time.Time) []*HumanInputRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*HumanInputRequest
	for id, req := range g.pending {
		at, ok := req.ExpiresAt()
		if !ok || now.Before(at) {
			continue
		}
		delete(g.pending, id)
		req.Status = InputStatusExpired
		g.resolved[id] = req
		out = append(out, req.Clone())
	}
	sortRequests(out)
	return out
}

func (g *inputGateway) list(executionID string) []*HumanInputRequest {
	g.mu.RLock()
	out := make([]*HumanInputRequest, 0, len(g.pending))
	for _, req := range g.pending {
		if executionID == "" || req.ExecutionID == executionID {
			out = append(out, req.Clone())
		}
	}
	g.mu.RUnlock()
	sortRequests(out)
	return out
}

func (g *inputGateway) discard(ids ...string) {
	g.mu.Lock()
	for _, id := range ids {
		delete(g.pending, id)
		delete(g.resolved, id)
	}
	g.mu.Unlock()
}

func (g *inputGateway) discardExecution(executionID string) {
	g.mu.Lock()
	for id, req := range g.pending {
		if req.ExecutionID == executionID {
			delete(g.pending, id)
		}
	}
	for id, req := range g.resolved {
		if req.ExecutionID == executionID {
			delete(g.resolved, id)
		}
	}
	g.mu.Unlock()
}

func (g *inputGateway) pendingCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pending)
}

func sortRequests(reqs []*HumanInputRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

// GetPendingInputs lists open approval requests, oldest first. An empty
// executionID lists every execution's requests.
func (e *Engine) GetPendingInputs(executionID string) []*HumanInputRequest {
	return e.inputs.list(executionID)
}

// GetInput returns a pending, answered or expired request.
func (e *Engine) GetInput(requestID string) (*HumanInputRequest, error) {
	return e.inputs.get(requestID)
}

// ProvideInput answers a pending request. Any response closes the request.
// Only ResponseApprove releases the gate: the request leaves the execution's
// pending approvals and, once none remain, the execution returns to running.
// Traversal does not continue until Resume is called. An unknown request id
// returns ErrRequestNotFound and changes nothing.
func (e *Engine) ProvideInput(requestID, response string) (*HumanInputRequest, error) {
	req, err := e.inputs.resolve(requestID, response, e.now())
	if err != nil {
		return nil, err
	}

	if response == ResponseApprove {
		if r, err := e.lookup(req.ExecutionID); err == nil {
			r.mu.Lock()
			r.exec.PendingApprovals = removeString(r.exec.PendingApprovals, requestID)
			if len(r.exec.PendingApprovals) == 0 && r.exec.Status == ExecutionStatusWaitingInput {
				r.exec.Status = ExecutionStatusRunning
				r.exec.CompletedAt = nil
			}
			r.exec.UpdatedAt = e.now()
			r.mu.Unlock()
		}
	}

	e.logger.Info("human input received",
		zap.String("request_id", requestID),
		zap.String("execution_id", req.ExecutionID),
		zap.String("response", response),
	)
	e.observer.InputResolved(req.Clone())
	return req, nil
}
