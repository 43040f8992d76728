package graph

// Stats is a point-in-time summary for metrics scraping.
type Stats struct {
	RegisteredGraphs   int                     `json:"registered_graphs"`
	TotalExecutions    int                     `json:"total_executions"`
	PendingInputs      int                     `json:"pending_inputs"`
	RegisteredHandlers []string                `json:"registered_handlers"`
	ExecutionsByStatus map[ExecutionStatus]int `json:"executions_by_status"`
	Checkpoints        int                     `json:"checkpoints"`
}

// GetStats counts graphs, resident executions, open requests and handlers.
func (e *Engine) GetStats() Stats {
	s := Stats{
		RegisteredGraphs:   e.graphs.Len(),
		PendingInputs:      e.inputs.pendingCount(),
		RegisteredHandlers: e.handlers.Names(),
		ExecutionsByStatus: make(map[ExecutionStatus]int),
		Checkpoints:        e.resident.Len(),
	}

	e.mu.RLock()
	s.TotalExecutions = len(e.runs)
	for _, r := range e.runs {
		r.mu.Lock()
		s.ExecutionsByStatus[r.exec.Status]++
		r.mu.Unlock()
	}
	e.mu.RUnlock()
	return s
}
