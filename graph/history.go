package graph

import (
	"encoding/json"
)

// History is the append-only record of every node dispatch in an execution.
// Records are never overwritten and must not change after Append. Per-node
// indexes and counters keep status, visit and completion lookups O(1).
// History is not safe for concurrent use; the engine guards it with the
// execution lock.
type History struct {
	records   []*NodeExecution
	latest    map[string]int
	visits    map[string]int
	completed int
}

// NewHistory creates an empty history.
func NewHistory() *History {
	h := &History{}
	h.reset(0)
	return h
}

func (h *History) reset(capacity int) {
	h.records = nil
	h.latest = make(map[string]int, capacity)
	h.visits = make(map[string]int, capacity)
	h.completed = 0
}

// HistoryFrom builds a history from records in sequence order.
func HistoryFrom(records []*NodeExecution) *History {
	h := NewHistory()
	for _, r := range records {
		h.restore(r.Clone())
	}
	return h
}

// Append stores rec and assigns its sequence number.
func (h *History) Append(rec *NodeExecution) *NodeExecution {
	rec.Sequence = len(h.records) + 1
	h.restore(rec)
	return rec
}

func (h *History) restore(rec *NodeExecution) {
	h.records = append(h.records, rec)
	h.latest[rec.NodeID] = len(h.records) - 1
	h.visits[rec.NodeID]++
	if rec.Status == NodeStatusCompleted {
		h.completed++
	}
}

// Len returns the number of records.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.records)
}

// Completed returns the number of records with status completed.
func (h *History) Completed() int {
	if h == nil {
		return 0
	}
	return h.completed
}

// Latest returns the most recent record for nodeID.
func (h *History) Latest(nodeID string) (*NodeExecution, bool) {
	if h == nil {
		return nil, false
	}
	i, ok := h.latest[nodeID]
	if !ok {
		return nil, false
	}
	return h.records[i], true
}

// ByNode returns every record for nodeID in sequence order.
func (h *History) ByNode(nodeID string) []*NodeExecution {
	if h == nil {
		return nil
	}
	var out []*NodeExecution
	for _, r := range h.records {
		if r.NodeID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// Visits returns how many records exist for nodeID.
func (h *History) Visits(nodeID string) int {
	if h == nil {
		return 0
	}
	return h.visits[nodeID]
}

// Records returns all records in sequence order. The slice is a copy; the
// records are shared.
func (h *History) Records() []*NodeExecution {
	if h == nil {
		return nil
	}
	return append([]*NodeExecution(nil), h.records...)
}

// LatestByNode returns the latest record per node id.
func (h *History) LatestByNode() map[string]*NodeExecution {
	out := make(map[string]*NodeExecution)
	if h == nil {
		return out
	}
	for id, i := range h.latest {
		out[id] = h.records[i]
	}
	return out
}

// Snapshot returns deep copies of all records.
func (h *History) Snapshot() []*NodeExecution {
	if h == nil {
		return []*NodeExecution{}
	}
	out := make([]*NodeExecution, len(h.records))
	for i, r := range h.records {
		out[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of the history.
func (h *History) Clone() *History {
	if h == nil {
		return NewHistory()
	}
	return HistoryFrom(h.records)
}

// MarshalJSON encodes the history as its record list.
func (h *History) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	if h.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.records)
}

// UnmarshalJSON decodes a record list and rebuilds the index.
func (h *History) UnmarshalJSON(data []byte) error {
	var records []*NodeExecution
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	h.reset(len(records))
	for _, r := range records {
		if r != nil {
			h.restore(r)
		}
	}
	return nil
}
