package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HandlerFunc executes the work of an action node. state is a private copy of
// the execution state; the returned map is merged into the shared state.
//
// Handlers must return promptly once ctx is done. The engine records the node
// as failed when the handler timeout fires but cannot stop the handler, so a
// handler that ignores ctx keeps running and its late result is discarded.
type HandlerFunc func(ctx context.Context, state map[string]any, config map[string]any) (map[string]any, error)

// HandlerRegistry maps handler names to functions.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to fn, replacing any previous binding.
func (r *HandlerRegistry) Register(name string, fn HandlerFunc) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("handler name is required")
	}
	if fn == nil {
		return fmt.Errorf("handler %q is nil", name)
	}
	r.mu.Lock()
	r.handlers[name] = fn
	r.mu.Unlock()
	return nil
}

// Get returns the handler bound to name.
func (r *HandlerRegistry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered names sorted.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of handlers.
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Graph is a registered, immutable node set in declaration order.
type Graph struct {
	ID    string
	nodes []GraphNode
	index map[string]int
}

func newGraph(id string, nodes []GraphNode) *Graph {
	g := &Graph{ID: id, nodes: make([]GraphNode, 0, len(nodes)), index: make(map[string]int, len(nodes))}
	for _, n := range nodes {
		if i, dup := g.index[n.ID]; dup {
			// a later declaration replaces an earlier one but keeps its position
			g.nodes[i] = n.clone()
			continue
		}
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n.clone())
	}
	return g
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*GraphNode, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.nodes[i], true
}

// Nodes returns copies of the nodes in declaration order.
func (g *Graph) Nodes() []GraphNode {
	out := make([]GraphNode, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.clone()
	}
	return out
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// StartNode returns the first declared node that no next_nodes or
// parallel_nodes list targets, or the first declared node if every node is a
// target. It returns "" for an empty graph.
func (g *Graph) StartNode() string {
	if len(g.nodes) == 0 {
		return ""
	}
	targets := make(map[string]struct{})
	for _, n := range g.nodes {
		for _, id := range n.NextNodes {
			targets[id] = struct{}{}
		}
		for _, id := range n.ParallelNodes {
			targets[id] = struct{}{}
		}
	}
	for _, n := range g.nodes {
		if _, ok := targets[n.ID]; !ok {
			return n.ID
		}
	}
	return g.nodes[0].ID
}

// GraphRegistry maps graph ids to graphs.
type GraphRegistry struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

// NewGraphRegistry creates an empty registry.
func NewGraphRegistry() *GraphRegistry {
	return &GraphRegistry{graphs: make(map[string]*Graph)}
}

// Register stores nodes under id, replacing any previous graph with that id.
func (r *GraphRegistry) Register(id string, nodes []GraphNode) (*Graph, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: graph id is required", ErrInvalidGraph)
	}
	g := newGraph(id, nodes)
	r.mu.Lock()
	r.graphs[id] = g
	r.mu.Unlock()
	return g, nil
}

// Get returns the graph registered under id.
func (r *GraphRegistry) Get(id string) (*Graph, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[id]
	return g, ok
}

// IDs returns the registered graph ids sorted.
func (r *GraphRegistry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.graphs))
	for id := range r.graphs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of graphs.
func (r *GraphRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.graphs)
}
