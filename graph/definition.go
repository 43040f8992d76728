package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentgraph/graph/expr"
)

// GraphDefinition is the file form of a graph.
type GraphDefinition struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []GraphNode    `json:"nodes" yaml:"nodes"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ParseDefinition decodes a definition. format is "json" or "yaml"; YAML is a
// superset of JSON, so "yaml" also accepts JSON documents.
func ParseDefinition(data []byte, format string) (*GraphDefinition, error) {
	var def GraphDefinition
	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition from JSON: %w", err)
		}
	case "yaml", "yml", "":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal definition from YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format %q", format)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("%w: definition id is required", ErrInvalidGraph)
	}
	return &def, nil
}

// LoadDefinitionFile reads a .json, .yaml or .yml definition.
func LoadDefinitionFile(path string) (*GraphDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	def, err := ParseDefinition(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDefinitionsDir reads every definition file in dir, sorted by file name.
// Other files are ignored.
func LoadDefinitionsDir(dir string) ([]*GraphDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(ent.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*GraphDefinition, 0, len(names))
	for _, name := range names {
		def, err := LoadDefinitionFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// RegisterDefinition registers def.Nodes under def.ID.
func (e *Engine) RegisterDefinition(def *GraphDefinition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidGraph)
	}
	return e.RegisterGraph(def.ID, def.Nodes)
}

// ValidateNodes checks a node list for duplicate ids, unknown types, dangling
// references and conditions that do not compile. ev may be nil, in which case
// expressions are only checked against the grammar.
func ValidateNodes(nodes []GraphNode, ev *expr.Evaluator) error {
	if ev == nil {
		ev = expr.NewEvaluator()
	}
	ids := make(map[string]struct{}, len(nodes))
	var errs []error
	for _, n := range nodes {
		if n.ID == "" {
			errs = append(errs, errors.New("node id is required"))
			continue
		}
		if _, dup := ids[n.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate node id %s", n.ID))
		}
		ids[n.ID] = struct{}{}
	}

	ref := func(from, field, to string) {
		if to == "" {
			return
		}
		if _, ok := ids[to]; !ok {
			errs = append(errs, fmt.Errorf("node %s: %s references unknown node %s", from, field, to))
		}
	}
	for _, n := range nodes {
		if n.Type != "" && !n.Type.Valid() {
			errs = append(errs, fmt.Errorf("node %s: unknown type %q", n.ID, n.Type))
		}
		for _, id := range n.NextNodes {
			ref(n.ID, "next_nodes", id)
		}
		switch n.Type {
		case NodeTypeCondition:
			if n.Condition == "" {
				errs = append(errs, fmt.Errorf("node %s: condition node requires condition", n.ID))
			} else if err := ev.Check(n.Condition); err != nil {
				errs = append(errs, fmt.Errorf("node %s: condition: %w", n.ID, err))
			}
			ref(n.ID, "true_branch", n.TrueBranch)
			ref(n.ID, "false_branch", n.FalseBranch)
		case NodeTypeParallel:
			if len(n.ParallelNodes) == 0 {
				errs = append(errs, fmt.Errorf("node %s: parallel node requires parallel_nodes", n.ID))
			}
			for _, id := range n.ParallelNodes {
				ref(n.ID, "parallel_nodes", id)
			}
			ref(n.ID, "join_node", n.JoinNode)
		case NodeTypeLoop:
			if len(n.LoopBody) == 0 {
				errs = append(errs, fmt.Errorf("node %s: loop node requires loop_body", n.ID))
			}
			for _, id := range n.LoopBody {
				ref(n.ID, "loop_body", id)
			}
			if n.LoopCondition != "" {
				if err := ev.Check(n.LoopCondition); err != nil {
					errs = append(errs, fmt.Errorf("node %s: loop_condition: %w", n.ID, err))
				}
			}
			if n.MaxIterations < 0 {
				errs = append(errs, fmt.Errorf("node %s: max_iterations must not be negative", n.ID))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
}
