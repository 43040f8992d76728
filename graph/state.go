package graph

import (
	"reflect"
	"sort"
)

// cloneState deep-copies the JSON-like values an execution state holds.
// Maps and slices are copied recursively; other values are shared.
func cloneState(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneState(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []int:
		return append([]int(nil), x...)
	case []float64:
		return append([]float64(nil), x...)
	case []map[string]any:
		out := make([]map[string]any, len(x))
		for i, e := range x {
			out[i] = cloneState(e)
		}
		return out
	}
	return v
}

// merge copies src into dst, last write wins.
func merge(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// mergeOverlays applies branch deltas to dst in declaration order. A key
// written by more than one branch with differing values is a conflict; the
// later branch wins. Conflicting keys are returned sorted.
func mergeOverlays(dst map[string]any, deltas []map[string]any) []string {
	written := make(map[string]any)
	conflicts := make(map[string]struct{})
	for _, d := range deltas {
		for k, v := range d {
			if prev, ok := written[k]; ok && !reflect.DeepEqual(prev, v) {
				conflicts[k] = struct{}{}
			}
			written[k] = v
			dst[k] = v
		}
	}
	keys := make([]string, 0, len(conflicts))
	for k := range conflicts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// exprVars builds the read-only view conditions are evaluated against: every
// state key at top level, plus "state" and "iteration".
func exprVars(state map[string]any, iteration int) map[string]any {
	vars := cloneState(state)
	if vars == nil {
		vars = make(map[string]any, 2)
	}
	vars["state"] = cloneState(state)
	vars["iteration"] = iteration
	return vars
}
