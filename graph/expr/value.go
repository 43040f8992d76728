package expr

import (
	"fmt"
	"strconv"
)

// lookup walks a dotted path through nested maps. Only map[string]any is
// traversed. ok is false when any segment is missing.
func lookup(vars map[string]any, path []string) (any, bool) {
	var cur any = vars
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// compare applies op to two operands. Numbers compare numerically and strings
// lexically. Equality is defined for any pair; ordering a number against a
// non-numeric value, or anything against nil, is an ErrIncomparable error.
func compare(l any, op string, r any) (bool, error) {
	ordering := op != "==" && op != "!="

	if l == nil || r == nil {
		if ordering {
			return false, fmt.Errorf("%w: %v %s %v", ErrIncomparable, l, op, r)
		}
		return (l == nil && r == nil) == (op == "=="), nil
	}

	if lb, ok := l.(bool); ok {
		if rb, ok := r.(bool); ok {
			if ordering {
				return false, fmt.Errorf("%w: %v %s %v", ErrIncomparable, l, op, r)
			}
			return (lb == rb) == (op == "=="), nil
		}
	}

	lf, lnum := number(l)
	rf, rnum := number(r)
	if lnum && rnum {
		return order(lf < rf, lf == rf, op), nil
	}
	if ordering && (isNumeric(l) || isNumeric(r)) {
		return false, fmt.Errorf("%w: %v %s %v", ErrIncomparable, l, op, r)
	}

	ls, rs := fmt.Sprint(l), fmt.Sprint(r)
	return order(ls < rs, ls == rs, op), nil
}

// isNumeric reports whether v is a Go number, not a numeric string.
func isNumeric(v any) bool {
	if _, ok := v.(string); ok {
		return false
	}
	_, ok := number(v)
	return ok
}

func order(less, equal bool, op string) bool {
	switch op {
	case "==":
		return equal
	case "!=":
		return !equal
	case "<":
		return less
	case "<=":
		return less || equal
	case ">":
		return !less && !equal
	case ">=":
		return !less
	}
	return false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "" && x != "false" && x != "0"
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
