// Package expr evaluates condition and loop expressions for graph nodes.
//
// Two forms are accepted. A string naming a registered Predicate invokes that
// Go function. Any other string is parsed with a small allow-listed grammar:
//
//	==  !=  >  <  >=  <=  &&  ||  !  ( )
//	numbers, "strings", 'strings', true, false, nil, dotted.identifiers
//
// Identifiers are resolved against a read-only variable map; there are no
// function calls, assignments or host-language escapes. An identifier that
// names no variable fails evaluation with ErrUnresolved.
package expr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrPredicate wraps a failure raised by a registered predicate.
var ErrPredicate = errors.New("expr: predicate failed")

// Predicate is a named condition implemented in Go.
type Predicate func(vars map[string]any) (bool, error)

const maxCachedPrograms = 512

// Evaluator resolves expressions to booleans, consulting named predicates
// before the grammar. Compiled programs are cached by source.
type Evaluator struct {
	mu         sync.RWMutex
	predicates map[string]Predicate
	programs   map[string]*Program
}

// NewEvaluator creates an Evaluator with no predicates registered.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		predicates: make(map[string]Predicate),
		programs:   make(map[string]*Program),
	}
}

// RegisterPredicate binds name to fn. Registering an existing name replaces it.
func (e *Evaluator) RegisterPredicate(name string, fn Predicate) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("expr: predicate name is required")
	}
	if fn == nil {
		return fmt.Errorf("expr: predicate %q is nil", name)
	}
	e.mu.Lock()
	e.predicates[name] = fn
	e.mu.Unlock()
	return nil
}

// HasPredicate reports whether name is a registered predicate.
func (e *Evaluator) HasPredicate(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.predicates[strings.TrimSpace(name)]
	return ok
}

// Predicates returns the registered predicate names in sorted order.
func (e *Evaluator) Predicates() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.predicates))
	for n := range e.predicates {
		names = append(names, n)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Check reports whether expression is either a registered predicate or
// compiles under the grammar.
func (e *Evaluator) Check(expression string) error {
	if e.HasPredicate(expression) {
		return nil
	}
	_, err := e.program(expression)
	return err
}

// Evaluate resolves expression against vars.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (ok bool, err error) {
	expression = strings.TrimSpace(expression)

	e.mu.RLock()
	pred := e.predicates[expression]
	e.mu.RUnlock()
	if pred != nil {
		defer func() {
			if r := recover(); r != nil {
				ok, err = false, fmt.Errorf("%w: %s: panic: %v", ErrPredicate, expression, r)
			}
		}()
		ok, err = pred(vars)
		if err != nil {
			return false, fmt.Errorf("%w: %s: %w", ErrPredicate, expression, err)
		}
		return ok, nil
	}

	prog, err := e.program(expression)
	if err != nil {
		return false, err
	}
	return prog.Eval(vars)
}

func (e *Evaluator) program(src string) (*Program, error) {
	src = strings.TrimSpace(src)
	e.mu.RLock()
	prog, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := Compile(src)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	if len(e.programs) >= maxCachedPrograms {
		e.programs = make(map[string]*Program)
	}
	e.programs[src] = prog
	e.mu.Unlock()
	return prog, nil
}
