package rules

import "fmt"

// Context is the explicit per-path scope handed to Go check functions
// and macros: the value under test, its concrete path, the array index
// it sits under (-1 when not under one), and the whole Result for
// cross-field lookups.
type Context struct {
	Value any
	Path  Path
	Index int
	Data  Result
}

// CheckFunc is a user-supplied validation body for the Go evaluator.
// It reads the context and appends failures to the set.
type CheckFunc func(ctx *Context, failures *FailureSet)

// MacroFunc is a registered reusable validation snippet. It runs
// before the check function at each path, with the arguments given at
// rule registration.
type MacroFunc func(ctx *Context, args []any, failures *FailureSet)

// Evaluator runs normalized macros followed by the check function,
// scoped to one concrete path, and returns the failures they produced
// in execution order. The check value's concrete type is an agreement
// between the registration site and the evaluator; the dispatch layer
// treats it as opaque.
type Evaluator interface {
	Invoke(result Result, path Path, macros []MacroCall, check any) ([]Failure, error)
}

// FuncEvaluator runs CheckFunc bodies and MacroFunc snippets
// registered under their macro names.
type FuncEvaluator struct {
	macros map[string]MacroFunc
}

func NewFuncEvaluator() *FuncEvaluator {
	return &FuncEvaluator{macros: make(map[string]MacroFunc)}
}

// RegisterMacro binds name to fn. Registration happens before any
// dispatch begins; the map is not guarded for concurrent mutation.
func (e *FuncEvaluator) RegisterMacro(name string, fn MacroFunc) {
	e.macros[name] = fn
}

// Invoke runs macros in order, then the check function, collecting
// failures as they are added. An unregistered macro name or a check of
// the wrong type is an evaluator fault and aborts the invocation.
func (e *FuncEvaluator) Invoke(result Result, path Path, macros []MacroCall, check any) ([]Failure, error) {
	ctx := &Context{
		Value: result.ValueAt(path),
		Path:  path,
		Index: pathIndex(path),
		Data:  result,
	}

	var failures FailureSet
	for _, call := range macros {
		fn, ok := e.macros[call.Name]
		if !ok {
			return nil, fmt.Errorf("macro %q is not registered", call.Name)
		}
		fn(ctx, call.Args, &failures)
	}

	if check != nil {
		fn, ok := check.(CheckFunc)
		if !ok {
			return nil, fmt.Errorf("unsupported check type %T", check)
		}
		fn(ctx, &failures)
	}

	return failures.Failures(), nil
}

// pathIndex returns the trailing array index of a concrete path, or -1
// when the path does not end under an array element.
func pathIndex(p Path) int {
	if len(p) == 0 {
		return -1
	}
	if i, ok := p[len(p)-1].ArrayIndex(); ok {
		return i
	}
	return -1
}
