package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celCostLimit caps expression evaluation cost so a pathological macro
// or check body cannot exhaust the process.
const celCostLimit = 1_000_000

// EvalEnv creates a CEL environment with the standard per-path
// bindings: value (the value under test), data (the whole value tree),
// path (rendered concrete path), index (trailing array index, -1 when
// absent), and args (macro arguments, empty for checks). Extra options
// can add contract-specific declarations such as top-level object
// variables.
func EvalEnv(opts ...cel.EnvOption) (*cel.Env, error) {
	base := []cel.EnvOption{
		cel.Variable("value", cel.DynType),
		cel.Variable("data", cel.DynType),
		cel.Variable("path", cel.StringType),
		cel.Variable("index", cel.IntType),
		cel.Variable("args", cel.ListType(cel.DynType)),
	}
	env, err := cel.NewEnv(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CELEvaluator runs macros and check bodies written as CEL boolean
// expressions. Macros are registered by name at configuration time;
// check bodies arrive as Expr values and are compiled once per source,
// so repeated dispatch reuses the cached program. An expression
// evaluating to false records a failure at the current path.
//
// Thread-safe for concurrent Invoke; macro registration and Invoke
// must not overlap, same as the rest of the registration surface.
type CELEvaluator struct {
	env    *cel.Env
	mu     sync.RWMutex
	macros map[string]cel.Program
	checks map[string]cel.Program
}

// NewCELEvaluator creates an evaluator on the standard environment.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := EvalEnv()
	if err != nil {
		return nil, err
	}
	return NewCELEvaluatorWithEnv(env), nil
}

// NewCELEvaluatorWithEnv creates an evaluator on a custom environment,
// typically one extended with contract-specific variables.
func NewCELEvaluatorWithEnv(env *cel.Env) *CELEvaluator {
	return &CELEvaluator{
		env:    env,
		macros: make(map[string]cel.Program),
		checks: make(map[string]cel.Program),
	}
}

// RegisterMacro compiles expr and binds it to name. Inside the
// expression the macro's arguments are available as the args list.
func (e *CELEvaluator) RegisterMacro(name, expr string) error {
	prog, err := e.compile(expr)
	if err != nil {
		return fmt.Errorf("macro %q: %w", name, err)
	}
	e.mu.Lock()
	e.macros[name] = prog
	e.mu.Unlock()
	return nil
}

// CompileCheck validates and caches a check expression ahead of
// dispatch, so registration can fail fast on a body that does not
// compile.
func (e *CELEvaluator) CompileCheck(expr string) error {
	_, err := e.checkProgram(expr)
	return err
}

// HasMacro reports whether name is registered.
func (e *CELEvaluator) HasMacro(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.macros[name]
	return ok
}

func (e *CELEvaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prog, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}

func (e *CELEvaluator) checkProgram(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.checks[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	prog, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.checks[expr] = prog
	e.mu.Unlock()
	return prog, nil
}

// Invoke evaluates the macros in order, then the check expression,
// scoped to path. Each expression that yields false (or anything other
// than true) appends a failure; macro failures carry the macro name as
// predicate and its registration args. Evaluation errors abort the
// invocation and propagate to the dispatch caller.
func (e *CELEvaluator) Invoke(result Result, path Path, macros []MacroCall, check any) ([]Failure, error) {
	data := result.ValueAt(nil)
	activation := map[string]any{}
	// Top-level objects of the value tree are addressable by name, so
	// contract environments can declare them as variables and a check
	// can say User.Age instead of data.User.Age. Reserved names win on
	// collision.
	if tree, ok := data.(map[string]any); ok {
		for name, v := range tree {
			activation[name] = v
		}
	}
	activation["value"] = result.ValueAt(path)
	activation["data"] = data
	activation["path"] = path.String()
	activation["index"] = pathIndex(path)
	activation["args"] = []any{}

	var failures FailureSet
	for _, call := range macros {
		e.mu.RLock()
		prog, ok := e.macros[call.Name]
		e.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("macro %q is not registered", call.Name)
		}

		activation["args"] = call.Args
		passed, err := evalBool(prog, activation)
		if err != nil {
			return nil, fmt.Errorf("macro %q: %w", call.Name, err)
		}
		if !passed {
			failures.Add(Failure{Path: path, Predicate: call.Name, Args: call.Args})
		}
	}

	expr, err := checkSource(check)
	if err != nil {
		return nil, err
	}
	if expr != "" {
		prog, err := e.checkProgram(expr)
		if err != nil {
			return nil, err
		}
		activation["args"] = []any{}
		passed, err := evalBool(prog, activation)
		if err != nil {
			return nil, fmt.Errorf("check: %w", err)
		}
		if !passed {
			failures.Add(Failure{Path: path, Predicate: "check", Message: expr})
		}
	}

	return failures.Failures(), nil
}

// checkSource extracts the expression source from an opaque check
// body. Nil means no check; anything else must be an Expr or string.
func checkSource(check any) (string, error) {
	switch v := check.(type) {
	case nil:
		return "", nil
	case Expr:
		return string(v), nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("unsupported check type %T", check)
	}
}

// evalBool runs a compiled program and reports whether it produced
// true. Non-boolean outputs count as false, matching how boolean rule
// expressions are treated everywhere else in this module.
func evalBool(prog cel.Program, activation map[string]any) (bool, error) {
	out, _, err := prog.Eval(activation)
	if err != nil {
		return false, err
	}
	passed, ok := out.Value().(bool)
	return ok && passed, nil
}
