package contract

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/toptal/dry-validation/rules"
)

// DefaultMacros are the built-in reusable validation snippets every
// engine starts with. Their bodies see the standard bindings plus args
// from the rule's macro spec.
var DefaultMacros = map[string]string{
	"filled?":     `value != null && (type(value) != string || value != "")`,
	"empty?":      `value == null || (type(value) == string && value == "")`,
	"min":         `double(value) >= double(args[0])`,
	"max":         `double(value) <= double(args[0])`,
	"between":     `double(value) >= double(args[0]) && double(value) <= double(args[1])`,
	"size_min":    `size(value) >= int(args[0])`,
	"size_max":    `size(value) <= int(args[0])`,
	"included_in": `value in args`,
	"format":      `string(value).matches(string(args[0]))`,
}

// EnvFromSchema creates the contract's CEL environment: the standard
// per-path bindings plus one dynamic variable per top-level schema
// object, so check bodies can reference objects by name.
func EnvFromSchema(schema Schema) (*cel.Env, error) {
	var opts []cel.EnvOption
	for objectName := range schema {
		opts = append(opts, cel.Variable(objectName, cel.DynType))
	}
	return rules.EvalEnv(opts...)
}

// RuleResult is the outcome of applying one rule definition: its
// failures in path-generation order, or the evaluator fault that
// aborted it.
type RuleResult struct {
	DefinitionID string          `json:"definitionId"`
	Name         string          `json:"name"`
	Failures     []rules.Failure `json:"failures"`
	Err          error           `json:"-"`
}

// Outcome is the full validation result for one payload: the shape
// layer's failures followed by every rule's failures, in registration
// then generation order.
type Outcome struct {
	SchemaFailures []rules.Failure `json:"schemaFailures"`
	Results        []RuleResult    `json:"results"`
}

// Failures concatenates schema failures and rule failures in report
// order.
func (o *Outcome) Failures() []rules.Failure {
	failures := make([]rules.Failure, 0, len(o.SchemaFailures))
	failures = append(failures, o.SchemaFailures...)
	for _, r := range o.Results {
		failures = append(failures, r.Failures...)
	}
	return failures
}

// OK reports whether the payload passed shape and rule validation.
func (o *Outcome) OK() bool {
	if len(o.SchemaFailures) > 0 {
		return false
	}
	for _, r := range o.Results {
		if len(r.Failures) > 0 || r.Err != nil {
			return false
		}
	}
	return true
}

// Engine holds one contract's compiled state: the CEL evaluator built
// from the schema, the dispatcher, the definition store, and the
// dispatch snapshots compiled per definition. Thread-safe for
// concurrent Validate; definition mutation goes through the Add/
// Update/Delete surface.
type Engine struct {
	schema   Schema
	eval     *rules.CELEvaluator
	disp     *rules.Dispatcher
	store    rules.DefinitionStore
	cache    rules.DefinitionsCache
	compiled map[string]*rules.Rule
	mu       sync.RWMutex
}

// NewEngine creates an engine for schema, registers the default
// macros, and compiles every active definition already in the store.
func NewEngine(schema Schema, store rules.DefinitionStore) (*Engine, error) {
	env, err := EnvFromSchema(schema)
	if err != nil {
		return nil, err
	}
	return NewEngineWithEnv(env, schema, store)
}

// NewEngineWithEnv creates an engine on a custom CEL environment.
func NewEngineWithEnv(env *cel.Env, schema Schema, store rules.DefinitionStore) (*Engine, error) {
	eval := rules.NewCELEvaluatorWithEnv(env)
	for name, expr := range DefaultMacros {
		if err := eval.RegisterMacro(name, expr); err != nil {
			return nil, fmt.Errorf("failed to register built-in macro: %w", err)
		}
	}

	e := &Engine{
		schema:   schema,
		eval:     eval,
		disp:     rules.NewDispatcher(eval),
		store:    store,
		cache:    rules.NewInMemoryDefinitionsCache(rules.DefaultCacheConfig()),
		compiled: make(map[string]*rules.Rule),
	}

	if err := e.CompileAll(); err != nil {
		return nil, fmt.Errorf("failed to compile definitions: %w", err)
	}

	return e, nil
}

// Schema returns the schema the engine was built from.
func (e *Engine) Schema() Schema {
	return e.schema
}

// RegisterMacro compiles and registers a contract-specific macro.
// Registration must happen before dispatch begins.
func (e *Engine) RegisterMacro(name, expr string) error {
	return e.eval.RegisterMacro(name, expr)
}

// CompileDefinition validates a definition against the engine's
// evaluator and installs its dispatch snapshot: every referenced macro
// must be registered and the check expression must compile.
func (e *Engine) CompileDefinition(def *rules.Definition) error {
	for _, call := range def.Macros {
		if !e.eval.HasMacro(call.Name) {
			return fmt.Errorf("macro %q is not registered", call.Name)
		}
	}

	if def.Expression != "" {
		if err := e.eval.CompileCheck(def.Expression); err != nil {
			return fmt.Errorf("compile error: %w", err)
		}
	}

	rule := def.Rule()

	e.mu.Lock()
	e.compiled[def.ID] = rule
	e.mu.Unlock()

	return nil
}

// CompileAll compiles every active definition from the store and
// primes the cache.
func (e *Engine) CompileAll() error {
	defs, err := e.store.ListActive()
	if err != nil {
		return err
	}

	for _, def := range defs {
		if err := e.CompileDefinition(def); err != nil {
			return fmt.Errorf("failed to compile definition %s: %w", def.ID, err)
		}
	}

	e.cache.Set(defs)

	return nil
}

// AddDefinition validates, compiles, and stores a new definition.
func (e *Engine) AddDefinition(def *rules.Definition) error {
	_, err := e.store.Get(def.ID)
	if err == nil {
		return fmt.Errorf("definition with ID %s already exists", def.ID)
	}

	if err := e.CompileDefinition(def); err != nil {
		return fmt.Errorf("definition validation failed: %w", err)
	}

	if err := e.store.Add(def); err != nil {
		// Keep compiled state consistent with the store.
		e.mu.Lock()
		delete(e.compiled, def.ID)
		e.mu.Unlock()
		return err
	}

	e.cache.Invalidate()

	return nil
}

// UpdateDefinition recompiles and updates an existing definition.
func (e *Engine) UpdateDefinition(def *rules.Definition) error {
	if err := e.CompileDefinition(def); err != nil {
		return fmt.Errorf("definition validation failed: %w", err)
	}

	if err := e.store.Update(def); err != nil {
		return err
	}

	e.cache.Invalidate()

	return nil
}

// DeleteDefinition removes a definition from the store and the
// compiled set.
func (e *Engine) DeleteDefinition(id string) error {
	if err := e.store.Delete(id); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.compiled, id)
	e.mu.Unlock()

	e.cache.Invalidate()

	return nil
}

// Apply dispatches one compiled definition against a prepared Result.
func (e *Engine) Apply(definitionID string, result rules.Result) ([]rules.Failure, error) {
	e.mu.RLock()
	rule, ok := e.compiled[definitionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("definition %s is not compiled", definitionID)
	}

	return e.disp.Apply(rule, result)
}

// Validate shape-checks payload against the contract schema and then
// applies every active definition to the resulting value tree. A rule
// whose evaluation faults is recorded in its result and does not stop
// the remaining rules.
func (e *Engine) Validate(payload map[string]any) (*Outcome, error) {
	result, schemaFailures := ShapeCheck(e.schema, payload)
	return e.ValidateResult(result, schemaFailures)
}

// ValidateResult applies every active definition to an externally
// prepared Result. schemaFailures is the shape layer's own report and
// is carried into the outcome untouched.
func (e *Engine) ValidateResult(result rules.Result, schemaFailures []rules.Failure) (*Outcome, error) {
	defs := e.cache.Get()
	if defs == nil {
		var err error
		defs, err = e.store.ListActive()
		if err != nil {
			return nil, err
		}
		e.cache.Set(defs)
	}

	outcome := &Outcome{
		SchemaFailures: schemaFailures,
		Results:        make([]RuleResult, 0, len(defs)),
	}

	for _, def := range defs {
		e.mu.RLock()
		rule, ok := e.compiled[def.ID]
		e.mu.RUnlock()

		if !ok {
			outcome.Results = append(outcome.Results, RuleResult{
				DefinitionID: def.ID,
				Name:         def.Name,
				Err:          fmt.Errorf("definition %s is not compiled", def.ID),
			})
			continue
		}

		failures, err := e.disp.Apply(rule, result)
		outcome.Results = append(outcome.Results, RuleResult{
			DefinitionID: def.ID,
			Name:         def.Name,
			Failures:     failures,
			Err:          err,
		})
	}

	return outcome, nil
}
