package rules

import (
	"fmt"
	"reflect"
	"sync"
)

// Expr is a check body written in the evaluator's expression language
// (CEL here). The dispatch layer does not interpret it; the tag only
// lets the builder tell an expression check apart from a bare macro
// name in a mixed Validate argument list.
type Expr string

// Rule is the immutable snapshot dispatch runs against: the declared
// key specs, the macro specs to run before the check, the each-mode
// flag, and the opaque check body. Build one with RuleBuilder; a Rule
// is safe for concurrent Apply calls because nothing mutates it after
// Build except the one-time macro normalization cache.
type Rule struct {
	keys      []any
	baseKeys  []any
	each      bool
	rawMacros []any
	check     any

	macroOnce sync.Once
	macros    []MacroCall
}

// Keys returns the externally visible key specs. For an each-mode rule
// this is empty: the base keys are retained internally for expansion
// but are not part of the rule's visible key set.
func (r *Rule) Keys() []any {
	keys := make([]any, len(r.keys))
	copy(keys, r.keys)
	return keys
}

// EachMode reports whether the rule runs once per array element under
// its base keys.
func (r *Rule) EachMode() bool {
	return r.each
}

// Check returns the opaque check body.
func (r *Rule) Check() any {
	return r.check
}

// Macros returns the canonical macro list, normalizing the raw specs
// on first use. Normalization is idempotent, so caching it is purely
// an optimization across repeated Apply calls.
func (r *Rule) Macros() []MacroCall {
	r.macroOnce.Do(func() {
		r.macros = NormalizeMacros(r.rawMacros...)
	})
	return r.macros
}

// expandKeys returns the key specs expansion runs over: the retained
// base keys in each mode, the visible keys otherwise.
func (r *Rule) expandKeys() []any {
	if r.each {
		return r.baseKeys
	}
	return r.keys
}

// Equal implements rule identity: two rules are the same when their
// visible keys and check body match. Macros are deliberately not part
// of identity.
func (r *Rule) Equal(other *Rule) bool {
	if r == nil || other == nil {
		return r == other
	}
	return reflect.DeepEqual(r.keys, other.keys) && sameCheck(r.check, other.check)
}

func (r *Rule) String() string {
	return fmt.Sprintf("rule(keys=%v)", flattenKeys(r.keys))
}

// Describe returns the stable debug representation of a rule's visible
// top-level key set. Each-mode rules report an empty set.
func Describe(r *Rule) string {
	return r.String()
}

func sameCheck(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Func || vb.Kind() == reflect.Func {
		return va.Kind() == vb.Kind() && va.Pointer() == vb.Pointer()
	}
	return reflect.DeepEqual(a, b)
}

// RuleBuilder is the mutable registration-phase configuration surface.
// Chained calls configure keys, macros, each mode, and the check body;
// Build snapshots the result into an immutable Rule. Builders are for
// the registration phase only and must not be touched once dispatch
// against their rules has begun.
type RuleBuilder struct {
	keys     []any
	baseKeys []any
	each     bool
	macros   []any
	check    any
}

// NewRule starts a builder bound to the given key specs.
func NewRule(keys ...any) *RuleBuilder {
	return &RuleBuilder{keys: keys}
}

// Validate sets the rule's macro specs and check body. Arguments of
// type CheckFunc or Expr are taken as the check (last one wins);
// everything else is a macro spec in the given order. Calling Validate
// again replaces the previous configuration.
func (b *RuleBuilder) Validate(specsAndCheck ...any) *RuleBuilder {
	b.macros, b.check = splitSpecs(specsAndCheck)
	return b
}

// Each switches the rule into each mode: the current keys move into
// the base-path role (the expander appends a wildcard to them) and the
// visible key set resets to empty. Macro specs and check body are set
// as in Validate.
func (b *RuleBuilder) Each(specsAndCheck ...any) *RuleBuilder {
	b.each = true
	b.baseKeys = b.keys
	b.keys = nil
	b.macros, b.check = splitSpecs(specsAndCheck)
	return b
}

// Build snapshots the builder into an immutable Rule.
func (b *RuleBuilder) Build() *Rule {
	r := &Rule{
		keys:      make([]any, len(b.keys)),
		baseKeys:  make([]any, len(b.baseKeys)),
		each:      b.each,
		rawMacros: make([]any, len(b.macros)),
		check:     b.check,
	}
	copy(r.keys, b.keys)
	copy(r.baseKeys, b.baseKeys)
	copy(r.rawMacros, b.macros)
	return r
}

// splitSpecs partitions a Validate/Each argument list into macro specs
// and the check body.
func splitSpecs(args []any) (macros []any, check any) {
	for _, arg := range args {
		switch v := arg.(type) {
		case CheckFunc:
			check = v
		case func(*Context, *FailureSet):
			check = CheckFunc(v)
		case Expr:
			check = v
		default:
			macros = append(macros, arg)
		}
	}
	return macros, check
}
