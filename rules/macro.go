package rules

import (
	"fmt"
	"sort"
)

// MacroCall is the canonical form of one macro use: a name plus the
// argument list it should run with. Args is never nil after
// normalization.
type MacroCall struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// MacroEntry is one entry of an ordered name-to-args mapping spec.
type MacroEntry struct {
	Name string
	Args any
}

// MacroMap is the ordered mapping form of a macro spec, the
// declaration-order equivalent of {min: 18, between: [1, 10]}. A plain
// map[string]any is also accepted but iterated in sorted key order.
type MacroMap []MacroEntry

// NormalizeMacros converts heterogeneous macro specs into the
// canonical ordered (name, args) list. Accepted shapes per element:
//
//   - string            -> (name, [])
//   - MacroCall         -> kept as-is (nil args become empty)
//   - []MacroCall       -> each kept as-is
//   - MacroMap / map    -> one call per entry; non-list args are
//     wrapped into a one-element list
//   - []any             -> compound spec (first, rest)
//   - anything else     -> name-only call on its printed form
//
// Output order is strictly production order. Duplicates are legal and
// preserved. The function is total and idempotent: normalizing an
// already-canonical list returns an equal list.
func NormalizeMacros(specs ...any) []MacroCall {
	calls := make([]MacroCall, 0, len(specs))
	for _, spec := range specs {
		calls = appendNormalized(calls, spec)
	}
	return calls
}

func appendNormalized(calls []MacroCall, spec any) []MacroCall {
	switch v := spec.(type) {
	case nil:
		return calls
	case string:
		return append(calls, MacroCall{Name: v, Args: []any{}})
	case MacroCall:
		return append(calls, canonicalCall(v))
	case []MacroCall:
		for _, call := range v {
			calls = append(calls, canonicalCall(call))
		}
		return calls
	case MacroEntry:
		return append(calls, MacroCall{Name: v.Name, Args: wrapArgs(v.Args)})
	case MacroMap:
		for _, entry := range v {
			calls = append(calls, MacroCall{Name: entry.Name, Args: wrapArgs(entry.Args)})
		}
		return calls
	case map[string]any:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			calls = append(calls, MacroCall{Name: name, Args: wrapArgs(v[name])})
		}
		return calls
	case []string:
		for _, name := range v {
			calls = append(calls, MacroCall{Name: name, Args: []any{}})
		}
		return calls
	case []any:
		if len(v) == 0 {
			return calls
		}
		name, ok := v[0].(string)
		if !ok {
			name = fmt.Sprint(v[0])
		}
		args := make([]any, len(v)-1)
		copy(args, v[1:])
		return append(calls, MacroCall{Name: name, Args: args})
	default:
		// Any other scalar is treated as a bare name-only spec.
		return append(calls, MacroCall{Name: fmt.Sprint(v), Args: []any{}})
	}
}

func canonicalCall(call MacroCall) MacroCall {
	if call.Args == nil {
		call.Args = []any{}
	}
	return call
}

// wrapArgs coerces a mapping value into an argument list: lists pass
// through, anything else becomes a one-element list.
func wrapArgs(v any) []any {
	switch args := v.(type) {
	case nil:
		return []any{}
	case []any:
		return args
	default:
		return []any{v}
	}
}
