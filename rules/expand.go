package rules

// Expand computes the concrete paths a rule must visit in result.
//
// Keys are flattened into atomic segments (nested specs contribute
// their chain, "[]" suffixes become explicit wildcard segments, empty
// segments are dropped). In each mode a trailing wildcard is appended,
// so the rule runs once per element of the array found at the base
// keys. Segments are then applied left to right against the working
// set: a plain segment extends every path one-to-one, a wildcard
// replaces each path with one child per element of the array found
// there. A wildcard over a non-array drops that path entirely; that is
// fan-out producing zero children, not an error.
//
// The returned paths are in depth-first generation order, ascending
// index per wildcard level, which is the order dispatch visits them
// in. Array lengths are only known at validation time, so expansion
// always runs against a live Result; a rule with no wildcard segments
// simply degenerates to the single path of its literal keys.
func Expand(keys []any, result Result, each bool) []Path {
	segs := flattenKeys(keys)
	if each {
		segs = append(segs, Wildcard)
	}

	working := []Path{{}}
	for _, seg := range segs {
		if !seg.IsWildcard() {
			for i := range working {
				working[i] = working[i].Child(seg)
			}
			continue
		}

		var next []Path
		for _, p := range working {
			if !result.IsArray(p) {
				continue
			}
			n := result.ArrayLen(p)
			for i := 0; i < n; i++ {
				next = append(next, p.Child(Index(i)))
			}
		}
		working = next
	}
	return working
}
