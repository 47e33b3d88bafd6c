package rules

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// eachSuffix is the reserved suffix on raw key strings that marks
// "then once per element of the array found here".
const eachSuffix = "[]"

type segmentKind uint8

const (
	segKey segmentKind = iota
	segIndex
	segWildcard
)

// Segment is a single step in a Path: a field key, a resolved array
// index, or the wildcard marker that the expander replaces with one
// index segment per array element.
type Segment struct {
	kind  segmentKind
	key   string
	index int
}

// Key builds a field-key segment.
func Key(name string) Segment {
	return Segment{kind: segKey, key: name}
}

// Index builds a resolved array-index segment.
func Index(i int) Segment {
	return Segment{kind: segIndex, index: i}
}

// Wildcard is the unresolved "each element" marker.
var Wildcard = Segment{kind: segWildcard}

// KeyName returns the field name and whether the segment is a key.
func (s Segment) KeyName() (string, bool) {
	return s.key, s.kind == segKey
}

// ArrayIndex returns the resolved index and whether the segment is an index.
func (s Segment) ArrayIndex() (int, bool) {
	return s.index, s.kind == segIndex
}

// IsWildcard reports whether the segment is the unresolved marker.
func (s Segment) IsWildcard() bool {
	return s.kind == segWildcard
}

func (s Segment) String() string {
	switch s.kind {
	case segIndex:
		return "[" + strconv.Itoa(s.index) + "]"
	case segWildcard:
		return eachSuffix
	default:
		return s.key
	}
}

// Path is an ordered sequence of segments addressing one location in a
// nested value tree. A concrete path contains no wildcard segments.
type Path []Segment

// Child returns a new Path with seg appended. The receiver's backing
// array is never shared, so sibling children built from one parent do
// not clobber each other during fan-out.
func (p Path) Child(seg Segment) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, seg)
}

// Equal reports segment-wise equality.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalJSON renders the path in its dotted string form.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// String renders the path in dotted form, e.g. "groups[0].members[1]".
// The empty path renders as "".
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if i > 0 && seg.kind == segKey {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}

// KeyEntry is one entry of an ordered nested key spec.
type KeyEntry struct {
	Key  string
	Spec any
}

// KeyMap is an ordered nested key spec, the declaration-order
// equivalent of {address: city}. A plain map[string]any is also
// accepted by the flattener but iterated in sorted key order, since
// Go maps carry no insertion order.
type KeyMap []KeyEntry

// splitKey breaks one raw key string into segments. Dots separate
// nested keys and the reserved suffix becomes an explicit wildcard
// marker, so "user.items[]" yields [user, items, wildcard]. Empty
// remainders are discarded; "[]" alone yields just the wildcard.
func splitKey(raw string) []Segment {
	var segs []Segment
	for _, part := range strings.Split(raw, ".") {
		wildcards := 0
		for strings.HasSuffix(part, eachSuffix) {
			part = strings.TrimSuffix(part, eachSuffix)
			wildcards++
		}
		if part != "" {
			segs = append(segs, Key(part))
		}
		for i := 0; i < wildcards; i++ {
			segs = append(segs, Wildcard)
		}
	}
	return segs
}

// flattenKeys turns a list of raw key specs into a flat segment
// sequence. Nested specs contribute their key followed by the
// flattened sub-spec, so {address: city} becomes [address, city].
func flattenKeys(specs []any) []Segment {
	var segs []Segment
	for _, spec := range specs {
		segs = appendFlattened(segs, spec)
	}
	return segs
}

func appendFlattened(segs []Segment, spec any) []Segment {
	switch v := spec.(type) {
	case nil:
		return segs
	case string:
		return append(segs, splitKey(v)...)
	case Segment:
		return append(segs, v)
	case Path:
		return append(segs, v...)
	case []Segment:
		return append(segs, v...)
	case KeyEntry:
		segs = append(segs, splitKey(v.Key)...)
		return appendFlattened(segs, v.Spec)
	case KeyMap:
		for _, entry := range v {
			segs = appendFlattened(segs, entry)
		}
		return segs
	case []string:
		for _, s := range v {
			segs = append(segs, splitKey(s)...)
		}
		return segs
	case []any:
		for _, sub := range v {
			segs = appendFlattened(segs, sub)
		}
		return segs
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			segs = append(segs, splitKey(k)...)
			segs = appendFlattened(segs, v[k])
		}
		return segs
	default:
		// Unknown scalar specs are ignored rather than rejected; key
		// flattening is total.
		return segs
	}
}
