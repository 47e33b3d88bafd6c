package rules

// Result is what the shape/type layer hands the engine: a value tree
// addressable by Path plus the record of which paths already failed
// shape validation. The engine only reads it.
type Result interface {
	// ValueAt returns the value at path, or nil if the path does not
	// resolve. The empty path returns the whole tree.
	ValueAt(p Path) any

	// IsArray reports whether the value at path is an array.
	IsArray(p Path) bool

	// ArrayLen returns the length of the array at path. Only
	// meaningful when IsArray(p) is true.
	ArrayLen(p Path) int

	// HasError reports whether the path was already marked as a shape
	// validation failure.
	HasError(p Path) bool
}

// MapResult is an in-memory Result over a decoded JSON-style value
// tree (map[string]any with []any arrays), with an explicit set of
// schema-error paths supplied by the shape layer.
type MapResult struct {
	data   map[string]any
	failed map[string]struct{}
}

// NewMapResult wraps a value tree with an empty error set.
func NewMapResult(data map[string]any) *MapResult {
	return &MapResult{
		data:   data,
		failed: make(map[string]struct{}),
	}
}

// MarkError records a shape failure at path. Intended for the shape
// layer while it builds the Result, before any rule runs against it.
func (r *MapResult) MarkError(p Path) {
	r.failed[p.String()] = struct{}{}
}

// ValueAt walks the tree segment by segment. A key against a non-map,
// an index out of range, or a missing key all resolve to nil.
func (r *MapResult) ValueAt(p Path) any {
	var current any = r.data
	for _, seg := range p {
		if key, ok := seg.KeyName(); ok {
			m, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current = m[key]
			continue
		}
		if i, ok := seg.ArrayIndex(); ok {
			arr, ok := current.([]any)
			if !ok || i < 0 || i >= len(arr) {
				return nil
			}
			current = arr[i]
			continue
		}
		// Wildcard segments never resolve to a value.
		return nil
	}
	return current
}

func (r *MapResult) IsArray(p Path) bool {
	_, ok := r.ValueAt(p).([]any)
	return ok
}

func (r *MapResult) ArrayLen(p Path) int {
	arr, ok := r.ValueAt(p).([]any)
	if !ok {
		return 0
	}
	return len(arr)
}

func (r *MapResult) HasError(p Path) bool {
	_, failed := r.failed[p.String()]
	return failed
}
