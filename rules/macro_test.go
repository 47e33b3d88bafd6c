package rules

import (
	"reflect"
	"testing"
)

func TestNormalizeMacrosOrderPreservation(t *testing.T) {
	got := NormalizeMacros(
		"a",
		MacroMap{
			{Name: "b", Args: 1},
			{Name: "c", Args: []any{2, 3}},
		},
		"d",
	)

	want := []MacroCall{
		{Name: "a", Args: []any{}},
		{Name: "b", Args: []any{1}},
		{Name: "c", Args: []any{2, 3}},
		{Name: "d", Args: []any{}},
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeMacros() = %v, want %v", got, want)
	}
}

func TestNormalizeMacrosShapes(t *testing.T) {
	testCases := []struct {
		name  string
		specs []any
		want  []MacroCall
	}{
		{
			"bare name",
			[]any{"filled?"},
			[]MacroCall{{Name: "filled?", Args: []any{}}},
		},
		{
			"compound spec",
			[]any{[]any{"min", 18}},
			[]MacroCall{{Name: "min", Args: []any{18}}},
		},
		{
			"canonical call",
			[]any{MacroCall{Name: "max", Args: []any{99}}},
			[]MacroCall{{Name: "max", Args: []any{99}}},
		},
		{
			"call with nil args",
			[]any{MacroCall{Name: "filled?"}},
			[]MacroCall{{Name: "filled?", Args: []any{}}},
		},
		{
			"canonical list",
			[]any{[]MacroCall{{Name: "a", Args: []any{}}, {Name: "b", Args: []any{1}}}},
			[]MacroCall{{Name: "a", Args: []any{}}, {Name: "b", Args: []any{1}}},
		},
		{
			"single entry",
			[]any{MacroEntry{Name: "min", Args: 5}},
			[]MacroCall{{Name: "min", Args: []any{5}}},
		},
		{
			"plain map sorts names",
			[]any{map[string]any{"b": 1, "a": []any{2}}},
			[]MacroCall{{Name: "a", Args: []any{2}}, {Name: "b", Args: []any{1}}},
		},
		{
			"string slice",
			[]any{[]string{"x", "y"}},
			[]MacroCall{{Name: "x", Args: []any{}}, {Name: "y", Args: []any{}}},
		},
		{
			"duplicates preserved",
			[]any{"a", "a"},
			[]MacroCall{{Name: "a", Args: []any{}}, {Name: "a", Args: []any{}}},
		},
		{
			"empty compound emits nothing",
			[]any{[]any{}},
			[]MacroCall{},
		},
		{
			"non-string scalar printed",
			[]any{42},
			[]MacroCall{{Name: "42", Args: []any{}}},
		},
		{
			"nil ignored",
			[]any{nil},
			[]MacroCall{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeMacros(tc.specs...)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("NormalizeMacros(%v) = %v, want %v", tc.specs, got, tc.want)
			}
		})
	}
}

func TestNormalizeMacrosIdempotent(t *testing.T) {
	once := NormalizeMacros("a", MacroMap{{Name: "b", Args: []any{1, 2}}}, []any{"c", 3})

	asSpecs := make([]any, len(once))
	for i, call := range once {
		asSpecs[i] = call
	}
	twice := NormalizeMacros(asSpecs...)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalizing twice changed the result: %v vs %v", once, twice)
	}
}
