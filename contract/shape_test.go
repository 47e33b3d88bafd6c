package contract

import (
	"testing"

	"github.com/toptal/dry-validation/rules"
)

func TestShapeCheckCleanPayload(t *testing.T) {
	schema := Schema{
		"User": {"Name": "string", "Age": "int"},
	}
	payload := map[string]any{
		"User": map[string]any{"Name": "ada", "Age": 36.0},
	}

	result, failures := ShapeCheck(schema, payload)

	if len(failures) != 0 {
		t.Fatalf("got %d failures for a clean payload: %v", len(failures), failures)
	}
	if result.HasError(rules.Path{rules.Key("User"), rules.Key("Age")}) {
		t.Error("clean path should not be marked")
	}
	if got := result.ValueAt(rules.Path{rules.Key("User"), rules.Key("Name")}); got != "ada" {
		t.Errorf("ValueAt(User.Name) = %v, want ada", got)
	}
}

func TestShapeCheckMissingObject(t *testing.T) {
	schema := Schema{"User": {"Age": "int"}}

	result, failures := ShapeCheck(schema, map[string]any{})

	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	f := failures[0]
	if f.Predicate != "key?" || f.Path.String() != "User" {
		t.Errorf("failure = %+v, want key? at User", f)
	}
	if !result.HasError(rules.Path{rules.Key("User")}) {
		t.Error("missing object path should be marked")
	}
}

func TestShapeCheckObjectWrongType(t *testing.T) {
	schema := Schema{"User": {"Age": "int"}}
	payload := map[string]any{"User": "not an object"}

	result, failures := ShapeCheck(schema, payload)

	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
	f := failures[0]
	if f.Predicate != "type?" || f.Path.String() != "User" {
		t.Errorf("failure = %+v, want type? at User", f)
	}
	if len(f.Args) != 1 || f.Args[0] != "object" {
		t.Errorf("Args = %v, want [object]", f.Args)
	}
	if !result.HasError(rules.Path{rules.Key("User")}) {
		t.Error("mistyped object path should be marked")
	}
}

func TestShapeCheckFieldFailures(t *testing.T) {
	schema := Schema{
		"User": {"Age": "int", "Name": "string"},
	}
	payload := map[string]any{
		"User": map[string]any{"Age": "old"},
	}

	result, failures := ShapeCheck(schema, payload)

	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2: %v", len(failures), failures)
	}

	// Sorted field order: Age before Name.
	if failures[0].Predicate != "type?" || failures[0].Path.String() != "User.Age" {
		t.Errorf("failures[0] = %+v, want type? at User.Age", failures[0])
	}
	if failures[0].Args[0] != "int" {
		t.Errorf("Args = %v, want [int]", failures[0].Args)
	}
	if failures[1].Predicate != "key?" || failures[1].Path.String() != "User.Name" {
		t.Errorf("failures[1] = %+v, want key? at User.Name", failures[1])
	}

	if !result.HasError(rules.Path{rules.Key("User"), rules.Key("Age")}) {
		t.Error("mistyped field path should be marked")
	}
	if !result.HasError(rules.Path{rules.Key("User"), rules.Key("Name")}) {
		t.Error("missing field path should be marked")
	}
}

func TestShapeCheckSortedObjectOrder(t *testing.T) {
	schema := Schema{
		"Zed":   {"F": "int"},
		"Alpha": {"F": "int"},
	}

	_, failures := ShapeCheck(schema, map[string]any{})

	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(failures))
	}
	if failures[0].Path.String() != "Alpha" || failures[1].Path.String() != "Zed" {
		t.Errorf("failure order = [%s, %s], want sorted object order",
			failures[0].Path, failures[1].Path)
	}
}

func TestMatchesType(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		typeName string
		want     bool
	}{
		{"integral float as int", 42.0, "int", true},
		{"fractional float as int", 42.5, "int", false},
		{"native int as int64", 42, "int64", true},
		{"string as int", "42", "int", false},
		{"int as float64", 3, "float64", true},
		{"float as float64", 3.14, "float64", true},
		{"string", "hi", "string", true},
		{"non-string as string", 1.0, "string", false},
		{"bool", true, "bool", true},
		{"rfc3339 timestamp", "2026-08-30T12:00:00Z", "timestamp", true},
		{"bad timestamp", "yesterday", "timestamp", false},
		{"duration", "1h30m", "duration", true},
		{"bad duration", "90", "duration", false},
		{"list", []any{1.0, 2.0}, "list", true},
		{"non-list as list", map[string]any{}, "list", false},
		{"object", map[string]any{"k": 1.0}, "object", true},
		{"non-object as object", []any{}, "object", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchesType(tc.value, tc.typeName); got != tc.want {
				t.Errorf("matchesType(%v, %q) = %v, want %v", tc.value, tc.typeName, got, tc.want)
			}
		})
	}
}
