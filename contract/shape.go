package contract

import (
	"math"
	"sort"
	"time"

	"github.com/toptal/dry-validation/rules"
)

// ShapeCheck validates a decoded payload against the contract schema
// and builds the Result rules dispatch against. Every path that fails
// the shape check is marked on the Result, so rule dispatch skips it
// instead of piling business-level failures on top of a type error.
//
// Returned failures are the shape layer's own report, in sorted
// object/field order: predicate "key?" for a missing field or object,
// "type?" for a present value of the wrong type (with the expected
// type name as the argument).
func ShapeCheck(schema Schema, payload map[string]any) (*rules.MapResult, []rules.Failure) {
	result := rules.NewMapResult(payload)
	var failures []rules.Failure

	for _, objectName := range sortedKeys(schema) {
		objectPath := rules.Path{rules.Key(objectName)}
		raw, present := payload[objectName]
		if !present {
			result.MarkError(objectPath)
			failures = append(failures, rules.Failure{Path: objectPath, Predicate: "key?"})
			continue
		}

		object, ok := raw.(map[string]any)
		if !ok {
			result.MarkError(objectPath)
			failures = append(failures, rules.Failure{Path: objectPath, Predicate: "type?", Args: []any{"object"}})
			continue
		}

		fields := schema[objectName]
		for _, fieldName := range sortedKeys(fields) {
			fieldPath := objectPath.Child(rules.Key(fieldName))
			value, present := object[fieldName]
			if !present {
				result.MarkError(fieldPath)
				failures = append(failures, rules.Failure{Path: fieldPath, Predicate: "key?"})
				continue
			}

			typeName := fields[fieldName]
			if !matchesType(value, typeName) {
				result.MarkError(fieldPath)
				failures = append(failures, rules.Failure{Path: fieldPath, Predicate: "type?", Args: []any{typeName}})
			}
		}
	}

	return result, failures
}

// matchesType checks one decoded JSON value against a schema type
// name. JSON numbers decode to float64, so the int types accept any
// number with an integral value.
func matchesType(value any, typeName string) bool {
	switch typeName {
	case "int", "int64":
		switch n := value.(type) {
		case int, int64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case "float64":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "string", "bytes":
		_, ok := value.(string)
		return ok
	case "bool":
		_, ok := value.(bool)
		return ok
	case "timestamp":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	case "duration":
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := time.ParseDuration(s)
		return err == nil
	case "list":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return false
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
