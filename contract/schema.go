// Package contract bundles a payload schema, the CEL environment
// derived from it, and a set of registered rule definitions into one
// validation contract. The shape check produces the Result the rule
// engine dispatches against; rules never see a payload directly.
package contract

import (
	"fmt"
	"regexp"
	"strings"
)

// Schema declares a contract's payload shape: object names mapped to
// field names mapped to type names.
type Schema map[string]map[string]string

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateSchema checks a schema definition before a contract is
// created or updated from it. Returns nil if the schema is valid.
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must contain at least one object definition")
	}

	if len(schema) > 100 {
		return fmt.Errorf("schema contains %d objects, maximum allowed is 100", len(schema))
	}

	for objectName, fields := range schema {
		if err := validateIdentifier(objectName); err != nil {
			return fmt.Errorf("invalid object name %q: %w", objectName, err)
		}

		if len(fields) == 0 {
			return fmt.Errorf("object %q must contain at least one field", objectName)
		}

		if len(fields) > 200 {
			return fmt.Errorf("object %q contains %d fields, maximum allowed is 200", objectName, len(fields))
		}

		for fieldName, typeName := range fields {
			if err := validateIdentifier(fieldName); err != nil {
				return fmt.Errorf("invalid field name %q in object %q: %w", fieldName, objectName, err)
			}

			if typeName == "" {
				return fmt.Errorf("field %q in object %q has empty type name", fieldName, objectName)
			}

			if strings.TrimSpace(typeName) != typeName {
				return fmt.Errorf("field %q in object %q has type with leading/trailing whitespace: %q", fieldName, objectName, typeName)
			}

			if !isValidFieldType(typeName) {
				return fmt.Errorf("field %q in object %q has invalid type %q (must be one of: int, int64, float64, string, bool, bytes, timestamp, duration, list, object)", fieldName, objectName, typeName)
			}
		}
	}

	return nil
}

// validateIdentifier checks an object or field name: CEL identifier
// format, no reserved keywords, 1-100 characters. Names become CEL
// variables, so the constraints are CEL's.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	if isReservedBinding(name) {
		return fmt.Errorf("cannot use reserved binding %q as identifier", name)
	}

	return nil
}

// isValidFieldType checks a field type name. Type names are
// case-sensitive.
func isValidFieldType(typeName string) bool {
	switch typeName {
	case "int", "int64", "float64", "string", "bool", "bytes",
		"timestamp", "duration", "list", "object":
		return true
	}
	return false
}

// isReservedBinding rejects names the evaluator already binds at every
// path; an object under one of these would be shadowed.
func isReservedBinding(name string) bool {
	switch name {
	case "value", "data", "path", "index", "args":
		return true
	}
	return false
}

// isReservedKeyword checks CEL reserved keywords.
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		// Boolean and null literals
		"true":  true,
		"false": true,
		"null":  true,
		// Control flow
		"if":       true,
		"else":     true,
		"for":      true,
		"while":    true,
		"break":    true,
		"continue": true,
		"return":   true,
		// Declarations
		"var":      true,
		"let":      true,
		"const":    true,
		"function": true,
		// Other keywords
		"in":        true,
		"as":        true,
		"import":    true,
		"package":   true,
		"namespace": true,
		"loop":      true,
		"void":      true,
	}

	return reservedKeywords[name]
}
