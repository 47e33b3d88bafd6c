package contract

import (
	"strings"
	"testing"
)

func TestValidateSchemaValid(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{
			name: "single object single field",
			schema: Schema{
				"User": {"Age": "int"},
			},
		},
		{
			name: "multiple objects",
			schema: Schema{
				"User":    {"Name": "string", "Age": "int64"},
				"Account": {"Balance": "float64", "Active": "bool"},
			},
		},
		{
			name: "all field types",
			schema: Schema{
				"Event": {
					"Count":    "int",
					"Total":    "int64",
					"Score":    "float64",
					"Label":    "string",
					"Enabled":  "bool",
					"Raw":      "bytes",
					"At":       "timestamp",
					"Interval": "duration",
					"Tags":     "list",
					"Meta":     "object",
				},
			},
		},
		{
			name: "underscore names",
			schema: Schema{
				"_internal": {"_field_1": "string"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateSchema(tc.schema); err != nil {
				t.Errorf("ValidateSchema() failed for valid schema: %v", err)
			}
		})
	}
}

func TestValidateSchemaInvalid(t *testing.T) {
	tests := []struct {
		name    string
		schema  Schema
		wantErr string
	}{
		{
			name:    "empty schema",
			schema:  Schema{},
			wantErr: "cannot be empty",
		},
		{
			name:    "empty object",
			schema:  Schema{"User": {}},
			wantErr: "at least one field",
		},
		{
			name:    "invalid object name",
			schema:  Schema{"User-Profile": {"Age": "int"}},
			wantErr: "invalid object name",
		},
		{
			name:    "object name starting with digit",
			schema:  Schema{"1User": {"Age": "int"}},
			wantErr: "invalid object name",
		},
		{
			name:    "reserved CEL keyword as object name",
			schema:  Schema{"true": {"Age": "int"}},
			wantErr: "reserved keyword",
		},
		{
			name:    "reserved binding as object name",
			schema:  Schema{"value": {"Age": "int"}},
			wantErr: "reserved binding",
		},
		{
			name:    "invalid field name",
			schema:  Schema{"User": {"age!": "int"}},
			wantErr: "invalid field name",
		},
		{
			name:    "empty type name",
			schema:  Schema{"User": {"Age": ""}},
			wantErr: "empty type name",
		},
		{
			name:    "whitespace around type name",
			schema:  Schema{"User": {"Age": " int"}},
			wantErr: "whitespace",
		},
		{
			name:    "unknown type name",
			schema:  Schema{"User": {"Age": "integer"}},
			wantErr: "invalid type",
		},
		{
			name:    "uppercase type name",
			schema:  Schema{"User": {"Age": "Int"}},
			wantErr: "invalid type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSchema(tc.schema)
			if err == nil {
				t.Fatal("ValidateSchema() should have failed")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestValidateSchemaObjectLimit(t *testing.T) {
	schema := Schema{}
	for i := 0; i < 101; i++ {
		schema[objName(i)] = map[string]string{"F": "int"}
	}

	err := ValidateSchema(schema)
	if err == nil || !strings.Contains(err.Error(), "maximum allowed is 100") {
		t.Errorf("ValidateSchema() = %v, want object-count error", err)
	}
}

func TestValidateSchemaFieldLimit(t *testing.T) {
	fields := map[string]string{}
	for i := 0; i < 201; i++ {
		fields[objName(i)] = "int"
	}

	err := ValidateSchema(Schema{"Big": fields})
	if err == nil || !strings.Contains(err.Error(), "maximum allowed is 200") {
		t.Errorf("ValidateSchema() = %v, want field-count error", err)
	}
}

func TestValidateSchemaIdentifierLength(t *testing.T) {
	long := strings.Repeat("a", 101)

	err := ValidateSchema(Schema{long: {"F": "int"}})
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum of 100") {
		t.Errorf("ValidateSchema() = %v, want length error", err)
	}
}

func objName(i int) string {
	name := "O"
	for i >= 0 {
		name += string(rune('a' + i%26))
		i = i/26 - 1
	}
	return name
}
