package main

import (
	"time"

	"github.com/toptal/dry-validation/contract"
	"github.com/toptal/dry-validation/rules"
)

// API request and response models.

// CreateContractRequest creates a contract with its first schema
// version.
type CreateContractRequest struct {
	Name   string          `json:"name"`
	Schema contract.Schema `json:"schema"`
}

// ContractResponse represents a contract in API responses.
type ContractResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateSchemaRequest replaces a contract's active schema.
type UpdateSchemaRequest struct {
	Definition contract.Schema `json:"definition"`
}

// CreateMacroRequest registers a contract-specific macro.
type CreateMacroRequest struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// CreateRuleRequest registers a rule definition. Keys are raw key spec
// strings, dots and "[]" suffixes included. Macro specs accept every
// shape the normalizer does: bare names, ["name", args...] pairs, and
// {"name": ..., "args": [...]} objects.
type CreateRuleRequest struct {
	Name       string   `json:"name"`
	Keys       []string `json:"keys"`
	Macros     []any    `json:"macros,omitempty"`
	Each       bool     `json:"each,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Active     bool     `json:"active"`
}

// macroSpecs prepares decoded JSON macro specs for normalization. The
// canonical {"name": ..., "args": [...]} object form decodes to a
// plain map, which the normalizer would read as a name-to-args
// mapping, so it is rebuilt into a MacroCall here.
func macroSpecs(raw []any) []any {
	specs := make([]any, len(raw))
	for i, spec := range raw {
		specs[i] = spec
		m, ok := spec.(map[string]any)
		if !ok || len(m) > 2 {
			continue
		}
		if name, ok := m["name"].(string); ok {
			args, _ := m["args"].([]any)
			specs[i] = rules.MacroCall{Name: name, Args: args}
		}
	}
	return specs
}

// RuleResponse represents a rule definition in API responses.
type RuleResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Keys       []string          `json:"keys"`
	Macros     []rules.MacroCall `json:"macros"`
	Each       bool              `json:"each"`
	Expression string            `json:"expression"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func ruleResponse(def *rules.Definition) RuleResponse {
	return RuleResponse{
		ID:         def.ID,
		Name:       def.Name,
		Keys:       def.Keys,
		Macros:     def.Macros,
		Each:       def.Each,
		Expression: def.Expression,
		Active:     def.Active,
		CreatedAt:  def.CreatedAt,
		UpdatedAt:  def.UpdatedAt,
	}
}

// ValidateRequest asks for a payload to be validated under a contract.
type ValidateRequest struct {
	ContractID string         `json:"contractId"`
	Payload    map[string]any `json:"payload"`
}

// FailureResponse is one failure with its path rendered.
type FailureResponse struct {
	Path      string `json:"path"`
	Predicate string `json:"predicate"`
	Message   string `json:"message,omitempty"`
	Args      []any  `json:"args,omitempty"`
}

func failureResponses(failures []rules.Failure) []FailureResponse {
	resp := make([]FailureResponse, 0, len(failures))
	for _, f := range failures {
		resp = append(resp, FailureResponse{
			Path:      f.Path.String(),
			Predicate: f.Predicate,
			Message:   f.Message,
			Args:      f.Args,
		})
	}
	return resp
}

// ValidateResponse is the validation outcome: the flattened ordered
// failure list plus the per-rule breakdown.
type ValidateResponse struct {
	OK             bool              `json:"ok"`
	Failures       []FailureResponse `json:"failures"`
	Outcome        *contract.Outcome `json:"outcome"`
	ValidationTime string            `json:"validationTime"`
}
