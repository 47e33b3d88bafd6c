package rules

import "fmt"

// Failure is one validation failure produced by an Evaluator. The
// engine never inspects failures; it only concatenates them in
// invocation order. Message rendering and localization live outside
// this package.
type Failure struct {
	Path      Path   `json:"path"`
	Predicate string `json:"predicate"`
	Message   string `json:"message,omitempty"`
	Args      []any  `json:"args,omitempty"`
}

func (f Failure) String() string {
	if f.Message != "" {
		return fmt.Sprintf("%s: %s", f.Path, f.Message)
	}
	return fmt.Sprintf("%s: %s", f.Path, f.Predicate)
}

// FailureSet accumulates failures during one Evaluator invocation, in
// the order they were added.
type FailureSet struct {
	failures []Failure
}

// Add appends one failure.
func (s *FailureSet) Add(f Failure) {
	s.failures = append(s.failures, f)
}

// Fail is shorthand for appending a predicate failure at path.
func (s *FailureSet) Fail(p Path, predicate string, args ...any) {
	s.failures = append(s.failures, Failure{Path: p, Predicate: predicate, Args: args})
}

// Failures returns the accumulated list in insertion order.
func (s *FailureSet) Failures() []Failure {
	return s.failures
}
