package rules

// Dispatcher routes rule bodies to the concrete locations they apply
// to: it expands the rule's keys against a Result, drops locations the
// shape layer already failed, and invokes the Evaluator at each
// surviving one.
type Dispatcher struct {
	eval Evaluator
}

func NewDispatcher(eval Evaluator) *Dispatcher {
	return &Dispatcher{eval: eval}
}

// Apply runs rule against result and returns the concatenated failures
// in path-generation order.
//
// Paths whose shape validation already failed are skipped without
// invoking the check function: a value that failed basic type checks
// is not a meaningful input to business-level checks, and the shape
// layer already reported it. Wildcards over non-arrays produced no
// paths to begin with. Neither case is an error; the only errors out
// of Apply are evaluator faults, which propagate unmodified.
func (d *Dispatcher) Apply(rule *Rule, result Result) ([]Failure, error) {
	paths := Expand(rule.expandKeys(), result, rule.each)
	macros := rule.Macros()

	var failures []Failure
	for _, path := range paths {
		if result.HasError(path) {
			continue
		}
		collected, err := d.eval.Invoke(result, path, macros, rule.check)
		if err != nil {
			return nil, err
		}
		failures = append(failures, collected...)
	}
	return failures, nil
}
