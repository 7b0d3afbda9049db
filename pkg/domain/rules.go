package domain

import "context"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine whether a project may be used.
const (
	// SeverityBlock fails the operation that triggered the evaluation.
	SeverityBlock Severity = "block"
	// SeverityWarn reports a problem but lets the operation continue.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "project blocked by rule " + v.Rule + ": " + v.Message
		}
	}
	return "project blocked by rules"
}

// ProjectView provides read-only access to a loaded project for rule
// evaluation.
type ProjectView interface {
	Root() string
	Info() ProjectInfo
	ListSessions() []Session
}

// Rule defines an evaluation executed against a loaded project.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view ProjectView) (Result, error)
}

// RulesEngine orchestrates rule evaluation. The zero-rule engine is a
// pass-through.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine(rules ...Rule) *RulesEngine {
	e := &RulesEngine{}
	for _, r := range rules {
		e.Register(r)
	}
	return e
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in registration order.
func (e *RulesEngine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name())
	}
	return names
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view ProjectView) (Result, error) {
	var combined Result
	if e == nil {
		return combined, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}
