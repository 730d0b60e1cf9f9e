package admission

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is reported but never blocks a load.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged and never blocks a load.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the bundle.
	SeverityError Severity = "error"

	// SeverityCritical rejects the bundle.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects a bundle.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set is evaluated against a bundle
// manifest.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description"`

	// Rego contains the policy source. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity of its violations.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	// Source is the file the policy was read from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one deny entry produced by a policy.
type Violation struct {
	Policy    string   `json:"policy"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	Prototype string   `json:"prototype,omitempty"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}
