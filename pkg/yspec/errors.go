package yspec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Path step kinds.
const (
	StepMapKey    = "Value of map key"
	StepListIndex = "Value of list index"
)

// PathStep is one breadcrumb from the document root to a failing node.
type PathStep struct {
	Kind string
	Key  interface{}
}

func (p PathStep) String() string {
	return fmt.Sprintf("%s %q", p.Kind, fmt.Sprint(p.Key))
}

// FormatError reports a document that does not match its schema.
type FormatError struct {
	Path    []PathStep
	Message string
	Rule    string

	// Line is the 1-based source line of the offending node, or 0 when unknown.
	Line int
	Node *yaml.Node

	// Errors holds the failures of every one_of variant.
	Errors []*FormatError
}

func (e *FormatError) Error() string {
	return e.Message
}

// Flatten returns the error messages of every nested variant failure,
// each prefixed with its line, skipping generic type-mismatch noise.
func (e *FormatError) Flatten() []string {
	var out []string
	for _, sub := range e.Errors {
		if strings.HasPrefix(sub.Message, inputDataPrefix) {
			continue
		}
		if sub.Line > 0 {
			out = append(out, fmt.Sprintf("line %d: %s", sub.Line, sub.Message))
		} else {
			out = append(out, sub.Message)
		}
	}
	return out
}

// SchemaError reports a broken rule set. It is never a data error.
type SchemaError struct {
	Message string
}

func (e *SchemaError) Error() string {
	return e.Message
}

func noRule(name string) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf("There is no rule %s in schema.", name)}
}

func missingMatch(name string) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf("There is no mandatory match attr in rule %s in schema.", name)}
}

func unknownMatch(kind MatchKind) *SchemaError {
	return &SchemaError{Message: fmt.Sprintf("Unknown match %s from schema. Impossible to handle that.", kind)}
}

const inputDataPrefix = "Input data for"
