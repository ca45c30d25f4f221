package schema

import (
	"fmt"
	"strings"
)

// Issue is one validation finding, anchored to a JSON-ish path.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult aggregates errors and warnings from the validation
// pipeline. Warnings never make the result invalid: the engine is
// deliberately lenient about dangling edges and missing triggers.
type ValidationResult struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid reports whether the result carries no errors.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: message})
}

// AddWarning appends a warning issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: message})
}

// Merge folds another result into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result into an EngineError, or nil when valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, i := range r.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", i.Path, i.Message))
	}
	return NewError(ErrCodeValidation, strings.Join(msgs, "; "))
}
