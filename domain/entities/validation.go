package entities

import "strings"

// ValidationResult is the outcome of validating a machine description.
type ValidationResult struct {
	Errors []ValidationError
	Valid  bool
}

// ValidationError is one problem found at Field, a JSON pointer into the
// validated document.
type ValidationError struct {
	Field   string
	Message string
}

// Summary joins every error as "field: message" separated by semicolons.
func (r *ValidationResult) Summary() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Field == "" {
			parts = append(parts, e.Message)
			continue
		}
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}
