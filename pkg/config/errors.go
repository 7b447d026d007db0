package config

import (
	"errors"
	"fmt"
)

// ErrSchemaViolation is the sentinel for configuration validation failures.
// Use errors.Is against this, or errors.As with *SchemaViolationError to
// recover the offending key.
var ErrSchemaViolation = errors.New("configuration schema violation")

// SchemaViolationError reports a single invalid configuration parameter,
// naming the offending key and the constraint it violated.
type SchemaViolationError struct {
	// Key is the dot-notation parameter name as the client sent it.
	Key string
	// Constraint describes the declared constraint that was violated.
	Constraint string
}

// Error returns the error message.
func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("invalid configuration parameter %q: %s", e.Key, e.Constraint)
}

// Unwrap makes the error match ErrSchemaViolation.
func (*SchemaViolationError) Unwrap() error {
	return ErrSchemaViolation
}

func newViolation(key, constraint string) *SchemaViolationError {
	return &SchemaViolationError{Key: key, Constraint: constraint}
}
