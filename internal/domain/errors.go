package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrNotFound indicates the requested aggregate has no events
	ErrNotFound = errors.New("aggregate not found")

	// ErrUnknownEventType indicates an event type outside the aggregate's closed set
	ErrUnknownEventType = errors.New("unknown event type")
)

// ValidationError indicates a malformed command or query,
// rejected before touching storage
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// BusinessRuleViolation indicates a disallowed state transition
type BusinessRuleViolation struct {
	Rule   string
	Reason string
}

func (e *BusinessRuleViolation) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Reason)
}

// NewBusinessRuleViolation creates a business rule violation error
func NewBusinessRuleViolation(rule, reason string) error {
	return &BusinessRuleViolation{Rule: rule, Reason: reason}
}

// IsBusinessRuleViolation reports whether err is a BusinessRuleViolation
func IsBusinessRuleViolation(err error) bool {
	var bv *BusinessRuleViolation
	return errors.As(err, &bv)
}
