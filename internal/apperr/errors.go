package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes surfaced by the service layer. Handlers map them to HTTP statuses.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrAllocationExhausted = errors.New("ticket allocation exhausted")
	ErrConflict            = errors.New("conflict")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrStorage             = errors.New("storage failure")
)

// FieldError describes one failing input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every failing field of a request, not just the first.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is lets callers treat a ValidationError as ErrInvalidInput.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Add appends a failing field.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// HasErrors reports whether any field failed.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// OrNil returns nil when nothing failed so it can be returned as an error directly.
func (e *ValidationError) OrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return e
}

// Invalid builds a single-field ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// NotFound wraps ErrNotFound with the entity that was missing.
func NotFound(entity string, id any) error {
	return fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)
}

// Storage marks err as an infrastructure failure while keeping the original chain.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
