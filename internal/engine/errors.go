// Package engine implements the case allocation and audit engine: scoring,
// allocation, the case store, the audit log, status transitions and the
// agency-scoped views.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// Sentinel errors. Use errors.Is against these; the typed errors below unwrap to them.
var (
	// ErrValidation is returned for malformed ingest batches and unknown agencies.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when an operation references an unknown case.
	ErrNotFound = errors.New("case not found")
	// ErrInvalidTransition is returned when a status is outside the enumeration
	// or not permitted by the transition policy.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// FieldError describes one validation failure. Row is the 1-based position in
// the batch, or 0 when the error is not tied to a row.
type FieldError struct {
	Row     int
	Field   string
	Message string
}

func (f FieldError) String() string {
	if f.Row > 0 {
		return fmt.Sprintf("row %d: %s %s", f.Row, f.Field, f.Message)
	}
	return fmt.Sprintf("%s %s", f.Field, f.Message)
}

// ValidationError rejects a whole request. For ingest batches Schema holds
// the expected columns so the message tells operators how to fix the file.
type ValidationError struct {
	Errors []FieldError
	Schema string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.String())
	}
	msg := "validation: " + strings.Join(parts, "; ")
	if e.Schema != "" {
		msg += fmt.Sprintf(" (expected columns %s)", e.Schema)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewIngestError creates an ingest ValidationError for a single field.
func NewIngestError(row int, field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Row: row, Field: field, Message: message}},
		Schema: schema.ExpectedColumns,
	}
}

// NotFoundError reports an unknown case id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("case %q not found", e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidTransitionError reports a rejected status change.
type InvalidTransitionError struct {
	CaseID string
	From   schema.Status
	To     schema.Status
}

func (e *InvalidTransitionError) Error() string {
	if !e.To.Valid() {
		return fmt.Sprintf("case %q: status %q is not one of %s", e.CaseID, e.To, statusList())
	}
	return fmt.Sprintf("case %q: transition %s -> %s is not permitted", e.CaseID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

func statusList() string {
	names := make([]string, 0, 5)
	for _, s := range schema.Statuses() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
