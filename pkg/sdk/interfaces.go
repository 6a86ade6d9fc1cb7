package sdk

import (
	"context"

	"github.com/celerix-dev/celerix-dca/internal/engine"
	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// Errors returned by every Portfolio implementation. Remote errors unwrap to
// the same sentinels, so errors.Is works regardless of the transport.
var (
	// ErrValidation is returned for rejected ingest batches and unknown agencies.
	ErrValidation = engine.ErrValidation
	// ErrNotFound is returned when a case does not exist or belongs to another agency.
	ErrNotFound = engine.ErrNotFound
	// ErrInvalidTransition is returned for unknown or disallowed statuses.
	ErrInvalidTransition = engine.ErrInvalidTransition
)

// UpdateRequest is an operator-submitted status change.
type UpdateRequest = engine.UpdateRequest

// AuditFilter narrows audit queries. Zero values match everything.
type AuditFilter = engine.AuditFilter

// --- Functional Interfaces (Interface Segregation) ---

// CaseReader reads individual cases and the whole portfolio.
type CaseReader interface {
	Get(ctx context.Context, id string) (schema.Case, error)
	Cases(ctx context.Context) ([]schema.Case, error)
}

// CaseWriter performs the two state-changing operations.
type CaseWriter interface {
	BulkLoad(ctx context.Context, source string, records []schema.Record) (int, error)
	SubmitUpdate(ctx context.Context, req UpdateRequest) (schema.Case, error)
}

// Reporter serves the derived, read-only projections.
type Reporter interface {
	ViewFor(ctx context.Context, agency schema.Agency, search string) (schema.AgencyView, error)
	Overview(ctx context.Context) (schema.Overview, error)
	AuditLog(ctx context.Context, filter AuditFilter) ([]schema.AuditLogEntry, error)
}

// --- Composite Interfaces ---

// Portfolio is the primary interface for working with the case portfolio,
// implemented in-process by the embedded engine and remotely by Client.
type Portfolio interface {
	CaseReader
	CaseWriter
	Reporter

	// Close releases the connection or flushes pending snapshot writes.
	Close() error
}
