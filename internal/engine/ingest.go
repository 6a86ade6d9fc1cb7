package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// BulkLoad replaces the portfolio with a freshly scored and allocated batch
// and records one audit entry naming the batch size and source. A batch with
// any invalid record is rejected whole and the store is left untouched.
func (e *Engine) BulkLoad(ctx context.Context, source string, records []schema.Record) (n int, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, OpBulkLoad, start, err) }()

	if err := validateBatch(records); err != nil {
		e.logger.Warn("ingest rejected", "source", source, "rows", len(records), "error", err)
		return 0, err
	}

	cases := make([]schema.Case, 0, len(records))
	for _, rec := range records {
		rec.ID = strings.TrimSpace(rec.ID)
		cases = append(cases, e.rules.Build(rec))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.store.RunInTransaction(func(tx *Tx) error {
		if err := tx.Replace(cases); err != nil {
			return err
		}
		_, err := e.audit.Append(schema.AuditLogEntry{
			User:   e.system,
			Action: fmt.Sprintf("Bulk Ingested %d cases via %s", len(cases), source),
		})
		return err
	})
	if err != nil {
		e.logger.Error("ingest failed", "source", source, "error", err)
		return 0, err
	}
	e.committed()

	e.logger.Info("cases ingested", "source", source, "count", len(cases))
	return len(cases), nil
}

func validateBatch(records []schema.Record) error {
	if len(records) == 0 {
		return NewIngestError(0, "batch", "contains no cases")
	}
	verr := &ValidationError{Schema: schema.ExpectedColumns}
	seen := make(map[string]int, len(records))
	for i, rec := range records {
		row := i + 1
		id := strings.TrimSpace(rec.ID)
		switch {
		case id == "":
			verr.Errors = append(verr.Errors, FieldError{Row: row, Field: schema.ColumnCaseID, Message: "is required"})
		case seen[id] > 0:
			verr.Errors = append(verr.Errors, FieldError{Row: row, Field: schema.ColumnCaseID, Message: fmt.Sprintf("%s duplicates row %d", id, seen[id])})
		default:
			seen[id] = row
		}
		if rec.Amount.IsNegative() {
			verr.Errors = append(verr.Errors, FieldError{Row: row, Field: schema.ColumnAmount, Message: "must not be negative"})
		}
		if rec.Age < 0 {
			verr.Errors = append(verr.Errors, FieldError{Row: row, Field: schema.ColumnAge, Message: "must not be negative"})
		}
	}
	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}
