package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// UpdateRequest is an operator-submitted status change.
type UpdateRequest struct {
	CaseID       string        `json:"case_id"`
	NewStatus    schema.Status `json:"status"`
	Note         string        `json:"note"`
	ActingAgency string        `json:"agency"`
}

// SubmitUpdate validates and applies a status change and appends its audit
// entry. Both become visible together or not at all.
//
// A servicing agency may only touch its own cases; other agencies' cases are
// reported as not found. Identities that are not servicing agencies (such as
// the system manager) may update any case.
func (e *Engine) SubmitUpdate(ctx context.Context, req UpdateRequest) (updated schema.Case, err error) {
	start := time.Now()
	defer func() { e.observe(ctx, OpSubmitUpdate, start, err) }()

	actor := req.ActingAgency
	if actor == "" {
		actor = e.system
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.store.RunInTransaction(func(tx *Tx) error {
		current, err := tx.Get(req.CaseID)
		if err != nil {
			return err
		}
		if agency := schema.Agency(actor); agency.IsServicing() && current.AllocatedAgency != agency {
			return &NotFoundError{ID: req.CaseID}
		}
		if !req.NewStatus.Valid() || !e.policy.Allowed(current.Status, req.NewStatus) {
			return &InvalidTransitionError{CaseID: req.CaseID, From: current.Status, To: req.NewStatus}
		}
		if updated, err = tx.SetStatus(req.CaseID, req.NewStatus); err != nil {
			return err
		}
		_, err = e.audit.Append(schema.AuditLogEntry{
			User:   actor,
			Action: fmt.Sprintf("Agency %s updated %s: Status: %s | Note: %s", actor, req.CaseID, req.NewStatus, req.Note),
			CaseID: req.CaseID,
		})
		return err
	})
	if err != nil {
		e.logger.Warn("status update rejected", "case_id", req.CaseID, "status", req.NewStatus, "agency", actor, "error", err)
		return schema.Case{}, err
	}
	e.committed()

	e.logger.Info("case status updated", "case_id", updated.ID, "status", updated.Status, "agency", actor)
	return updated, nil
}
