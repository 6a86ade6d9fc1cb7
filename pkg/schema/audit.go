package schema

import "time"

// SystemIdentity is the default actor for engine-initiated actions such as ingest.
const SystemIdentity = "System Manager"

// AuditLogEntry is an immutable record of a state-changing action.
// Seq gives the total order of the log; Timestamp never decreases along it.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user"`
	Action    string    `json:"action"`
	CaseID    string    `json:"case_id,omitempty"`
}
