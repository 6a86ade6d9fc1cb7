package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// AuditSink receives every entry before it becomes visible in the log.
// A sink error rejects the append.
type AuditSink interface {
	WriteAudit(entry schema.AuditLogEntry) error
}

// AuditFilter narrows Query results. Zero values match everything.
type AuditFilter struct {
	User   string `json:"user,omitempty"`
	CaseID string `json:"case_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// AuditLog is an append-only ledger of state-changing actions. It has no
// update or delete operation.
type AuditLog struct {
	mu      sync.RWMutex
	entries []schema.AuditLogEntry // oldest first
	sink    AuditSink
	nowFn   func() time.Time
}

// NewAuditLog initializes a log, optionally seeded with previously persisted
// entries (oldest first).
func NewAuditLog(initial []schema.AuditLogEntry, sink AuditSink) *AuditLog {
	return &AuditLog{
		entries: append([]schema.AuditLogEntry(nil), initial...),
		sink:    sink,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// Append records an entry and returns it as stored. ID, Seq and, when unset,
// Timestamp are assigned here.
func (l *AuditLog) Append(entry schema.AuditLogEntry) (schema.AuditLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var last schema.AuditLogEntry
	if n := len(l.entries); n > 0 {
		last = l.entries[n-1]
	}

	entry.ID = uuid.NewString()
	entry.Seq = last.Seq + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.nowFn()
	}
	if entry.Timestamp.Before(last.Timestamp) {
		entry.Timestamp = last.Timestamp
	}

	if l.sink != nil {
		if err := l.sink.WriteAudit(entry); err != nil {
			return schema.AuditLogEntry{}, fmt.Errorf("audit append: %w", err)
		}
	}
	l.entries = append(l.entries, entry)
	return entry, nil
}

// All returns every entry, newest first.
func (l *AuditLog) All() []schema.AuditLogEntry {
	return l.Query(AuditFilter{})
}

// Query returns matching entries, newest first.
func (l *AuditLog) Query(f AuditFilter) []schema.AuditLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]schema.AuditLogEntry, 0, len(l.entries))
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if f.User != "" && e.User != f.User {
			continue
		}
		if f.CaseID != "" && e.CaseID != f.CaseID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Len returns the number of entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// chronological returns a copy of the entries, oldest first.
func (l *AuditLog) chronological() []schema.AuditLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]schema.AuditLogEntry(nil), l.entries...)
}
