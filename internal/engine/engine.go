package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// MetricsRecorder receives the outcome of every engine operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Operation names reported to the MetricsRecorder.
const (
	OpBulkLoad     = "bulk_load"
	OpSubmitUpdate = "submit_update"
)

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Engine owns one portfolio: the case store, its audit log and the policies
// applied to them. Bulk loads and status updates are serialized; readers never
// observe a status change without its audit entry.
type Engine struct {
	mu       sync.RWMutex
	store    *CaseStore
	audit    *AuditLog
	rules    *RulesEngine
	policy   TransitionPolicy
	logger   *slog.Logger
	metrics  MetricsRecorder
	system   string
	revision uint64

	persister *Persistence
	wg        sync.WaitGroup

	initial *Snapshot
	sink    AuditSink
	nowFn   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetricsRecorder reports operation outcomes to m.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithRules replaces the default allocation policy.
func WithRules(r *RulesEngine) Option {
	return func(e *Engine) {
		if r != nil {
			e.rules = r
		}
	}
}

// WithTransitionPolicy restricts which status changes are legal.
func WithTransitionPolicy(p TransitionPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.policy = p
		}
	}
}

// WithSystemIdentity sets the actor recorded for ingest.
func WithSystemIdentity(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.system = name
		}
	}
}

// WithPersistence saves a snapshot after every committed mutation.
func WithPersistence(p *Persistence) Option {
	return func(e *Engine) { e.persister = p }
}

// WithSnapshot restores previously persisted state.
func WithSnapshot(s Snapshot) Option {
	return func(e *Engine) { e.initial = &s }
}

// WithAuditSink forwards every audit entry to sink before it is committed.
func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// New constructs an engine. Without options it starts empty, allocates with
// the default thresholds and permits any status transition.
func New(opts ...Option) *Engine {
	e := &Engine{
		rules:   NewDefaultRulesEngine(),
		policy:  AnyTransition{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: noopMetrics{},
		system:  schema.SystemIdentity,
	}
	for _, opt := range opts {
		opt(e)
	}

	var (
		cases   []schema.Case
		entries []schema.AuditLogEntry
	)
	if e.initial != nil {
		cases = e.initial.Cases
		entries = e.initial.Audit
		e.revision = e.initial.Revision
		e.initial = nil
	}
	e.store = NewCaseStore(cases)
	e.audit = NewAuditLog(entries, e.sink)
	if e.nowFn != nil {
		e.audit.nowFn = e.nowFn
	}
	return e
}

// Wait blocks until background persistence has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Get returns a case by id.
func (e *Engine) Get(_ context.Context, id string) (schema.Case, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Get(id)
}

// Cases returns every case in insertion order.
func (e *Engine) Cases(_ context.Context) []schema.Case {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot()
}

// AuditLog returns matching audit entries, newest first.
func (e *Engine) AuditLog(_ context.Context, f AuditFilter) []schema.AuditLogEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.audit.Query(f)
}

// Export returns a consistent copy of the engine state.
func (e *Engine) Export() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exportLocked()
}

// exportLocked MUST be called while holding e.mu.
func (e *Engine) exportLocked() Snapshot {
	return Snapshot{
		Version:  SnapshotVersion,
		Revision: e.revision,
		Cases:    e.store.Snapshot(),
		Audit:    e.audit.chronological(),
	}
}

// committed bumps the revision and persists in the background.
// It MUST be called while holding e.mu.Lock.
func (e *Engine) committed() {
	e.revision++
	if e.persister == nil {
		return
	}
	snap := e.exportLocked()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.persister.Save(snap); err != nil {
			e.logger.Error("persist snapshot", "revision", snap.Revision, "error", err)
		}
	}()
}

func (e *Engine) observe(ctx context.Context, op string, start time.Time, err error) {
	e.metrics.Observe(ctx, op, err == nil, time.Since(start))
}
