package engine

import (
	"sync"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// CaseStore holds the authoritative state of every case. It is safe for
// concurrent use: one writer at a time, readers see committed state only.
type CaseStore struct {
	mu    sync.RWMutex
	order []string
	cases map[string]schema.Case
}

// NewCaseStore initializes a store.
// It accepts existing cases (from a loaded snapshot) in insertion order.
func NewCaseStore(initial []schema.Case) *CaseStore {
	s := &CaseStore{cases: make(map[string]schema.Case, len(initial))}
	for _, c := range initial {
		if _, dup := s.cases[c.ID]; dup {
			continue
		}
		s.order = append(s.order, c.ID)
		s.cases[c.ID] = c
	}
	return s
}

// Get returns the case with the given id.
func (s *CaseStore) Get(id string) (schema.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return schema.Case{}, &NotFoundError{ID: id}
	}
	return c, nil
}

// Len returns the number of stored cases.
func (s *CaseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns a copy of all cases in insertion order of the last bulk load.
func (s *CaseStore) Snapshot() []schema.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// snapshotLocked MUST be called while holding s.mu.
func (s *CaseStore) snapshotLocked() []schema.Case {
	out := make([]schema.Case, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cases[id])
	}
	return out
}

// UpdateStatus sets the status of a single case.
func (s *CaseStore) UpdateStatus(id string, status schema.Status) (schema.Case, error) {
	var updated schema.Case
	err := s.RunInTransaction(func(tx *Tx) error {
		var err error
		updated, err = tx.SetStatus(id, status)
		return err
	})
	return updated, err
}

// Replace swaps the entire case set for a new batch.
func (s *CaseStore) Replace(cases []schema.Case) error {
	return s.RunInTransaction(func(tx *Tx) error {
		return tx.Replace(cases)
	})
}

// Tx stages mutations against the store. Nothing is visible to readers until
// the transaction function returns nil.
type Tx struct {
	store    *CaseStore
	replaced bool
	order    []string
	cases    map[string]schema.Case
	pending  map[string]schema.Case
}

// RunInTransaction executes fn while holding the write lock and commits the
// staged changes only if fn succeeds.
func (s *CaseStore) RunInTransaction(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{store: s, pending: make(map[string]schema.Case)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Get reads a case as seen by the transaction.
func (tx *Tx) Get(id string) (schema.Case, error) {
	if c, ok := tx.pending[id]; ok {
		return c, nil
	}
	source := tx.store.cases
	if tx.replaced {
		source = tx.cases
	}
	c, ok := source[id]
	if !ok {
		return schema.Case{}, &NotFoundError{ID: id}
	}
	return c, nil
}

// SetStatus stages a status change. The status must belong to the enumeration.
func (tx *Tx) SetStatus(id string, status schema.Status) (schema.Case, error) {
	c, err := tx.Get(id)
	if err != nil {
		return schema.Case{}, err
	}
	if !status.Valid() {
		return schema.Case{}, &InvalidTransitionError{CaseID: id, From: c.Status, To: status}
	}
	c.Status = status
	tx.pending[id] = c
	return c, nil
}

// Replace stages a full replacement of the case set. IDs must be unique.
func (tx *Tx) Replace(cases []schema.Case) error {
	order := make([]string, 0, len(cases))
	byID := make(map[string]schema.Case, len(cases))
	for i, c := range cases {
		if _, dup := byID[c.ID]; dup {
			return NewIngestError(i+1, schema.ColumnCaseID, "duplicates "+c.ID)
		}
		order = append(order, c.ID)
		byID[c.ID] = c
	}
	tx.replaced = true
	tx.order = order
	tx.cases = byID
	tx.pending = make(map[string]schema.Case)
	return nil
}

func (tx *Tx) commit() {
	s := tx.store
	if tx.replaced {
		s.order = tx.order
		s.cases = tx.cases
	}
	for id, c := range tx.pending {
		s.cases[id] = c
	}
}
