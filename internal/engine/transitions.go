package engine

import (
	"fmt"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// TransitionPolicy decides whether a case may move from one status to another.
// Both statuses are already known to be valid when Allowed is called.
type TransitionPolicy interface {
	Allowed(from, to schema.Status) bool
}

// AnyTransition permits every move between valid statuses.
type AnyTransition struct{}

func (AnyTransition) Allowed(_, _ schema.Status) bool { return true }

// TransitionTable permits only the listed moves. Staying in the same status is
// always allowed so that operators can attach a note without moving the case.
type TransitionTable map[schema.Status]map[schema.Status]struct{}

// Allowed implements TransitionPolicy.
func (t TransitionTable) Allowed(from, to schema.Status) bool {
	if from == to {
		return true
	}
	_, ok := t[from][to]
	return ok
}

// NewTransitionTable builds a table from status names, as read from config.
func NewTransitionTable(raw map[string][]string) (TransitionTable, error) {
	table := make(TransitionTable, len(raw))
	for from, targets := range raw {
		fs := schema.Status(from)
		if !fs.Valid() {
			return nil, fmt.Errorf("transition table: unknown status %q", from)
		}
		set := make(map[schema.Status]struct{}, len(targets))
		for _, to := range targets {
			ts := schema.Status(to)
			if !ts.Valid() {
				return nil, fmt.Errorf("transition table: unknown status %q in targets of %q", to, from)
			}
			set[ts] = struct{}{}
		}
		table[fs] = set
	}
	return table, nil
}
