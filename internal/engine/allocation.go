package engine

import (
	"fmt"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// Default allocation thresholds: a score strictly above the threshold matches.
const (
	DefaultApexAbove   = 75
	DefaultGlobalAbove = 45
)

// AllocationRule assigns Agency to any score strictly greater than Above.
type AllocationRule struct {
	Agency schema.Agency
	Above  int
}

func (r AllocationRule) matches(score int) bool { return score > r.Above }

// RulesEngine evaluates allocation rules top-down; the first match wins.
type RulesEngine struct {
	rules []AllocationRule
}

// NewRulesEngine constructs an engine with no rules.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// NewDefaultRulesEngine builds the standard allocation policy.
func NewDefaultRulesEngine() *RulesEngine {
	e, _ := NewThresholdRulesEngine(DefaultApexAbove, DefaultGlobalAbove)
	return e
}

// NewThresholdRulesEngine builds the standard three-agency policy with custom
// thresholds. apexAbove must be greater than globalAbove, and both must leave
// every agency reachable within the score range.
func NewThresholdRulesEngine(apexAbove, globalAbove int) (*RulesEngine, error) {
	if apexAbove <= globalAbove {
		return nil, fmt.Errorf("allocation: apex threshold %d must exceed global threshold %d", apexAbove, globalAbove)
	}
	if globalAbove < MinScore || apexAbove >= MaxScore {
		return nil, fmt.Errorf("allocation: thresholds must lie within [%d, %d)", MinScore, MaxScore)
	}
	e := NewRulesEngine()
	e.Register(AllocationRule{Agency: schema.AgencyApex, Above: apexAbove})
	e.Register(AllocationRule{Agency: schema.AgencyGlobal, Above: globalAbove})
	// Catch-all for the rest of the score range.
	e.Register(AllocationRule{Agency: schema.AgencySwift, Above: MinScore - 1})
	return e, nil
}

// Register appends a rule. Rules are evaluated in registration order.
func (e *RulesEngine) Register(rule AllocationRule) {
	e.rules = append(e.rules, rule)
}

// Rules returns a copy of the registered rules.
func (e *RulesEngine) Rules() []AllocationRule {
	return append([]AllocationRule(nil), e.rules...)
}

// Allocate maps a score to an agency and the initial case status. Scores
// outside [MinScore, MaxScore] are never produced by Score and fall back to
// AgencyUnallocated.
func (e *RulesEngine) Allocate(score int) (schema.Agency, schema.Status) {
	if score < MinScore || score > MaxScore {
		return schema.AgencyUnallocated, schema.StatusAllocated
	}
	for _, rule := range e.rules {
		if rule.matches(score) {
			return rule.Agency, schema.StatusAllocated
		}
	}
	return schema.AgencyUnallocated, schema.StatusAllocated
}

// Allocate applies the default allocation policy.
func Allocate(score int) (schema.Agency, schema.Status) {
	return defaultRules.Allocate(score)
}

var defaultRules = NewDefaultRulesEngine()

// Build scores and allocates a validated record.
func (e *RulesEngine) Build(rec schema.Record) schema.Case {
	score := Score(rec.Amount, rec.Age)
	agency, status := e.Allocate(score)
	return schema.Case{
		ID:              rec.ID,
		CustomerName:    rec.CustomerName,
		Amount:          rec.Amount,
		Age:             rec.Age,
		AIScore:         score,
		AllocatedAgency: agency,
		Status:          status,
	}
}
