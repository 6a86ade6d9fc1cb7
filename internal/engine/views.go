package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// ViewFor projects the portfolio onto one agency. search filters the listed
// cases by case-insensitive id substring; the metrics ignore it.
func (e *Engine) ViewFor(_ context.Context, agency schema.Agency, search string) (schema.AgencyView, error) {
	if !agency.IsServicing() && agency != schema.AgencyUnallocated {
		return schema.AgencyView{}, &ValidationError{
			Errors: []FieldError{{Field: "agency", Message: "unknown agency " + string(agency)}},
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	search = strings.TrimSpace(search)
	needle := strings.ToLower(search)
	view := schema.AgencyView{
		Agency:                agency,
		Search:                search,
		Cases:                 []schema.Case{},
		TotalPortfolioValue:   decimal.Zero,
		PendingPortfolioValue: decimal.Zero,
	}
	for _, c := range e.store.Snapshot() {
		if c.AllocatedAgency != agency {
			continue
		}
		view.TotalAllotted++
		view.TotalPortfolioValue = view.TotalPortfolioValue.Add(c.Amount)
		if c.Status != schema.StatusClosed {
			view.PendingCount++
			view.PendingPortfolioValue = view.PendingPortfolioValue.Add(c.Amount)
		}
		if needle == "" || strings.Contains(strings.ToLower(c.ID), needle) {
			view.Cases = append(view.Cases, c)
		}
	}
	return view, nil
}

// Overview computes the portfolio-wide metrics. The completion rate is the
// percentage of cases whose status is exactly Closed.
func (e *Engine) Overview(_ context.Context) schema.Overview {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cases := e.store.Snapshot()
	ov := schema.Overview{
		TotalDebt:    decimal.Zero,
		TotalCases:   len(cases),
		StatusCounts: make(map[schema.Status]int, 5),
		ByAgency:     []schema.AgencyStatusAmount{},
	}
	if len(cases) == 0 {
		return ov
	}

	type cell struct {
		agency schema.Agency
		status schema.Status
	}
	cells := make(map[cell]*schema.AgencyStatusAmount)
	scoreSum := 0
	for _, c := range cases {
		ov.TotalDebt = ov.TotalDebt.Add(c.Amount)
		scoreSum += c.AIScore
		ov.StatusCounts[c.Status]++
		k := cell{c.AllocatedAgency, c.Status}
		agg, ok := cells[k]
		if !ok {
			agg = &schema.AgencyStatusAmount{Agency: c.AllocatedAgency, Status: c.Status, Amount: decimal.Zero}
			cells[k] = agg
		}
		agg.Cases++
		agg.Amount = agg.Amount.Add(c.Amount)
	}
	ov.AverageScore = scoreSum / len(cases)
	ov.ClosedCases = ov.StatusCounts[schema.StatusClosed]
	ov.CompletionRate = float64(ov.ClosedCases) / float64(len(cases)) * 100

	agencies := append(schema.ServicingAgencies(), schema.AgencyUnallocated)
	for _, a := range agencies {
		for _, s := range schema.Statuses() {
			if agg, ok := cells[cell{a, s}]; ok {
				ov.ByAgency = append(ov.ByAgency, *agg)
			}
		}
	}
	return ov
}
