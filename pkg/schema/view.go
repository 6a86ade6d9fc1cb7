package schema

import "github.com/shopspring/decimal"

// AgencyView is the agency-scoped projection of the portfolio.
// The metrics always cover the agency's full portfolio; Search only narrows Cases.
type AgencyView struct {
	Agency                Agency          `json:"agency"`
	Search                string          `json:"search,omitempty"`
	Cases                 []Case          `json:"cases"`
	TotalAllotted         int             `json:"total_allotted"`
	PendingCount          int             `json:"pending_count"`
	TotalPortfolioValue   decimal.Decimal `json:"total_portfolio_value"`
	PendingPortfolioValue decimal.Decimal `json:"pending_portfolio_value"`
}

// Overview holds the portfolio-wide executive metrics.
type Overview struct {
	TotalDebt      decimal.Decimal      `json:"total_debt"`
	TotalCases     int                  `json:"total_cases"`
	AverageScore   int                  `json:"average_score"`
	ClosedCases    int                  `json:"closed_cases"`
	CompletionRate float64              `json:"completion_rate"` // percent
	StatusCounts   map[Status]int       `json:"status_counts"`
	ByAgency       []AgencyStatusAmount `json:"by_agency"`
}

// AgencyStatusAmount is one cell of the portfolio-by-agency-and-status breakdown.
type AgencyStatusAmount struct {
	Agency Agency          `json:"agency"`
	Status Status          `json:"status"`
	Cases  int             `json:"cases"`
	Amount decimal.Decimal `json:"amount"`
}
