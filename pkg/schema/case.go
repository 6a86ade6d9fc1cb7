// Package schema defines the data structures shared by the engine, the
// transports and the SDK.
package schema

import (
	"github.com/shopspring/decimal"
)

// Agency is a servicing debt-collection agency a case can be allocated to.
type Agency string

const (
	AgencyApex   Agency = "Apex Collections"
	AgencyGlobal Agency = "Global Recovery"
	AgencySwift  Agency = "Swift Debt Ltd"
	// AgencyUnallocated is only produced for scores outside the scoring range.
	AgencyUnallocated Agency = "Unallocated"
)

// ServicingAgencies lists the agencies that can receive cases, best scores first.
func ServicingAgencies() []Agency {
	return []Agency{AgencyApex, AgencyGlobal, AgencySwift}
}

// IsServicing reports whether a is one of the servicing agencies.
func (a Agency) IsServicing() bool {
	switch a {
	case AgencyApex, AgencyGlobal, AgencySwift:
		return true
	}
	return false
}

// Status is the lifecycle stage of a case.
type Status string

const (
	StatusAllocated Status = "Allocated"
	StatusContacted Status = "Contacted"
	StatusPTP       Status = "PTP"
	StatusDisputed  Status = "Disputed"
	StatusClosed    Status = "Closed"
)

// Statuses returns the full status enumeration in lifecycle order.
func Statuses() []Status {
	return []Status{StatusAllocated, StatusContacted, StatusPTP, StatusDisputed, StatusClosed}
}

// Valid reports whether s is a member of the status enumeration.
// Matching is exact.
func (s Status) Valid() bool {
	switch s {
	case StatusAllocated, StatusContacted, StatusPTP, StatusDisputed, StatusClosed:
		return true
	}
	return false
}

// Case is a single debt record tracked through allocation and resolution.
type Case struct {
	ID              string          `json:"id"`
	CustomerName    string          `json:"customer_name"`
	Amount          decimal.Decimal `json:"amount"`
	Age             int             `json:"age"`
	AIScore         int             `json:"ai_score"`
	AllocatedAgency Agency          `json:"allocated_agency"`
	Status          Status          `json:"status"`
}

// Record is a raw ingest row after header mapping, before scoring.
type Record struct {
	ID           string          `json:"case_id"`
	CustomerName string          `json:"customer_name"`
	Amount       decimal.Decimal `json:"amount"`
	Age          int             `json:"age"`
}

// Ingest column names, as they appear in legacy case exports.
const (
	ColumnCaseID       = "Case ID"
	ColumnCustomerName = "Customer Name"
	ColumnAmount       = "Amount"
	ColumnAge          = "Age"
)

// ExpectedColumns is the ingest schema quoted in format errors.
const ExpectedColumns = "'Case ID', 'Customer Name', 'Amount', 'Age'"
