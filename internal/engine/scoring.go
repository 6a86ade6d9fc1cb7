package engine

import "github.com/shopspring/decimal"

// Score bounds.
const (
	MinScore = 5
	MaxScore = 100
)

var (
	scoreBase     = decimal.NewFromInt(100)
	agePenalty    = decimal.RequireFromString("0.4")
	amountDivisor = decimal.NewFromInt(3000)
	scoreFloor    = decimal.NewFromInt(MinScore)
	scoreCeiling  = decimal.NewFromInt(MaxScore)
)

// Score maps a case's amount and age to a recovery score in [MinScore, MaxScore]:
//
//	100 - age*0.4 - amount/3000, clamped, truncated toward zero.
//
// Inputs are not validated here; ingest rejects negative values first.
func Score(amount decimal.Decimal, age int) int {
	raw := scoreBase.
		Sub(decimal.NewFromInt(int64(age)).Mul(agePenalty)).
		Sub(amount.Div(amountDivisor))
	if raw.LessThan(scoreFloor) {
		raw = scoreFloor
	}
	if raw.GreaterThan(scoreCeiling) {
		raw = scoreCeiling
	}
	return int(raw.IntPart())
}
