// Package exec contains the order router and the backtest fill simulator.
// The router owns the order state machine in both modes; the simulator is
// the backtest-only execution venue behind it.
package exec

import (
	"github.com/shopspring/decimal"
)

// FeeSchedule computes the commission charged for a single fill.
type FeeSchedule interface {
	Name() string
	Fee(quantity float64, price float64) float64
}

// ZeroFee charges nothing. Default for paper runs.
type ZeroFee struct{}

func (ZeroFee) Name() string { return "zero" }

func (ZeroFee) Fee(_ float64, _ float64) float64 { return 0 }

// PerShareFee charges a flat amount per share with a per-order minimum,
// the US broker style.
type PerShareFee struct {
	PerShare float64
	Minimum  float64
}

func NewPerShareFee() PerShareFee {
	return PerShareFee{PerShare: 0.005, Minimum: 1.0}
}

func (f PerShareFee) Name() string { return "per_share" }

func (f PerShareFee) Fee(quantity float64, _ float64) float64 {
	fee := decimal.NewFromFloat(quantity).Abs().Mul(decimal.NewFromFloat(f.PerShare))

	minimum := decimal.NewFromFloat(f.Minimum)
	if fee.LessThan(minimum) {
		fee = minimum
	}

	out, _ := fee.Float64()

	return out
}

// ProportionalFee charges a fraction of fill notional, the brokerage style
// common on CN/crypto venues.
type ProportionalFee struct {
	Rate float64
}

func NewProportionalFee() ProportionalFee {
	return ProportionalFee{Rate: 0.0003}
}

func (f ProportionalFee) Name() string { return "proportional" }

func (f ProportionalFee) Fee(quantity float64, price float64) float64 {
	notional := decimal.NewFromFloat(quantity).Abs().Mul(decimal.NewFromFloat(price))
	out, _ := notional.Mul(decimal.NewFromFloat(f.Rate)).Float64()

	return out
}
