// Package adjust rewrites raw price series into trade-consistent series
// given a list of corporate actions, so that simulated fills match
// economically realizable prices across split and dividend boundaries.
package adjust

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// pricePrecision fixes the rounding of adjusted prices and factors so that
// identical inputs always produce byte-identical output series.
const pricePrecision = 8

// Result holds the adjusted series plus any actions dated after the last
// available bar. Those are no-ops for this series and are kept for forward
// use by live runs.
type Result struct {
	Bars    []types.AdjustedBar
	Pending []types.CorporateAction
}

// Adjust produces an adjusted series for one symbol. Actions must be sorted
// ascending by ex-date; an out-of-order list fails with
// ErrCodeInvalidCorporateActionOrder. Bars must be sorted ascending with
// unique timestamps.
//
// Each action contributes one combined multiplicative ratio folding the
// split, stock dividend, and cash dividend together:
//
//	ratio = (refClose - cashDividend) / (refClose * shareRatio)
//
// where refClose is the raw close of the last bar strictly before the
// ex-date. Applying the ratio to every bar before the ex-date makes the
// adjusted close continuous at the boundary. Volume is scaled by the inverse
// of the price factor so notional value is conserved.
func Adjust(bars []types.Bar, actions []types.CorporateAction, convention types.AdjustmentConvention) (Result, error) {
	if err := validateActions(actions); err != nil {
		return Result{}, err
	}

	if err := validateBars(bars); err != nil {
		return Result{}, err
	}

	if len(bars) == 0 {
		return Result{Bars: nil, Pending: actions}, nil
	}

	lastBarTime := bars[len(bars)-1].Time

	ratios := make([]decimal.Decimal, 0, len(actions))
	exDates := make([]types.CorporateAction, 0, len(actions))
	pending := make([]types.CorporateAction, 0)

	for _, action := range actions {
		if action.ExDate.After(lastBarTime) {
			pending = append(pending, action)
			continue
		}

		refClose, ok := lastCloseBefore(bars, action)
		if !ok {
			// Action predates the series; every bar already trades ex.
			continue
		}

		ratio, err := actionRatio(action, refClose)
		if err != nil {
			return Result{}, err
		}

		ratios = append(ratios, ratio)
		exDates = append(exDates, action)
	}

	var factors []decimal.Decimal

	switch convention {
	case types.AdjustForward:
		factors = forwardFactors(bars, exDates, ratios)
	case types.AdjustBackward, "":
		factors = backwardFactors(bars, exDates, ratios)
	default:
		return Result{}, errors.Newf(errors.ErrCodeInvalidParameter, "unknown adjustment convention: %s", convention)
	}

	adjusted := make([]types.AdjustedBar, len(bars))
	for i, bar := range bars {
		adjusted[i] = applyFactor(bar, factors[i])
	}

	return Result{Bars: adjusted, Pending: pending}, nil
}

// backwardFactors gives each bar the product of ratios of all actions with
// an ex-date strictly after the bar. The most recent bars keep factor 1.
func backwardFactors(bars []types.Bar, actions []types.CorporateAction, ratios []decimal.Decimal) []decimal.Decimal {
	// suffix[i] is the product of ratios[i:].
	suffix := make([]decimal.Decimal, len(ratios)+1)
	suffix[len(ratios)] = decimal.NewFromInt(1)

	for i := len(ratios) - 1; i >= 0; i-- {
		suffix[i] = ratios[i].Mul(suffix[i+1])
	}

	factors := make([]decimal.Decimal, len(bars))
	next := 0

	for i, bar := range bars {
		for next < len(actions) && !actions[next].ExDate.After(bar.Time) {
			next++
		}

		factors[i] = suffix[next]
	}

	return factors
}

// forwardFactors gives each bar the product of inverse ratios of all actions
// with an ex-date at or before the bar. The earliest bars keep factor 1.
func forwardFactors(bars []types.Bar, actions []types.CorporateAction, ratios []decimal.Decimal) []decimal.Decimal {
	one := decimal.NewFromInt(1)

	factors := make([]decimal.Decimal, len(bars))
	cumulative := one
	next := 0

	for i, bar := range bars {
		for next < len(actions) && !actions[next].ExDate.After(bar.Time) {
			cumulative = cumulative.Div(ratios[next]).Round(pricePrecision + 4)
			next++
		}

		factors[i] = cumulative
	}

	return factors
}

func actionRatio(action types.CorporateAction, refClose float64) (decimal.Decimal, error) {
	ref := decimal.NewFromFloat(refClose)
	cash := decimal.NewFromFloat(action.CashDividend)
	shares := decimal.NewFromFloat(action.ShareRatio())

	numerator := ref.Sub(cash)
	if !numerator.IsPositive() {
		return decimal.Zero, errors.Newf(errors.ErrCodeInvalidCorporateAction,
			"cash dividend %f wipes out reference close %f for %s", action.CashDividend, refClose, action.Symbol)
	}

	if !shares.IsPositive() {
		return decimal.Zero, errors.Newf(errors.ErrCodeInvalidCorporateAction,
			"non-positive share ratio for %s", action.Symbol)
	}

	return numerator.Div(ref.Mul(shares)).Round(pricePrecision + 4), nil
}

func applyFactor(bar types.Bar, factor decimal.Decimal) types.AdjustedBar {
	scale := func(v float64) float64 {
		out, _ := decimal.NewFromFloat(v).Mul(factor).Round(pricePrecision).Float64()

		return out
	}

	adjusted := bar
	adjusted.Open = scale(bar.Open)
	adjusted.High = scale(bar.High)
	adjusted.Low = scale(bar.Low)
	adjusted.Close = scale(bar.Close)

	volume, _ := decimal.NewFromFloat(bar.Volume).Div(factor).Round(pricePrecision).Float64()
	adjusted.Volume = volume

	f, _ := factor.Float64()

	return types.AdjustedBar{Bar: adjusted, Factor: f}
}

// lastCloseBefore returns the raw close of the last bar strictly before the
// action's ex-date.
func lastCloseBefore(bars []types.Bar, action types.CorporateAction) (float64, bool) {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Time.Before(action.ExDate) {
			return bars[i].Close, true
		}
	}

	return 0, false
}

func validateActions(actions []types.CorporateAction) error {
	for i := 1; i < len(actions); i++ {
		if !actions[i].ExDate.After(actions[i-1].ExDate) {
			return errors.Newf(errors.ErrCodeInvalidCorporateActionOrder,
				"corporate actions out of ex-date order at index %d", i)
		}
	}

	return nil
}

func validateBars(bars []types.Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return errors.Newf(errors.ErrCodeDataInconsistent,
				"bars out of order or duplicated at index %d", i)
		}
	}

	return nil
}
