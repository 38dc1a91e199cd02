package exec

import (
	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// SlippageModel moves a theoretical fill price against the taker.
type SlippageModel interface {
	Name() string
	// Apply returns the price actually assumed achievable: buys pay more,
	// sells receive less.
	Apply(price float64, side types.PurchaseType) float64
}

// NoSlippage fills at the theoretical price.
type NoSlippage struct{}

func (NoSlippage) Name() string { return "none" }

func (NoSlippage) Apply(price float64, _ types.PurchaseType) float64 { return price }

// ProportionalSlippage moves the price by a fixed number of basis points.
type ProportionalSlippage struct {
	Bps float64
}

func (s ProportionalSlippage) Name() string { return "proportional" }

func (s ProportionalSlippage) Apply(price float64, side types.PurchaseType) float64 {
	p := decimal.NewFromFloat(price)
	shift := p.Mul(decimal.NewFromFloat(s.Bps)).Div(decimal.NewFromInt(10000))

	if side == types.PurchaseTypeBuy {
		p = p.Add(shift)
	} else {
		p = p.Sub(shift)
	}

	out, _ := p.Float64()

	return out
}
