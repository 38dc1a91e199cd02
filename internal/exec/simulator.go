package exec

import (
	"fmt"

	"github.com/moznion/go-optional"

	"github.com/meridian-lab/meridian-trading/internal/types"
)

// FillPriceRule picks the bar price a market order fills at.
type FillPriceRule string

const (
	FillAtOpen  FillPriceRule = "open"
	FillAtClose FillPriceRule = "close"
)

// LimitGapRule picks the fill price when a bar gaps through a limit price:
// the order fills at the bar's open (the realistic choice, and the default)
// or at the limit itself (the conservative choice).
type LimitGapRule string

const (
	GapFillAtOpen  LimitGapRule = "open"
	GapFillAtLimit LimitGapRule = "limit"
)

// SimulatorConfig tunes the backtest fill policy.
type SimulatorConfig struct {
	FillPriceRule FillPriceRule `yaml:"fill_price_rule" json:"fill_price_rule" validate:"omitempty,oneof=open close"`
	LimitGapRule  LimitGapRule  `yaml:"limit_gap_rule" json:"limit_gap_rule" validate:"omitempty,oneof=open limit"`
	// MaxVolumeFraction caps an order at this fraction of bar volume;
	// larger orders are rejected rather than unrealistically filled.
	// Zero disables the check.
	MaxVolumeFraction float64 `yaml:"max_volume_fraction" json:"max_volume_fraction" validate:"gte=0,lte=1"`
	SlippageBps       float64 `yaml:"slippage_bps" json:"slippage_bps" validate:"gte=0"`
}

func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		FillPriceRule:     FillAtOpen,
		LimitGapRule:      GapFillAtOpen,
		MaxVolumeFraction: 0.1,
		SlippageBps:       0,
	}
}

// Evaluation is the simulator's verdict for one order against one bar.
// Both fields empty means the order stays open.
type Evaluation struct {
	Fill   optional.Option[types.Fill]
	Reject optional.Option[types.RejectReason]
}

// Simulator fills orders against historical bars. It holds no order state;
// the router owns that. Fill ids are derived from the order id and a
// per-order sequence so identical runs produce identical ledgers.
type Simulator struct {
	config   SimulatorConfig
	slippage SlippageModel
	fees     FeeSchedule
	fillSeq  map[int64]int
}

func NewSimulator(config SimulatorConfig, fees FeeSchedule) *Simulator {
	var slippage SlippageModel = NoSlippage{}
	if config.SlippageBps > 0 {
		slippage = ProportionalSlippage{Bps: config.SlippageBps}
	}

	if config.FillPriceRule == "" {
		config.FillPriceRule = FillAtOpen
	}

	if config.LimitGapRule == "" {
		config.LimitGapRule = GapFillAtOpen
	}

	return &Simulator{
		config:   config,
		slippage: slippage,
		fees:     fees,
		fillSeq:  make(map[int64]int),
	}
}

// Evaluate decides what happens to an open order on the given bar.
func (s *Simulator) Evaluate(order types.Order, bar types.Bar) Evaluation {
	none := Evaluation{Fill: optional.None[types.Fill](), Reject: optional.None[types.RejectReason]()}

	quantity := order.Remaining()
	if quantity <= 0 {
		return none
	}

	if s.config.MaxVolumeFraction > 0 && quantity > s.config.MaxVolumeFraction*bar.Volume {
		return Evaluation{
			Fill:   optional.None[types.Fill](),
			Reject: optional.Some(types.RejectReasonInsufficientLiquidity),
		}
	}

	var price float64

	switch order.OrderType {
	case types.OrderTypeMarket:
		base := bar.Open
		if s.config.FillPriceRule == FillAtClose {
			base = bar.Close
		}

		price = s.slippage.Apply(base, order.Side)
	case types.OrderTypeLimit:
		crossed, fillPrice := s.limitCross(order, bar)
		if !crossed {
			return none
		}

		// Slippage does not apply to limit fills: the limit is a hard
		// price bound.
		price = fillPrice
	default:
		return none
	}

	return Evaluation{
		Fill:   optional.Some(s.makeFill(order, quantity, price, bar)),
		Reject: optional.None[types.RejectReason](),
	}
}

// limitCross reports whether the bar's range crosses the limit price and at
// what price the fill happens. A bar that gaps through the limit fills per
// the configured gap rule; a bar that merely touches it fills at the limit.
func (s *Simulator) limitCross(order types.Order, bar types.Bar) (bool, float64) {
	limit := order.LimitPrice.Unwrap()

	if order.Side == types.PurchaseTypeBuy {
		if bar.Low > limit {
			return false, 0
		}

		if bar.Open < limit && s.config.LimitGapRule == GapFillAtOpen {
			return true, bar.Open
		}

		return true, limit
	}

	if bar.High < limit {
		return false, 0
	}

	if bar.Open > limit && s.config.LimitGapRule == GapFillAtOpen {
		return true, bar.Open
	}

	return true, limit
}

func (s *Simulator) makeFill(order types.Order, quantity float64, price float64, bar types.Bar) types.Fill {
	s.fillSeq[order.ID]++

	return types.Fill{
		ID:       fmt.Sprintf("sim-%d-%d", order.ID, s.fillSeq[order.ID]),
		OrderID:  order.ID,
		Quantity: quantity,
		Price:    price,
		Fee:      s.fees.Fee(quantity, price),
		Time:     bar.Time,
	}
}
