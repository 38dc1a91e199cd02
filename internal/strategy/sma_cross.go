// Package strategy ships reference strategies runnable by the cmd
// binaries. They double as integration fixtures for the engines.
package strategy

import (
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/runtime"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

// SMACross goes long when the short moving average crosses above the long
// one and flattens on the cross back down. One position per symbol, sized
// by Quantity.
type SMACross struct {
	runtime.BaseStrategy

	ShortWindow int
	LongWindow  int
	Quantity    float64
}

// NewSMACross returns the strategy with the classic 10/30 windows.
func NewSMACross(quantity float64) *SMACross {
	return &SMACross{
		ShortWindow: 10,
		LongWindow:  30,
		Quantity:    quantity,
	}
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) OnBar(ctx runtime.Context, bar types.AdjustedBar) error {
	history, err := ctx.History(bar.Symbol, s.LongWindow)
	if err != nil {
		return err
	}

	if len(history) < s.LongWindow {
		return nil
	}

	short := s.average(history[len(history)-s.ShortWindow:])
	long := s.average(history)

	position := ctx.Position(bar.Symbol)

	switch {
	case short > long && position.Quantity == 0:
		return s.submit(ctx, bar.Symbol, types.PurchaseTypeBuy, s.Quantity)
	case short < long && position.Available() > 0:
		return s.submit(ctx, bar.Symbol, types.PurchaseTypeSell, position.Available())
	default:
		return nil
	}
}

func (s *SMACross) OnOrderUpdate(ctx runtime.Context, order types.Order) error {
	if order.State == types.OrderStateRejected {
		ctx.Logger().Warn("order rejected",
			zap.String("symbol", order.Symbol),
			zap.String("reject_reason", string(order.RejectReason)))
	}

	return nil
}

func (s *SMACross) average(bars []types.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}

	sum := 0.0
	for _, bar := range bars {
		sum += bar.Close
	}

	return sum / float64(len(bars))
}

func (s *SMACross) submit(ctx runtime.Context, symbol string, side types.PurchaseType, quantity float64) error {
	_, err := ctx.SubmitOrder(types.OrderIntent{
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		OrderType:  types.OrderTypeMarket,
		LimitPrice: optional.None[float64](),
		Reason:     types.Reason{Reason: types.OrderReasonStrategy, Message: "sma cross"},
	})

	return err
}
