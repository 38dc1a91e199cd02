package engine

import (
	"time"

	"github.com/meridian-lab/meridian-trading/internal/exec"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/runtime"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// engineContext is the runtime.Context both engines hand to strategy
// callbacks. It mediates every strategy interaction with engine state:
// reads are copies, writes go through the router.
type engineContext struct {
	now       time.Time
	freq      types.Frequency
	portfolio *types.Portfolio
	router    *exec.Router
	store     store.Store
	logger    *logger.Logger
	marks     map[string]float64

	// forward and forwardCancel, when set, relay router transitions to the
	// broker. Backtests leave them nil; the simulator picks orders up from
	// the router at the next evaluation.
	forward       func(order types.Order) error
	forwardCancel func(clientID string) error
}

var _ runtime.Context = (*engineContext)(nil)

func (c *engineContext) Now() time.Time {
	return c.now
}

func (c *engineContext) Cash() float64 {
	return c.portfolio.Cash()
}

func (c *engineContext) AvailableCash() float64 {
	return c.portfolio.AvailableCash()
}

func (c *engineContext) Position(symbol string) types.Position {
	return c.portfolio.Position(symbol)
}

func (c *engineContext) Positions() []types.Position {
	return c.portfolio.Positions()
}

func (c *engineContext) OpenOrders() []types.Order {
	return c.router.OpenOrders()
}

func (c *engineContext) History(symbol string, count int) ([]types.Bar, error) {
	return c.store.History(symbol, c.now, count, c.freq)
}

func (c *engineContext) SubmitOrder(intent types.OrderIntent) (types.Order, error) {
	created, err := c.router.Create(intent, c.now)
	if err != nil {
		return types.Order{}, err
	}

	mark, ok := c.marks[intent.Symbol]
	if !ok {
		return c.router.Reject(created.ID, types.RejectReasonInvalidSymbol, "no mark price for symbol")
	}

	submitted, err := c.router.Submit(created.ID, mark)
	if err != nil {
		return types.Order{}, err
	}

	if submitted.State == types.OrderStateSubmitted && c.forward != nil {
		if err := c.forward(submitted); err != nil {
			if errors.HasCode(err, errors.ErrCodeOrderRejected) {
				return c.router.Reject(submitted.ID, types.RejectReasonVenueDown, err.Error())
			}

			return types.Order{}, err
		}
	}

	return submitted, nil
}

func (c *engineContext) CancelOrder(orderID int64) error {
	cancelled, err := c.router.Cancel(orderID)
	if err != nil {
		return err
	}

	if c.forwardCancel != nil {
		return c.forwardCancel(cancelled.ClientID)
	}

	return nil
}

func (c *engineContext) Logger() *logger.Logger {
	return c.logger
}
