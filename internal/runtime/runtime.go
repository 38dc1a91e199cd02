// Package runtime defines the contract between the engine and user
// strategy code: lifecycle callbacks driven at each clock tick, a
// read-only view of portfolio state, and a write-only order-intent API.
package runtime

import (
	"time"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

// Context is handed to every strategy callback. Portfolio accessors return
// copies; the only way strategy code moves money is through SubmitOrder.
type Context interface {
	// Now returns the current tick time: bar time in backtest, wall clock
	// boundary in live mode.
	Now() time.Time
	Cash() float64
	AvailableCash() float64
	Position(symbol string) types.Position
	Positions() []types.Position
	OpenOrders() []types.Order
	// History returns up to count bars at or before the current tick,
	// ascending. Never includes bars the strategy has not seen yet.
	History(symbol string, count int) ([]types.Bar, error)
	// SubmitOrder validates and enqueues an order intent, returning the
	// tracked order. Rejections arrive later through OnOrderUpdate.
	SubmitOrder(intent types.OrderIntent) (types.Order, error)
	CancelOrder(orderID int64) error
	Logger() *logger.Logger
}

// Strategy is the user callback contract. Hooks are optional: embed
// BaseStrategy and override what you need.
type Strategy interface {
	Name() string
	// Initialize runs once before the first tick.
	Initialize(ctx Context) error
	// OnBar runs for every bar the clock delivers.
	OnBar(ctx Context, bar types.AdjustedBar) error
	// OnOrderUpdate runs on every order state transition.
	OnOrderUpdate(ctx Context, order types.Order) error
	// Finalize runs once after end-of-stream, even when the run aborted.
	Finalize(ctx Context) error
}

// BaseStrategy provides no-op defaults for every optional hook.
type BaseStrategy struct{}

func (BaseStrategy) Initialize(_ Context) error { return nil }

func (BaseStrategy) OnBar(_ Context, _ types.AdjustedBar) error { return nil }

func (BaseStrategy) OnOrderUpdate(_ Context, _ types.Order) error { return nil }

func (BaseStrategy) Finalize(_ Context) error { return nil }
