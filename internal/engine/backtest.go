package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/clock"
	"github.com/meridian-lab/meridian-trading/internal/exec"
	"github.com/meridian-lab/meridian-trading/internal/ledger"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/runtime"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// BacktestEngine replays stored history through the strategy with simulated
// execution. The whole run is single-threaded: clock, callbacks, and fills
// execute strictly in sequence, so identical inputs produce identical
// ledgers.
//
// Execution happens against raw prices; strategy callbacks see adjusted
// bars so indicator math is continuous across corporate actions. Positions
// held across an ex-date are rescaled by the split's share ratio when the
// ex-date tick arrives.
type BacktestEngine struct {
	config   Config
	strategy runtime.Strategy
	store    store.Store
	ledger   *ledger.Ledger
	logger   *logger.Logger

	portfolio *types.Portfolio
	router    *exec.Router
	simulator *exec.Simulator
	ctx       *engineContext

	adjusted map[string]map[int64]types.AdjustedBar
	actions  map[string][]types.CorporateAction
	failed   map[string]error

	// strategyFault carries the first OnOrderUpdate fault out of the router
	// callback so the tick loop can abort on it.
	strategyFault error

	// ShowProgress enables the terminal progress bar. Off in tests.
	ShowProgress bool
}

func NewBacktestEngine(config Config, strategy runtime.Strategy, s store.Store, led *ledger.Ledger, log *logger.Logger) (*BacktestEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if strategy == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "backtest engine requires a strategy")
	}

	portfolio := types.NewPortfolio(config.InitialCapital)
	router := exec.NewRouter(portfolio, log,
		exec.WithClientIDFn(func(id int64) string { return fmt.Sprintf("bt-%d", id) }))

	engine := &BacktestEngine{
		config:    config,
		strategy:  strategy,
		store:     s,
		ledger:    led,
		logger:    log,
		portfolio: portfolio,
		router:    router,
		simulator: exec.NewSimulator(config.Simulator, config.FeeScheduleFor()),
		ctx: &engineContext{
			now:           time.Time{},
			freq:          config.Frequency,
			portfolio:     portfolio,
			router:        router,
			store:         s,
			logger:        log,
			marks:         make(map[string]float64),
			forward:       nil,
			forwardCancel: nil,
		},
		adjusted:      make(map[string]map[int64]types.AdjustedBar),
		actions:       make(map[string][]types.CorporateAction),
		failed:        make(map[string]error),
		strategyFault: nil,
		ShowProgress:  false,
	}

	return engine, nil
}

// Run executes the backtest to end-of-stream. Strategy faults abort the run
// at the faulting tick; data faults abort only the affected symbol.
func (e *BacktestEngine) Run(ctx context.Context) error {
	series, total, err := e.loadSeries()
	if err != nil {
		return err
	}

	replay, err := clock.NewReplayClock(series)
	if err != nil {
		return err
	}

	e.router.SetUpdateCallback(e.onOrderTransition)

	if err := e.strategy.Initialize(e.ctx); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyFault, "strategy initialization failed", err)
	}

	var bar *progressbar.ProgressBar
	if e.ShowProgress {
		bar = progressbar.Default(int64(total), "backtest")
	}

	var runErr error

	for {
		select {
		case <-ctx.Done():
			replay.Stop()
		default:
		}

		tick, ok := replay.Next()
		if !ok {
			break
		}

		if bar != nil {
			_ = bar.Add(1)
		}

		if runErr = e.processTick(tick); runErr != nil {
			break
		}
	}

	if err := e.strategy.Finalize(e.ctx); err != nil {
		e.logger.Warn("strategy finalize failed", zap.Error(err))
	}

	return runErr
}

// Results exposes the final portfolio for reporting and tests.
func (e *BacktestEngine) Results() (*types.Portfolio, []types.Order) {
	return e.portfolio, e.router.Orders()
}

// FailedSymbols reports symbols dropped from the run and why.
func (e *BacktestEngine) FailedSymbols() map[string]error {
	return e.failed
}

// loadSeries pulls raw and adjusted history for every configured symbol.
// A symbol that fails to load is recorded and skipped; the run proceeds
// with the remainder, and fails only when nothing is left.
func (e *BacktestEngine) loadSeries() (map[string][]types.Bar, int, error) {
	start := time.Time{}
	if e.config.StartTime.IsSome() {
		start = e.config.StartTime.Unwrap()
	}

	end := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	if e.config.EndTime.IsSome() {
		end = e.config.EndTime.Unwrap()
	}

	series := make(map[string][]types.Bar)
	total := 0

	for _, symbol := range e.config.Symbols {
		raw, err := e.store.GetRange(symbol, start, end, e.config.Frequency)
		if err != nil {
			e.failSymbol(symbol, err)

			continue
		}

		if len(raw) == 0 {
			e.failSymbol(symbol, errors.Newf(errors.ErrCodeDataUnavailable, "no bars for %s in configured range", symbol))

			continue
		}

		adjustedBars, err := e.store.GetAdjustedRange(symbol, start, end, e.config.Frequency, e.config.Adjustment)
		if err != nil {
			e.failSymbol(symbol, err)

			continue
		}

		actions, err := e.store.CorporateActions(symbol)
		if err != nil {
			e.failSymbol(symbol, err)

			continue
		}

		byTime := make(map[int64]types.AdjustedBar, len(adjustedBars))
		for _, adjusted := range adjustedBars {
			byTime[adjusted.Time.UnixNano()] = adjusted
		}

		series[symbol] = raw
		e.adjusted[symbol] = byTime
		e.actions[symbol] = actions
		total += len(raw)
	}

	if len(series) == 0 {
		return nil, 0, errors.New(errors.ErrCodeDataUnavailable, "no symbol in the configured universe has data")
	}

	return series, total, nil
}

func (e *BacktestEngine) failSymbol(symbol string, err error) {
	e.failed[symbol] = err
	e.logger.Warn("dropping symbol from run", zap.String("symbol", symbol), zap.Error(err))
}

// processTick runs one bar through corporate actions, the strategy, and
// the simulator, then snapshots the portfolio.
func (e *BacktestEngine) processTick(tick clock.Tick) error {
	bar, err := tick.Bar.Take()
	if err != nil {
		return nil
	}

	if _, dropped := e.failed[bar.Symbol]; dropped {
		return nil
	}

	e.ctx.now = tick.Time
	e.ctx.marks[bar.Symbol] = bar.Close

	e.applyCorporateActions(bar)

	if err := e.callOnBar(bar); err != nil {
		return err
	}

	e.evaluateOpenOrders(bar)

	if e.strategyFault != nil {
		return e.strategyFault
	}

	e.snapshot(tick.Time)

	return nil
}

// applyCorporateActions rescales held positions for every action whose
// ex-date has arrived with this bar.
func (e *BacktestEngine) applyCorporateActions(bar types.Bar) {
	pending := e.actions[bar.Symbol]

	for len(pending) > 0 && !pending[0].ExDate.After(bar.Time) {
		action := pending[0]
		pending = pending[1:]

		if ratio := action.ShareRatio(); ratio != 1 {
			e.portfolio.ApplySplit(bar.Symbol, ratio)
			e.logger.Info("applied corporate action to position",
				zap.String("symbol", bar.Symbol),
				zap.Time("ex_date", action.ExDate),
				zap.Float64("share_ratio", ratio))
		}
	}

	e.actions[bar.Symbol] = pending
}

// callOnBar invokes the strategy with the adjusted bar, trapping panics at
// the tick boundary. A fault aborts the backtest deterministically at this
// tick.
func (e *BacktestEngine) callOnBar(bar types.Bar) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeStrategyFault, "strategy panicked at %s on %s: %v", bar.Time, bar.Symbol, r)
			e.logger.Error("strategy panic", zap.String("symbol", bar.Symbol), zap.Time("bar_time", bar.Time), zap.Any("panic", r))
		}
	}()

	adjusted, ok := e.adjusted[bar.Symbol][bar.Time.UnixNano()]
	if !ok {
		adjusted = types.AdjustedBar{Bar: bar, Factor: 1}
	}

	if err := e.strategy.OnBar(e.ctx, adjusted); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyFault, err, "strategy failed at %s on %s", bar.Time, bar.Symbol)
	}

	return nil
}

// evaluateOpenOrders runs the simulator over this symbol's open orders.
func (e *BacktestEngine) evaluateOpenOrders(bar types.Bar) {
	for _, order := range e.router.OpenOrders() {
		if order.Symbol != bar.Symbol || order.State == types.OrderStateCreated {
			continue
		}

		eval := e.simulator.Evaluate(order, bar)

		if eval.Reject.IsSome() {
			reason := eval.Reject.Unwrap()
			if _, err := e.router.Reject(order.ID, reason, "simulated venue reject"); err != nil {
				e.logger.Error("failed to reject order", zap.Int64("order_id", order.ID), zap.Error(err))
			}

			continue
		}

		if eval.Fill.IsSome() {
			fill := eval.Fill.Unwrap()
			if _, err := e.router.ApplyFill(fill); err != nil {
				e.logger.Error("failed to apply fill", zap.String("fill_id", fill.ID), zap.Error(err))

				continue
			}

			e.recordFill(fill)
		}
	}
}

func (e *BacktestEngine) onOrderTransition(order types.Order) {
	if e.ledger != nil {
		if err := e.ledger.RecordOrder(order); err != nil {
			e.logger.Error("failed to record order", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	if err := e.callOnOrderUpdate(order); err != nil && e.strategyFault == nil {
		e.strategyFault = err
	}
}

// callOnOrderUpdate invokes the strategy's order-update hook, trapping
// panics. The first fault aborts the run at the current tick.
func (e *BacktestEngine) callOnOrderUpdate(order types.Order) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeStrategyFault, "strategy panicked in order update for order %d: %v", order.ID, r)
			e.logger.Error("strategy panic in order update", zap.Int64("order_id", order.ID), zap.Any("panic", r))
		}
	}()

	if err := e.strategy.OnOrderUpdate(e.ctx, order); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyFault, err, "strategy order-update callback failed for order %d", order.ID)
	}

	return nil
}

func (e *BacktestEngine) recordFill(fill types.Fill) {
	if e.ledger == nil {
		return
	}

	if err := e.ledger.RecordFill(fill); err != nil {
		e.logger.Error("failed to record fill", zap.String("fill_id", fill.ID), zap.Error(err))
	}
}

func (e *BacktestEngine) snapshot(at time.Time) {
	if e.ledger == nil {
		return
	}

	if err := e.ledger.RecordSnapshot(e.portfolio.Snapshot(at, e.ctx.marks)); err != nil {
		e.logger.Error("failed to record snapshot", zap.Error(err))
	}
}
