package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/broker"
	"github.com/meridian-lab/meridian-trading/internal/clock"
	"github.com/meridian-lab/meridian-trading/internal/exec"
	"github.com/meridian-lab/meridian-trading/internal/ledger"
	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/runtime"
	"github.com/meridian-lab/meridian-trading/internal/store"
	"github.com/meridian-lab/meridian-trading/internal/store/provider"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

const defaultFillPollInterval = 500 * time.Millisecond

// LiveEngine trades against a real venue. Market data ingestion and fill
// polling run as independent tasks feeding the single-consumer tick loop;
// the strategy stays logically single-threaded, one tick's callbacks fully
// complete before the next tick's data is applied.
type LiveEngine struct {
	config   Config
	strategy runtime.Strategy
	store    store.Store
	ledger   *ledger.Ledger
	logger   *logger.Logger
	provider provider.Provider
	broker   broker.Broker

	portfolio *types.Portfolio
	router    *exec.Router
	clock     *clock.LiveClock
	ctx       *engineContext

	// actions holds per-symbol corporate actions not yet past their ex-date,
	// popped as bar times cross them.
	actions map[string][]types.CorporateAction

	FillPollInterval time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	fills    chan types.Fill
}

func NewLiveEngine(config Config, strategy runtime.Strategy, s store.Store, led *ledger.Ledger, p provider.Provider, b broker.Broker, log *logger.Logger) (*LiveEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if strategy == nil || b == nil || p == nil {
		return nil, errors.New(errors.ErrCodeEngineInitFailed, "live engine requires a strategy, a provider, and a broker")
	}

	portfolio := types.NewPortfolio(config.InitialCapital)
	router := exec.NewRouter(portfolio, log)

	engine := &LiveEngine{
		config:    config,
		strategy:  strategy,
		store:     s,
		ledger:    led,
		logger:    log,
		provider:  p,
		broker:    b,
		portfolio: portfolio,
		router:    router,
		clock:     clock.NewLiveClock(config.Frequency),
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
		actions:          make(map[string][]types.CorporateAction),
		FillPollInterval: defaultFillPollInterval,
		stopOnce:         sync.Once{},
		stopped:          make(chan struct{}),
		fills:            make(chan types.Fill, 256),
	}

	engine.ctx.forward = func(order types.Order) error {
		return b.Submit(context.Background(), order)
	}
	engine.ctx.forwardCancel = func(clientID string) error {
		return b.Cancel(context.Background(), clientID)
	}

	return engine, nil
}

// RejectStale marks a queued-then-abandoned order rejected with the stale
// reason. Wire this to the remote client's stale callback.
func (e *LiveEngine) RejectStale(order types.Order) {
	if _, err := e.router.Reject(order.ID, types.RejectReasonStale, "abandoned after staleness window"); err != nil {
		e.logger.Warn("failed to mark stale order rejected", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// Run connects the broker, starts the feed and fill-poller tasks, and
// drains ticks until Stop or context cancellation. Strategy faults are
// reported and the run continues to the next tick.
func (e *LiveEngine) Run(ctx context.Context) error {
	if err := e.broker.Connect(ctx); err != nil {
		return err
	}

	e.router.SetUpdateCallback(e.onOrderTransition)
	e.warmStartMarks()
	e.loadCorporateActions()

	if err := e.strategy.Initialize(e.ctx); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyFault, "strategy initialization failed", err)
	}

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	var background sync.WaitGroup

	background.Add(2)

	go func() {
		defer background.Done()
		e.ingestMarketData(streamCtx)
	}()

	go func() {
		defer background.Done()
		e.pollFills(streamCtx)
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-e.stopped:
		}

		e.clock.Stop()
		cancelStream()
	}()

	for {
		tick, ok := e.clock.Next()
		if !ok {
			break
		}

		e.drainFills()
		e.processTick(tick)
	}

	background.Wait()

	if err := e.strategy.Finalize(e.ctx); err != nil {
		e.logger.Warn("strategy finalize failed", zap.Error(err))
	}

	// In-flight submissions were given the chance to complete; now the
	// session can be torn down.
	return e.broker.Disconnect()
}

// Results exposes the final portfolio and order book for reporting and
// tests. Read it only after Run returns.
func (e *LiveEngine) Results() (*types.Portfolio, []types.Order) {
	return e.portfolio, e.router.Orders()
}

// Stop signals the run to end after the current tick completes.
func (e *LiveEngine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
	})
}

// warmStartMarks seeds mark prices from the last stored bar per symbol so
// orders submitted before the first live bar have a reference price.
func (e *LiveEngine) warmStartMarks() {
	if e.store == nil {
		return
	}

	for _, symbol := range e.config.Symbols {
		last, err := e.store.ReadLast(symbol, e.config.Frequency)
		if err != nil {
			continue
		}

		e.ctx.marks[symbol] = last.Close
	}
}

// loadCorporateActions pulls known actions per symbol so positions held
// across an ex-date during the session get rescaled. Actions already past
// their ex-date pop harmlessly on the first tick against a flat book.
func (e *LiveEngine) loadCorporateActions() {
	if e.store == nil {
		return
	}

	for _, symbol := range e.config.Symbols {
		actions, err := e.store.CorporateActions(symbol)
		if err != nil {
			e.logger.Warn("failed to load corporate actions", zap.String("symbol", symbol), zap.Error(err))

			continue
		}

		if len(actions) > 0 {
			e.actions[symbol] = actions
		}
	}
}

// applyCorporateActions rescales held positions for every action whose
// ex-date has arrived with this bar.
func (e *LiveEngine) applyCorporateActions(bar types.Bar) {
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

// ingestMarketData forwards finalized bars from the provider stream into
// the store and the clock. Stream errors pause the affected data, not the
// run.
func (e *LiveEngine) ingestMarketData(ctx context.Context) {
	for bar, err := range e.provider.Stream(ctx, e.config.Symbols, e.config.Frequency) {
		if err != nil {
			e.logger.Warn("market data stream error", zap.Error(err))

			continue
		}

		if e.store != nil {
			if err := e.store.Write([]types.Bar{bar}); err != nil {
				e.logger.Error("failed to persist live bar", zap.String("symbol", bar.Symbol), zap.Error(err))
			}
		}

		e.clock.Push(bar)
	}
}

// pollFills periodically drains execution reports from the broker into the
// fill queue consumed by the tick loop.
func (e *LiveEngine) pollFills(ctx context.Context) {
	ticker := time.NewTicker(e.FillPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fills, err := e.broker.PollFills(ctx)
			if err != nil {
				e.logger.Warn("fill poll failed", zap.Error(err))

				continue
			}

			for _, fill := range fills {
				select {
				case e.fills <- fill:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// drainFills applies queued execution reports. The router drops duplicates,
// so replays after reconnects are harmless.
func (e *LiveEngine) drainFills() {
	for {
		select {
		case fill := <-e.fills:
			if _, err := e.router.ApplyFill(fill); err != nil {
				e.logger.Warn("failed to apply broker fill", zap.String("fill_id", fill.ID), zap.Error(err))

				continue
			}

			if e.ledger != nil {
				if err := e.ledger.RecordFill(fill); err != nil {
					e.logger.Error("failed to record fill", zap.String("fill_id", fill.ID), zap.Error(err))
				}
			}
		default:
			return
		}
	}
}

// processTick runs one live tick: strategy callback for data ticks, then a
// portfolio snapshot. A faulty tick is logged and the run continues.
func (e *LiveEngine) processTick(tick clock.Tick) {
	e.ctx.now = tick.Time

	if bar, err := tick.Bar.Take(); err == nil {
		e.ctx.marks[bar.Symbol] = bar.Close
		e.applyCorporateActions(bar)
		e.callOnBar(bar)
	}

	if e.ledger != nil {
		if err := e.ledger.RecordSnapshot(e.portfolio.Snapshot(tick.Time, e.ctx.marks)); err != nil {
			e.logger.Error("failed to record snapshot", zap.Error(err))
		}
	}
}

func (e *LiveEngine) callOnBar(bar types.Bar) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panic, continuing to next tick",
				zap.String("symbol", bar.Symbol),
				zap.Time("bar_time", bar.Time),
				zap.Any("panic", r))
		}
	}()

	adjusted := types.AdjustedBar{Bar: bar, Factor: 1}
	if err := e.strategy.OnBar(e.ctx, adjusted); err != nil {
		e.logger.Warn("strategy callback failed, continuing to next tick",
			zap.String("symbol", bar.Symbol),
			zap.Error(err))
	}
}

func (e *LiveEngine) onOrderTransition(order types.Order) {
	if e.ledger != nil {
		if err := e.ledger.RecordOrder(order); err != nil {
			e.logger.Error("failed to record order", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}

	e.callOnOrderUpdate(order)
}

// callOnOrderUpdate invokes the strategy's order-update hook, trapping
// panics so a faulty strategy cannot take down a live session.
func (e *LiveEngine) callOnOrderUpdate(order types.Order) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("strategy panic in order update, continuing",
				zap.Int64("order_id", order.ID),
				zap.Any("panic", r))
		}
	}()

	if err := e.strategy.OnOrderUpdate(e.ctx, order); err != nil {
		e.logger.Warn("strategy order-update callback failed", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}
