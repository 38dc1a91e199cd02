package types

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Position is the net holding of one symbol. Quantity sign encodes
// long/short. Mutated only by applied fills.
type Position struct {
	Symbol   string  `yaml:"symbol" json:"symbol"`
	Quantity float64 `yaml:"quantity" json:"quantity"`
	AvgCost  float64 `yaml:"avg_cost" json:"avg_cost"`
	// Reserved is the share quantity currently committed to open sell orders.
	Reserved float64 `yaml:"reserved" json:"reserved"`
}

// MarketValue returns the position value at the given mark price.
func (p Position) MarketValue(price float64) float64 {
	v := decimal.NewFromFloat(p.Quantity).Mul(decimal.NewFromFloat(price))
	out, _ := v.Float64()

	return out
}

// Available returns the quantity not committed to open sell orders.
func (p Position) Available() float64 {
	return p.Quantity - p.Reserved
}

// Portfolio holds cash and positions for one run. It is owned exclusively by
// the strategy runtime and mutated only through fill application and
// reservation bookkeeping; strategy code sees read-only copies.
type Portfolio struct {
	cash         decimal.Decimal
	reservedCash decimal.Decimal
	positions    map[string]*Position
}

// NewPortfolio creates a portfolio with the given starting cash.
func NewPortfolio(initialCash float64) *Portfolio {
	return &Portfolio{
		cash:         decimal.NewFromFloat(initialCash),
		reservedCash: decimal.Zero,
		positions:    make(map[string]*Position),
	}
}

// Cash returns total cash including reserved amounts.
func (p *Portfolio) Cash() float64 {
	out, _ := p.cash.Float64()

	return out
}

// AvailableCash returns cash not committed to open buy orders.
func (p *Portfolio) AvailableCash() float64 {
	out, _ := p.cash.Sub(p.reservedCash).Float64()

	return out
}

// ReservedCash returns cash committed to open buy orders.
func (p *Portfolio) ReservedCash() float64 {
	out, _ := p.reservedCash.Float64()

	return out
}

// Position returns a copy of the position for symbol, zero-valued if flat.
func (p *Portfolio) Position(symbol string) Position {
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}

	return Position{Symbol: symbol, Quantity: 0, AvgCost: 0, Reserved: 0}
}

// Positions returns copies of all non-flat positions ordered by symbol.
func (p *Portfolio) Positions() []Position {
	out := make([]Position, 0, len(p.positions))

	for _, pos := range p.positions {
		if pos.Quantity != 0 || pos.Reserved != 0 {
			out = append(out, *pos)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })

	return out
}

// Equity returns cash plus position value at the given mark prices. Symbols
// without a mark price are valued at average cost.
func (p *Portfolio) Equity(marks map[string]float64) float64 {
	total := p.cash

	for symbol, pos := range p.positions {
		price, ok := marks[symbol]
		if !ok {
			price = pos.AvgCost
		}

		total = total.Add(decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(price)))
	}

	out, _ := total.Float64()

	return out
}

// ReserveCash commits cash to a pending buy order.
func (p *Portfolio) ReserveCash(amount float64) error {
	amt := decimal.NewFromFloat(amount)
	if p.cash.Sub(p.reservedCash).LessThan(amt) {
		return errors.Newf(errors.ErrCodeOrderRejected, "insufficient available cash: have %s, need %s",
			p.cash.Sub(p.reservedCash).StringFixed(2), amt.StringFixed(2))
	}

	p.reservedCash = p.reservedCash.Add(amt)

	return nil
}

// ReleaseCash returns previously reserved cash to the available pool.
func (p *Portfolio) ReleaseCash(amount float64) {
	p.reservedCash = p.reservedCash.Sub(decimal.NewFromFloat(amount))
	if p.reservedCash.IsNegative() {
		p.reservedCash = decimal.Zero
	}
}

// ReserveShares commits shares of symbol to a pending sell order.
func (p *Portfolio) ReserveShares(symbol string, quantity float64) error {
	pos := p.ensure(symbol)
	if pos.Available() < quantity {
		return errors.Newf(errors.ErrCodeOrderRejected, "insufficient available shares of %s: have %f, need %f",
			symbol, pos.Available(), quantity)
	}

	pos.Reserved += quantity

	return nil
}

// ReleaseShares returns previously reserved shares to the available pool.
func (p *Portfolio) ReleaseShares(symbol string, quantity float64) {
	pos := p.ensure(symbol)

	pos.Reserved -= quantity
	if pos.Reserved < 0 {
		pos.Reserved = 0
	}
}

// ApplyFill mutates cash and the position for one executed fill. The caller
// is responsible for releasing any reservation held for the filled quantity.
func (p *Portfolio) ApplyFill(side PurchaseType, fill Fill, symbol string) {
	pos := p.ensure(symbol)

	qty := decimal.NewFromFloat(fill.Quantity)
	price := decimal.NewFromFloat(fill.Price)
	fee := decimal.NewFromFloat(fill.Fee)
	notional := qty.Mul(price)

	if side == PurchaseTypeBuy {
		p.cash = p.cash.Sub(notional).Sub(fee)
		pos.applyDelta(fill.Quantity, fill.Price)
	} else {
		p.cash = p.cash.Add(notional).Sub(fee)
		pos.applyDelta(-fill.Quantity, fill.Price)
	}
}

// ApplySplit rescales a position for a corporate action taking effect in
// live or multi-day runs: quantity multiplied by the share ratio, average
// cost divided by it, so position value is conserved.
func (p *Portfolio) ApplySplit(symbol string, shareRatio float64) {
	pos, ok := p.positions[symbol]
	if !ok || shareRatio <= 0 || shareRatio == 1 {
		return
	}

	qty := decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(shareRatio))
	cost := decimal.NewFromFloat(pos.AvgCost).Div(decimal.NewFromFloat(shareRatio))

	pos.Quantity, _ = qty.Float64()
	pos.AvgCost, _ = cost.Float64()
}

func (p *Portfolio) ensure(symbol string) *Position {
	pos, ok := p.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol, Quantity: 0, AvgCost: 0, Reserved: 0}
		p.positions[symbol] = pos
	}

	return pos
}

// applyDelta adjusts quantity and average cost for a signed share delta at
// the given price. Average cost resets when the position flips sign.
func (pos *Position) applyDelta(delta float64, price float64) {
	oldQty := decimal.NewFromFloat(pos.Quantity)
	d := decimal.NewFromFloat(delta)
	newQty := oldQty.Add(d)

	switch {
	case newQty.IsZero():
		pos.AvgCost = 0
	case oldQty.IsZero() || oldQty.Sign() != newQty.Sign():
		// Opening or flipping through flat: cost basis starts fresh.
		pos.AvgCost = price
	case oldQty.Sign() == d.Sign():
		// Increasing exposure: weighted average cost.
		oldCost := oldQty.Abs().Mul(decimal.NewFromFloat(pos.AvgCost))
		addCost := d.Abs().Mul(decimal.NewFromFloat(price))
		avg := oldCost.Add(addCost).Div(newQty.Abs())
		pos.AvgCost, _ = avg.Float64()
	default:
		// Reducing exposure keeps the average cost.
	}

	pos.Quantity, _ = newQty.Float64()
}

// PortfolioSnapshot is the per-tick record persisted to the run ledger.
type PortfolioSnapshot struct {
	Time      time.Time  `yaml:"time" json:"time"`
	Cash      float64    `yaml:"cash" json:"cash"`
	Equity    float64    `yaml:"equity" json:"equity"`
	Positions []Position `yaml:"positions" json:"positions"`
}

// Snapshot captures the portfolio state at the given time.
func (p *Portfolio) Snapshot(at time.Time, marks map[string]float64) PortfolioSnapshot {
	return PortfolioSnapshot{
		Time:      at,
		Cash:      p.Cash(),
		Equity:    p.Equity(marks),
		Positions: p.Positions(),
	}
}
