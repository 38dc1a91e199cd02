package provider

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// MemoryProvider is a synthetic in-memory data provider. It is the default
// for tests and for paper runs without a vendor binding: the core engine
// compiles and passes its full suite with only this provider.
type MemoryProvider struct {
	mu      sync.Mutex
	bars    map[string][]types.Bar
	actions map[string][]types.CorporateAction
	live    chan types.Bar
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		bars:    make(map[string][]types.Bar),
		actions: make(map[string][]types.CorporateAction),
		live:    make(chan types.Bar, 256),
	}
}

// Name implements Provider.
func (p *MemoryProvider) Name() string {
	return string(ProviderMemory)
}

// SeedBars loads historical bars for a symbol, replacing any existing series.
// Bars are stored in the order given; callers control ordering deliberately
// so tests can exercise inconsistent provider behavior.
func (p *MemoryProvider) SeedBars(symbol string, bars []types.Bar) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bars[symbol] = append([]types.Bar(nil), bars...)
}

// SeedCorporateActions loads corporate actions for a symbol sorted by ex-date.
func (p *MemoryProvider) SeedCorporateActions(symbol string, actions []types.CorporateAction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sorted := append([]types.CorporateAction(nil), actions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExDate.Before(sorted[j].ExDate) })
	p.actions[symbol] = sorted
}

// Publish pushes a live bar into the stream. Used by live-mode tests.
func (p *MemoryProvider) Publish(bar types.Bar) {
	p.live <- bar
}

// Fetch implements Provider.
func (p *MemoryProvider) Fetch(_ context.Context, symbol string, start time.Time, end time.Time, freq types.Frequency) ([]types.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	series, ok := p.bars[symbol]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeDataUnavailable, "no data seeded for symbol %s", symbol)
	}

	var out []types.Bar

	for _, bar := range series {
		if bar.Frequency != freq {
			continue
		}

		if bar.Time.Before(start) || bar.Time.After(end) {
			continue
		}

		out = append(out, bar)
	}

	if len(out) == 0 {
		return nil, errors.Newf(errors.ErrCodeDataUnavailable, "no %s bars for %s in range", freq, symbol)
	}

	return out, nil
}

// FetchCorporateActions implements Provider.
func (p *MemoryProvider) FetchCorporateActions(_ context.Context, symbol string) ([]types.CorporateAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]types.CorporateAction(nil), p.actions[symbol]...), nil
}

// Stream implements Provider. It drains bars pushed via Publish until the
// context is cancelled.
func (p *MemoryProvider) Stream(ctx context.Context, symbols []string, freq types.Frequency) iter.Seq2[types.Bar, error] {
	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	return func(yield func(types.Bar, error) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case bar := <-p.live:
				if !wanted[bar.Symbol] || bar.Frequency != freq {
					continue
				}

				if !yield(bar, nil) {
					return
				}
			}
		}
	}
}
