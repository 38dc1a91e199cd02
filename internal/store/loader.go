package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/store/provider"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// ProviderLoader pulls historical bars and corporate actions from a market
// data provider into a store before a run starts.
type ProviderLoader struct {
	provider provider.Provider
	store    Store
	logger   *logger.Logger
}

var _ Loader = (*ProviderLoader)(nil)

func NewProviderLoader(p provider.Provider, s Store, log *logger.Logger) *ProviderLoader {
	return &ProviderLoader{
		provider: p,
		store:    s,
		logger:   log,
	}
}

// Load implements Loader. A symbol that yields no data fails the whole load;
// partial universes make backtests silently wrong.
func (l *ProviderLoader) Load(ctx context.Context, symbols []string, start time.Time, end time.Time, freq types.Frequency) error {
	for _, symbol := range symbols {
		bars, err := l.provider.Fetch(ctx, symbol, start, end, freq)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeDataUnavailable, err, "failed to load bars for %s", symbol)
		}

		for i := 1; i < len(bars); i++ {
			if !bars[i].Time.After(bars[i-1].Time) {
				return errors.Newf(errors.ErrCodeDataInconsistent,
					"provider returned out-of-order or duplicate bars for %s at index %d", symbol, i)
			}
		}

		if err := l.store.Write(bars); err != nil {
			return err
		}

		actions, err := l.provider.FetchCorporateActions(ctx, symbol)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeDataUnavailable, err, "failed to load corporate actions for %s", symbol)
		}

		if err := l.store.WriteCorporateActions(actions); err != nil {
			return err
		}

		l.logger.Info("loaded symbol data",
			zap.String("symbol", symbol),
			zap.String("provider", l.provider.Name()),
			zap.Int("bars", len(bars)),
			zap.Int("corporate_actions", len(actions)))
	}

	return nil
}
