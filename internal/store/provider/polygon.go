package provider

import (
	"context"
	"iter"
	"sort"
	"time"

	polygon "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// PolygonProvider serves historical aggregates and corporate actions from
// the Polygon REST API. It is a historical-only binding; live streaming is
// not offered on this provider.
type PolygonProvider struct {
	client *polygon.Client
}

func NewPolygonProvider(apiKey string) (*PolygonProvider, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "polygon provider requires an API key")
	}

	return &PolygonProvider{
		client: polygon.New(apiKey),
	}, nil
}

// Name implements Provider.
func (p *PolygonProvider) Name() string {
	return string(ProviderPolygon)
}

// Fetch implements Provider.
func (p *PolygonProvider) Fetch(ctx context.Context, symbol string, start time.Time, end time.Time, freq types.Frequency) ([]types.Bar, error) {
	multiplier, timespan := polygonTimespan(freq)

	//nolint:exhaustruct // third-party struct with many optional fields
	params := models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: multiplier,
		Timespan:   timespan,
		From:       models.Millis(start),
		To:         models.Millis(end),
	}.WithLimit(50000)

	aggs := p.client.ListAggs(ctx, params)

	var bars []types.Bar

	for aggs.Next() {
		agg := aggs.Item()
		bars = append(bars, types.Bar{
			Symbol:    symbol,
			Time:      time.Time(agg.Timestamp),
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
			Frequency: freq,
		})
	}

	if aggs.Err() != nil {
		return nil, errors.Wrap(errors.ErrCodeDataUnavailable, "polygon aggregates request failed", aggs.Err())
	}

	return bars, nil
}

// FetchCorporateActions implements Provider. Splits and dividends are fetched
// separately and merged by ex-date; actions sharing an ex-date collapse into
// one combined action.
func (p *PolygonProvider) FetchCorporateActions(ctx context.Context, symbol string) ([]types.CorporateAction, error) {
	byDate := make(map[time.Time]*types.CorporateAction)

	ensure := func(exDate time.Time) *types.CorporateAction {
		if action, ok := byDate[exDate]; ok {
			return action
		}

		action := &types.CorporateAction{
			Symbol:             symbol,
			ExDate:             exDate,
			SplitRatio:         1,
			CashDividend:       0,
			StockDividendRatio: 0,
		}
		byDate[exDate] = action

		return action
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	splits := p.client.ListSplits(ctx, models.ListSplitsParams{}.WithTicker(models.EQ, symbol))
	for splits.Next() {
		split := splits.Item()
		if split.SplitFrom <= 0 {
			continue
		}

		action := ensure(time.Time(split.ExecutionDate))
		action.SplitRatio = split.SplitTo / split.SplitFrom
	}

	if splits.Err() != nil {
		return nil, errors.Wrap(errors.ErrCodeDataUnavailable, "polygon splits request failed", splits.Err())
	}

	//nolint:exhaustruct // third-party struct with many optional fields
	dividends := p.client.ListDividends(ctx, models.ListDividendsParams{}.WithTicker(models.EQ, symbol))
	for dividends.Next() {
		dividend := dividends.Item()

		exDate, err := parseDividendExDate(symbol, dividend.ExDividendDate)
		if err != nil {
			return nil, err
		}

		action := ensure(exDate)
		action.CashDividend += dividend.CashAmount
	}

	if dividends.Err() != nil {
		return nil, errors.Wrap(errors.ErrCodeDataUnavailable, "polygon dividends request failed", dividends.Err())
	}

	actions := make([]types.CorporateAction, 0, len(byDate))
	for _, action := range byDate {
		actions = append(actions, *action)
	}

	sort.Slice(actions, func(i, j int) bool { return actions[i].ExDate.Before(actions[j].ExDate) })

	return actions, nil
}

// Stream implements Provider. Polygon is wired for historical data only;
// the iterator reports data-unavailable once and ends.
func (p *PolygonProvider) Stream(_ context.Context, _ []string, _ types.Frequency) iter.Seq2[types.Bar, error] {
	return func(yield func(types.Bar, error) bool) {
		yield(types.Bar{}, errors.New(errors.ErrCodeDataUnavailable, "polygon provider does not stream live bars"))
	}
}

// parseDividendExDate parses the plain YYYY-MM-DD ex-date strings the
// dividend endpoint reports, unlike splits which carry a typed date.
func parseDividendExDate(symbol string, raw string) (time.Time, error) {
	exDate, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrCodeDataInconsistent, err,
			"polygon returned a malformed ex-dividend date for %s: %q", symbol, raw)
	}

	return exDate, nil
}

func polygonTimespan(freq types.Frequency) (int, models.Timespan) {
	switch freq {
	case types.Frequency1m:
		return 1, models.Minute
	case types.Frequency5m:
		return 5, models.Minute
	case types.Frequency15m:
		return 15, models.Minute
	case types.Frequency30m:
		return 30, models.Minute
	case types.Frequency1h:
		return 1, models.Hour
	case types.Frequency1d:
		return 1, models.Day
	default:
		return 1, models.Minute
	}
}
