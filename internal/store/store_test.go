package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/store/provider"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type StoreTestSuite struct {
	suite.Suite
	store *DuckDBStore
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	store, err := NewDuckDBStore("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store
}

func (suite *StoreTestSuite) TearDownTest() {
	suite.store.Close()
}

func (suite *StoreTestSuite) day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func (suite *StoreTestSuite) seedDaily(symbol string, closes ...float64) []types.Bar {
	bars := make([]types.Bar, 0, len(closes))
	for i, c := range closes {
		bars = append(bars, types.Bar{
			Symbol:    symbol,
			Time:      suite.day(i + 1),
			Open:      c - 1,
			High:      c + 1,
			Low:       c - 2,
			Close:     c,
			Volume:    1000,
			Frequency: types.Frequency1d,
		})
	}

	suite.Require().NoError(suite.store.Write(bars))

	return bars
}

func (suite *StoreTestSuite) TestWriteAndRange() {
	bars := suite.seedDaily("AAPL", 100, 101, 102, 103)

	got, err := suite.store.GetRange("AAPL", suite.day(2), suite.day(3), types.Frequency1d)
	suite.Require().NoError(err)
	suite.Require().Len(got, 2)
	suite.Equal(bars[1].Close, got[0].Close)
	suite.Equal(bars[2].Close, got[1].Close)
}

func (suite *StoreTestSuite) TestWriteIsIdempotent() {
	suite.seedDaily("AAPL", 100, 101)
	suite.seedDaily("AAPL", 100, 101)

	count, err := suite.store.Count("AAPL", types.Frequency1d)
	suite.Require().NoError(err)
	suite.Equal(2, count)
}

func (suite *StoreTestSuite) TestRewriteReplacesRow() {
	suite.seedDaily("AAPL", 100)

	updated := []types.Bar{{
		Symbol: "AAPL", Time: suite.day(1), Open: 99, High: 106, Low: 98, Close: 105,
		Volume: 2000, Frequency: types.Frequency1d,
	}}
	suite.Require().NoError(suite.store.Write(updated))

	bar, err := suite.store.ReadLast("AAPL", types.Frequency1d)
	suite.Require().NoError(err)
	suite.InDelta(105.0, bar.Close, 1e-9)
	suite.InDelta(2000.0, bar.Volume, 1e-9)
}

func (suite *StoreTestSuite) TestHistoryReturnsAscendingTail() {
	suite.seedDaily("AAPL", 100, 101, 102, 103, 104)

	got, err := suite.store.History("AAPL", suite.day(4), 3, types.Frequency1d)
	suite.Require().NoError(err)
	suite.Require().Len(got, 3)
	suite.InDelta(101.0, got[0].Close, 1e-9)
	suite.InDelta(103.0, got[2].Close, 1e-9)
}

func (suite *StoreTestSuite) TestHistoryShorterThanCount() {
	suite.seedDaily("AAPL", 100, 101)

	got, err := suite.store.History("AAPL", suite.day(5), 10, types.Frequency1d)
	suite.Require().NoError(err)
	suite.Len(got, 2)
}

func (suite *StoreTestSuite) TestReadLastMissingSymbol() {
	_, err := suite.store.ReadLast("MSFT", types.Frequency1d)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *StoreTestSuite) TestAdjustedRangeAppliesSplit() {
	bars := []types.Bar{
		{Symbol: "AAPL", Time: suite.day(1), Open: 98, High: 102, Low: 96, Close: 100, Volume: 1000, Frequency: types.Frequency1d},
		{Symbol: "AAPL", Time: suite.day(2), Open: 50, High: 52, Low: 49, Close: 51, Volume: 2000, Frequency: types.Frequency1d},
	}
	suite.Require().NoError(suite.store.Write(bars))
	suite.Require().NoError(suite.store.WriteCorporateActions([]types.CorporateAction{
		{Symbol: "AAPL", ExDate: suite.day(2), SplitRatio: 2, CashDividend: 0, StockDividendRatio: 0},
	}))

	adjusted, err := suite.store.GetAdjustedRange("AAPL", suite.day(1), suite.day(2), types.Frequency1d, types.AdjustBackward)
	suite.Require().NoError(err)
	suite.Require().Len(adjusted, 2)
	suite.InDelta(50.0, adjusted[0].Close, 1e-6)
	suite.InDelta(51.0, adjusted[1].Close, 1e-6)
	suite.InDelta(0.5, adjusted[0].Factor, 1e-9)
}

func (suite *StoreTestSuite) TestSymbols() {
	suite.seedDaily("MSFT", 300)
	suite.seedDaily("AAPL", 100)

	symbols, err := suite.store.Symbols()
	suite.Require().NoError(err)
	suite.Equal([]string{"AAPL", "MSFT"}, symbols)
}

func (suite *StoreTestSuite) TestCachedStoreServesAndEvicts() {
	cached := NewCachedStore(suite.store)
	suite.seedDaily("AAPL", 100, 101)

	first, err := cached.GetRange("AAPL", suite.day(1), suite.day(2), types.Frequency1d)
	suite.Require().NoError(err)
	suite.Len(first, 2)

	// A write through the cache must invalidate the cached range.
	suite.Require().NoError(cached.Write([]types.Bar{{
		Symbol: "AAPL", Time: suite.day(2), Open: 100, High: 120, Low: 99, Close: 119,
		Volume: 5000, Frequency: types.Frequency1d,
	}}))

	second, err := cached.GetRange("AAPL", suite.day(1), suite.day(2), types.Frequency1d)
	suite.Require().NoError(err)
	suite.Require().Len(second, 2)
	suite.InDelta(119.0, second[1].Close, 1e-9)
}

func (suite *StoreTestSuite) TestLoaderPullsFromProvider() {
	mem := provider.NewMemoryProvider()
	mem.SeedBars("AAPL", []types.Bar{
		{Symbol: "AAPL", Time: suite.day(1), Open: 98, High: 102, Low: 96, Close: 100, Volume: 1000, Frequency: types.Frequency1d},
		{Symbol: "AAPL", Time: suite.day(2), Open: 100, High: 104, Low: 99, Close: 102, Volume: 1100, Frequency: types.Frequency1d},
	})
	mem.SeedCorporateActions("AAPL", []types.CorporateAction{
		{Symbol: "AAPL", ExDate: suite.day(2), SplitRatio: 1, CashDividend: 0.5, StockDividendRatio: 0},
	})

	loader := NewProviderLoader(mem, suite.store, logger.NewNopLogger())
	err := loader.Load(context.Background(), []string{"AAPL"}, suite.day(1), suite.day(2), types.Frequency1d)
	suite.Require().NoError(err)

	count, err := suite.store.Count("AAPL", types.Frequency1d)
	suite.Require().NoError(err)
	suite.Equal(2, count)

	actions, err := suite.store.CorporateActions("AAPL")
	suite.Require().NoError(err)
	suite.Require().Len(actions, 1)
	suite.InDelta(0.5, actions[0].CashDividend, 1e-9)
}

func (suite *StoreTestSuite) TestLoaderRejectsInconsistentProviderBars() {
	mem := provider.NewMemoryProvider()
	mem.SeedBars("AAPL", []types.Bar{
		{Symbol: "AAPL", Time: suite.day(2), Open: 100, High: 104, Low: 99, Close: 102, Volume: 1100, Frequency: types.Frequency1d},
		{Symbol: "AAPL", Time: suite.day(1), Open: 98, High: 102, Low: 96, Close: 100, Volume: 1000, Frequency: types.Frequency1d},
	})

	loader := NewProviderLoader(mem, suite.store, logger.NewNopLogger())
	err := loader.Load(context.Background(), []string{"AAPL"}, suite.day(1), suite.day(2), types.Frequency1d)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataInconsistent))
}

func (suite *StoreTestSuite) TestLoaderFailsOnMissingSymbol() {
	mem := provider.NewMemoryProvider()

	loader := NewProviderLoader(mem, suite.store, logger.NewNopLogger())
	err := loader.Load(context.Background(), []string{"GONE"}, suite.day(1), suite.day(2), types.Frequency1d)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataUnavailable))
}
