package adjust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type AdjusterTestSuite struct {
	suite.Suite
}

func TestAdjusterSuite(t *testing.T) {
	suite.Run(t, new(AdjusterTestSuite))
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func bar(d int, open, high, low, close, volume float64) types.Bar {
	return types.Bar{
		Symbol:    "AAPL",
		Time:      day(d),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Frequency: types.Frequency1d,
	}
}

func (suite *AdjusterTestSuite) TestNoActionsIsIdentity() {
	bars := []types.Bar{bar(1, 10, 11, 9, 10, 1000), bar(2, 10, 12, 10, 11, 1100)}

	result, err := Adjust(bars, nil, types.AdjustBackward)
	suite.Require().NoError(err)
	suite.Require().Len(result.Bars, 2)

	for i, adjusted := range result.Bars {
		suite.InDelta(bars[i].Close, adjusted.Close, 1e-9)
		suite.InDelta(1.0, adjusted.Factor, 1e-9)
	}
}

func (suite *AdjusterTestSuite) TestBackwardSplitContinuity() {
	// 2-for-1 split between day 2 and day 3; price halves on the ex-date.
	bars := []types.Bar{
		bar(1, 98, 102, 96, 100, 1000),
		bar(2, 100, 104, 99, 102, 1000),
		bar(3, 51, 52, 50, 51, 2000),
	}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(3), SplitRatio: 2, CashDividend: 0, StockDividendRatio: 0},
	}

	result, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().NoError(err)

	// Pre-split bars halved, post-split bar untouched.
	suite.InDelta(51.0, result.Bars[1].Close, 1e-6)
	suite.InDelta(51.0, result.Bars[2].Close, 1e-6)
	suite.InDelta(0.5, result.Bars[0].Factor, 1e-9)
	suite.InDelta(1.0, result.Bars[2].Factor, 1e-9)

	// No discontinuity at the ex-date boundary.
	suite.InDelta(result.Bars[1].Close, result.Bars[2].Close, 1e-6)

	// Volume scaled by the inverse price ratio conserves notional.
	suite.InDelta(2000.0, result.Bars[1].Volume, 1e-6)
	notionalRaw := bars[1].Close * bars[1].Volume
	notionalAdj := result.Bars[1].Close * result.Bars[1].Volume
	suite.InDelta(notionalRaw, notionalAdj, 1e-3)
}

func (suite *AdjusterTestSuite) TestBackwardCashDividend() {
	// 1.00 dividend, ex-date day 2. Reference close is 100, so history is
	// scaled by 0.99.
	bars := []types.Bar{
		bar(1, 99, 101, 98, 100, 1000),
		bar(2, 99, 100, 98, 99, 1000),
	}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(2), SplitRatio: 1, CashDividend: 1, StockDividendRatio: 0},
	}

	result, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().NoError(err)

	suite.InDelta(99.0, result.Bars[0].Close, 1e-6)
	suite.InDelta(99.0, result.Bars[1].Close, 1e-6)
	suite.InDelta(0.99, result.Bars[0].Factor, 1e-9)
}

func (suite *AdjusterTestSuite) TestForwardConvention() {
	bars := []types.Bar{
		bar(1, 98, 102, 96, 100, 1000),
		bar(2, 51, 52, 50, 51, 2000),
	}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(2), SplitRatio: 2, CashDividend: 0, StockDividendRatio: 0},
	}

	result, err := Adjust(bars, actions, types.AdjustForward)
	suite.Require().NoError(err)

	// Earliest bar keeps raw prices; ex-date bars are scaled up.
	suite.InDelta(100.0, result.Bars[0].Close, 1e-6)
	suite.InDelta(1.0, result.Bars[0].Factor, 1e-9)
	suite.InDelta(102.0, result.Bars[1].Close, 1e-4)
	suite.InDelta(2.0, result.Bars[1].Factor, 1e-6)
}

func (suite *AdjusterTestSuite) TestCombinedSplitAndDividend() {
	bars := []types.Bar{
		bar(1, 99, 101, 98, 100, 1000),
		bar(2, 49.5, 50, 49, 49.5, 2000),
	}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(2), SplitRatio: 2, CashDividend: 1, StockDividendRatio: 0},
	}

	result, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().NoError(err)

	// Combined ratio (100-1)/(100*2) = 0.495 applies as one multiplier.
	suite.InDelta(0.495, result.Bars[0].Factor, 1e-9)
	suite.InDelta(49.5, result.Bars[0].Close, 1e-6)
	suite.InDelta(result.Bars[0].Close, result.Bars[1].Close, 1e-6)
}

func (suite *AdjusterTestSuite) TestOutOfOrderActionsFail() {
	bars := []types.Bar{bar(1, 10, 11, 9, 10, 1000)}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(5), SplitRatio: 2, CashDividend: 0, StockDividendRatio: 0},
		{Symbol: "AAPL", ExDate: day(3), SplitRatio: 2, CashDividend: 0, StockDividendRatio: 0},
	}

	_, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidCorporateActionOrder))
}

func (suite *AdjusterTestSuite) TestActionAfterLastBarIsPending() {
	bars := []types.Bar{bar(1, 10, 11, 9, 10, 1000), bar(2, 10, 11, 9, 10, 1000)}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(10), SplitRatio: 2, CashDividend: 0, StockDividendRatio: 0},
	}

	result, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().NoError(err)

	suite.Len(result.Pending, 1)
	suite.InDelta(1.0, result.Bars[0].Factor, 1e-9)
	suite.InDelta(10.0, result.Bars[0].Close, 1e-9)
}

func (suite *AdjusterTestSuite) TestActionBeforeFirstBarIsNoop() {
	bars := []types.Bar{bar(5, 10, 11, 9, 10, 1000)}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(1), SplitRatio: 2, CashDividend: 0, StockDividendRatio: 0},
	}

	result, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().NoError(err)
	suite.Empty(result.Pending)
	suite.InDelta(1.0, result.Bars[0].Factor, 1e-9)
}

func (suite *AdjusterTestSuite) TestOutOfOrderBarsFail() {
	bars := []types.Bar{bar(2, 10, 11, 9, 10, 1000), bar(1, 10, 11, 9, 10, 1000)}

	_, err := Adjust(bars, nil, types.AdjustBackward)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataInconsistent))
}

func (suite *AdjusterTestSuite) TestDeterministicReproduction() {
	bars := []types.Bar{
		bar(1, 98.13, 102.7, 96.21, 100.37, 12345),
		bar(2, 100.41, 104.9, 99.02, 102.55, 23456),
		bar(3, 51.3, 52.8, 50.1, 51.9, 45678),
		bar(4, 51.9, 53.3, 51.0, 52.2, 34567),
	}
	actions := []types.CorporateAction{
		{Symbol: "AAPL", ExDate: day(3), SplitRatio: 2, CashDividend: 0.35, StockDividendRatio: 0},
	}

	first, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().NoError(err)

	second, err := Adjust(bars, actions, types.AdjustBackward)
	suite.Require().NoError(err)

	suite.Equal(first, second)
}
