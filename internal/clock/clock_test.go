package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

type ClockTestSuite struct {
	suite.Suite
}

func TestClockSuite(t *testing.T) {
	suite.Run(t, new(ClockTestSuite))
}

func (suite *ClockTestSuite) at(minute int) time.Time {
	return time.Date(2024, 6, 3, 9, 30+minute, 0, 0, time.UTC)
}

func (suite *ClockTestSuite) bar(symbol string, minute int) types.Bar {
	return types.Bar{
		Symbol:    symbol,
		Time:      suite.at(minute),
		Open:      100,
		High:      101,
		Low:       99,
		Close:     100.5,
		Volume:    1000,
		Frequency: types.Frequency1m,
	}
}

func (suite *ClockTestSuite) drain(c Clock) []types.Bar {
	var bars []types.Bar

	for {
		tick, ok := c.Next()
		if !ok {
			return bars
		}

		bar, err := tick.Bar.Take()
		suite.Require().NoError(err)
		bars = append(bars, bar)
	}
}

func (suite *ClockTestSuite) TestReplayMergesAscending() {
	series := map[string][]types.Bar{
		"AAPL": {suite.bar("AAPL", 0), suite.bar("AAPL", 2)},
		"MSFT": {suite.bar("MSFT", 1), suite.bar("MSFT", 3)},
	}

	c, err := NewReplayClock(series)
	suite.Require().NoError(err)

	bars := suite.drain(c)
	suite.Require().Len(bars, 4)

	for i := 1; i < len(bars); i++ {
		suite.False(bars[i].Time.Before(bars[i-1].Time))
	}
}

func (suite *ClockTestSuite) TestReplayTieBreaksLexically() {
	series := map[string][]types.Bar{
		"MSFT": {suite.bar("MSFT", 0), suite.bar("MSFT", 1)},
		"AAPL": {suite.bar("AAPL", 0), suite.bar("AAPL", 1)},
		"GOOG": {suite.bar("GOOG", 0)},
	}

	c, err := NewReplayClock(series)
	suite.Require().NoError(err)

	bars := suite.drain(c)
	suite.Require().Len(bars, 5)
	suite.Equal("AAPL", bars[0].Symbol)
	suite.Equal("GOOG", bars[1].Symbol)
	suite.Equal("MSFT", bars[2].Symbol)
	suite.Equal("AAPL", bars[3].Symbol)
	suite.Equal("MSFT", bars[4].Symbol)
}

func (suite *ClockTestSuite) TestReplayIsReproducible() {
	series := map[string][]types.Bar{
		"MSFT": {suite.bar("MSFT", 0), suite.bar("MSFT", 2)},
		"AAPL": {suite.bar("AAPL", 0), suite.bar("AAPL", 1)},
	}

	first, err := NewReplayClock(series)
	suite.Require().NoError(err)

	second, err := NewReplayClock(series)
	suite.Require().NoError(err)

	suite.Equal(suite.drain(first), suite.drain(second))
}

func (suite *ClockTestSuite) TestReplayRejectsDuplicateTimestamps() {
	series := map[string][]types.Bar{
		"AAPL": {suite.bar("AAPL", 0), suite.bar("AAPL", 0)},
	}

	_, err := NewReplayClock(series)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataInconsistent))
}

func (suite *ClockTestSuite) TestReplayRejectsOutOfOrderBars() {
	series := map[string][]types.Bar{
		"AAPL": {suite.bar("AAPL", 2), suite.bar("AAPL", 1)},
	}

	_, err := NewReplayClock(series)
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeDataInconsistent))
}

func (suite *ClockTestSuite) TestReplayStop() {
	series := map[string][]types.Bar{
		"AAPL": {suite.bar("AAPL", 0), suite.bar("AAPL", 1)},
	}

	c, err := NewReplayClock(series)
	suite.Require().NoError(err)

	_, ok := c.Next()
	suite.True(ok)

	c.Stop()

	_, ok = c.Next()
	suite.False(ok)
}

func (suite *ClockTestSuite) TestLivePushDeliversBar() {
	c := NewLiveClock(types.Frequency1m)
	defer c.Stop()

	c.Push(suite.bar("AAPL", 0))

	tick, ok := c.Next()
	suite.Require().True(ok)

	bar, err := tick.Bar.Take()
	suite.Require().NoError(err)
	suite.Equal("AAPL", bar.Symbol)
	suite.Equal(suite.at(0), tick.Time)
}

func (suite *ClockTestSuite) TestLiveBoundaryTickWithoutData() {
	c := NewLiveClock(types.Frequency1m)
	defer c.Stop()

	boundary := time.Date(2024, 6, 3, 9, 31, 0, 0, time.UTC)
	c.now = func() time.Time { return boundary.Add(-5 * time.Millisecond) }

	tick, ok := c.Next()
	suite.Require().True(ok)
	suite.True(tick.Bar.IsNone())
	suite.Equal(boundary, tick.Time)
}

func (suite *ClockTestSuite) TestLiveStopUnblocksPromptly() {
	c := NewLiveClock(types.Frequency1d)

	done := make(chan bool, 1)

	go func() {
		_, ok := c.Next()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	c.Stop()

	select {
	case ok := <-done:
		suite.False(ok)
	case <-time.After(time.Second):
		suite.Fail("Next did not return after Stop")
	}
}
