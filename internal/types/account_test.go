package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type AccountTestSuite struct {
	suite.Suite
}

func TestAccountSuite(t *testing.T) {
	suite.Run(t, new(AccountTestSuite))
}

func (suite *AccountTestSuite) TestBuyFillMovesCashIntoPosition() {
	portfolio := NewPortfolio(10000)

	fill := Fill{ID: "f1", OrderID: 1, Quantity: 10, Price: 100, Fee: 1, Time: time.Now()}
	portfolio.ApplyFill(PurchaseTypeBuy, fill, "AAPL")

	suite.InDelta(10000-1000-1, portfolio.Cash(), 1e-9)

	pos := portfolio.Position("AAPL")
	suite.InDelta(10.0, pos.Quantity, 1e-9)
	suite.InDelta(100.0, pos.AvgCost, 1e-9)
}

func (suite *AccountTestSuite) TestConservationAcrossFillSequence() {
	portfolio := NewPortfolio(10000)
	marks := map[string]float64{"AAPL": 100}

	before := portfolio.Equity(marks)

	portfolio.ApplyFill(PurchaseTypeBuy, Fill{ID: "f1", OrderID: 1, Quantity: 10, Price: 100, Fee: 2, Time: time.Now()}, "AAPL")
	portfolio.ApplyFill(PurchaseTypeSell, Fill{ID: "f2", OrderID: 2, Quantity: 4, Price: 100, Fee: 1, Time: time.Now()}, "AAPL")

	after := portfolio.Equity(marks)

	// Equity changes only by total fees when fills execute at the mark price.
	suite.InDelta(before-3, after, 1e-9)
}

func (suite *AccountTestSuite) TestAverageCostWeighting() {
	portfolio := NewPortfolio(100000)

	portfolio.ApplyFill(PurchaseTypeBuy, Fill{ID: "f1", OrderID: 1, Quantity: 10, Price: 100, Fee: 0, Time: time.Now()}, "AAPL")
	portfolio.ApplyFill(PurchaseTypeBuy, Fill{ID: "f2", OrderID: 2, Quantity: 10, Price: 110, Fee: 0, Time: time.Now()}, "AAPL")

	pos := portfolio.Position("AAPL")
	suite.InDelta(105.0, pos.AvgCost, 1e-9)

	// Selling keeps the average cost.
	portfolio.ApplyFill(PurchaseTypeSell, Fill{ID: "f3", OrderID: 3, Quantity: 5, Price: 120, Fee: 0, Time: time.Now()}, "AAPL")
	pos = portfolio.Position("AAPL")
	suite.InDelta(105.0, pos.AvgCost, 1e-9)
	suite.InDelta(15.0, pos.Quantity, 1e-9)
}

func (suite *AccountTestSuite) TestShortPositionSign() {
	portfolio := NewPortfolio(10000)

	portfolio.ApplyFill(PurchaseTypeSell, Fill{ID: "f1", OrderID: 1, Quantity: 5, Price: 50, Fee: 0, Time: time.Now()}, "TSLA")

	pos := portfolio.Position("TSLA")
	suite.InDelta(-5.0, pos.Quantity, 1e-9)
	suite.InDelta(50.0, pos.AvgCost, 1e-9)
	suite.InDelta(10250.0, portfolio.Cash(), 1e-9)
}

func (suite *AccountTestSuite) TestReservationAccounting() {
	portfolio := NewPortfolio(1000)

	suite.NoError(portfolio.ReserveCash(600))
	suite.InDelta(400.0, portfolio.AvailableCash(), 1e-9)

	// A second reservation beyond available cash is refused.
	suite.Error(portfolio.ReserveCash(500))

	portfolio.ReleaseCash(600)
	suite.InDelta(1000.0, portfolio.AvailableCash(), 1e-9)
}

func (suite *AccountTestSuite) TestShareReservation() {
	portfolio := NewPortfolio(10000)
	portfolio.ApplyFill(PurchaseTypeBuy, Fill{ID: "f1", OrderID: 1, Quantity: 10, Price: 100, Fee: 0, Time: time.Now()}, "AAPL")

	suite.NoError(portfolio.ReserveShares("AAPL", 8))
	suite.Error(portfolio.ReserveShares("AAPL", 5))

	portfolio.ReleaseShares("AAPL", 8)
	suite.NoError(portfolio.ReserveShares("AAPL", 10))
}

func (suite *AccountTestSuite) TestApplySplitConservesValue() {
	portfolio := NewPortfolio(0)
	portfolio.ApplyFill(PurchaseTypeBuy, Fill{ID: "f1", OrderID: 1, Quantity: 100, Price: 50, Fee: 0, Time: time.Now()}, "AAPL")

	valueBefore := portfolio.Position("AAPL").MarketValue(50)
	portfolio.ApplySplit("AAPL", 2)

	pos := portfolio.Position("AAPL")
	suite.InDelta(200.0, pos.Quantity, 1e-9)
	suite.InDelta(25.0, pos.AvgCost, 1e-9)
	suite.InDelta(valueBefore, pos.MarketValue(25), 1e-9)
}

func (suite *AccountTestSuite) TestSnapshot() {
	portfolio := NewPortfolio(5000)
	portfolio.ApplyFill(PurchaseTypeBuy, Fill{ID: "f1", OrderID: 1, Quantity: 10, Price: 100, Fee: 0, Time: time.Now()}, "AAPL")

	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	snap := portfolio.Snapshot(at, map[string]float64{"AAPL": 110})

	suite.Equal(at, snap.Time)
	suite.InDelta(4000.0, snap.Cash, 1e-9)
	suite.InDelta(5100.0, snap.Equity, 1e-9)
	suite.Len(snap.Positions, 1)
}
