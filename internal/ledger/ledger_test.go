package ledger

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
)

type LedgerTestSuite struct {
	suite.Suite
	ledger *Ledger
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerTestSuite))
}

func (suite *LedgerTestSuite) SetupTest() {
	ledger, err := NewLedger("", logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.ledger = ledger
}

func (suite *LedgerTestSuite) TearDownTest() {
	suite.ledger.Close()
}

func (suite *LedgerTestSuite) at(minute int) time.Time {
	return time.Date(2024, 6, 3, 9, 30+minute, 0, 0, time.UTC)
}

func (suite *LedgerTestSuite) order(id int64, state types.OrderState) types.Order {
	return types.Order{
		ID:             id,
		ClientID:       "c1",
		Symbol:         "AAPL",
		Side:           types.PurchaseTypeBuy,
		Quantity:       10,
		OrderType:      types.OrderTypeLimit,
		LimitPrice:     optional.Some(99.5),
		CreatedAt:      suite.at(0),
		State:          state,
		FilledQuantity: 0,
		AvgFillPrice:   0,
		Reason:         types.Reason{Reason: types.OrderReasonStrategy, Message: ""},
		RejectReason:   "",
	}
}

func (suite *LedgerTestSuite) TestOrderUpsertKeepsLatestState() {
	suite.Require().NoError(suite.ledger.RecordOrder(suite.order(1, types.OrderStateSubmitted)))

	updated := suite.order(1, types.OrderStateFilled)
	updated.FilledQuantity = 10
	updated.AvgFillPrice = 99.5
	suite.Require().NoError(suite.ledger.RecordOrder(updated))

	orders, err := suite.ledger.Orders()
	suite.Require().NoError(err)
	suite.Require().Len(orders, 1)
	suite.Equal(types.OrderStateFilled, orders[0].State)
	suite.InDelta(10.0, orders[0].FilledQuantity, 1e-9)
	suite.InDelta(99.5, orders[0].LimitPrice.Unwrap(), 1e-9)
}

func (suite *LedgerTestSuite) TestDuplicateFillIgnored() {
	fill := types.Fill{ID: "f1", OrderID: 1, Quantity: 10, Price: 99.5, Fee: 0.3, Time: suite.at(1)}

	suite.Require().NoError(suite.ledger.RecordFill(fill))
	suite.Require().NoError(suite.ledger.RecordFill(fill))

	fills, err := suite.ledger.Fills()
	suite.Require().NoError(err)
	suite.Len(fills, 1)
}

func (suite *LedgerTestSuite) TestFillsOrderedDeterministically() {
	suite.Require().NoError(suite.ledger.RecordFill(types.Fill{ID: "b", OrderID: 2, Quantity: 1, Price: 100, Fee: 0, Time: suite.at(1)}))
	suite.Require().NoError(suite.ledger.RecordFill(types.Fill{ID: "a", OrderID: 1, Quantity: 1, Price: 100, Fee: 0, Time: suite.at(1)}))
	suite.Require().NoError(suite.ledger.RecordFill(types.Fill{ID: "c", OrderID: 3, Quantity: 1, Price: 100, Fee: 0, Time: suite.at(0)}))

	fills, err := suite.ledger.Fills()
	suite.Require().NoError(err)
	suite.Require().Len(fills, 3)
	suite.Equal("c", fills[0].ID)
	suite.Equal("a", fills[1].ID)
	suite.Equal("b", fills[2].ID)
}

func (suite *LedgerTestSuite) TestSnapshotRoundTrip() {
	snapshot := types.PortfolioSnapshot{
		Time:   suite.at(1),
		Cash:   9000,
		Equity: 10000,
		Positions: []types.Position{
			{Symbol: "AAPL", Quantity: 10, AvgCost: 100, Reserved: 0},
		},
	}
	suite.Require().NoError(suite.ledger.RecordSnapshot(snapshot))

	snapshots, err := suite.ledger.Snapshots()
	suite.Require().NoError(err)
	suite.Require().Len(snapshots, 1)
	suite.InDelta(10000.0, snapshots[0].Equity, 1e-9)
	suite.Require().Len(snapshots[0].Positions, 1)
	suite.Equal("AAPL", snapshots[0].Positions[0].Symbol)
}

func (suite *LedgerTestSuite) TestExportParquet() {
	suite.Require().NoError(suite.ledger.RecordOrder(suite.order(1, types.OrderStateFilled)))
	suite.Require().NoError(suite.ledger.RecordFill(types.Fill{ID: "f1", OrderID: 1, Quantity: 10, Price: 99.5, Fee: 0.3, Time: suite.at(1)}))

	dir := suite.T().TempDir()
	suite.Require().NoError(suite.ledger.ExportParquet(dir))

	suite.FileExists(dir + "/orders.parquet")
	suite.FileExists(dir + "/fills.parquet")
	suite.FileExists(dir + "/snapshots.parquet")
}
