// Package ledger persists the run's orders, fills, and per-tick portfolio
// snapshots. The ledger is the audit record: an external reporter can
// reconstruct the equity curve and trade log from it without re-running
// the engine.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// Ledger records run artifacts in DuckDB. An empty path keeps the ledger
// in memory; a file path persists it across restarts.
type Ledger struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

func NewLedger(path string, log *logger.Logger) (*Ledger, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to open ledger database", err)
	}

	l := &Ledger{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := l.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return l, nil
}

func (l *Ledger) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT PRIMARY KEY,
			client_id TEXT,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			order_type TEXT,
			limit_price DOUBLE,
			created_at TIMESTAMP,
			state TEXT,
			filled_quantity DOUBLE,
			avg_fill_price DOUBLE,
			reason TEXT,
			reject_reason TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			order_id BIGINT,
			quantity DOUBLE,
			price DOUBLE,
			fee DOUBLE,
			ts TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			ts TIMESTAMP,
			cash DOUBLE,
			equity DOUBLE,
			positions TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to create ledger tables", err)
		}
	}

	return nil
}

// RecordOrder upserts the order's current state. Called on every transition
// so the ledger always holds the latest view of each order.
func (l *Ledger) RecordOrder(order types.Order) error {
	limitPrice := 0.0
	if order.LimitPrice.IsSome() {
		limitPrice = order.LimitPrice.Unwrap()
	}

	query, args, err := l.sq.
		Insert("orders").
		Columns("id", "client_id", "symbol", "side", "quantity", "order_type", "limit_price",
			"created_at", "state", "filled_quantity", "avg_fill_price", "reason", "reject_reason").
		Values(order.ID, order.ClientID, order.Symbol, string(order.Side), order.Quantity,
			string(order.OrderType), limitPrice, order.CreatedAt, string(order.State),
			order.FilledQuantity, order.AvgFillPrice, order.Reason.Message, string(order.RejectReason)).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			filled_quantity = excluded.filled_quantity,
			avg_fill_price = excluded.avg_fill_price,
			reason = excluded.reason,
			reject_reason = excluded.reject_reason`).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to build order record", err)
	}

	if _, err := l.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record order", err)
	}

	return nil
}

// RecordFill persists one execution report. Duplicate fill ids are ignored;
// the router already applied the fill exactly once.
func (l *Ledger) RecordFill(fill types.Fill) error {
	query, args, err := l.sq.
		Insert("fills").
		Columns("id", "order_id", "quantity", "price", "fee", "ts").
		Values(fill.ID, fill.OrderID, fill.Quantity, fill.Price, fill.Fee, fill.Time).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to build fill record", err)
	}

	if _, err := l.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record fill", err)
	}

	return nil
}

// RecordSnapshot persists the per-tick portfolio state. Positions are
// stored as JSON; reporting tools unpack them as needed.
func (l *Ledger) RecordSnapshot(snapshot types.PortfolioSnapshot) error {
	positions, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to encode positions", err)
	}

	query, args, err := l.sq.
		Insert("snapshots").
		Columns("ts", "cash", "equity", "positions").
		Values(snapshot.Time, snapshot.Cash, snapshot.Equity, string(positions)).
		ToSql()
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to build snapshot record", err)
	}

	if _, err := l.db.Exec(query, args...); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record snapshot", err)
	}

	return nil
}

// Orders returns every recorded order, ordered by id.
func (l *Ledger) Orders() ([]types.Order, error) {
	query, args, err := l.sq.
		Select("id", "client_id", "symbol", "side", "quantity", "order_type", "limit_price",
			"created_at", "state", "filled_quantity", "avg_fill_price", "reason", "reject_reason").
		From("orders").
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to build orders query", err)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to query orders", err)
	}
	defer rows.Close()

	var orders []types.Order

	for rows.Next() {
		var (
			order        types.Order
			side         string
			orderType    string
			limitPrice   float64
			state        string
			message      string
			rejectReason string
		)

		if err := rows.Scan(&order.ID, &order.ClientID, &order.Symbol, &side, &order.Quantity,
			&orderType, &limitPrice, &order.CreatedAt, &state, &order.FilledQuantity,
			&order.AvgFillPrice, &message, &rejectReason); err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to scan order", err)
		}

		order.Side = types.PurchaseType(side)
		order.OrderType = types.OrderType(orderType)
		order.State = types.OrderState(state)
		order.Reason = types.Reason{Reason: types.OrderReasonStrategy, Message: message}
		order.RejectReason = types.RejectReason(rejectReason)

		if order.OrderType == types.OrderTypeLimit {
			order.LimitPrice = optional.Some(limitPrice)
		} else {
			order.LimitPrice = optional.None[float64]()
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "orders query failed", err)
	}

	return orders, nil
}

// Fills returns every recorded fill ordered by timestamp, then id, which is
// a total deterministic order.
func (l *Ledger) Fills() ([]types.Fill, error) {
	query, args, err := l.sq.
		Select("id", "order_id", "quantity", "price", "fee", "ts").
		From("fills").
		OrderBy("ts ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to build fills query", err)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to query fills", err)
	}
	defer rows.Close()

	var fills []types.Fill

	for rows.Next() {
		var fill types.Fill
		if err := rows.Scan(&fill.ID, &fill.OrderID, &fill.Quantity, &fill.Price, &fill.Fee, &fill.Time); err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to scan fill", err)
		}

		fills = append(fills, fill)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "fills query failed", err)
	}

	return fills, nil
}

// Snapshots returns the equity curve in time order.
func (l *Ledger) Snapshots() ([]types.PortfolioSnapshot, error) {
	query, args, err := l.sq.
		Select("ts", "cash", "equity", "positions").
		From("snapshots").
		OrderBy("ts ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to build snapshots query", err)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to query snapshots", err)
	}
	defer rows.Close()

	var snapshots []types.PortfolioSnapshot

	for rows.Next() {
		var (
			snapshot  types.PortfolioSnapshot
			positions string
		)

		if err := rows.Scan(&snapshot.Time, &snapshot.Cash, &snapshot.Equity, &positions); err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to scan snapshot", err)
		}

		if err := json.Unmarshal([]byte(positions), &snapshot.Positions); err != nil {
			return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "failed to decode positions", err)
		}

		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeLedgerFailed, "snapshots query failed", err)
	}

	return snapshots, nil
}

// ExportParquet writes the three ledger tables as parquet files under dir.
// Raw SQL because squirrel has no COPY support.
func (l *Ledger) ExportParquet(dir string) error {
	for _, table := range []string{"orders", "fills", "snapshots"} {
		path := filepath.Join(dir, table+".parquet")
		if _, err := l.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, path)); err != nil {
			return errors.Wrapf(errors.ErrCodeLedgerFailed, err, "failed to export %s to parquet", table)
		}
	}

	l.logger.Info("exported run ledger", zap.String("dir", dir))

	return nil
}

// Close releases the backing database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
