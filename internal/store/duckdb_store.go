package store

import (
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/meridian-lab/meridian-trading/internal/logger"
	"github.com/meridian-lab/meridian-trading/internal/types"
	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// DuckDBStore keeps bars and corporate actions in a DuckDB database. An
// empty path opens an in-memory database, which is what backtests and tests
// use; live runs pass a file path so data survives restarts.
type DuckDBStore struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

var _ Store = (*DuckDBStore)(nil)

func NewDuckDBStore(path string, log *logger.Logger) (*DuckDBStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to open bar database", err)
	}

	store := &DuckDBStore{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := store.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return store, nil
}

func (s *DuckDBStore) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT,
			ts TIMESTAMP,
			frequency TEXT,
			open DOUBLE,
			high DOUBLE,
			low DOUBLE,
			close DOUBLE,
			volume DOUBLE,
			PRIMARY KEY (symbol, frequency, ts)
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create bars table", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS corporate_actions (
			symbol TEXT,
			ex_date TIMESTAMP,
			split_ratio DOUBLE,
			cash_dividend DOUBLE,
			stock_dividend_ratio DOUBLE,
			PRIMARY KEY (symbol, ex_date)
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create corporate_actions table", err)
	}

	return nil
}

// Write implements Store. Rows sharing (symbol, frequency, ts) are replaced,
// so re-loading a range is idempotent.
func (s *DuckDBStore) Write(bars []types.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin transaction", err)
	}

	for _, bar := range bars {
		query, args, err := s.sq.
			Insert("bars").
			Columns("symbol", "ts", "frequency", "open", "high", "low", "close", "volume").
			Values(bar.Symbol, bar.Time, string(bar.Frequency), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume).
			Suffix("ON CONFLICT (symbol, frequency, ts) DO UPDATE SET open = excluded.open, high = excluded.high, low = excluded.low, close = excluded.close, volume = excluded.volume").
			ToSql()
		if err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build bar insert", err)
		}

		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to insert bar", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit bars", err)
	}

	return nil
}

// WriteCorporateActions implements Store.
func (s *DuckDBStore) WriteCorporateActions(actions []types.CorporateAction) error {
	if len(actions) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to begin transaction", err)
	}

	for _, action := range actions {
		query, args, err := s.sq.
			Insert("corporate_actions").
			Columns("symbol", "ex_date", "split_ratio", "cash_dividend", "stock_dividend_ratio").
			Values(action.Symbol, action.ExDate, action.SplitRatio, action.CashDividend, action.StockDividendRatio).
			Suffix("ON CONFLICT (symbol, ex_date) DO UPDATE SET split_ratio = excluded.split_ratio, cash_dividend = excluded.cash_dividend, stock_dividend_ratio = excluded.stock_dividend_ratio").
			ToSql()
		if err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to build action insert", err)
		}

		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeQueryFailed, "failed to insert corporate action", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to commit corporate actions", err)
	}

	return nil
}

// GetRange implements Store.
func (s *DuckDBStore) GetRange(symbol string, start time.Time, end time.Time, freq types.Frequency) ([]types.Bar, error) {
	query, args, err := s.sq.
		Select("symbol", "ts", "frequency", "open", "high", "low", "close", "volume").
		From("bars").
		Where(squirrel.Eq{"symbol": symbol, "frequency": string(freq)}).
		Where(squirrel.GtOrEq{"ts": start}).
		Where(squirrel.LtOrEq{"ts": end}).
		OrderBy("ts ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build range query", err)
	}

	return s.queryBars(query, args...)
}

// GetAdjustedRange implements Store. Actions are read for the whole symbol
// so the adjustment factors anchor on the same reference closes regardless
// of the requested window.
func (s *DuckDBStore) GetAdjustedRange(symbol string, start time.Time, end time.Time, freq types.Frequency, convention types.AdjustmentConvention) ([]types.AdjustedBar, error) {
	bars, err := s.GetRange(symbol, start, end, freq)
	if err != nil {
		return nil, err
	}

	actions, err := s.CorporateActions(symbol)
	if err != nil {
		return nil, err
	}

	// Only actions inside the window can anchor on a reference close.
	relevant := make([]types.CorporateAction, 0, len(actions))

	for _, action := range actions {
		if !action.ExDate.Before(start) && !action.ExDate.After(end) {
			relevant = append(relevant, action)
		}
	}

	return adjustRange(bars, relevant, convention)
}

// History implements Store. Returns the count bars at or before end in
// ascending order; fewer rows are returned when the series is shorter.
func (s *DuckDBStore) History(symbol string, end time.Time, count int, freq types.Frequency) ([]types.Bar, error) {
	if count <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidParameter, "history count must be positive")
	}

	query, args, err := s.sq.
		Select("symbol", "ts", "frequency", "open", "high", "low", "close", "volume").
		From("bars").
		Where(squirrel.Eq{"symbol": symbol, "frequency": string(freq)}).
		Where(squirrel.LtOrEq{"ts": end}).
		OrderBy("ts DESC").
		Limit(uint64(count)).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build history query", err)
	}

	bars, err := s.queryBars(query, args...)
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	return bars, nil
}

// ReadLast implements Store.
func (s *DuckDBStore) ReadLast(symbol string, freq types.Frequency) (types.Bar, error) {
	query, args, err := s.sq.
		Select("symbol", "ts", "frequency", "open", "high", "low", "close", "volume").
		From("bars").
		Where(squirrel.Eq{"symbol": symbol, "frequency": string(freq)}).
		OrderBy("ts DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return types.Bar{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build last-bar query", err)
	}

	bars, err := s.queryBars(query, args...)
	if err != nil {
		return types.Bar{}, err
	}

	if len(bars) == 0 {
		return types.Bar{}, errors.Newf(errors.ErrCodeDataNotFound, "no bars stored for %s at %s", symbol, freq)
	}

	return bars[0], nil
}

// CorporateActions implements Store.
func (s *DuckDBStore) CorporateActions(symbol string) ([]types.CorporateAction, error) {
	query, args, err := s.sq.
		Select("symbol", "ex_date", "split_ratio", "cash_dividend", "stock_dividend_ratio").
		From("corporate_actions").
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("ex_date ASC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build actions query", err)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query corporate actions", err)
	}
	defer rows.Close()

	var actions []types.CorporateAction

	for rows.Next() {
		var action types.CorporateAction
		if err := rows.Scan(&action.Symbol, &action.ExDate, &action.SplitRatio, &action.CashDividend, &action.StockDividendRatio); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan corporate action", err)
		}

		actions = append(actions, action)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "corporate action query failed", err)
	}

	return actions, nil
}

// Count implements Store.
func (s *DuckDBStore) Count(symbol string, freq types.Frequency) (int, error) {
	query, args, err := s.sq.
		Select("COUNT(*)").
		From("bars").
		Where(squirrel.Eq{"symbol": symbol, "frequency": string(freq)}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to build count query", err)
	}

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// Symbols implements Store.
func (s *DuckDBStore) Symbols() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query symbols", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan symbol", err)
		}

		symbols = append(symbols, symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "symbol query failed", err)
	}

	return symbols, nil
}

// Close implements Store.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}

func (s *DuckDBStore) queryBars(query string, args ...interface{}) ([]types.Bar, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err)
	}
	defer rows.Close()

	var bars []types.Bar

	for rows.Next() {
		var (
			bar  types.Bar
			freq string
		)

		if err := rows.Scan(&bar.Symbol, &bar.Time, &freq, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err)
		}

		bar.Frequency = types.Frequency(freq)
		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "bar query failed", err)
	}

	return bars, nil
}
