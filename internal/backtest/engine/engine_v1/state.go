package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
)

// BacktestState journals the trades and results entries of runs in an
// in-memory duckdb database and exports them as parquet files.
type BacktestState struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

func NewBacktestState(logger *logger.Logger) (*BacktestState, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		logger.Error("Failed to open database", zap.Error(err))

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open journal database", err)
	}

	return &BacktestState{
		logger: logger,
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the journal tables.
func (b *BacktestState) Initialize() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			run_id TEXT,
			symbol TEXT,
			executed_at TIMESTAMP,
			side TEXT,
			quantity DOUBLE,
			requested_quantity DOUBLE,
			price DOUBLE,
			commission DOUBLE,
			spread_cost DOUBLE,
			realized_pnl DOUBLE,
			position_after DOUBLE,
			opening BOOLEAN,
			margin_call BOOLEAN
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to create trades table", err)
	}

	_, err = b.db.Exec(`
		CREATE TABLE IF NOT EXISTS timeline (
			run_id TEXT,
			cycle INTEGER,
			time TIMESTAMP,
			total_value DOUBLE,
			cash DOUBLE,
			borrowed DOUBLE,
			deposits DOUBLE,
			margin_used DOUBLE,
			margin_available DOUBLE,
			commission DOUBLE,
			spread DOUBLE,
			margin_fees DOUBLE,
			realized_pnl DOUBLE,
			total_trades INTEGER
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to create timeline table", err)
	}

	_, err = b.db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			run_id TEXT,
			cycle INTEGER,
			time TIMESTAMP,
			symbol TEXT,
			close DOUBLE,
			quantity DOUBLE,
			average_cost DOUBLE,
			market_value DOUBLE,
			unrealized_pnl DOUBLE,
			margin_used DOUBLE,
			trend TEXT,
			skipped BOOLEAN
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to create positions table", err)
	}

	return nil
}

// RecordTrade stores a fill of run runID and returns its trade id.
func (b *BacktestState) RecordTrade(runID string, trade types.TradeOutcome) (string, error) {
	tradeID := uuid.New().String()

	_, err := b.sq.
		Insert("trades").
		Columns(
			"trade_id", "run_id", "symbol", "executed_at", "side", "quantity", "requested_quantity",
			"price", "commission", "spread_cost", "realized_pnl", "position_after", "opening", "margin_call",
		).
		Values(
			tradeID, runID, trade.Symbol, trade.Time, string(trade.Side), trade.Quantity, trade.RequestedQuantity,
			trade.Price, trade.Costs.Commission, trade.Costs.SpreadCost, trade.RealizedPnL, trade.PositionAfter,
			trade.Opening, trade.MarginCall,
		).
		RunWith(b.db).
		Exec()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to insert trade", err)
	}

	return tradeID, nil
}

// RecordEntry stores a results entry and its instrument snapshots in one transaction.
func (b *BacktestState) RecordEntry(runID string, entry types.ResultsEntry) error {
	tx, err := b.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to begin transaction", err)
	}

	_, err = b.sq.
		Insert("timeline").
		Columns(
			"run_id", "cycle", "time", "total_value", "cash", "borrowed", "deposits", "margin_used",
			"margin_available", "commission", "spread", "margin_fees", "realized_pnl", "total_trades",
		).
		Values(
			runID, entry.Cycle, entry.Time, entry.TotalValue, entry.Cash, entry.Borrowed, entry.Deposits, entry.MarginUsed,
			entry.MarginAvailable, entry.CommissionExpense, entry.SpreadExpense, entry.MarginExpense, entry.RealizedPnL,
			entry.TotalTrades,
		).
		RunWith(tx).
		Exec()
	if err != nil {
		tx.Rollback()

		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to insert timeline entry", err)
	}

	for _, snap := range entry.Instruments {
		_, err = b.sq.
			Insert("positions").
			Columns(
				"run_id", "cycle", "time", "symbol", "close", "quantity", "average_cost",
				"market_value", "unrealized_pnl", "margin_used", "trend", "skipped",
			).
			Values(
				runID, entry.Cycle, entry.Time, snap.Symbol, snap.Close, snap.Quantity, snap.AverageCost,
				snap.MarketValue, snap.UnrealizedPnL, snap.MarginUsed, string(snap.Trend), snap.Skipped,
			).
			RunWith(tx).
			Exec()
		if err != nil {
			tx.Rollback()

			return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to insert position snapshot", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to commit timeline entry", err)
	}

	return nil
}

// GetTrades returns the fills of a run in execution order.
func (b *BacktestState) GetTrades(runID string) ([]types.TradeOutcome, error) {
	rows, err := b.sq.
		Select(
			"symbol", "executed_at", "side", "quantity", "requested_quantity", "price", "commission",
			"spread_cost", "realized_pnl", "position_after", "opening", "margin_call",
		).
		From("trades").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("executed_at", "rowid").
		RunWith(b.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.TradeOutcome

	for rows.Next() {
		var (
			trade types.TradeOutcome
			side  string
		)

		err := rows.Scan(
			&trade.Symbol,
			&trade.Time,
			&side,
			&trade.Quantity,
			&trade.RequestedQuantity,
			&trade.Price,
			&trade.Costs.Commission,
			&trade.Costs.SpreadCost,
			&trade.RealizedPnL,
			&trade.PositionAfter,
			&trade.Opening,
			&trade.MarginCall,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade", err)
		}

		trade.Side = types.Side(side)
		trades = append(trades, trade)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating trades", err)
	}

	return trades, nil
}

// GetTradeCosts sums the trading costs of a run.
func (b *BacktestState) GetTradeCosts(runID string) (types.CostBreakdown, error) {
	var costs types.CostBreakdown

	err := b.sq.
		Select("COALESCE(SUM(commission), 0)", "COALESCE(SUM(spread_cost), 0)").
		From("trades").
		Where(squirrel.Eq{"run_id": runID}).
		RunWith(b.db).
		QueryRow().
		Scan(&costs.Commission, &costs.SpreadCost)
	if err != nil {
		return types.CostBreakdown{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to sum trade costs", err)
	}

	return costs, nil
}

// GetFinalValue returns the total value of the last journaled cycle of a run.
func (b *BacktestState) GetFinalValue(runID string) (float64, time.Time, error) {
	var (
		value float64
		at    time.Time
	)

	err := b.sq.
		Select("total_value", "time").
		From("timeline").
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("cycle DESC").
		Limit(1).
		RunWith(b.db).
		QueryRow().
		Scan(&value, &at)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, time.Time{}, errors.Newf(errors.ErrCodeNoDataFound, "no timeline entries for run %s", runID)
		}

		return 0, time.Time{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query final value", err)
	}

	return value, at, nil
}

// Count returns the number of rows of a journal table for a run.
func (b *BacktestState) Count(table string, runID string) (int, error) {
	switch table {
	case "trades", "timeline", "positions":
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "unknown journal table %q", table)
	}

	var count int

	err := b.sq.
		Select("COUNT(*)").
		From(table).
		Where(squirrel.Eq{"run_id": runID}).
		RunWith(b.db).
		QueryRow().
		Scan(&count)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count rows", err)
	}

	return count, nil
}

// Cleanup resets the database state
func (b *BacktestState) Cleanup() error {
	// Use raw SQL for dropping tables - Squirrel doesn't have DROP syntax
	_, err := b.db.Exec(`
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS timeline;
		DROP TABLE IF EXISTS positions;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeJournalWriteFailed, "failed to cleanup tables", err)
	}

	return b.Initialize()
}

// Write saves the journal to parquet files in the specified directory and
// returns the trades and timeline file paths.
func (b *BacktestState) Write(path string) (string, string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", "", errors.Wrap(errors.ErrCodeResultsWriteFailed, "failed to create directory", err)
	}

	files := map[string]string{
		"trades":    filepath.Join(path, "trades.parquet"),
		"timeline":  filepath.Join(path, "timeline.parquet"),
		"positions": filepath.Join(path, "positions.parquet"),
	}

	for _, table := range []string{"trades", "timeline", "positions"} {
		// COPY is not supported by squirrel
		_, err := b.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, files[table]))
		if err != nil {
			return "", "", errors.Wrapf(errors.ErrCodeResultsWriteFailed, err, "failed to export %s to parquet", table)
		}
	}

	b.logger.Debug("Journal written",
		zap.String("path", path),
	)

	return files["trades"], files["timeline"], nil
}

// Close releases the database.
func (b *BacktestState) Close() error {
	return b.db.Close()
}
