package engine

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// BacktestStateTestSuite is a test suite for BacktestState
type BacktestStateTestSuite struct {
	suite.Suite
	state  *BacktestState
	logger *logger.Logger
}

// SetupSuite runs once before all tests in the suite
func (suite *BacktestStateTestSuite) SetupSuite() {
	suite.logger = logger.NewNopLogger()

	var stateErr error
	suite.state, stateErr = NewBacktestState(suite.logger)
	suite.Require().NoError(stateErr)
	suite.Require().NotNil(suite.state)
}

// TearDownSuite runs once after all tests in the suite
func (suite *BacktestStateTestSuite) TearDownSuite() {
	if suite.state != nil {
		suite.state.Close()
	}
}

// SetupTest runs before each test
func (suite *BacktestStateTestSuite) SetupTest() {
	err := suite.state.Initialize()
	suite.Require().NoError(err)
}

// TearDownTest runs after each test
func (suite *BacktestStateTestSuite) TearDownTest() {
	err := suite.state.Cleanup()
	suite.Require().NoError(err)
}

// TestBacktestStateSuite runs the test suite
func TestBacktestStateSuite(t *testing.T) {
	suite.Run(t, new(BacktestStateTestSuite))
}

func (suite *BacktestStateTestSuite) trades() []types.TradeOutcome {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	return []types.TradeOutcome{
		{
			Symbol:            "AAPL",
			Time:              day,
			Side:              types.SideBuy,
			Quantity:          100,
			RequestedQuantity: 100,
			Price:             100,
			Costs:             types.CostBreakdown{Commission: 1, SpreadCost: 0.5},
			PositionAfter:     100,
			Opening:           true,
		},
		{
			Symbol:            "AAPL",
			Time:              day.AddDate(0, 0, 1),
			Side:              types.SideSell,
			Quantity:          50,
			RequestedQuantity: 50,
			Price:             110,
			Costs:             types.CostBreakdown{Commission: 1, SpreadCost: 0.25},
			RealizedPnL:       500,
			PositionAfter:     50,
			MarginCall:        true,
		},
	}
}

func (suite *BacktestStateTestSuite) entry(cycle int, value float64) types.ResultsEntry {
	return types.ResultsEntry{
		Cycle:      cycle,
		Time:       time.Date(2024, 1, 2+cycle, 0, 0, 0, 0, time.UTC),
		TotalValue: value,
		Cash:       value,
		Instruments: []types.InstrumentSnapshot{
			{Symbol: "AAPL", Close: 100, Trend: types.TrendUp},
			{Symbol: "MSFT", Close: 200, Skipped: true},
		},
	}
}

func (suite *BacktestStateTestSuite) TestRecordAndGetTrades() {
	for _, trade := range suite.trades() {
		id, err := suite.state.RecordTrade("run-1", trade)
		suite.Require().NoError(err)
		suite.NotEmpty(id)
	}

	_, err := suite.state.RecordTrade("run-2", suite.trades()[0])
	suite.Require().NoError(err)

	trades, err := suite.state.GetTrades("run-1")
	suite.Require().NoError(err)
	suite.Require().Len(trades, 2)

	suite.Equal(types.SideBuy, trades[0].Side)
	suite.Equal(100.0, trades[0].Quantity)
	suite.True(trades[0].Opening)
	suite.Equal(types.SideSell, trades[1].Side)
	suite.Equal(500.0, trades[1].RealizedPnL)
	suite.True(trades[1].MarginCall)
	suite.True(trades[1].Time.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))

	costs, err := suite.state.GetTradeCosts("run-1")
	suite.Require().NoError(err)
	suite.InDelta(2.0, costs.Commission, 1e-9)
	suite.InDelta(0.75, costs.SpreadCost, 1e-9)
}

func (suite *BacktestStateTestSuite) TestGetTradeCostsWithoutTrades() {
	costs, err := suite.state.GetTradeCosts("missing")
	suite.Require().NoError(err)
	suite.Equal(types.CostBreakdown{}, costs)
}

func (suite *BacktestStateTestSuite) TestRecordEntry() {
	suite.Require().NoError(suite.state.RecordEntry("run-1", suite.entry(0, 10000)))
	suite.Require().NoError(suite.state.RecordEntry("run-1", suite.entry(1, 10100)))

	count, err := suite.state.Count("timeline", "run-1")
	suite.Require().NoError(err)
	suite.Equal(2, count)

	count, err = suite.state.Count("positions", "run-1")
	suite.Require().NoError(err)
	suite.Equal(4, count)

	value, at, err := suite.state.GetFinalValue("run-1")
	suite.Require().NoError(err)
	suite.Equal(10100.0, value)
	suite.True(at.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))
}

func (suite *BacktestStateTestSuite) TestGetFinalValueWithoutEntries() {
	_, _, err := suite.state.GetFinalValue("missing")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeNoDataFound))
}

func (suite *BacktestStateTestSuite) TestCountRejectsUnknownTable() {
	_, err := suite.state.Count("orders", "run-1")
	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *BacktestStateTestSuite) TestCleanup() {
	_, err := suite.state.RecordTrade("run-1", suite.trades()[0])
	suite.Require().NoError(err)

	suite.Require().NoError(suite.state.Cleanup())

	count, err := suite.state.Count("trades", "run-1")
	suite.Require().NoError(err)
	suite.Equal(0, count)
}

func (suite *BacktestStateTestSuite) TestWrite() {
	tmpDir := suite.T().TempDir()

	for _, trade := range suite.trades() {
		_, err := suite.state.RecordTrade("run-1", trade)
		suite.Require().NoError(err)
	}

	suite.Require().NoError(suite.state.RecordEntry("run-1", suite.entry(0, 10000)))

	tradesPath, timelinePath, err := suite.state.Write(tmpDir)
	suite.Require().NoError(err)

	suite.Require().FileExists(tradesPath, "trades.parquet file should exist")
	suite.Require().FileExists(timelinePath, "timeline.parquet file should exist")

	// Verify the data in the files using DuckDB
	db, err := sql.Open("duckdb", ":memory:")
	suite.Require().NoError(err)
	defer db.Close()

	var tradeCount int
	err = db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", tradesPath)).Scan(&tradeCount)
	suite.Require().NoError(err)
	suite.Equal(2, tradeCount)

	var (
		symbol   string
		side     string
		quantity float64
	)

	err = db.QueryRow(fmt.Sprintf(`
		SELECT symbol, side, quantity
		FROM read_parquet('%s')
		ORDER BY executed_at ASC
		LIMIT 1
	`, tradesPath)).Scan(&symbol, &side, &quantity)
	suite.Require().NoError(err)
	suite.Equal("AAPL", symbol)
	suite.Equal(string(types.SideBuy), side)
	suite.Equal(100.0, quantity)

	var value float64
	err = db.QueryRow(fmt.Sprintf("SELECT total_value FROM read_parquet('%s')", timelinePath)).Scan(&value)
	suite.Require().NoError(err)
	suite.Equal(10000.0, value)
}
