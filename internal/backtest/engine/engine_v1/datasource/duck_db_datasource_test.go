package datasource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type DuckDBDataSourceTestSuite struct {
	suite.Suite
	ds  *DuckDBDataSource
	dir string
}

func TestDuckDBDataSourceSuite(t *testing.T) {
	suite.Run(t, new(DuckDBDataSourceTestSuite))
}

func (suite *DuckDBDataSourceTestSuite) SetupTest() {
	ds, err := NewDataSource(":memory:", logger.NewNopLogger())
	suite.Require().NoError(err)

	suite.ds = ds
	suite.dir = suite.T().TempDir()
}

func (suite *DuckDBDataSourceTestSuite) TearDownTest() {
	suite.Require().NoError(suite.ds.Close())
}

func (suite *DuckDBDataSourceTestSuite) writeCSV(name string, content string) string {
	path := filepath.Join(suite.dir, name)
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	return path
}

func (suite *DuckDBDataSourceTestSuite) TestCSVWithAdjCloseAndFundamentals() {
	path := suite.writeCSV("quotes.csv", `time,symbol,open,high,low,close,adj_close,volume,dividend
2024-01-02 00:00:00,BBB,10,11,9,10.5,10.4,1000,0
2024-01-02 00:00:00,AAA,100,101,99,100.5,100.5,500,0.25
2024-01-03 00:00:00,AAA,101,102,100,101.5,101.5,600,
`)

	suite.Require().NoError(suite.ds.Initialize(path))
	suite.Equal([]string{"dividend"}, suite.ds.Fundamentals())

	count, err := suite.ds.Count(optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().NoError(err)
	suite.Equal(3, count)

	symbols, err := suite.ds.Symbols()
	suite.Require().NoError(err)
	suite.Equal([]string{"AAA", "BBB"}, symbols)

	var quotes []types.Quote
	for q, err := range suite.ds.ReadAll(optional.None[time.Time](), optional.None[time.Time]()) {
		suite.Require().NoError(err)
		quotes = append(quotes, q)
	}

	suite.Require().Len(quotes, 3)
	suite.Equal("AAA", quotes[0].Symbol)
	suite.Equal(100.5, quotes[0].Close)

	suite.Equal(map[string]float64{"dividend": 0.25}, quotes[0].Fundamentals)

	suite.Equal("BBB", quotes[1].Symbol)
	suite.Equal(10.4, quotes[1].AdjClose)

	suite.NotContains(quotes[2].Fundamentals, "dividend")
}

func (suite *DuckDBDataSourceTestSuite) TestAdjCloseFallsBackToClose() {
	path := suite.writeCSV("quotes.csv", `time,symbol,open,high,low,close,volume
2024-01-02 00:00:00,AAA,100,101,99,100.5,500
`)

	suite.Require().NoError(suite.ds.Initialize(path))

	for q, err := range suite.ds.ReadAll(optional.None[time.Time](), optional.None[time.Time]()) {
		suite.Require().NoError(err)
		suite.Equal(q.Close, q.AdjClose)
		suite.Nil(q.Fundamentals)
	}
}

func (suite *DuckDBDataSourceTestSuite) TestTimeWindow() {
	path := suite.writeCSV("quotes.csv", `time,symbol,open,high,low,close,volume
2024-01-02 00:00:00,AAA,1,1,1,1,1
2024-01-03 00:00:00,AAA,2,2,2,2,1
2024-01-04 00:00:00,AAA,3,3,3,3,1
`)

	suite.Require().NoError(suite.ds.Initialize(path))

	start := optional.Some(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	count, err := suite.ds.Count(start, optional.None[time.Time]())
	suite.Require().NoError(err)
	suite.Equal(2, count)

	series, err := LoadSeries(suite.ds, nil, start, optional.Some(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))
	suite.Require().NoError(err)
	suite.Require().Len(series, 1)
	suite.Equal([]float64{2}, series[0].Closes())
}

func (suite *DuckDBDataSourceTestSuite) TestMissingColumn() {
	path := suite.writeCSV("quotes.csv", `time,symbol,close
2024-01-02 00:00:00,AAA,1
`)

	err := suite.ds.Initialize(path)
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeInvalidQuote, errors.GetCode(err))
}

func (suite *DuckDBDataSourceTestSuite) TestMissingFile() {
	err := suite.ds.Initialize(filepath.Join(suite.dir, "missing.parquet"))
	suite.Require().Error(err)
	suite.Equal(errors.ErrCodeDataNotFound, errors.GetCode(err))
}
