package types

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

type StatisticsTestSuite struct {
	suite.Suite
	tempDir string
}

func TestStatisticsSuite(t *testing.T) {
	suite.Run(t, new(StatisticsTestSuite))
}

func (suite *StatisticsTestSuite) SetupTest() {
	tempDir, err := os.MkdirTemp("", "statistics_test")
	suite.NoError(err)
	suite.tempDir = tempDir
}

func (suite *StatisticsTestSuite) TearDownTest() {
	os.RemoveAll(suite.tempDir)
}

func (suite *StatisticsTestSuite) TestWriteRunStats() {
	stats := []RunStats{
		{
			ID:               "run-1",
			Name:             "sma_cross",
			StartedAt:        time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Cycles:           250,
			Trades:           12,
			Warnings:         3,
			DecisionFailures: 1,
			MarginRejections: 2,
			InitialDeposit:   10000,
			Deposits:         4000,
			FinalValue:       15400,
			TotalExpenses:    30,
		},
	}

	filePath := filepath.Join(suite.tempDir, "stats.yaml")
	suite.Require().NoError(WriteRunStats(filePath, stats))

	data, err := os.ReadFile(filePath)
	suite.Require().NoError(err)

	var decoded []RunStats
	suite.Require().NoError(yaml.Unmarshal(data, &decoded))
	suite.Require().Len(decoded, 1)
	suite.Equal("sma_cross", decoded[0].Name)
	suite.Equal(12, decoded[0].Trades)
	suite.Equal(2, decoded[0].MarginRejections)
	suite.NotContains(string(data), "timeline_file_path")
}

func (suite *StatisticsTestSuite) TestWriteRunStatsInvalidPath() {
	err := WriteRunStats(filepath.Join(suite.tempDir, "missing", "stats.yaml"), []RunStats{{}})
	suite.Error(err)
}

func (suite *StatisticsTestSuite) TestReturn() {
	tests := []struct {
		name     string
		stats    RunStats
		expected float64
	}{
		{"nothing invested", RunStats{}, 0},
		{"break even", RunStats{InitialDeposit: 1000, Deposits: 1000, FinalValue: 2000}, 0},
		{"gain", RunStats{InitialDeposit: 1000, FinalValue: 1100}, 0.1},
		{"loss", RunStats{InitialDeposit: 1000, FinalValue: 750}, -0.25},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.InDelta(tc.expected, tc.stats.Return(), 1e-9)
		})
	}
}
