package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/commission_fee"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) TestEmptyConfig() {
	config := EmptyConfig()

	suite.Equal(0.0, config.InitialDeposit)
	suite.Equal(commission_fee.BrokerCustom, config.Broker)
	suite.Equal(1.0, config.MarginReq)
	suite.Equal(datasource.GapCarryForward, config.GapPolicy)
	suite.Equal(SizingLongShort, config.Sizing)
	suite.True(config.StartTime.IsNone())
	suite.True(config.EndTime.IsNone())
}

func (suite *ConfigTestSuite) TestTestConfig() {
	startTime := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	endTime := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	config := TestConfig(startTime, endTime, commission_fee.BrokerZero)

	suite.Equal(10000.0, config.InitialDeposit)
	suite.Equal(commission_fee.BrokerZero, config.Broker)
	suite.True(config.StartTime.IsSome())
	suite.Equal(startTime, config.StartTime.Unwrap())
	suite.Equal(endTime, config.EndTime.Unwrap())
	suite.Equal(252, config.CyclesPerYear)
	suite.NoError(config.Validate())
}

func (suite *ConfigTestSuite) TestWithDefaults() {
	config := BacktestEngineV1Config{InitialDeposit: 1000, MarginReq: 0.5}.WithDefaults()

	suite.Equal(252, config.CyclesPerYear)
	suite.Equal(DefaultPeriod, config.Period)
	suite.Equal(DefaultWindowSize, config.WindowSize)
	suite.Equal(commission_fee.BrokerCustom, config.Broker)
	suite.Equal(0.5, config.MarginRec)
	suite.Equal(1, config.TrendChangePeriod)
	suite.Equal(datasource.GapCarryForward, config.GapPolicy)
	suite.Equal(SizingLongShort, config.Sizing)
	suite.Equal(DefaultDecisionName, config.Decision.Name)
}

func (suite *ConfigTestSuite) TestSizingRatio() {
	config := EmptyConfig()
	config.MarginReq = 0.25
	config.MarginRec = 0.5
	suite.Equal(0.5, config.SizingRatio())

	config.MarginRec = 0.1
	suite.Equal(0.25, config.SizingRatio())
}

func (suite *ConfigTestSuite) TestCommissionFee() {
	config := EmptyConfig()
	config.Commission = 2
	config.CommissionPercent = 1

	fee := config.CommissionFee()
	suite.InDelta(2+10, fee.Calculate(10, 100), 1e-9)
	suite.Equal(0.0, fee.Calculate(0, 100))
}

func (suite *ConfigTestSuite) TestParseConfig() {
	tests := []struct {
		name        string
		content     string
		expectError bool
		check       func(config BacktestEngineV1Config)
	}{
		{
			name: "full configuration",
			content: `
initial_deposit: 10000
periodic_deposit: 500
deposit_interval: 30
inflation: 2
margin_req: 0.5
margin_fee: 8
spread: 0.001
commission: 1
trend_change_period: 3
trend_change_percent: 5
sizing: long_flat
symbols: [AAPL, MSFT]
timeout: 5m
start_time: 2023-01-01T00:00:00Z
end_time: 2023-12-31T00:00:00Z
decision:
  name: rsi
  support: 30
  resistance: 70
`,
			check: func(config BacktestEngineV1Config) {
				suite.Equal(10000.0, config.InitialDeposit)
				suite.Equal(500.0, config.PeriodicDeposit)
				suite.Equal(30, config.DepositInterval)
				suite.Equal(0.5, config.MarginReq)
				suite.Equal(0.5, config.MarginRec)
				suite.Equal(3, config.TrendChangePeriod)
				suite.Equal(SizingLongFlat, config.Sizing)
				suite.Equal([]string{"AAPL", "MSFT"}, config.Symbols)
				suite.Equal(5*time.Minute, config.Timeout)
				suite.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), config.StartTime.Unwrap())
				suite.Equal(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), config.EndTime.Unwrap())
				suite.Equal("rsi", config.Decision.Name)
				suite.Equal(70.0, config.Decision.Resistance)
			},
		},
		{
			name:    "minimal configuration",
			content: "initial_deposit: 1000",
			check: func(config BacktestEngineV1Config) {
				suite.Equal(1.0, config.MarginReq)
				suite.True(config.StartTime.IsNone())
				suite.True(config.EndTime.IsNone())
				suite.Equal(DefaultDecisionName, config.Decision.Name)
			},
		},
		{name: "missing initial deposit", content: "commission: 1", expectError: true},
		{name: "margin requirement above one", content: "initial_deposit: 1000\nmargin_req: 1.5", expectError: true},
		{name: "negative spread", content: "initial_deposit: 1000\nspread: -0.1", expectError: true},
		{name: "unknown broker", content: "initial_deposit: 1000\nbroker: nobody", expectError: true},
		{name: "unknown gap policy", content: "initial_deposit: 1000\ngap_policy: interpolate", expectError: true},
		{name: "deposit without interval", content: "initial_deposit: 1000\nperiodic_deposit: 10", expectError: true},
		{
			name:        "end before start",
			content:     "initial_deposit: 1000\nstart_time: 2024-01-01T00:00:00Z\nend_time: 2023-01-01T00:00:00Z",
			expectError: true,
		},
		{
			name:        "support above resistance",
			content:     "initial_deposit: 1000\ndecision:\n  support: 80\n  resistance: 20",
			expectError: true,
		},
		{name: "duplicate symbols", content: "initial_deposit: 1000\nsymbols: [A, A]", expectError: true},
		{name: "invalid yaml", content: "initial_deposit: [", expectError: true},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			config, err := ParseConfig(tc.content)
			if tc.expectError {
				suite.Error(err)
				suite.True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))

				return
			}

			suite.Require().NoError(err)
			tc.check(config)
		})
	}
}

func (suite *ConfigTestSuite) TestUnmarshalOverlaysExistingValues() {
	base := EmptyConfig()
	base.InitialDeposit = 5000
	base.Commission = 1

	err := yaml.Unmarshal([]byte("commission: 3"), &base)
	suite.Require().NoError(err)

	suite.Equal(5000.0, base.InitialDeposit)
	suite.Equal(3.0, base.Commission)
}

func (suite *ConfigTestSuite) TestDecisionParams() {
	config := EmptyConfig()
	config.Period = 50
	config.Decision.ModelPath = "model.json"
	config.Decision.Threshold = 0.6

	params := config.DecisionParams()
	suite.Equal(50, params.Period)
	suite.Equal("model.json", params.ModelPath)
	suite.Equal(0.6, params.Threshold)
}

func (suite *ConfigTestSuite) TestGenerateSchema() {
	config := EmptyConfig()
	config.StartTime = optional.Some(time.Now())

	schema, err := config.GenerateSchema()
	suite.Require().NoError(err)
	suite.Equal("backtest-engine-v1-config", schema.Title)

	broker, ok := schema.Properties.Get("broker")
	suite.Require().True(ok)
	suite.Equal(commission_fee.AllBrokers, broker.Enum)

	startTime, ok := schema.Properties.Get("start_time")
	suite.Require().True(ok)
	suite.Equal("date-time", startTime.Format)

	gap, ok := schema.Properties.Get("gap_policy")
	suite.Require().True(ok)
	suite.Equal(datasource.AllGapPolicies, gap.Enum)
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	config := EmptyConfig()

	schemaJSON, err := config.GenerateSchemaJSON()
	suite.Require().NoError(err)

	var decoded map[string]any
	suite.Require().NoError(json.Unmarshal([]byte(schemaJSON), &decoded))
	suite.Equal("Configuration schema for BacktestEngineV1", decoded["description"])

	properties, ok := decoded["properties"].(map[string]any)
	suite.Require().True(ok)
	suite.Contains(properties, "initial_deposit")
	suite.Contains(properties, "trend_change_percent")
	suite.Contains(properties, "decision")
}
