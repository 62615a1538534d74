package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/commission_fee"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/decision"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SizingMode decides which positions a confirmed trend translates to.
type SizingMode string

const (
	// SizingLongShort holds a long position in an uptrend and a short one in a downtrend.
	SizingLongShort SizingMode = "long_short"
	// SizingLongFlat holds a long position in an uptrend and nothing in a downtrend.
	SizingLongFlat SizingMode = "long_flat"
)

var AllSizingModes = []any{SizingLongShort, SizingLongFlat}

const (
	DefaultPeriod       = 20
	DefaultWindowSize   = 250
	DefaultDecisionName = "sma"
	DefaultMarginReq    = 1.0
	defaultTrendPeriod  = 1
)

// DecisionConfig selects a decision source from the registry.
type DecisionConfig struct {
	Name       string  `yaml:"name" json:"name" jsonschema:"title=Decision Source,description=Registered decision source name such as sma or sma_logistic,default=sma"`
	ModelPath  string  `yaml:"model_path" json:"model_path,omitempty" jsonschema:"title=Model Path,description=Logistic classifier model file"`
	Threshold  float64 `yaml:"threshold" json:"threshold,omitempty" jsonschema:"title=Threshold,description=Classifier probability that confirms a signal,minimum=0,maximum=1" validate:"gte=0,lte=1"`
	Support    float64 `yaml:"support" json:"support,omitempty" jsonschema:"title=RSI Support,minimum=0,maximum=100" validate:"gte=0,lte=100"`
	Resistance float64 `yaml:"resistance" json:"resistance,omitempty" jsonschema:"title=RSI Resistance,minimum=0,maximum=100" validate:"gte=0,lte=100"`
	// ONNX models are only used by the sma_onnx source.
	ONNXLibrary   string `yaml:"onnx_library" json:"onnx_library,omitempty" jsonschema:"title=ONNX Runtime Library"`
	ONNXBuyModel  string `yaml:"onnx_buy_model" json:"onnx_buy_model,omitempty" jsonschema:"title=ONNX Buy Model"`
	ONNXSellModel string `yaml:"onnx_sell_model" json:"onnx_sell_model,omitempty" jsonschema:"title=ONNX Sell Model"`
}

type BacktestEngineV1Config struct {
	InitialDeposit  float64 `yaml:"initial_deposit" json:"initial_deposit" jsonschema:"title=Initial Deposit,description=Starting cash of the account,minimum=0" validate:"gt=0"`
	PeriodicDeposit float64 `yaml:"periodic_deposit" json:"periodic_deposit" jsonschema:"title=Periodic Deposit,description=Cash added every deposit interval before inflation,minimum=0" validate:"gte=0"`
	DepositInterval int     `yaml:"deposit_interval" json:"deposit_interval" jsonschema:"title=Deposit Interval,description=Cycles between deposits. 0 disables deposits,minimum=0" validate:"gte=0"`
	Inflation       float64 `yaml:"inflation" json:"inflation" jsonschema:"title=Inflation,description=Annual inflation in percent applied to deposits,minimum=0" validate:"gte=0"`
	CyclesPerYear   int     `yaml:"cycles_per_year" json:"cycles_per_year" jsonschema:"title=Cycles Per Year,description=Cycles in one year used to annualise rates,default=252,minimum=0" validate:"gte=0"`

	Period     int `yaml:"period" json:"period" jsonschema:"title=Period,description=Lookback of the decision source,default=20,minimum=0" validate:"gte=0"`
	WindowSize int `yaml:"window_size" json:"window_size" jsonschema:"title=Window Size,description=History records passed to the decision source,default=250,minimum=0" validate:"gte=0"`

	Broker            commission_fee.Broker `yaml:"broker" json:"broker" jsonschema:"title=Broker,description=The broker to use for commission calculations" validate:"omitempty,oneof=custom interactive_broker zero_commission"`
	Commission        float64               `yaml:"commission" json:"commission" jsonschema:"title=Commission,description=Flat fee per trade,minimum=0" validate:"gte=0"`
	CommissionPercent float64               `yaml:"commission_percent" json:"commission_percent" jsonschema:"title=Commission Percent,description=Fee in percent of the traded notional,minimum=0" validate:"gte=0"`
	CommissionShare   float64               `yaml:"commission_share" json:"commission_share" jsonschema:"title=Commission Per Share,description=Fee per unit traded,minimum=0" validate:"gte=0"`
	Spread            float64               `yaml:"spread" json:"spread" jsonschema:"title=Spread,description=Full bid/ask spread as a fraction of price,minimum=0" validate:"gte=0,lt=1"`

	MarginReq float64 `yaml:"margin_req" json:"margin_req" jsonschema:"title=Margin Requirement,description=Required collateral ratio of open positions,default=1,exclusiveMinimum=0,maximum=1" validate:"gt=0,lte=1"`
	MarginRec float64 `yaml:"margin_rec" json:"margin_rec" jsonschema:"title=Recommended Margin,description=Collateral ratio used for sizing. Defaults to margin_req,minimum=0,maximum=1" validate:"gte=0,lte=1"`
	MarginFee float64 `yaml:"margin_fee" json:"margin_fee" jsonschema:"title=Margin Fee,description=Annual interest on the margin balance in percent,minimum=0" validate:"gte=0"`

	TrendChangePeriod  int     `yaml:"trend_change_period" json:"trend_change_period" jsonschema:"title=Trend Change Period,description=Cycles an opposing signal must persist to confirm a reversal,default=1,minimum=0" validate:"gte=0"`
	TrendChangePercent float64 `yaml:"trend_change_percent" json:"trend_change_percent" jsonschema:"title=Trend Change Percent,description=Price move in percent that confirms a reversal immediately. 0 disables,minimum=0" validate:"gte=0"`

	GapPolicy         datasource.GapPolicy `yaml:"gap_policy" json:"gap_policy" jsonschema:"title=Gap Policy,description=Handling of cycles without a record for an instrument" validate:"omitempty,oneof=carry_forward skip"`
	Sizing            SizingMode           `yaml:"sizing" json:"sizing" jsonschema:"title=Sizing,description=Positions held for a confirmed trend" validate:"omitempty,oneof=long_short long_flat"`
	QuantityPrecision int                  `yaml:"quantity_precision" json:"quantity_precision" jsonschema:"title=Quantity Precision,description=Decimal places of a tradable quantity,minimum=0,maximum=8" validate:"gte=0,lte=8"`

	Symbols   []string                   `yaml:"symbols" json:"symbols,omitempty" jsonschema:"title=Symbols,description=Instruments to simulate. Empty selects every instrument of the data"`
	StartTime optional.Option[time.Time] `yaml:"-" json:"start_time" jsonschema:"title=Start Time,description=Optional start time for the backtest period"`
	EndTime   optional.Option[time.Time] `yaml:"-" json:"end_time" jsonschema:"title=End Time,description=Optional end time for the backtest period"`
	Timeout   time.Duration              `yaml:"timeout" json:"timeout" jsonschema:"title=Timeout,description=Maximum wall time of a run such as 5m. 0 disables"`

	Decision DecisionConfig `yaml:"decision" json:"decision" jsonschema:"title=Decision Source"`
}

// UnmarshalYAML decodes the optional start and end times, which yaml cannot map onto optional.Option.
func (c *BacktestEngineV1Config) UnmarshalYAML(value *yaml.Node) error {
	type plain BacktestEngineV1Config

	var raw struct {
		plain     `yaml:",inline"`
		StartTime *time.Time `yaml:"start_time"`
		EndTime   *time.Time `yaml:"end_time"`
	}

	raw.plain = plain(*c)

	if err := value.Decode(&raw); err != nil {
		return err
	}

	*c = BacktestEngineV1Config(raw.plain)
	c.StartTime = optional.None[time.Time]()
	c.EndTime = optional.None[time.Time]()

	if raw.StartTime != nil {
		c.StartTime = optional.Some(*raw.StartTime)
	}

	if raw.EndTime != nil {
		c.EndTime = optional.Some(*raw.EndTime)
	}

	return nil
}

// ParseConfig decodes a YAML configuration, fills defaults and validates it.
func ParseConfig(content string) (BacktestEngineV1Config, error) {
	config := EmptyConfig()
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return BacktestEngineV1Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config", err)
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return BacktestEngineV1Config{}, err
	}

	return config, nil
}

var configValidator = validator.New()

// Validate checks every field. Defaults are expected to be applied already.
func (c BacktestEngineV1Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if c.StartTime.IsSome() && c.EndTime.IsSome() && c.EndTime.Unwrap().Before(c.StartTime.Unwrap()) {
		return errors.New(errors.ErrCodeInvalidConfiguration, "end_time is before start_time")
	}

	if c.PeriodicDeposit > 0 && c.DepositInterval == 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "periodic_deposit needs a deposit_interval")
	}

	if c.Decision.Support > 0 && c.Decision.Resistance > 0 && c.Decision.Support >= c.Decision.Resistance {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"rsi support %v must be below resistance %v", c.Decision.Support, c.Decision.Resistance)
	}

	seen := make(map[string]bool, len(c.Symbols))
	for _, symbol := range c.Symbols {
		if symbol == "" || seen[symbol] {
			return errors.Newf(errors.ErrCodeInvalidConfiguration, "invalid or duplicate symbol %q", symbol)
		}

		seen[symbol] = true
	}

	return nil
}

// WithDefaults returns a copy with zero values replaced by their defaults.
func (c BacktestEngineV1Config) WithDefaults() BacktestEngineV1Config {
	if c.CyclesPerYear == 0 {
		c.CyclesPerYear = cost.DefaultCyclesPerYear
	}

	if c.Period == 0 {
		c.Period = DefaultPeriod
	}

	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize
	}

	if c.Broker == "" {
		c.Broker = commission_fee.BrokerCustom
	}

	if c.MarginRec == 0 {
		c.MarginRec = c.MarginReq
	}

	if c.TrendChangePeriod == 0 {
		c.TrendChangePeriod = defaultTrendPeriod
	}

	if c.GapPolicy == "" {
		c.GapPolicy = datasource.GapCarryForward
	}

	if c.Sizing == "" {
		c.Sizing = SizingLongShort
	}

	if c.Decision.Name == "" {
		c.Decision.Name = DefaultDecisionName
	}

	return c
}

// SizingRatio is the collateral ratio used to size new positions.
func (c BacktestEngineV1Config) SizingRatio() float64 {
	if c.MarginRec > c.MarginReq {
		return c.MarginRec
	}

	return c.MarginReq
}

// CommissionFee returns the commission handler of the configured broker.
func (c BacktestEngineV1Config) CommissionFee() commission_fee.CommissionFee {
	return commission_fee.GetCommissionFeeHandler(c.Broker, commission_fee.Schedule{
		Flat:     c.Commission,
		Percent:  c.CommissionPercent,
		PerShare: c.CommissionShare,
	})
}

// DecisionParams maps the decision section onto registry parameters.
func (c BacktestEngineV1Config) DecisionParams() decision.Params {
	return decision.Params{
		Period:     c.Period,
		Support:    c.Decision.Support,
		Resistance: c.Decision.Resistance,
		ModelPath:  c.Decision.ModelPath,
		Threshold:  c.Decision.Threshold,
		ONNX: decision.ONNXConfig{
			LibraryPath:   c.Decision.ONNXLibrary,
			BuyModelPath:  c.Decision.ONNXBuyModel,
			SellModelPath: c.Decision.ONNXSellModel,
		},
	}
}

// GenerateSchema generates a JSON schema for the BacktestEngineV1Config
func (c *BacktestEngineV1Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch {
			case t.String() == "optional.Option[time.Time]":
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			case t.String() == "time.Duration":
				return &jsonschema.Schema{
					Type:        "string",
					Description: "Go duration such as 90s or 5m",
				}
			case strings.Contains(t.String(), "commission_fee.Broker"):
				return &jsonschema.Schema{
					Type: "string",
					Enum: commission_fee.AllBrokers,
				}
			case strings.Contains(t.String(), "datasource.GapPolicy"):
				return &jsonschema.Schema{
					Type: "string",
					Enum: datasource.AllGapPolicies,
				}
			case strings.Contains(t.String(), "SizingMode"):
				return &jsonschema.Schema{
					Type: "string",
					Enum: AllSizingModes,
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "backtest-engine-v1-config"
	schema.Description = "Configuration schema for BacktestEngineV1"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the BacktestEngineV1Config
func (c *BacktestEngineV1Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// TestConfig returns a small valid configuration for the given window and broker.
func TestConfig(startTime time.Time, endTime time.Time, broker commission_fee.Broker) BacktestEngineV1Config {
	config := EmptyConfig()
	config.InitialDeposit = 10000
	config.Broker = broker
	config.StartTime = optional.Some(startTime)
	config.EndTime = optional.Some(endTime)

	return config.WithDefaults()
}

// EmptyConfig returns a BacktestEngineV1Config with default values
func EmptyConfig() BacktestEngineV1Config {
	return BacktestEngineV1Config{
		InitialDeposit:    0,
		Broker:            commission_fee.BrokerCustom,
		MarginReq:         DefaultMarginReq,
		TrendChangePeriod: defaultTrendPeriod,
		GapPolicy:         datasource.GapCarryForward,
		Sizing:            SizingLongShort,
		StartTime:         optional.None[time.Time](),
		EndTime:           optional.None[time.Time](),
	}
}
