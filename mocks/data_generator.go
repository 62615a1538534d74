package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// DataGenerator generates quote series for tests and benchmarks.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how quotes are generated.
type GeneratorConfig struct {
	Symbol string
	// StartTime is the time of the first record
	StartTime time.Time
	// Interval is the duration between records
	Interval time.Duration
	// Count is the number of records to generate
	Count        int
	InitialPrice float64
	// Volatility controls price movement (0.01 = 1% per record)
	Volatility float64
	// Trend is the total drift spread across the series (-0.5 to 0.5 for bearish to bullish)
	Trend float64
	// VolumeBase is the average volume per record
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
}

// DefaultConfig returns a daily series of 1000 records.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Symbol:         "TEST",
		StartTime:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:       24 * time.Hour,
		Count:          1000,
		InitialPrice:   100.0,
		Volatility:     0.01,
		Trend:          0.0,
		VolumeBase:     10000,
		VolumeVariance: 0.3,
	}
}

// Generate creates quotes following a geometric Brownian motion.
func (g *DataGenerator) Generate(config GeneratorConfig) []types.Quote {
	data := make([]types.Quote, config.Count)
	currentPrice := config.InitialPrice
	currentTime := config.StartTime

	for i := 0; i < config.Count; i++ {
		open := currentPrice

		// Box-Muller transform for a normal sample
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		priceChange := config.Volatility * z
		drift := config.Trend / float64(config.Count)

		close := open * (1 + priceChange + drift)
		if close <= 0 {
			close = open * 0.99
		}

		highExtension := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)
		lowExtension := math.Abs(g.rng.Float64() * config.Volatility * open * 0.5)

		high := math.Max(open, close) + highExtension
		low := math.Min(open, close) - lowExtension
		if low <= 0 {
			low = math.Min(open, close) * 0.99
		}

		volumeVariation := 1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance
		volume := config.VolumeBase * volumeVariation
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		data[i] = types.Quote{
			Symbol:   config.Symbol,
			Time:     currentTime,
			Open:     roundToDecimals(open, 4),
			High:     roundToDecimals(high, 4),
			Low:      roundToDecimals(low, 4),
			Close:    roundToDecimals(close, 4),
			AdjClose: roundToDecimals(close, 4),
			Volume:   roundToDecimals(volume, 2),
		}

		currentPrice = close
		currentTime = currentTime.Add(config.Interval)
	}

	return data
}

// GenerateSeries wraps Generate into an instrument series.
func (g *DataGenerator) GenerateSeries(config GeneratorConfig) types.InstrumentSeries {
	return types.InstrumentSeries{Symbol: config.Symbol, Quotes: g.Generate(config)}
}

// GenerateMultiSymbol generates one series per symbol on the same grid.
func (g *DataGenerator) GenerateMultiSymbol(symbols []string, baseConfig GeneratorConfig) []types.InstrumentSeries {
	var all []types.InstrumentSeries

	for _, symbol := range symbols {
		config := baseConfig
		config.Symbol = symbol
		// vary initial price and volatility slightly per symbol
		config.InitialPrice = baseConfig.InitialPrice * (0.8 + g.rng.Float64()*0.4)
		config.Volatility = baseConfig.Volatility * (0.8 + g.rng.Float64()*0.4)

		all = append(all, g.GenerateSeries(config))
	}

	return all
}

// FixedSeries builds a daily series with the given closes. Open equals the
// previous close, high and low bracket the bar by one percent.
func FixedSeries(symbol string, start time.Time, closes ...float64) types.InstrumentSeries {
	series := types.InstrumentSeries{Symbol: symbol, Quotes: make([]types.Quote, len(closes))}

	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}

		series.Quotes[i] = types.Quote{
			Symbol:   symbol,
			Time:     start.AddDate(0, 0, i),
			Open:     open,
			High:     math.Max(open, c) * 1.01,
			Low:      math.Min(open, c) * 0.99,
			Close:    c,
			AdjClose: c,
			Volume:   1000,
		}
	}

	return series
}

// ConstantSeries builds a daily series of count records at price.
func ConstantSeries(symbol string, start time.Time, count int, price float64) types.InstrumentSeries {
	closes := make([]float64, count)
	for i := range closes {
		closes[i] = price
	}

	return FixedSeries(symbol, start, closes...)
}

// Generate1K returns 1000 daily records with default settings.
func Generate1K(symbol string) types.InstrumentSeries {
	gen := NewDataGenerator(42)
	config := DefaultConfig()
	config.Symbol = symbol

	return gen.GenerateSeries(config)
}

func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Round(val*pow) / pow
}
