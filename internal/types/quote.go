package types

import (
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Quote is one cycle of price data for an instrument.
type Quote struct {
	Symbol   string    `yaml:"symbol" json:"symbol" validate:"required"`
	Time     time.Time `yaml:"time" json:"time" validate:"required"`
	Open     float64   `yaml:"open" json:"open"`
	High     float64   `yaml:"high" json:"high"`
	Low      float64   `yaml:"low" json:"low"`
	Close    float64   `yaml:"close" json:"close"`
	AdjClose float64   `yaml:"adj_close" json:"adj_close"`
	Volume   float64   `yaml:"volume" json:"volume" validate:"gte=0"`
	// Fundamentals holds optional per-cycle values such as dividends or earnings.
	Fundamentals map[string]float64 `yaml:"fundamentals,omitempty" json:"fundamentals,omitempty"`
}

// InstrumentSeries is the time ordered quote stream of one instrument.
type InstrumentSeries struct {
	Symbol string  `yaml:"symbol" json:"symbol"`
	Quotes []Quote `yaml:"quotes" json:"quotes"`
}

var quoteValidator = validator.New()

// Validate checks the structural fields of the quote.
// Price anomalies are not validation errors; see IsTradable.
func (q *Quote) Validate() error {
	if err := quoteValidator.Struct(q); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidQuote, "invalid quote", err)
	}

	return nil
}

// IsTradable reports whether the close price can be used for valuation and trading.
func (q Quote) IsTradable() bool {
	return q.Close > 0 && !math.IsNaN(q.Close) && !math.IsInf(q.Close, 0)
}

// Closes returns the close prices of the series in order.
func (s InstrumentSeries) Closes() []float64 {
	closes := make([]float64, len(s.Quotes))
	for i, q := range s.Quotes {
		closes[i] = q.Close
	}

	return closes
}

// Len returns the number of quotes in the series.
func (s InstrumentSeries) Len() int {
	return len(s.Quotes)
}
