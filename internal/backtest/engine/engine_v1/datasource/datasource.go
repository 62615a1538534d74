// Package datasource loads quote records and aligns them on a common cycle grid.
package datasource

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// GapPolicy decides what happens when an instrument has no record for a cycle.
type GapPolicy string

const (
	// GapCarryForward reuses the last known record. The instrument is not traded in that cycle.
	GapCarryForward GapPolicy = "carry_forward"
	// GapSkip drops cycles in which any instrument has no record.
	GapSkip GapPolicy = "skip"
)

// AllGapPolicies is used by the config schema.
var AllGapPolicies = []any{GapCarryForward, GapSkip}

type DataSource interface {
	// Initialize loads quote data from a parquet or CSV file.
	Initialize(path string) error
	// ReadAll yields every quote in ascending time, then symbol order.
	ReadAll(start optional.Option[time.Time], end optional.Option[time.Time]) func(yield func(types.Quote, error) bool)
	// Count returns the number of quotes in the window.
	Count(start optional.Option[time.Time], end optional.Option[time.Time]) (int, error)
	// Symbols returns the distinct symbols in ascending order.
	Symbols() ([]string, error)
	// Close releases any resources.
	Close() error
}

// LoadSeries reads every quote of ds and groups them per instrument. When
// symbols is non-empty only those instruments are returned, in that order;
// otherwise all instruments are returned in ascending symbol order.
func LoadSeries(ds DataSource, symbols []string, start optional.Option[time.Time], end optional.Option[time.Time]) ([]types.InstrumentSeries, error) {
	if len(symbols) == 0 {
		all, err := ds.Symbols()
		if err != nil {
			return nil, err
		}

		symbols = all
	}

	index := make(map[string]int, len(symbols))
	series := make([]types.InstrumentSeries, len(symbols))

	for i, symbol := range symbols {
		index[symbol] = i
		series[i] = types.InstrumentSeries{Symbol: symbol}
	}

	for quote, err := range ds.ReadAll(start, end) {
		if err != nil {
			return nil, err
		}

		i, ok := index[quote.Symbol]
		if !ok {
			continue
		}

		series[i].Quotes = append(series[i].Quotes, quote)
	}

	return series, nil
}
