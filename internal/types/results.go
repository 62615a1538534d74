package types

import "time"

// InstrumentSnapshot is the per-instrument part of a results entry.
type InstrumentSnapshot struct {
	Symbol string  `json:"symbol" yaml:"symbol"`
	Open   float64 `json:"open" yaml:"open"`
	High   float64 `json:"high" yaml:"high"`
	Low    float64 `json:"low" yaml:"low"`
	Close  float64 `json:"close" yaml:"close"`
	// Quantity is signed; negative is short.
	Quantity      float64 `json:"quantity" yaml:"quantity"`
	AverageCost   float64 `json:"average_cost" yaml:"average_cost"`
	MarketValue   float64 `json:"market_value" yaml:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl" yaml:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl" yaml:"realized_pnl"`
	MarginUsed    float64 `json:"margin_used" yaml:"margin_used"`
	Commission    float64 `json:"commission" yaml:"commission"`
	Spread        float64 `json:"spread" yaml:"spread"`
	Trend         Trend   `json:"trend" yaml:"trend"`
	Trades        int     `json:"trades" yaml:"trades"`
	// Prices of the fills of this cycle, zero when no such fill happened.
	OpenLongPrice   float64 `json:"open_long_price" yaml:"open_long_price"`
	CloseLongPrice  float64 `json:"close_long_price" yaml:"close_long_price"`
	OpenShortPrice  float64 `json:"open_short_price" yaml:"open_short_price"`
	CloseShortPrice float64 `json:"close_short_price" yaml:"close_short_price"`
	MarginCallPrice float64 `json:"margin_call_price" yaml:"margin_call_price"`
	// Carried is set when the quote was carried forward over a gap.
	Carried bool `json:"carried" yaml:"carried"`
	// Skipped is set when the instrument was not traded this cycle.
	Skipped bool `json:"skipped" yaml:"skipped"`
}

// ResultsEntry is the immutable state of the portfolio after one cycle.
type ResultsEntry struct {
	Cycle             int                  `json:"cycle" yaml:"cycle"`
	Time              time.Time            `json:"time" yaml:"time"`
	TotalValue        float64              `json:"total_value" yaml:"total_value"`
	Cash              float64              `json:"cash" yaml:"cash"`
	Borrowed          float64              `json:"borrowed" yaml:"borrowed"`
	Deposits          float64              `json:"deposits" yaml:"deposits"`
	MarginUsed        float64              `json:"margin_used" yaml:"margin_used"`
	MarginAvailable   float64              `json:"margin_available" yaml:"margin_available"`
	CommissionExpense float64              `json:"commission_expense" yaml:"commission_expense"`
	SpreadExpense     float64              `json:"spread_expense" yaml:"spread_expense"`
	MarginExpense     float64              `json:"margin_expense" yaml:"margin_expense"`
	TotalExpenses     float64              `json:"total_expenses" yaml:"total_expenses"`
	RealizedPnL       float64              `json:"realized_pnl" yaml:"realized_pnl"`
	TotalTrades       int                  `json:"total_trades" yaml:"total_trades"`
	Instruments       []InstrumentSnapshot `json:"instruments" yaml:"instruments"`
}

// Instrument returns the snapshot of the given symbol.
func (e ResultsEntry) Instrument(symbol string) (InstrumentSnapshot, bool) {
	for _, s := range e.Instruments {
		if s.Symbol == symbol {
			return s, true
		}
	}

	return InstrumentSnapshot{}, false
}

// Clone returns a deep copy so callers cannot alias the instrument slice.
func (e ResultsEntry) Clone() ResultsEntry {
	out := e
	out.Instruments = append([]InstrumentSnapshot(nil), e.Instruments...)

	return out
}
