package types

// AccountState aggregates the ledger across all instruments.
type AccountState struct {
	// Cash is the positive part of the account balance. Never negative.
	Cash float64 `json:"cash" yaml:"cash"`
	// Borrowed is the debit balance financed by the broker.
	Borrowed float64 `json:"borrowed" yaml:"borrowed"`
	// Equity is cash minus borrowed plus long market value plus unrealized short P&L.
	Equity float64 `json:"equity" yaml:"equity"`
	// Exposure is the gross market value of all positions.
	Exposure float64 `json:"exposure" yaml:"exposure"`
	// MarginUsed is the collateral required by open positions at margin_req.
	MarginUsed float64 `json:"margin_used" yaml:"margin_used"`
	// MarginAvailable is equity not committed as collateral.
	MarginAvailable float64  `json:"margin_available" yaml:"margin_available"`
	Deposits        float64  `json:"deposits" yaml:"deposits"`
	RealizedPnL     float64  `json:"realized_pnl" yaml:"realized_pnl"`
	UnrealizedPnL   float64  `json:"unrealized_pnl" yaml:"unrealized_pnl"`
	Expenses        Expenses `json:"expenses" yaml:"expenses"`
	TotalTrades     int      `json:"total_trades" yaml:"total_trades"`
}

// Expenses are cumulative charges by category.
type Expenses struct {
	Commission float64 `json:"commission" yaml:"commission"`
	Spread     float64 `json:"spread" yaml:"spread"`
	MarginFees float64 `json:"margin_fees" yaml:"margin_fees"`
}

// Total returns the sum of all categories.
func (e Expenses) Total() float64 {
	return e.Commission + e.Spread + e.MarginFees
}
