package types

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// CostBreakdown lists the charges of one trade or one cycle. All values are non-negative.
type CostBreakdown struct {
	Commission     float64 `yaml:"commission" json:"commission"`
	SpreadCost     float64 `yaml:"spread_cost" json:"spread_cost"`
	MarginInterest float64 `yaml:"margin_interest" json:"margin_interest"`
}

// Total returns the sum of all charges.
func (c CostBreakdown) Total() float64 {
	return c.Commission + c.SpreadCost + c.MarginInterest
}

// TradeCosts returns the breakdown without margin interest, which is charged per cycle.
func (c CostBreakdown) TradeCosts() float64 {
	return c.Commission + c.SpreadCost
}

// TradeOutcome describes a fill applied to the ledger.
type TradeOutcome struct {
	Symbol string    `yaml:"symbol" json:"symbol"`
	Time   time.Time `yaml:"time" json:"time"`
	Side   Side      `yaml:"side" json:"side"`
	// Quantity is the filled amount, always positive.
	Quantity float64 `yaml:"quantity" json:"quantity"`
	// RequestedQuantity is the amount asked for before clamping.
	RequestedQuantity float64       `yaml:"requested_quantity" json:"requested_quantity"`
	Price             float64       `yaml:"price" json:"price"`
	Costs             CostBreakdown `yaml:"costs" json:"costs"`
	// RealizedPnL is the profit of the closed part of the position, before costs.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl"`
	// PositionAfter is the signed position once the trade is applied.
	PositionAfter float64 `yaml:"position_after" json:"position_after"`
	Opening       bool    `yaml:"opening" json:"opening"`
	MarginCall    bool    `yaml:"margin_call" json:"margin_call"`
}

// Notional returns quantity times price.
func (t TradeOutcome) Notional() float64 {
	return t.Quantity * t.Price
}

// Clamped reports whether the fill is smaller than requested.
func (t TradeOutcome) Clamped() bool {
	return t.Quantity < t.RequestedQuantity
}
