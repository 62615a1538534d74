// Package cost prices the frictions of a simulated account: commissions,
// bid/ask spread, interest on margin balances and inflation of deposits.
package cost

import (
	"math"

	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/commission_fee"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// Request describes what is being charged. A cycle without a fill has a zero Quantity.
type Request struct {
	Quantity float64
	Price    float64
	// IsOpening is informational; opening and closing fills are charged alike.
	IsOpening bool
	// MarginBalance is the financed amount interest accrues on.
	MarginBalance float64
	// ElapsedCycles is the number of cycles since interest was last charged.
	ElapsedCycles int
}

// Notional returns the absolute traded value.
func (r Request) Notional() float64 {
	return math.Abs(r.Quantity) * r.Price
}

// Model is a pure cost calculator; it holds no account state.
type Model struct {
	commission    commission_fee.CommissionFee
	spread        float64
	marginFee     float64
	cyclesPerYear int
}

// NewModel creates a cost model. spread is the full bid/ask spread as a fraction
// of price and marginFeePercent the annual interest rate in percent.
func NewModel(commission commission_fee.CommissionFee, spread float64, marginFeePercent float64, cyclesPerYear int) *Model {
	if commission == nil {
		commission = commission_fee.NewZeroCommissionFee()
	}

	if cyclesPerYear <= 0 {
		cyclesPerYear = DefaultCyclesPerYear
	}

	return &Model{
		commission:    commission,
		spread:        math.Max(spread, 0),
		marginFee:     math.Max(marginFeePercent, 0),
		cyclesPerYear: cyclesPerYear,
	}
}

// DefaultCyclesPerYear is the number of trading days in a year.
const DefaultCyclesPerYear = 252

// Cost returns the full breakdown for a request.
func (m *Model) Cost(req Request) types.CostBreakdown {
	breakdown := m.Trade(req.Quantity, req.Price)
	breakdown.MarginInterest = m.MarginInterest(req.MarginBalance, req.ElapsedCycles)

	return breakdown
}

// Trade returns commission and half-spread cost of a fill.
func (m *Model) Trade(quantity float64, price float64) types.CostBreakdown {
	quantity = math.Abs(quantity)
	if quantity == 0 || price <= 0 {
		return types.CostBreakdown{}
	}

	return types.CostBreakdown{
		Commission: math.Max(m.commission.Calculate(quantity, price), 0),
		SpreadCost: quantity * price * m.spread / 2,
	}
}

// MarginInterest returns the daily-equivalent interest on balance over elapsed cycles.
func (m *Model) MarginInterest(balance float64, elapsed int) float64 {
	if balance <= 0 || elapsed <= 0 || m.marginFee == 0 {
		return 0
	}

	return balance * m.marginFee / 100 / float64(m.cyclesPerYear) * float64(elapsed)
}

// PerUnit is the marginal trade cost of one more unit at price, used by sizing.
func (m *Model) PerUnit(price float64) float64 {
	return m.commission.PerUnit(price) + price*m.spread/2
}

// CyclesPerYear returns the annualisation base of the model.
func (m *Model) CyclesPerYear() int {
	return m.cyclesPerYear
}
