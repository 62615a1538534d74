package commission_fee

import "math"

const (
	ibPerShare   = 0.005
	ibMinimum    = 1.0
	ibMaxPercent = 0.01
)

// InteractiveBrokerCommissionFee approximates the IBKR fixed tier:
// 0.005 per share, at least 1.0 and at most 1% of the trade value.
type InteractiveBrokerCommissionFee struct{}

func NewInteractiveBrokerCommissionFee() CommissionFee {
	return &InteractiveBrokerCommissionFee{}
}

func (c *InteractiveBrokerCommissionFee) Calculate(quantity float64, price float64) float64 {
	quantity = math.Abs(quantity)
	if quantity == 0 {
		return 0
	}

	fee := math.Max(ibPerShare*quantity, ibMinimum)

	if price > 0 {
		fee = math.Min(fee, ibMaxPercent*quantity*price)
	}

	return fee
}

func (c *InteractiveBrokerCommissionFee) PerUnit(price float64) float64 {
	return ibPerShare
}
