package commission_fee

import "math"

// CustomCommissionFee charges a flat fee per trade plus a percentage of the
// notional plus a per-unit fee.
type CustomCommissionFee struct {
	schedule Schedule
}

func NewCustomCommissionFee(schedule Schedule) CommissionFee {
	return &CustomCommissionFee{schedule: schedule}
}

func (c *CustomCommissionFee) Calculate(quantity float64, price float64) float64 {
	quantity = math.Abs(quantity)
	if quantity == 0 {
		return 0
	}

	return c.schedule.Flat + c.PerUnit(price)*quantity
}

func (c *CustomCommissionFee) PerUnit(price float64) float64 {
	return math.Abs(price)*c.schedule.Percent/100 + c.schedule.PerShare
}
