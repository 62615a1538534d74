package cost

import "math"

// Inflation compounds an annual rate once per cycle at rate/cyclesPerYear.
type Inflation struct {
	perCycle float64
}

// NewInflation creates an inflation schedule from an annual rate in percent.
func NewInflation(annualPercent float64, cyclesPerYear int) Inflation {
	if cyclesPerYear <= 0 {
		cyclesPerYear = DefaultCyclesPerYear
	}

	return Inflation{perCycle: annualPercent / 100 / float64(cyclesPerYear)}
}

// Factor returns the cumulative price level after cycles cycles, starting at 1.
func (i Inflation) Factor(cycles int) float64 {
	if i.perCycle == 0 || cycles <= 0 {
		return 1
	}

	return math.Pow(1+i.perCycle, float64(cycles))
}

// Adjust scales amount to the price level after cycles cycles.
func (i Inflation) Adjust(amount float64, cycles int) float64 {
	return amount * i.Factor(cycles)
}
