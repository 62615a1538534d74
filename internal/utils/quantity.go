package utils

import "math"

// quantityEpsilon absorbs float noise before flooring, so 2.9999999999 becomes 3.
const quantityEpsilon = 1e-9

// RoundToDecimalPrecision floors the quantity to the specified decimal precision.
func RoundToDecimalPrecision(quantity float64, decimalPrecision int) float64 {
	multiplier := math.Pow10(decimalPrecision)

	return math.Floor(quantity*multiplier+quantityEpsilon) / multiplier
}

// MaxQuantity returns the largest quantity in [0, upper], in steps of
// 10^-precision, for which fits holds. fits must be monotone: once it fails
// for a quantity it fails for every larger one.
func MaxQuantity(upper float64, precision int, fits func(quantity float64) bool) float64 {
	if upper <= 0 || math.IsNaN(upper) || math.IsInf(upper, 0) {
		return 0
	}

	step := math.Pow10(-precision)
	hi := int64(math.Round(RoundToDecimalPrecision(upper, precision) / step))
	lo := int64(0)

	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if fits(float64(mid) * step) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return RoundToDecimalPrecision(float64(lo)*step, precision)
}

// CalculateMaxQuantity returns the largest quantity whose cost at price plus
// fee stays within balance.
func CalculateMaxQuantity(balance float64, price float64, precision int, fee func(quantity float64) float64) float64 {
	if price <= 0 || balance <= 0 {
		return 0
	}

	return MaxQuantity(balance/price, precision, func(quantity float64) bool {
		return quantity*price+fee(quantity) <= balance
	})
}
