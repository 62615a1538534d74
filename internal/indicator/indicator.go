// Package indicator computes technical indicators over a window of values,
// oldest first. Functions return an InsufficientDataError when the window
// is shorter than the indicator needs.
package indicator

import (
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

type IndicatorType string

const (
	IndicatorTypeSMA IndicatorType = "sma"
	IndicatorTypeEMA IndicatorType = "ema"
	IndicatorTypeRSI IndicatorType = "rsi"
	IndicatorTypePVO IndicatorType = "pvo"
)

func checkPeriod(name IndicatorType, period int) error {
	if period <= 0 {
		return errors.Newf(errors.ErrCodeInvalidPeriod, "%s period must be a positive integer, got %d", name, period)
	}

	return nil
}

func checkLength(name IndicatorType, values []float64, required int) error {
	if len(values) < required {
		return errors.NewInsufficientDataErrorf(required, len(values), "",
			"insufficient data for %s: requested %d, got %d", name, required, len(values))
	}

	return nil
}
