package indicator

import "github.com/rxtech-lab/argo-backtest/pkg/errors"

const (
	DefaultPVOFast = 12
	DefaultPVOSlow = 26
)

// PVO returns the percentage volume oscillator:
// (EMA(fast) - EMA(slow)) / EMA(slow) * 100. It is 0 when the slow average is 0.
func PVO(volumes []float64, fast int, slow int) (float64, error) {
	if fast >= slow {
		return 0, errors.Newf(errors.ErrCodeInvalidPeriod, "pvo fast period %d must be below slow period %d", fast, slow)
	}

	fastEMA, err := EMA(volumes, fast)
	if err != nil {
		return 0, err
	}

	slowEMA, err := EMA(volumes, slow)
	if err != nil {
		return 0, err
	}

	if slowEMA == 0 {
		return 0, nil
	}

	return (fastEMA - slowEMA) / slowEMA * 100, nil
}
