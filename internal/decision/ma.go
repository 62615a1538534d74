package decision

import (
	"context"
	"fmt"

	"github.com/rxtech-lab/argo-backtest/internal/indicator"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// MACross compares the price with its moving average: buy while the
// average is at or below the price, sell otherwise. It holds until the
// window covers a full period.
type MACross struct {
	period int
	simple bool
}

// NewMACross returns an SMA (simple) or EMA crossover source.
func NewMACross(period int, simple bool) (*MACross, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "moving average period must be positive, got %d", period)
	}

	return &MACross{period: period, simple: simple}, nil
}

func (m *MACross) Name() string {
	if m.simple {
		return fmt.Sprintf("sma_cross_%d", m.period)
	}

	return fmt.Sprintf("ema_cross_%d", m.period)
}

// Period returns the moving average period.
func (m *MACross) Period() int {
	return m.period
}

// Average returns the moving average of window prices.
func (m *MACross) Average(window Window) (float64, error) {
	if m.simple {
		return indicator.SMA(window.Prices(), m.period)
	}

	return indicator.EMA(window.Prices(), m.period)
}

func (m *MACross) Decide(_ context.Context, window Window) (types.Signal, error) {
	if window.Len() < m.period {
		return types.HoldSignal("warming up"), nil
	}

	average, err := m.Average(window)
	if err != nil {
		return types.Signal{}, err
	}

	current := price(window.Current)
	if average <= current {
		return types.NewSignal(types.DirectionBuy, fmt.Sprintf("price %.4f at or above average %.4f", current, average)), nil
	}

	return types.NewSignal(types.DirectionSell, fmt.Sprintf("price %.4f below average %.4f", current, average)), nil
}
