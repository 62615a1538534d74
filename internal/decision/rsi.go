package decision

import (
	"context"
	"fmt"

	"github.com/rxtech-lab/argo-backtest/internal/indicator"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

const (
	DefaultRSIPeriod     = 14
	DefaultRSISupport    = 30.0
	DefaultRSIResistance = 70.0
)

// RSIThreshold buys when the RSI climbs back above support and sells when it
// falls back below resistance. Every other cycle is a hold.
type RSIThreshold struct {
	period     int
	support    float64
	resistance float64
}

func NewRSIThreshold(period int, support float64, resistance float64) (*RSIThreshold, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "rsi period must be positive, got %d", period)
	}

	if support < 0 || support > 99 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "rsi support must be in [0, 99], got %v", support)
	}

	if resistance < 1 || resistance > 100 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "rsi resistance must be in [1, 100], got %v", resistance)
	}

	if support >= resistance {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "rsi support %v must be below resistance %v", support, resistance)
	}

	return &RSIThreshold{period: period, support: support, resistance: resistance}, nil
}

func (r *RSIThreshold) Name() string {
	return fmt.Sprintf("rsi_%d", r.period)
}

func (r *RSIThreshold) Decide(_ context.Context, window Window) (types.Signal, error) {
	// current and previous RSI
	if window.Len() < r.period+2 {
		return types.HoldSignal("warming up"), nil
	}

	series, err := indicator.RSISeries(window.Prices(), r.period)
	if err != nil {
		return types.Signal{}, err
	}

	previous := series[len(series)-2]
	current := series[len(series)-1]

	switch {
	case previous < r.support && current > r.support:
		return types.NewSignal(types.DirectionBuy, fmt.Sprintf("rsi crossed above support (%.2f -> %.2f)", previous, current)), nil
	case previous > r.resistance && current < r.resistance:
		return types.NewSignal(types.DirectionSell, fmt.Sprintf("rsi crossed below resistance (%.2f -> %.2f)", previous, current)), nil
	default:
		return types.HoldSignal(fmt.Sprintf("rsi %.2f", current)), nil
	}
}
