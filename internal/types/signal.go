package types

import (
	"fmt"
	"math"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Direction is the directional bias a decision source emits for a cycle.
type Direction string

const (
	// DirectionBuy asks for long exposure (or to cover a short)
	DirectionBuy Direction = "buy"
	// DirectionSell asks for short exposure (or to exit a long)
	DirectionSell Direction = "sell"
	// DirectionHold keeps the current position
	DirectionHold Direction = "hold"
)

// Signal is the per-cycle output of a decision source. It is not persisted.
type Signal struct {
	Direction Direction
	// Probability is the confidence of a classifier-backed source, in [0, 1].
	Probability optional.Option[float64]
	// Reason is a short free-form explanation used in debug logs.
	Reason string
}

// HoldSignal returns a hold signal with the given reason.
func HoldSignal(reason string) Signal {
	return Signal{
		Direction:   DirectionHold,
		Probability: optional.None[float64](),
		Reason:      reason,
	}
}

// NewSignal returns a signal without probability.
func NewSignal(direction Direction, reason string) Signal {
	return Signal{
		Direction:   direction,
		Probability: optional.None[float64](),
		Reason:      reason,
	}
}

// WithProbability returns a copy of the signal carrying p.
func (s Signal) WithProbability(p float64) Signal {
	s.Probability = optional.Some(p)

	return s
}

// Validate rejects unknown directions and probabilities outside [0, 1].
func (s Signal) Validate() error {
	switch s.Direction {
	case DirectionBuy, DirectionSell, DirectionHold:
	default:
		return errors.Newf(errors.ErrCodeInvalidSignal, "unknown signal direction %q", s.Direction)
	}

	if s.Probability.IsSome() {
		p := s.Probability.Unwrap()
		if math.IsNaN(p) || p < 0 || p > 1 {
			return errors.New(errors.ErrCodeInvalidSignal, fmt.Sprintf("signal probability %v outside [0, 1]", p))
		}
	}

	return nil
}

// Trend returns the trend the direction points to. Hold maps to TrendFlat.
func (d Direction) Trend() Trend {
	switch d {
	case DirectionBuy:
		return TrendUp
	case DirectionSell:
		return TrendDown
	default:
		return TrendFlat
	}
}
