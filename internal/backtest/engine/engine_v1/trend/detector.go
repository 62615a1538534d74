// Package trend confirms trend reversals from noisy per-cycle signals.
//
// A reversal candidate is a raw signal opposing the confirmed trend. It is
// confirmed immediately when price moved at least Percent in either direction
// over the last Period cycles, or gradually once the candidate has persisted
// for Period consecutive cycles. When both hold on the same cycle
// the change is reported as immediate.
package trend

import (
	"math"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// Path tells how a trend change was confirmed.
type Path string

const (
	PathNone      Path = ""
	PathInitial   Path = "initial"
	PathImmediate Path = "immediate"
	PathGradual   Path = "gradual"
)

// State is the per-instrument detector state.
type State struct {
	Trend types.Trend
	// OpposingCycles counts consecutive cycles the raw signal opposed Trend.
	OpposingCycles  int
	LastChange      time.Time
	LastChangeCycle int
}

// Result is the outcome of feeding one cycle to the detector.
type Result struct {
	Trend    types.Trend
	Previous types.Trend
	Changed  bool
	Path     Path
	// Move is the fractional price change over the lookback, for diagnostics.
	Move float64
}

type Detector struct {
	period  int
	percent float64
	state   State
}

// NewDetector creates a detector in the Flat state. period is at least one cycle.
func NewDetector(period int, percent float64) *Detector {
	if period < 1 {
		period = 1
	}

	return &Detector{
		period:  period,
		percent: percent,
		state:   State{Trend: types.TrendFlat},
	}
}

// State returns a copy of the current state.
func (d *Detector) State() State {
	return d.state
}

// Trend returns the confirmed trend.
func (d *Detector) Trend() types.Trend {
	return d.state.Trend
}

// Update feeds the raw direction of cycle at time at. closes holds the close
// prices up to and including the current cycle, oldest first.
func (d *Detector) Update(cycle int, at time.Time, direction types.Direction, closes []float64) Result {
	current := d.state.Trend
	candidate := direction.Trend()
	move := Move(closes, d.period)

	result := Result{Trend: current, Previous: current, Move: move}

	if candidate == types.TrendFlat || candidate == current {
		d.state.OpposingCycles = 0

		return result
	}

	// the first directional signal sets the trend
	if current == types.TrendFlat {
		d.confirm(cycle, at, candidate)
		result.Trend = candidate
		result.Changed = true
		result.Path = PathInitial

		return result
	}

	d.state.OpposingCycles++

	// a large move either way confirms; the signal picks the direction
	immediate := d.percent > 0 && math.Abs(move)*100 >= d.percent
	gradual := d.state.OpposingCycles >= d.period

	switch {
	case immediate:
		result.Path = PathImmediate
	case gradual:
		result.Path = PathGradual
	default:
		return result
	}

	d.confirm(cycle, at, candidate)
	result.Trend = candidate
	result.Changed = true

	return result
}

func (d *Detector) confirm(cycle int, at time.Time, trend types.Trend) {
	d.state.Trend = trend
	d.state.OpposingCycles = 0
	d.state.LastChange = at
	d.state.LastChangeCycle = cycle
}

// Move returns the fractional change between the last close and the close
// period cycles earlier, or the earliest available close when the history is
// shorter. Non-positive reference prices yield zero.
func Move(closes []float64, period int) float64 {
	n := len(closes)
	if n < 2 || period < 1 {
		return 0
	}

	ref := n - 1 - period
	if ref < 0 {
		ref = 0
	}

	base := closes[ref]
	if base <= 0 {
		return 0
	}

	return closes[n-1]/base - 1
}
