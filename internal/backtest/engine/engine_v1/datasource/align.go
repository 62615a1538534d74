package datasource

import (
	"sort"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Slot is the record of one instrument in one cycle.
type Slot struct {
	Quote types.Quote
	// Present is false when the instrument has no record yet.
	Present bool
	// Carried is true when Quote is the last known record reused for a gap.
	Carried bool
}

// Cycle is one step of the common grid. Slots are in series order.
type Cycle struct {
	Time  time.Time
	Slots []Slot
}

// Grid is the aligned replay of a set of instrument series.
type Grid struct {
	Symbols     []string
	Cycles      []Cycle
	Granularity time.Duration
	// GapsFilled counts slots carried forward.
	GapsFilled int
	// CyclesDropped counts cycles removed by the skip policy.
	CyclesDropped int
}

// ValidateSeries checks that series is a non-empty list of non-empty,
// strictly ascending instrument streams sharing one granularity, and that
// every timestamp lies on the grid anchored at the earliest record.
// It returns the common granularity, or zero when no series has two records.
// Records without a symbol take the symbol of their series.
func ValidateSeries(series []types.InstrumentSeries) (time.Duration, error) {
	if len(series) == 0 {
		return 0, errors.New(errors.ErrCodeEmptyInstruments, "at least one instrument series is required")
	}

	seen := make(map[string]bool, len(series))

	var (
		granularity time.Duration
		origin      time.Time
	)

	for i := range series {
		s := &series[i]

		if s.Symbol == "" {
			return 0, errors.Newf(errors.ErrCodeInvalidQuote, "series %d has no symbol", i)
		}

		if seen[s.Symbol] {
			return 0, errors.Newf(errors.ErrCodeDuplicateInstrument, "duplicate instrument %s", s.Symbol)
		}

		seen[s.Symbol] = true

		if len(s.Quotes) == 0 {
			return 0, errors.Newf(errors.ErrCodeEmptySeries, "series %s has no records", s.Symbol)
		}

		step := time.Duration(0)

		for j := range s.Quotes {
			q := &s.Quotes[j]
			if q.Symbol == "" {
				q.Symbol = s.Symbol
			}

			if q.Symbol != s.Symbol {
				return 0, errors.Newf(errors.ErrCodeInvalidQuote, "record %d of %s belongs to %s", j, s.Symbol, q.Symbol)
			}

			if err := q.Validate(); err != nil {
				return 0, err
			}

			if j == 0 {
				continue
			}

			delta := q.Time.Sub(s.Quotes[j-1].Time)
			if delta <= 0 {
				return 0, errors.Newf(errors.ErrCodeUnorderedSeries,
					"records of %s are not strictly ascending at %s", s.Symbol, q.Time)
			}

			if step == 0 || delta < step {
				step = delta
			}
		}

		if step != 0 {
			if granularity != 0 && step != granularity {
				return 0, errors.Newf(errors.ErrCodeMisalignedGrid,
					"series %s has granularity %s, expected %s", s.Symbol, step, granularity)
			}

			granularity = step
		}

		if origin.IsZero() || s.Quotes[0].Time.Before(origin) {
			origin = s.Quotes[0].Time
		}
	}

	for _, s := range series {
		for _, q := range s.Quotes {
			offset := q.Time.Sub(origin)

			if granularity == 0 {
				if offset != 0 {
					return 0, errors.Newf(errors.ErrCodeMisalignedGrid,
						"record of %s at %s is not on the grid", s.Symbol, q.Time)
				}

				continue
			}

			if offset%granularity != 0 {
				return 0, errors.Newf(errors.ErrCodeMisalignedGrid,
					"record of %s at %s is not on the %s grid starting %s", s.Symbol, q.Time, granularity, origin)
			}
		}
	}

	return granularity, nil
}

// Align validates series and merges them into cycles. A cycle exists for
// every timestamp at which at least one instrument has a record; the gap
// policy decides what the other instruments see.
func Align(series []types.InstrumentSeries, policy GapPolicy) (*Grid, error) {
	if policy == "" {
		policy = GapCarryForward
	}

	if policy != GapCarryForward && policy != GapSkip {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown gap policy %q", policy)
	}

	granularity, err := ValidateSeries(series)
	if err != nil {
		return nil, err
	}

	grid := &Grid{Granularity: granularity}

	stamps := make(map[int64]time.Time)
	for _, s := range series {
		grid.Symbols = append(grid.Symbols, s.Symbol)

		for _, q := range s.Quotes {
			stamps[q.Time.UnixNano()] = q.Time
		}
	}

	times := make([]time.Time, 0, len(stamps))
	for _, t := range stamps {
		times = append(times, t)
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	cursor := make([]int, len(series))
	last := make([]*types.Quote, len(series))

	for _, t := range times {
		cycle := Cycle{Time: t, Slots: make([]Slot, len(series))}
		complete := true

		for i, s := range series {
			if cursor[i] < len(s.Quotes) && s.Quotes[cursor[i]].Time.Equal(t) {
				last[i] = &s.Quotes[cursor[i]]
				cursor[i]++
				cycle.Slots[i] = Slot{Quote: *last[i], Present: true}

				continue
			}

			complete = false

			if last[i] != nil {
				cycle.Slots[i] = Slot{Quote: *last[i], Present: true, Carried: true}
			}
		}

		if policy == GapSkip && !complete {
			grid.CyclesDropped++

			continue
		}

		for _, slot := range cycle.Slots {
			if slot.Carried {
				grid.GapsFilled++
			}
		}

		grid.Cycles = append(grid.Cycles, cycle)
	}

	return grid, nil
}
