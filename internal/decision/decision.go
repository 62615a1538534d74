// Package decision produces buy, sell or hold signals from a window of
// quote history. A decision source is any value with a Decide method;
// rule-based and classifier-backed sources are interchangeable.
package decision

import (
	"context"
	"io"

	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// Window is what a decision source sees for one instrument in one cycle.
type Window struct {
	Symbol string
	Cycle  int
	// History holds records strictly before the current cycle, oldest first.
	History []types.Quote
	Current types.Quote
}

// Len returns the number of records including the current one.
func (w Window) Len() int {
	return len(w.History) + 1
}

// Prices returns the adjusted close of every record, current last. The
// close is used where no adjusted close is known.
func (w Window) Prices() []float64 {
	out := make([]float64, 0, w.Len())
	for _, q := range w.History {
		out = append(out, price(q))
	}

	return append(out, price(w.Current))
}

// Volumes returns the volume of every record, current last.
func (w Window) Volumes() []float64 {
	out := make([]float64, 0, w.Len())
	for _, q := range w.History {
		out = append(out, q.Volume)
	}

	return append(out, w.Current.Volume)
}

// Previous returns the window as it looked one cycle earlier.
func (w Window) Previous() (Window, bool) {
	if len(w.History) == 0 {
		return Window{}, false
	}

	n := len(w.History)

	return Window{
		Symbol:  w.Symbol,
		Cycle:   w.Cycle - 1,
		History: w.History[:n-1],
		Current: w.History[n-1],
	}, true
}

func price(q types.Quote) float64 {
	if q.AdjClose > 0 {
		return q.AdjClose
	}

	return q.Close
}

// Source decides what to do with an instrument in the current cycle.
// Implementations must be deterministic for identical windows.
type Source interface {
	Decide(ctx context.Context, window Window) (types.Signal, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, window Window) (types.Signal, error)

func (f Func) Decide(ctx context.Context, window Window) (types.Signal, error) {
	return f(ctx, window)
}

// Named is implemented by sources that report a name for run statistics.
type Named interface {
	Name() string
}

// NameOf returns the name of src, or "custom" when it has none.
func NameOf(src Source) string {
	if named, ok := src.(Named); ok {
		return named.Name()
	}

	return "custom"
}

// Close releases the resources of src when it holds any. Sources without
// a Close method are left alone.
func Close(src Source) error {
	if closer, ok := src.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}
