package decision

import (
	"context"
	"fmt"
	"io"

	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// DefaultThreshold is the probability a classifier must reach to confirm a signal.
const DefaultThreshold = 0.5

// Classifier estimates how likely a signal in direction is to be right.
type Classifier interface {
	// Probability returns a value in [0, 1] for the given feature vector.
	Probability(ctx context.Context, direction types.Direction, features []float64) (float64, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, direction types.Direction, features []float64) (float64, error)

func (f ClassifierFunc) Probability(ctx context.Context, direction types.Direction, features []float64) (float64, error) {
	return f(ctx, direction, features)
}

// Filtered emits the moving average signal only at a cross and only when
// the classifier confirms it. Other cycles hold, which keeps the trend.
type Filtered struct {
	ma         *MACross
	classifier Classifier
	threshold  float64
	name       string
}

func NewFiltered(ma *MACross, classifier Classifier, threshold float64, name string) (*Filtered, error) {
	if ma == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "filtered source needs a moving average source")
	}

	if classifier == nil {
		return nil, errors.New(errors.ErrCodeMissingParameter, "filtered source needs a classifier")
	}

	if threshold < 0 || threshold > 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "threshold must be in [0, 1], got %v", threshold)
	}

	if name == "" {
		name = "classifier"
	}

	return &Filtered{ma: ma, classifier: classifier, threshold: threshold, name: name}, nil
}

func (f *Filtered) Name() string {
	return fmt.Sprintf("%s_%s", f.ma.Name(), f.name)
}

// Close releases the classifier when it holds resources.
func (f *Filtered) Close() error {
	if closer, ok := f.classifier.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

func (f *Filtered) Decide(ctx context.Context, window Window) (types.Signal, error) {
	previous, ok := window.Previous()
	if !ok || previous.Len() < f.ma.Period() {
		return types.HoldSignal("warming up"), nil
	}

	average, err := f.ma.Average(window)
	if err != nil {
		return types.Signal{}, err
	}

	previousAverage, err := f.ma.Average(previous)
	if err != nil {
		return types.Signal{}, err
	}

	above := price(window.Current) > average
	wasAbove := price(previous.Current) > previousAverage

	var direction types.Direction

	switch {
	case above && !wasAbove:
		direction = types.DirectionBuy
	case !above && wasAbove:
		direction = types.DirectionSell
	default:
		return types.HoldSignal("no cross"), nil
	}

	features := ExtractFeatures(window, average)

	p, err := f.classifier.Probability(ctx, direction, features.Vector())
	if err != nil {
		return types.Signal{}, errors.Wrap(errors.ErrCodeModelInferenceFailed, "classifier failed", err)
	}

	if p >= f.threshold {
		return types.NewSignal(direction, fmt.Sprintf("%s cross confirmed", direction)).WithProbability(p), nil
	}

	return types.HoldSignal(fmt.Sprintf("%s cross rejected", direction)).WithProbability(p), nil
}
