package decision

import (
	"github.com/rxtech-lab/argo-backtest/internal/indicator"
)

// FeatureNames lists the classifier inputs in vector order.
var FeatureNames = []string{"pvo", "diff", "hilo_diff"}

// Features describe the state of an instrument at a moving average cross.
type Features struct {
	// PVO is the percentage volume oscillator, 0 until enough volume history exists.
	PVO float64
	// Diff is (price - average) / price.
	Diff float64
	// HiLoDiff is (high - low) / high of the current record.
	HiLoDiff float64
}

func (f Features) Vector() []float64 {
	return []float64{f.PVO, f.Diff, f.HiLoDiff}
}

// ExtractFeatures computes the classifier inputs of window given its moving average.
func ExtractFeatures(window Window, average float64) Features {
	var features Features

	if pvo, err := indicator.PVO(window.Volumes(), indicator.DefaultPVOFast, indicator.DefaultPVOSlow); err == nil {
		features.PVO = pvo
	}

	if p := price(window.Current); p > 0 {
		features.Diff = (p - average) / p
	}

	if high := window.Current.High; high > 0 {
		features.HiLoDiff = (high - window.Current.Low) / high
	}

	return features
}
