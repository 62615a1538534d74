package decision

import (
	"context"
	"encoding/json"
	"math"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/version"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// LogisticWeights are the coefficients of one logistic regression.
type LogisticWeights struct {
	Intercept float64   `json:"intercept"`
	Weights   []float64 `json:"weights" validate:"required,min=1"`
}

// LogisticModel holds one regression per signal direction. It is produced
// by an offline training job and read from JSON.
type LogisticModel struct {
	Version  string          `json:"version" validate:"required"`
	Features []string        `json:"features" validate:"required,min=1"`
	Buy      LogisticWeights `json:"buy"`
	Sell     LogisticWeights `json:"sell"`
}

var modelValidator = validator.New()

// LoadLogisticModel reads a model file and checks its format version.
func LoadLogisticModel(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeModelLoadFailed, err, "failed to read model %s", path)
	}

	return ParseLogisticModel(data)
}

func ParseLogisticModel(data []byte) (*LogisticModel, error) {
	var model LogisticModel
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, errors.Wrap(errors.ErrCodeModelLoadFailed, "failed to parse model", err)
	}

	if err := modelValidator.Struct(&model); err != nil {
		return nil, errors.Wrap(errors.ErrCodeModelLoadFailed, "invalid model", err)
	}

	if err := version.CheckVersionCompatibility(version.ModelFormatVersion, model.Version); err != nil {
		return nil, err
	}

	if len(model.Features) != len(FeatureNames) {
		return nil, errors.Newf(errors.ErrCodeModelLoadFailed,
			"model expects %d features, %d are available", len(model.Features), len(FeatureNames))
	}

	for i, name := range model.Features {
		if name != FeatureNames[i] {
			return nil, errors.Newf(errors.ErrCodeModelLoadFailed, "model feature %d is %q, expected %q", i, name, FeatureNames[i])
		}
	}

	for _, w := range []LogisticWeights{model.Buy, model.Sell} {
		if len(w.Weights) != len(model.Features) {
			return nil, errors.Newf(errors.ErrCodeModelLoadFailed,
				"model has %d weights for %d features", len(w.Weights), len(model.Features))
		}
	}

	return &model, nil
}

// Probability implements Classifier.
func (m *LogisticModel) Probability(_ context.Context, direction types.Direction, features []float64) (float64, error) {
	var w LogisticWeights

	switch direction {
	case types.DirectionBuy:
		w = m.Buy
	case types.DirectionSell:
		w = m.Sell
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidSignal, "no model for direction %q", direction)
	}

	if len(features) != len(w.Weights) {
		return 0, errors.Newf(errors.ErrCodeModelInferenceFailed, "expected %d features, got %d", len(w.Weights), len(features))
	}

	z := w.Intercept
	for i, x := range features {
		z += w.Weights[i] * x
	}

	return 1 / (1 + math.Exp(-z)), nil
}
