package decision

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ClassifierTestSuite struct {
	suite.Suite
	ctx context.Context
}

func TestClassifierSuite(t *testing.T) {
	suite.Run(t, new(ClassifierTestSuite))
}

func (suite *ClassifierTestSuite) SetupTest() {
	suite.ctx = context.Background()
}

func constant(p float64) ClassifierFunc {
	return func(context.Context, types.Direction, []float64) (float64, error) {
		return p, nil
	}
}

func (suite *ClassifierTestSuite) filtered(classifier Classifier) *Filtered {
	ma, err := NewMACross(2, true)
	suite.Require().NoError(err)

	f, err := NewFiltered(ma, classifier, 0.5, "test")
	suite.Require().NoError(err)

	return f
}

func (suite *ClassifierTestSuite) TestFilteredConfirmsCross() {
	f := suite.filtered(constant(0.8))
	suite.Equal("sma_cross_2_test", f.Name())

	signal, err := f.Decide(suite.ctx, windowOf(10, 10, 12))
	suite.Require().NoError(err)
	suite.Equal(types.DirectionBuy, signal.Direction)
	suite.Equal(0.8, signal.Probability.Unwrap())

	signal, err = f.Decide(suite.ctx, windowOf(10, 12, 9))
	suite.Require().NoError(err)
	suite.Equal(types.DirectionSell, signal.Direction)
}

func (suite *ClassifierTestSuite) TestFilteredRejectsCross() {
	f := suite.filtered(constant(0.2))

	signal, err := f.Decide(suite.ctx, windowOf(10, 10, 12))
	suite.Require().NoError(err)
	suite.Equal(types.DirectionHold, signal.Direction)
	suite.Equal(0.2, signal.Probability.Unwrap())
}

func (suite *ClassifierTestSuite) TestFilteredHoldsWithoutCross() {
	calls := 0
	f := suite.filtered(ClassifierFunc(func(context.Context, types.Direction, []float64) (float64, error) {
		calls++

		return 1, nil
	}))

	signal, err := f.Decide(suite.ctx, windowOf(10, 12, 14))
	suite.Require().NoError(err)
	suite.Equal(types.DirectionHold, signal.Direction)

	signal, err = f.Decide(suite.ctx, windowOf(10, 12))
	suite.Require().NoError(err)
	suite.Equal(types.DirectionHold, signal.Direction)

	suite.Equal(0, calls)
}

func (suite *ClassifierTestSuite) TestFilteredClassifierError() {
	f := suite.filtered(ClassifierFunc(func(context.Context, types.Direction, []float64) (float64, error) {
		return 0, fmt.Errorf("boom")
	}))

	_, err := f.Decide(suite.ctx, windowOf(10, 10, 12))
	suite.Equal(errors.ErrCodeModelInferenceFailed, errors.GetCode(err))
}

func (suite *ClassifierTestSuite) TestNewFilteredValidation() {
	ma, _ := NewMACross(2, true)

	_, err := NewFiltered(nil, constant(1), 0.5, "")
	suite.Equal(errors.ErrCodeMissingParameter, errors.GetCode(err))

	_, err = NewFiltered(ma, nil, 0.5, "")
	suite.Equal(errors.ErrCodeMissingParameter, errors.GetCode(err))

	_, err = NewFiltered(ma, constant(1), 1.5, "")
	suite.Equal(errors.ErrCodeInvalidParameter, errors.GetCode(err))
}

const logisticModel = `{
	"version": "1.0.0",
	"features": ["pvo", "diff", "hilo_diff"],
	"buy": {"intercept": %v, "weights": [0, 0, 0]},
	"sell": {"intercept": 0, "weights": [0, 1, 0]}
}`

func (suite *ClassifierTestSuite) TestLogisticModel() {
	model, err := ParseLogisticModel([]byte(fmt.Sprintf(logisticModel, math.Log(3))))
	suite.Require().NoError(err)

	p, err := model.Probability(suite.ctx, types.DirectionBuy, []float64{5, 5, 5})
	suite.Require().NoError(err)
	suite.InDelta(0.75, p, 1e-9)

	p, err = model.Probability(suite.ctx, types.DirectionSell, []float64{0, 0, 0})
	suite.Require().NoError(err)
	suite.InDelta(0.5, p, 1e-9)

	_, err = model.Probability(suite.ctx, types.DirectionHold, []float64{0, 0, 0})
	suite.Error(err)

	_, err = model.Probability(suite.ctx, types.DirectionBuy, []float64{0})
	suite.Equal(errors.ErrCodeModelInferenceFailed, errors.GetCode(err))
}

func (suite *ClassifierTestSuite) TestLoadLogisticModel() {
	path := filepath.Join(suite.T().TempDir(), "model.json")
	suite.Require().NoError(os.WriteFile(path, []byte(fmt.Sprintf(logisticModel, 0)), 0644))

	model, err := LoadLogisticModel(path)
	suite.Require().NoError(err)
	suite.Equal("1.0.0", model.Version)

	_, err = LoadLogisticModel(filepath.Join(suite.T().TempDir(), "missing.json"))
	suite.Equal(errors.ErrCodeModelLoadFailed, errors.GetCode(err))
}

func (suite *ClassifierTestSuite) TestLogisticModelValidation() {
	tests := []struct {
		name  string
		input string
		code  errors.ErrorCode
	}{
		{name: "not json", input: "{", code: errors.ErrCodeModelLoadFailed},
		{name: "missing version", input: `{"features":["pvo","diff","hilo_diff"],"buy":{"weights":[0,0,0]},"sell":{"weights":[0,0,0]}}`, code: errors.ErrCodeModelLoadFailed},
		{name: "newer format", input: `{"version":"2.0.0","features":["pvo","diff","hilo_diff"],"buy":{"weights":[0,0,0]},"sell":{"weights":[0,0,0]}}`, code: errors.ErrCodeVersionMismatch},
		{name: "bad version", input: `{"version":"x","features":["pvo","diff","hilo_diff"],"buy":{"weights":[0,0,0]},"sell":{"weights":[0,0,0]}}`, code: errors.ErrCodeInvalidVersion},
		{name: "unknown feature", input: `{"version":"1.0.0","features":["pvo","diff","rsi"],"buy":{"weights":[0,0,0]},"sell":{"weights":[0,0,0]}}`, code: errors.ErrCodeModelLoadFailed},
		{name: "weight count", input: `{"version":"1.0.0","features":["pvo","diff","hilo_diff"],"buy":{"weights":[0,0]},"sell":{"weights":[0,0,0]}}`, code: errors.ErrCodeModelLoadFailed},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			_, err := ParseLogisticModel([]byte(tc.input))
			suite.Require().Error(err)
			suite.Equal(tc.code, errors.GetCode(err))
		})
	}
}

func (suite *ClassifierTestSuite) TestONNXClassifierNeedsModels() {
	_, err := NewONNXClassifier(ONNXConfig{})
	suite.Equal(errors.ErrCodeMissingParameter, errors.GetCode(err))
}

// closingClassifier counts Close calls.
type closingClassifier struct {
	ClassifierFunc
	closed int
}

func (c *closingClassifier) Close() error {
	c.closed++

	return nil
}

func (suite *ClassifierTestSuite) TestFilteredCloseReleasesClassifier() {
	classifier := &closingClassifier{ClassifierFunc: constant(0.8)}
	f := suite.filtered(classifier)

	suite.NoError(Close(f))
	suite.Equal(1, classifier.closed)

	// classifiers without resources are left alone
	suite.NoError(Close(suite.filtered(constant(0.8))))
	suite.NoError(Close(Hold{}))
}

func (suite *ClassifierTestSuite) TestClosedONNXClassifierFails() {
	classifier := &ONNXClassifier{}
	suite.NoError(classifier.Close())

	_, err := classifier.Probability(suite.ctx, types.DirectionBuy, []float64{1, 2, 3})
	suite.Equal(errors.ErrCodeModelInferenceFailed, errors.GetCode(err))

	_, err = classifier.Probability(suite.ctx, types.DirectionHold, []float64{1, 2, 3})
	suite.Equal(errors.ErrCodeInvalidSignal, errors.GetCode(err))
}
