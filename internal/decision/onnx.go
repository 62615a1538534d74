package decision

import (
	"context"
	"sync"

	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the ONNX runtime and one model per signal direction.
// Each model takes a [1, len(FeatureNames)] float32 input and returns the
// probability as the first element of its output.
type ONNXConfig struct {
	LibraryPath   string
	BuyModelPath  string
	SellModelPath string
	InputName     string
	OutputName    string
}

var (
	ortOnce sync.Once
	ortErr  error
)

// InitializeONNXRuntime loads the shared library once per process.
func InitializeONNXRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}

		ortErr = ort.InitializeEnvironment()
	})

	if ortErr != nil {
		return errors.Wrap(errors.ErrCodeModelLoadFailed, "failed to initialize onnx runtime", ortErr)
	}

	return nil
}

type onnxModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// ONNXClassifier runs exported classifier models through onnxruntime.
type ONNXClassifier struct {
	mu   sync.Mutex
	buy  *onnxModel
	sell *onnxModel
}

func NewONNXClassifier(config ONNXConfig) (*ONNXClassifier, error) {
	if config.BuyModelPath == "" || config.SellModelPath == "" {
		return nil, errors.New(errors.ErrCodeMissingParameter, "onnx classifier needs a buy and a sell model")
	}

	if config.InputName == "" {
		config.InputName = "input"
	}

	if config.OutputName == "" {
		config.OutputName = "output"
	}

	if err := InitializeONNXRuntime(config.LibraryPath); err != nil {
		return nil, err
	}

	buy, err := newONNXModel(config.BuyModelPath, config.InputName, config.OutputName)
	if err != nil {
		return nil, err
	}

	sell, err := newONNXModel(config.SellModelPath, config.InputName, config.OutputName)
	if err != nil {
		buy.destroy()

		return nil, err
	}

	return &ONNXClassifier{buy: buy, sell: sell}, nil
}

func newONNXModel(path string, inputName string, outputName string) (*onnxModel, error) {
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(FeatureNames))), make([]float32, len(FeatureNames)))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeModelLoadFailed, "failed to create input tensor", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()

		return nil, errors.Wrap(errors.ErrCodeModelLoadFailed, "failed to create output tensor", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{inputName}, []string{outputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()

		return nil, errors.Wrapf(errors.ErrCodeModelLoadFailed, err, "failed to load model %s", path)
	}

	return &onnxModel{session: session, input: input, output: output}, nil
}

// Probability implements Classifier. Sessions share tensors, so calls are serialized.
func (c *ONNXClassifier) Probability(_ context.Context, direction types.Direction, features []float64) (float64, error) {
	if direction != types.DirectionBuy && direction != types.DirectionSell {
		return 0, errors.Newf(errors.ErrCodeInvalidSignal, "no model for direction %q", direction)
	}

	if len(features) != len(FeatureNames) {
		return 0, errors.Newf(errors.ErrCodeModelInferenceFailed, "expected %d features, got %d", len(FeatureNames), len(features))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	model := c.buy
	if direction == types.DirectionSell {
		model = c.sell
	}

	if model == nil {
		return 0, errors.New(errors.ErrCodeModelInferenceFailed, "onnx classifier is closed")
	}

	data := model.input.GetData()
	for i, x := range features {
		data[i] = float32(x)
	}

	if err := model.session.Run(); err != nil {
		return 0, errors.Wrap(errors.ErrCodeModelInferenceFailed, "inference failed", err)
	}

	return float64(model.output.GetData()[0]), nil
}

// Close releases both sessions.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buy.destroy()
	c.sell.destroy()
	c.buy, c.sell = nil, nil

	return nil
}

func (m *onnxModel) destroy() {
	if m == nil {
		return
	}

	if m.session != nil {
		m.session.Destroy()
	}

	if m.input != nil {
		m.input.Destroy()
	}

	if m.output != nil {
		m.output.Destroy()
	}
}
