package decision

import (
	"sort"
	"sync"

	"github.com/rxtech-lab/argo-backtest/pkg/errors"
)

// Params configure a source built through a Registry. Sources ignore
// parameters they do not use.
type Params struct {
	Period     int
	Support    float64
	Resistance float64
	// ModelPath is the logistic model file for classifier-backed sources.
	ModelPath string
	ONNX      ONNXConfig
	// Threshold is the classifier confirmation probability.
	Threshold float64
}

// Factory builds a decision source.
type Factory func(params Params) (Source, error)

// Registry manages named decision source factories.
type Registry interface {
	Register(name string, factory Factory) error
	Get(name string) (Factory, error)
	New(name string, params Params) (Source, error)
	List() []string
	Remove(name string) error
}

// RegistryV1 is the map-backed Registry.
type RegistryV1 struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *RegistryV1 {
	return &RegistryV1{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry holding every built-in source.
func DefaultRegistry() *RegistryV1 {
	r := NewRegistry()

	builtins := map[string]Factory{
		"hold":         func(Params) (Source, error) { return Hold{}, nil },
		"buy_and_hold": func(Params) (Source, error) { return BuyAndHold{}, nil },
		"sma": func(p Params) (Source, error) {
			return NewMACross(p.Period, true)
		},
		"ema": func(p Params) (Source, error) {
			return NewMACross(p.Period, false)
		},
		"rsi": func(p Params) (Source, error) {
			period, support, resistance := p.Period, p.Support, p.Resistance
			if period == 0 {
				period = DefaultRSIPeriod
			}

			if support == 0 && resistance == 0 {
				support, resistance = DefaultRSISupport, DefaultRSIResistance
			}

			return NewRSIThreshold(period, support, resistance)
		},
		"sma_logistic": func(p Params) (Source, error) {
			model, err := LoadLogisticModel(p.ModelPath)
			if err != nil {
				return nil, err
			}

			return newFilteredMA(p, model, "logistic")
		},
		"sma_onnx": func(p Params) (Source, error) {
			classifier, err := NewONNXClassifier(p.ONNX)
			if err != nil {
				return nil, err
			}

			return newFilteredMA(p, classifier, "onnx")
		},
	}

	for name, factory := range builtins {
		// names are unique
		_ = r.Register(name, factory)
	}

	return r
}

func newFilteredMA(p Params, classifier Classifier, name string) (Source, error) {
	ma, err := NewMACross(p.Period, true)
	if err != nil {
		return nil, err
	}

	threshold := p.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}

	return NewFiltered(ma, classifier, threshold, name)
}

// Register adds a factory to the registry.
func (r *RegistryV1) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" || factory == nil {
		return errors.New(errors.ErrCodeInvalidParameter, "Register: name and factory are required")
	}

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "Register: source with name %s already registered", name)
	}

	r.factories[name] = factory

	return nil
}

// Get retrieves a factory by name.
func (r *RegistryV1) Get(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	if !exists {
		return nil, errors.Newf(errors.ErrCodeUnsupportedStrategy, "Get: source with name %s not found", name)
	}

	return factory, nil
}

// New builds the named source.
func (r *RegistryV1) New(name string, params Params) (Source, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	return factory(params)
}

// List returns the registered names in ascending order.
func (r *RegistryV1) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Remove removes a factory from the registry.
func (r *RegistryV1) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; !exists {
		return errors.Newf(errors.ErrCodeUnsupportedStrategy, "Remove: source with name %s not found", name)
	}

	delete(r.factories, name)

	return nil
}
