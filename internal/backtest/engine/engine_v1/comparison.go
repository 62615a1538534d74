package engine

import (
	"context"

	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/timeline"
	"github.com/rxtech-lab/argo-backtest/internal/decision"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

// Comparison holds a baseline run and a variant run over the same input.
type Comparison struct {
	Baseline      *timeline.Timeline
	Variant       *timeline.Timeline
	BaselineStats types.RunStats
	VariantStats  types.RunStats
}

// Difference returns the final value of the variant minus the baseline.
func (c *Comparison) Difference() float64 {
	return c.VariantStats.FinalValue - c.BaselineStats.FinalValue
}

// RunComparison runs baseline and variant concurrently on identical
// configuration and series. Each run owns its ledger and timeline. The first
// failure cancels the other run.
func RunComparison(ctx context.Context, config BacktestEngineV1Config, series []types.InstrumentSeries, baseline decision.Source, variant decision.Source, log *logger.Logger) (*Comparison, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	base, err := NewSimulation(config, series, baseline, log.Named("baseline"))
	if err != nil {
		return nil, err
	}

	other, err := NewSimulation(config, series, variant, log.Named("variant"))
	if err != nil {
		return nil, err
	}

	result := &Comparison{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tl, err := base.Run(ctx)
		result.Baseline = tl
		result.BaselineStats = base.Stats()

		return err
	})

	g.Go(func() error {
		tl, err := other.Run(ctx)
		result.Variant = tl
		result.VariantStats = other.Stats()

		return err
	})

	if err := g.Wait(); err != nil {
		return result, err
	}

	log.Info("Comparison finished",
		zap.String("baseline", base.Name()),
		zap.String("variant", other.Name()),
		zap.Float64("baseline_value", result.BaselineStats.FinalValue),
		zap.Float64("variant_value", result.VariantStats.FinalValue),
		zap.Float64("difference", result.Difference()),
	)

	return result, nil
}
