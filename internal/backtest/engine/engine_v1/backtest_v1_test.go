package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	engine_types "github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/timeline"
	"github.com/rxtech-lab/argo-backtest/internal/decision"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/mocks"
	argoerrors "github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gopkg.in/yaml.v3"
)

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestEngine returns an initialized engine reading quotes from a mock data
// source that serves the given series for every data file.
func newTestEngine(t *testing.T, config string, series ...types.InstrumentSeries) (*BacktestEngineV1, *mocks.MockDataSource) {
	t.Helper()

	ctrl := gomock.NewController(t)

	var quotes []types.Quote
	for _, s := range series {
		quotes = append(quotes, s.Quotes...)
	}

	memory := datasource.NewInMemoryDataSource(quotes)

	ds := mocks.NewMockDataSource(ctrl)
	ds.EXPECT().Initialize(gomock.Any()).Return(nil).AnyTimes()
	ds.EXPECT().Symbols().DoAndReturn(memory.Symbols).AnyTimes()
	ds.EXPECT().ReadAll(gomock.Any(), gomock.Any()).DoAndReturn(
		func(start optional.Option[time.Time], end optional.Option[time.Time]) func(func(types.Quote, error) bool) {
			return memory.ReadAll(start, end)
		},
	).AnyTimes()

	eng, ok := NewBacktestEngineV1().(*BacktestEngineV1)
	require.True(t, ok)

	require.NoError(t, eng.Initialize(config))
	eng.SetLogger(logger.NewNopLogger())
	require.NoError(t, eng.SetDataSource(ds))

	t.Cleanup(func() {
		eng.state.Close()
	})

	return eng, ds
}

// dataFiles creates empty placeholder files so the data path glob matches.
func dataFiles(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	return filepath.Join(dir, "*.parquet")
}

// closingSource holds and counts Close calls.
type closingSource struct {
	decision.Hold
	closed *int
}

func (c closingSource) Close() error {
	*c.closed++

	return nil
}

func TestBacktestEngineV1_Run(t *testing.T) {
	t.Run("Complete execution flow through Run function", func(t *testing.T) {
		eng, _ := newTestEngine(t, "initial_deposit: 10000\ncommission: 1",
			mocks.ConstantSeries("AAPL", testStart, 20, 100),
		)

		resultsDir := t.TempDir()

		require.NoError(t, eng.LoadDecisionSource(decision.BuyAndHold{}))
		require.NoError(t, eng.SetDataPath(dataFiles(t, "first.parquet", "second.parquet")))
		require.NoError(t, eng.SetResultsFolder(resultsDir))

		var (
			starts, ends, cycles int
			timelines            []*timeline.Timeline
			endErr               = errors.New("not called")
		)

		onBacktestStart := engine_types.OnBacktestStartCallback(func(totalSources int, totalConfigs int, totalDataFiles int) error {
			assert.Equal(t, 1, totalSources)
			assert.Equal(t, 1, totalConfigs)
			assert.Equal(t, 2, totalDataFiles)

			return nil
		})
		onBacktestEnd := engine_types.OnBacktestEndCallback(func(err error) {
			endErr = err
		})
		onRunStart := engine_types.OnRunStartCallback(func(runID string, configIndex int, configName string, dataFileIndex int, dataFilePath string, totalCycles int) error {
			starts++

			assert.NotEmpty(t, runID)
			assert.Equal(t, "default", configName)
			assert.Equal(t, 20, totalCycles)

			return nil
		})
		onRunEnd := engine_types.OnRunEndCallback(func(configIndex int, configName string, dataFileIndex int, dataFilePath string, resultFolderPath string) {
			ends++
		})
		onProcessData := engine_types.OnProcessDataCallback(func(current int, total int) error {
			cycles++

			return nil
		})
		onTimeline := engine_types.OnTimelineCallback(func(runID string, tl *timeline.Timeline) {
			timelines = append(timelines, tl)
		})

		err := eng.Run(context.Background(), engine_types.LifecycleCallbacks{
			OnBacktestStart: &onBacktestStart,
			OnBacktestEnd:   &onBacktestEnd,
			OnRunStart:      &onRunStart,
			OnRunEnd:        &onRunEnd,
			OnProcessData:   &onProcessData,
			OnTimeline:      &onTimeline,
		})
		require.NoError(t, err)
		assert.NoError(t, endErr)

		assert.Equal(t, 2, starts)
		assert.Equal(t, 2, ends)
		assert.Equal(t, 40, cycles)
		require.Len(t, timelines, 2)
		assert.True(t, timelines[0].Closed())
		assert.Equal(t, 20, timelines[0].Len())

		for _, name := range []string{"first", "second"} {
			folder := filepath.Join(resultsDir, "buy_and_hold", "default", name)
			assert.FileExists(t, filepath.Join(folder, "stats.yaml"))
			assert.FileExists(t, filepath.Join(folder, "trades.parquet"))
			assert.FileExists(t, filepath.Join(folder, "timeline.parquet"))
			assert.FileExists(t, filepath.Join(folder, "positions.parquet"))
		}

		results := eng.Results()
		require.Len(t, results, 2)

		for _, stats := range results {
			assert.Equal(t, 20, stats.Cycles)
			assert.Equal(t, 1, stats.Trades)
			assert.InDelta(t, 10000-1.0, stats.FinalValue, 1e-9)
			assert.False(t, stats.Cancelled)
		}

		content, err := os.ReadFile(filepath.Join(resultsDir, "buy_and_hold", "default", "first", "stats.yaml"))
		require.NoError(t, err)

		var written []types.RunStats
		require.NoError(t, yaml.Unmarshal(content, &written))
		require.Len(t, written, 1)
		assert.Equal(t, results[0].ID, written[0].ID)
		assert.Equal(t, "buy_and_hold", written[0].Name)
	})

	t.Run("Run configurations overlay the base configuration", func(t *testing.T) {
		eng, _ := newTestEngine(t, "initial_deposit: 10000\ncommission: 1",
			mocks.ConstantSeries("AAPL", testStart, 10, 100),
		)

		resultsDir := t.TempDir()

		require.NoError(t, eng.LoadDecisionSource(decision.BuyAndHold{}))
		require.NoError(t, eng.SetConfigContent([]string{"commission: 0", "commission: 5"}))
		require.NoError(t, eng.SetDataPath(dataFiles(t, "prices.parquet")))
		require.NoError(t, eng.SetResultsFolder(resultsDir))

		require.NoError(t, eng.Run(context.Background(), engine_types.LifecycleCallbacks{}))

		results := eng.Results()
		require.Len(t, results, 2)
		assert.Equal(t, 10000.0, results[0].FinalValue)
		assert.InDelta(t, 10000-5.0, results[1].FinalValue, 1e-9)

		assert.DirExists(t, filepath.Join(resultsDir, "buy_and_hold", "config_0", "prices"))
		assert.DirExists(t, filepath.Join(resultsDir, "buy_and_hold", "config_1", "prices"))
	})

	t.Run("Invalid run configuration", func(t *testing.T) {
		eng, _ := newTestEngine(t, "initial_deposit: 10000",
			mocks.ConstantSeries("AAPL", testStart, 10, 100),
		)

		require.NoError(t, eng.LoadDecisionSource(decision.Hold{}))
		require.NoError(t, eng.SetConfigContent([]string{"margin_req: 2"}))
		require.NoError(t, eng.SetDataPath(dataFiles(t, "prices.parquet")))
		require.NoError(t, eng.SetResultsFolder(t.TempDir()))

		err := eng.Run(context.Background(), engine_types.LifecycleCallbacks{})
		require.Error(t, err)
		assert.True(t, argoerrors.HasCode(err, argoerrors.ErrCodeInvalidConfiguration))
	})

	t.Run("Sources loaded by name", func(t *testing.T) {
		eng, _ := newTestEngine(t, "initial_deposit: 10000\nperiod: 3",
			mocks.FixedSeries("AAPL", testStart, 100, 101, 102, 103, 104, 103, 102, 101, 100, 99),
		)

		resultsDir := t.TempDir()

		require.NoError(t, eng.LoadDecisionSourceByName("sma"))
		require.NoError(t, eng.LoadDecisionSourceByName("hold"))
		require.NoError(t, eng.SetDataPath(dataFiles(t, "prices.parquet")))
		require.NoError(t, eng.SetResultsFolder(resultsDir))

		var sources []string

		onSourceStart := engine_types.OnSourceStartCallback(func(sourceIndex int, sourceName string, totalSources int) error {
			sources = append(sources, sourceName)

			return nil
		})

		require.NoError(t, eng.Run(context.Background(), engine_types.LifecycleCallbacks{
			OnSourceStart: &onSourceStart,
		}))

		assert.Equal(t, []string{"sma", "hold"}, sources)
		require.Len(t, eng.Results(), 2)
		assert.Equal(t, 10000.0, eng.Results()[1].FinalValue)
		assert.DirExists(t, filepath.Join(resultsDir, "sma", "default", "prices"))
	})

	t.Run("Sources built by name are closed after each run", func(t *testing.T) {
		eng, _ := newTestEngine(t, "initial_deposit: 10000",
			mocks.ConstantSeries("AAPL", testStart, 5, 100),
		)

		var built, loaded int

		registry := decision.NewRegistry()
		require.NoError(t, registry.Register("closing", func(decision.Params) (decision.Source, error) {
			return closingSource{closed: &built}, nil
		}))
		eng.SetRegistry(registry)

		require.NoError(t, eng.LoadDecisionSourceByName("closing"))
		require.NoError(t, eng.LoadDecisionSource(closingSource{closed: &loaded}))
		require.NoError(t, eng.SetDataPath(dataFiles(t, "first.parquet", "second.parquet")))
		require.NoError(t, eng.SetResultsFolder(t.TempDir()))

		require.NoError(t, eng.Run(context.Background(), engine_types.LifecycleCallbacks{}))

		assert.Equal(t, 2, built)
		// sources handed over by value stay open for the caller
		assert.Equal(t, 0, loaded)
	})

	t.Run("Unknown source name", func(t *testing.T) {
		eng := NewBacktestEngineV1()

		err := eng.LoadDecisionSourceByName("does_not_exist")
		require.Error(t, err)
	})

	t.Run("Callback error aborts the backtest", func(t *testing.T) {
		eng, _ := newTestEngine(t, "initial_deposit: 10000",
			mocks.ConstantSeries("AAPL", testStart, 10, 100),
		)

		require.NoError(t, eng.LoadDecisionSource(decision.Hold{}))
		require.NoError(t, eng.SetDataPath(dataFiles(t, "prices.parquet")))
		require.NoError(t, eng.SetResultsFolder(t.TempDir()))

		abort := errors.New("stop")
		onProcessData := engine_types.OnProcessDataCallback(func(current int, total int) error {
			if current == 3 {
				return abort
			}

			return nil
		})

		var endErr error

		onBacktestEnd := engine_types.OnBacktestEndCallback(func(err error) {
			endErr = err
		})

		err := eng.Run(context.Background(), engine_types.LifecycleCallbacks{
			OnProcessData: &onProcessData,
			OnBacktestEnd: &onBacktestEnd,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, abort)
		assert.True(t, argoerrors.HasCode(err, argoerrors.ErrCodeCallbackFailed))
		assert.Equal(t, err, endErr)
	})

	t.Run("Cancelled backtest still writes partial results", func(t *testing.T) {
		eng, _ := newTestEngine(t, "initial_deposit: 10000",
			mocks.ConstantSeries("AAPL", testStart, 10, 100),
		)

		resultsDir := t.TempDir()

		require.NoError(t, eng.LoadDecisionSource(decision.Hold{}))
		require.NoError(t, eng.SetDataPath(dataFiles(t, "prices.parquet")))
		require.NoError(t, eng.SetResultsFolder(resultsDir))

		ctx, cancel := context.WithCancel(context.Background())

		onProcessData := engine_types.OnProcessDataCallback(func(current int, total int) error {
			if current == 4 {
				cancel()
			}

			return nil
		})

		err := eng.Run(ctx, engine_types.LifecycleCallbacks{OnProcessData: &onProcessData})
		require.Error(t, err)
		assert.True(t, argoerrors.HasCode(err, argoerrors.ErrCodeSimulationCancelled))

		require.Len(t, eng.Results(), 1)
		assert.True(t, eng.Results()[0].Cancelled)
		assert.Equal(t, 4, eng.Results()[0].Cycles)
		assert.FileExists(t, filepath.Join(resultsDir, "hold", "default", "prices", "stats.yaml"))
	})
}

func TestBacktestEngineV1_PreRunCheck(t *testing.T) {
	tests := []struct {
		name  string
		setup func(eng *BacktestEngineV1)
		code  argoerrors.ErrorCode
	}{
		{
			name:  "no decision source",
			setup: func(eng *BacktestEngineV1) {},
			code:  argoerrors.ErrCodeNoDecisionSource,
		},
		{
			name: "no data paths",
			setup: func(eng *BacktestEngineV1) {
				_ = eng.LoadDecisionSource(decision.Hold{})
			},
			code: argoerrors.ErrCodeNoDataPaths,
		},
		{
			name: "no results folder",
			setup: func(eng *BacktestEngineV1) {
				_ = eng.LoadDecisionSource(decision.Hold{})
				eng.dataPaths = []string{"data.parquet"}
			},
			code: argoerrors.ErrCodeNoResultsDir,
		},
		{
			name: "no data source",
			setup: func(eng *BacktestEngineV1) {
				_ = eng.LoadDecisionSource(decision.Hold{})
				eng.dataPaths = []string{"data.parquet"}
				eng.resultsFolder = "results"
			},
			code: argoerrors.ErrCodeDataSourceUnavailable,
		},
		{
			name: "not initialized",
			setup: func(eng *BacktestEngineV1) {
				_ = eng.LoadDecisionSource(decision.Hold{})
				eng.dataPaths = []string{"data.parquet"}
				eng.resultsFolder = "results"
				eng.datasource = datasource.NewInMemoryDataSource(nil)
			},
			code: argoerrors.ErrCodeSimulationNotReady,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng, ok := NewBacktestEngineV1().(*BacktestEngineV1)
			require.True(t, ok)

			tc.setup(eng)

			err := eng.Run(context.Background(), engine_types.LifecycleCallbacks{})
			require.Error(t, err)
			assert.True(t, argoerrors.HasCode(err, tc.code), "expected code %d, got %v", tc.code, err)
		})
	}
}

func TestBacktestEngineV1_Initialize(t *testing.T) {
	eng := NewBacktestEngineV1()

	err := eng.Initialize("initial_deposit: -1")
	require.Error(t, err)
	assert.True(t, argoerrors.HasCode(err, argoerrors.ErrCodeInvalidConfiguration))

	require.NoError(t, eng.LoadDecisionSource(decision.Hold{}))
	assert.Error(t, eng.LoadDecisionSource(nil))
}

func TestBacktestEngineV1_GetConfigSchema(t *testing.T) {
	eng := NewBacktestEngineV1()

	schema, err := eng.GetConfigSchema()
	require.NoError(t, err)
	assert.Contains(t, schema, "initial_deposit")
	assert.Contains(t, schema, "backtest-engine-v1-config")
}
