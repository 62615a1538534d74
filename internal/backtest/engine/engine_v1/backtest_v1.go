package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/decision"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// sourceFactory builds the decision source of one run from its configuration.
type sourceFactory struct {
	name  string
	build func(config BacktestEngineV1Config) (decision.Source, error)
	// owned sources are built per run and closed when the run ends
	owned bool
}

type BacktestEngineV1 struct {
	config         BacktestEngineV1Config
	sources        []sourceFactory
	runConfigPaths []string
	runConfigs     []string
	dataPaths      []string
	resultsFolder  string
	log            *logger.Logger
	registry       decision.Registry
	state          *BacktestState
	datasource     datasource.DataSource
	results        []types.RunStats
}

func NewBacktestEngineV1() engine.Engine {
	return &BacktestEngineV1{
		config:   EmptyConfig(),
		log:      logger.NewNopLogger(),
		registry: decision.DefaultRegistry(),
	}
}

// Initialize implements engine.Engine.
func (b *BacktestEngineV1) Initialize(config string) error {
	parsed, err := ParseConfig(config)
	if err != nil {
		return err
	}

	b.config = parsed

	// initialize the logger
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}

	b.log = log

	b.log.Debug("Backtest engine initialized",
		zap.String("config", config),
	)

	b.state, err = NewBacktestState(b.log)
	if err != nil {
		return fmt.Errorf("failed to create backtest state: %w", err)
	}

	if err := b.state.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize state: %w", err)
	}

	return nil
}

// SetLogger replaces the engine logger.
func (b *BacktestEngineV1) SetLogger(log *logger.Logger) {
	if log != nil {
		b.log = log
	}
}

// SetRegistry replaces the decision source registry used by LoadDecisionSourceByName.
func (b *BacktestEngineV1) SetRegistry(registry decision.Registry) {
	b.registry = registry
}

// LoadDecisionSource implements engine.Engine.
func (b *BacktestEngineV1) LoadDecisionSource(source decision.Source) error {
	if source == nil {
		return errors.New(errors.ErrCodeNoDecisionSource, "decision source is nil")
	}

	b.sources = append(b.sources, sourceFactory{
		name: decision.NameOf(source),
		build: func(BacktestEngineV1Config) (decision.Source, error) {
			return source, nil
		},
	})

	b.log.Debug("Decision source loaded",
		zap.Int("total_sources", len(b.sources)),
	)

	return nil
}

// LoadDecisionSourceByName implements engine.Engine.
func (b *BacktestEngineV1) LoadDecisionSourceByName(name string) error {
	if _, err := b.registry.Get(name); err != nil {
		return err
	}

	b.sources = append(b.sources, sourceFactory{
		name: name,
		build: func(config BacktestEngineV1Config) (decision.Source, error) {
			return b.registry.New(name, config.DecisionParams())
		},
		owned: true,
	})

	b.log.Debug("Decision source loaded",
		zap.String("name", name),
		zap.Int("total_sources", len(b.sources)),
	)

	return nil
}

// SetConfigPath implements engine.Engine.
func (b *BacktestEngineV1) SetConfigPath(path string) error {
	// use glob to get all the files that match the path
	files, err := filepath.Glob(path)
	if err != nil {
		b.log.Error("Failed to set config path",
			zap.String("path", path),
			zap.Error(err),
		)

		return err
	}

	b.runConfigPaths = files
	b.log.Debug("Config paths set",
		zap.Strings("files", files),
	)

	return nil
}

// SetConfigContent implements engine.Engine.
func (b *BacktestEngineV1) SetConfigContent(configs []string) error {
	b.runConfigs = configs
	b.runConfigPaths = nil
	b.log.Debug("Config content set",
		zap.Int("count", len(configs)),
	)

	return nil
}

// SetDataPath implements engine.Engine.
func (b *BacktestEngineV1) SetDataPath(path string) error {
	// use glob to get all the files that match the path
	files, err := filepath.Glob(path)
	if err != nil {
		b.log.Error("Failed to set data path",
			zap.String("path", path),
			zap.Error(err),
		)

		return err
	}

	// Convert all paths to absolute paths
	absolutePaths := make([]string, len(files))

	for i, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			b.log.Error("Failed to get absolute path",
				zap.String("path", file),
				zap.Error(err),
			)

			return err
		}

		absolutePaths[i] = absPath
	}

	b.dataPaths = absolutePaths
	b.log.Debug("Data paths set",
		zap.Strings("files", absolutePaths),
	)

	return nil
}

// SetResultsFolder implements engine.Engine.
func (b *BacktestEngineV1) SetResultsFolder(folder string) error {
	b.resultsFolder = folder
	b.log.Debug("Results folder set",
		zap.String("folder", folder),
	)

	return nil
}

func (b *BacktestEngineV1) SetDataSource(datasource datasource.DataSource) error {
	b.datasource = datasource

	return nil
}

// Results returns the statistics of every completed run of the last Run call.
func (b *BacktestEngineV1) Results() []types.RunStats {
	return append([]types.RunStats(nil), b.results...)
}

type runConfig struct {
	name   string
	config BacktestEngineV1Config
}

// runConfigurations applies every run configuration on top of the base configuration.
func (b *BacktestEngineV1) runConfigurations() ([]runConfig, error) {
	type configItem struct {
		name    string
		content string
	}

	var items []configItem

	if len(b.runConfigs) > 0 {
		for i, content := range b.runConfigs {
			items = append(items, configItem{
				name:    fmt.Sprintf("config_%d", i),
				content: content,
			})
		}
	} else {
		for _, configPath := range b.runConfigPaths {
			content, err := os.ReadFile(configPath)
			if err != nil {
				b.log.Error("Failed to read config",
					zap.String("config", configPath),
					zap.Error(err),
				)

				return nil, err
			}

			items = append(items, configItem{
				name:    configPath,
				content: string(content),
			})
		}
	}

	if len(items) == 0 {
		return []runConfig{{name: "default", config: b.config}}, nil
	}

	configs := make([]runConfig, 0, len(items))

	for _, item := range items {
		config := b.config
		if err := yaml.Unmarshal([]byte(item.content), &config); err != nil {
			return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config %s", item.name)
		}

		config = config.WithDefaults()
		if err := config.Validate(); err != nil {
			return nil, err
		}

		configs = append(configs, runConfig{name: item.name, config: config})
	}

	return configs, nil
}

// Run implements engine.Engine.
func (b *BacktestEngineV1) Run(ctx context.Context, callbacks engine.LifecycleCallbacks) (err error) {
	if callbacks.OnBacktestEnd != nil {
		defer func() {
			(*callbacks.OnBacktestEnd)(err)
		}()
	}

	if err := b.preRunCheck(); err != nil {
		return err
	}

	configs, err := b.runConfigurations()
	if err != nil {
		return err
	}

	// remove results folder if it exists
	if _, err := os.Stat(b.resultsFolder); err == nil {
		os.RemoveAll(b.resultsFolder)
	}

	if err := os.MkdirAll(b.resultsFolder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeResultsWriteFailed, "failed to create results folder", err)
	}

	b.results = nil

	if callbacks.OnBacktestStart != nil {
		if err := (*callbacks.OnBacktestStart)(len(b.sources), len(configs), len(b.dataPaths)); err != nil {
			return errors.Wrap(errors.ErrCodeCallbackFailed, "backtest start callback failed", err)
		}
	}

	for sourceIndex, source := range b.sources {
		if callbacks.OnSourceStart != nil {
			if err := (*callbacks.OnSourceStart)(sourceIndex, source.name, len(b.sources)); err != nil {
				return errors.Wrap(errors.ErrCodeCallbackFailed, "source start callback failed", err)
			}
		}

		for configIndex, cfg := range configs {
			for dataIndex, dataPath := range b.dataPaths {
				if err := b.runOne(ctx, callbacks, source, configIndex, cfg, dataIndex, dataPath); err != nil {
					return err
				}
			}
		}

		if callbacks.OnSourceEnd != nil {
			(*callbacks.OnSourceEnd)(sourceIndex, source.name)
		}
	}

	return nil
}

// runOne simulates one source on one configuration and data file and writes its results.
func (b *BacktestEngineV1) runOne(ctx context.Context, callbacks engine.LifecycleCallbacks, source sourceFactory, configIndex int, cfg runConfig, dataIndex int, dataPath string) error {
	if err := b.datasource.Initialize(dataPath); err != nil {
		return err
	}

	series, err := datasource.LoadSeries(b.datasource, cfg.config.Symbols, cfg.config.StartTime, cfg.config.EndTime)
	if err != nil {
		return err
	}

	src, err := source.build(cfg.config)
	if err != nil {
		return err
	}

	if source.owned {
		defer func() {
			if err := decision.Close(src); err != nil {
				b.log.Warn("Failed to close decision source",
					zap.String("source", source.name),
					zap.Error(err),
				)
			}
		}()
	}

	sim, err := NewSimulation(cfg.config, series, src, b.log)
	if err != nil {
		return err
	}

	runID := sim.ID()
	resultFolderPath := getResultFolder(b.resultsFolder, source.name, cfg.name, dataPath, cfg.config)

	b.log.Debug("Running decision source",
		zap.String("source", source.name),
		zap.String("config", cfg.name),
		zap.String("data", dataPath),
		zap.String("result", resultFolderPath),
	)

	if callbacks.OnRunStart != nil {
		if err := (*callbacks.OnRunStart)(runID, configIndex, cfg.name, dataIndex, dataPath, sim.Cycles()); err != nil {
			return errors.Wrap(errors.ErrCodeCallbackFailed, "run start callback failed", err)
		}
	}

	if callbacks.OnTimeline != nil {
		(*callbacks.OnTimeline)(runID, sim.Timeline())
	}

	sim.SetHooks(Hooks{
		OnTrade: func(trade types.TradeOutcome) error {
			_, err := b.state.RecordTrade(runID, trade)

			return err
		},
		OnCycle: func(current int, total int) error {
			if entry, ok := sim.Timeline().Last(); ok {
				if err := b.state.RecordEntry(runID, entry); err != nil {
					return err
				}
			}

			if callbacks.OnProcessData != nil {
				return (*callbacks.OnProcessData)(current, total)
			}

			return nil
		},
	})

	_, runErr := sim.Run(ctx)

	// partial results of a cancelled run are still written
	if runErr != nil && !errors.HasCode(runErr, errors.ErrCodeSimulationCancelled) {
		return runErr
	}

	if err := b.writeResults(sim, dataPath, resultFolderPath); err != nil {
		return err
	}

	if err := b.state.Cleanup(); err != nil {
		return fmt.Errorf("failed to cleanup run: %w", err)
	}

	if callbacks.OnRunEnd != nil {
		(*callbacks.OnRunEnd)(configIndex, cfg.name, dataIndex, dataPath, resultFolderPath)
	}

	return runErr
}

func (b *BacktestEngineV1) GetConfigSchema() (string, error) {
	config := b.config

	schema, err := config.GenerateSchemaJSON()
	if err != nil {
		return "", fmt.Errorf("failed to generate schema: %w", err)
	}

	return schema, nil
}

func (b *BacktestEngineV1) writeResults(sim *Simulation, dataPath string, resultFolderPath string) error {
	if b.state == nil {
		return errors.New(errors.ErrCodeSimulationNotReady, "backtest state is nil")
	}

	tradesPath, timelinePath, err := b.state.Write(resultFolderPath)
	if err != nil {
		return err
	}

	stats := sim.Stats()
	stats.TradesFilePath = tradesPath
	stats.TimelineFilePath = timelinePath
	stats.DataPath = dataPath

	if err := types.WriteRunStats(filepath.Join(resultFolderPath, "stats.yaml"), []types.RunStats{stats}); err != nil {
		return errors.Wrap(errors.ErrCodeResultsWriteFailed, "failed to write stats", err)
	}

	b.results = append(b.results, stats)

	return nil
}

func (b *BacktestEngineV1) preRunCheck() error {
	if len(b.sources) == 0 {
		b.log.Error("No decision sources loaded")

		return errors.New(errors.ErrCodeNoDecisionSource, "no decision sources loaded")
	}

	if len(b.dataPaths) == 0 {
		b.log.Error("No data paths loaded")

		return errors.New(errors.ErrCodeNoDataPaths, "no data paths loaded")
	}

	if b.resultsFolder == "" {
		b.log.Error("No results folder set")

		return errors.New(errors.ErrCodeNoResultsDir, "no results folder set")
	}

	if b.datasource == nil {
		b.log.Error("No datasource set")

		return errors.New(errors.ErrCodeDataSourceUnavailable, "no datasource set")
	}

	if b.state == nil {
		b.log.Error("Engine not initialized")

		return errors.New(errors.ErrCodeSimulationNotReady, "engine not initialized")
	}

	return nil
}
