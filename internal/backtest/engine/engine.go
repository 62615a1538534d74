package engine

import (
	"context"

	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/timeline"
	"github.com/rxtech-lab/argo-backtest/internal/decision"
)

// Lifecycle callback types for backtest phases
// All callbacks with error return can abort execution if they return an error

// OnBacktestStartCallback is called when the entire backtest begins.
type OnBacktestStartCallback func(totalSources int, totalConfigs int, totalDataFiles int) error

// OnBacktestEndCallback is called when the entire backtest completes (always called via defer).
type OnBacktestEndCallback func(err error)

// OnSourceStartCallback is called when a decision source iteration begins.
type OnSourceStartCallback func(sourceIndex int, sourceName string, totalSources int) error

// OnSourceEndCallback is called when a decision source iteration ends.
type OnSourceEndCallback func(sourceIndex int, sourceName string)

// OnRunStartCallback is called when processing of a config+data file combination begins.
// runID is a unique identifier for this run, generated before processing starts.
type OnRunStartCallback func(runID string, configIndex int, configName string, dataFileIndex int, dataFilePath string, totalCycles int) error

// OnRunEndCallback is called when processing of a config+data file combination ends.
type OnRunEndCallback func(configIndex int, configName string, dataFileIndex int, dataFilePath string, resultFolderPath string)

// OnProcessDataCallback is called after each settled cycle.
type OnProcessDataCallback func(current int, total int) error

// OnTimelineCallback hands out the live timeline of a run before its first cycle.
type OnTimelineCallback func(runID string, timeline *timeline.Timeline)

// LifecycleCallbacks holds all lifecycle callback functions for the backtest engine.
// All fields are pointers - nil means no callback will be invoked.
type LifecycleCallbacks struct {
	OnBacktestStart *OnBacktestStartCallback
	OnBacktestEnd   *OnBacktestEndCallback
	OnSourceStart   *OnSourceStartCallback
	OnSourceEnd     *OnSourceEndCallback
	OnRunStart      *OnRunStartCallback
	OnRunEnd        *OnRunEndCallback
	OnProcessData   *OnProcessDataCallback
	OnTimeline      *OnTimelineCallback
}

//nolint:interfacebloat // Engine is a core interface that naturally requires multiple methods
type Engine interface {
	// Initialize the engine with the given YAML configuration.
	Initialize(config string) error
	// SetConfigPath sets the path to run configuration files. Each file is
	// applied on top of the configuration passed to Initialize. Accepts glob patterns.
	SetConfigPath(path string) error
	// SetConfigContent sets run configurations directly from string content.
	// This is an alternative to SetConfigPath for programmatic API usage.
	SetConfigContent(configs []string) error
	// SetDataPath sets the path to the market data files. Every file holds one
	// or more instruments; each file is simulated separately.
	// Accepts glob patterns for batch loading (e.g., "data/*.parquet")
	SetDataPath(path string) error
	// SetResultsFolder sets the output directory for saving backtest results.
	// The results folder will be structured as: <source>/<config>/<data file>
	SetResultsFolder(folder string) error
	// LoadDecisionSource adds a decision source. Could be called multiple times to compare sources.
	LoadDecisionSource(source decision.Source) error
	// LoadDecisionSourceByName adds a registered decision source, built from
	// the decision parameters of each run configuration.
	LoadDecisionSourceByName(name string) error
	// Run runs the engine and executes every source on every configuration and data file.
	// The context can be used to cancel the backtest operation.
	// Use LifecycleCallbacks to receive notifications at different phases of the backtest.
	Run(ctx context.Context, callbacks LifecycleCallbacks) error
	// SetDataSource sets the data source for the engine.
	SetDataSource(dataSource datasource.DataSource) error
	// GetConfigSchema returns the schema of the engine configuration
	GetConfigSchema() (string, error)
}
