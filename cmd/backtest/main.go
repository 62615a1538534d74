package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine"
	enginev1 "github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/decision"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/stream"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

func newLogger(cmd *cli.Command) (*logger.Logger, error) {
	return logger.NewLoggerWithLevel(logger.ParseLevel(cmd.String("log-level")))
}

// runAction runs every decision source on every configuration and data file.
func runAction(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	config, err := os.ReadFile(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	eng := enginev1.NewBacktestEngineV1()
	if err := eng.Initialize(string(config)); err != nil {
		return fmt.Errorf("failed to initialize backtest engine: %w", err)
	}

	backtester, ok := eng.(*enginev1.BacktestEngineV1)
	if !ok {
		return fmt.Errorf("unexpected engine type %T", eng)
	}

	backtester.SetLogger(log)

	for _, name := range cmd.StringSlice("source") {
		if err := eng.LoadDecisionSourceByName(name); err != nil {
			return fmt.Errorf("failed to load decision source %s: %w", name, err)
		}
	}

	if runConfig := cmd.String("run-config"); runConfig != "" {
		if err := eng.SetConfigPath(runConfig); err != nil {
			return err
		}
	}

	if err := eng.SetDataPath(cmd.String("data")); err != nil {
		return err
	}

	if err := eng.SetResultsFolder(cmd.String("results")); err != nil {
		return err
	}

	ds, err := datasource.NewDataSource(":memory:", log.Named("datasource"))
	if err != nil {
		return err
	}
	defer ds.Close()

	if err := eng.SetDataSource(ds); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar

	onRunStart := engine.OnRunStartCallback(func(runID string, configIndex int, configName string, dataFileIndex int, dataFilePath string, totalCycles int) error {
		bar = progressbar.Default(int64(totalCycles), fmt.Sprintf("%s %s", configName, dataFilePath))

		return nil
	})
	onProcessData := engine.OnProcessDataCallback(func(current int, total int) error {
		return bar.Set(current)
	})
	onRunEnd := engine.OnRunEndCallback(func(configIndex int, configName string, dataFileIndex int, dataFilePath string, resultFolderPath string) {
		bar.Finish()
		fmt.Printf("\nResults written to %s\n", resultFolderPath)
	})

	callbacks := engine.LifecycleCallbacks{
		OnRunStart:    &onRunStart,
		OnProcessData: &onProcessData,
		OnRunEnd:      &onRunEnd,
	}

	if addr := cmd.String("serve"); addr != "" {
		server := stream.NewServer(log)
		if err := server.Start(addr); err != nil {
			return err
		}

		defer func() {
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			server.Stop(shutdown)
		}()

		fmt.Printf("Streaming timelines on http://%s/runs\n", server.Address())

		onTimeline := engine.OnTimelineCallback(server.Register)
		callbacks.OnTimeline = &onTimeline
	}

	runErr := eng.Run(ctx, callbacks)

	for _, stats := range backtester.Results() {
		fmt.Printf("%s %s: final value %.2f, return %.2f%%, trades %d, warnings %d\n",
			stats.Name, stats.DataPath, stats.FinalValue, stats.Return()*100, stats.Trades, stats.Warnings)
	}

	if errors.HasCode(runErr, errors.ErrCodeSimulationCancelled) {
		fmt.Println("Backtest cancelled, partial results were written")

		return nil
	}

	return runErr
}

// compareAction runs two registered sources side by side on one data file.
func compareAction(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	content, err := os.ReadFile(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config, err := enginev1.ParseConfig(string(content))
	if err != nil {
		return err
	}

	ds, err := datasource.NewDataSource(":memory:", log.Named("datasource"))
	if err != nil {
		return err
	}
	defer ds.Close()

	if err := ds.Initialize(cmd.String("data")); err != nil {
		return err
	}

	series, err := datasource.LoadSeries(ds, config.Symbols, config.StartTime, config.EndTime)
	if err != nil {
		return err
	}

	registry := decision.DefaultRegistry()

	baseline, err := registry.New(cmd.String("baseline"), config.DecisionParams())
	if err != nil {
		return err
	}
	defer decision.Close(baseline)

	variant, err := registry.New(cmd.String("variant"), config.DecisionParams())
	if err != nil {
		return err
	}
	defer decision.Close(variant)

	comparison, err := enginev1.RunComparison(ctx, config, series, baseline, variant, log)
	if err != nil {
		return err
	}

	fmt.Printf("%-16s final value %.2f, trades %d\n",
		comparison.BaselineStats.Name, comparison.BaselineStats.FinalValue, comparison.BaselineStats.Trades)
	fmt.Printf("%-16s final value %.2f, trades %d\n",
		comparison.VariantStats.Name, comparison.VariantStats.FinalValue, comparison.VariantStats.Trades)
	fmt.Printf("difference       %.2f\n", comparison.Difference())

	return nil
}

func schemaAction(_ context.Context, _ *cli.Command) error {
	schema, err := enginev1.NewBacktestEngineV1().GetConfigSchema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	configFlag := &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to the backtest configuration YAML",
		Sources:  cli.EnvVars("ARGO_CONFIG"),
		Required: true,
	}
	logLevelFlag := &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("ARGO_LOG_LEVEL"),
	}

	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Simulate decision sources on historical quotes",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run decision sources on every data file",
				Flags: []cli.Flag{
					configFlag,
					logLevelFlag,
					&cli.StringFlag{
						Name:    "run-config",
						Usage:   "Glob of configuration overlays; each one is a separate run",
						Sources: cli.EnvVars("ARGO_RUN_CONFIG"),
					},
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Glob of parquet or CSV quote files",
						Sources:  cli.EnvVars("ARGO_DATA"),
						Required: true,
					},
					&cli.StringFlag{
						Name:    "results",
						Aliases: []string{"r"},
						Usage:   "Results folder",
						Value:   "results",
						Sources: cli.EnvVars("ARGO_RESULTS"),
					},
					&cli.StringSliceFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Registered decision source, can be repeated",
						Value:   []string{enginev1.DefaultDecisionName},
						Sources: cli.EnvVars("ARGO_SOURCES"),
					},
					&cli.StringFlag{
						Name:    "serve",
						Usage:   "Address to stream timelines on, such as :8080",
						Sources: cli.EnvVars("ARGO_SERVE"),
					},
				},
				Action: runAction,
			},
			{
				Name:  "compare",
				Usage: "Compare two decision sources on the same data",
				Flags: []cli.Flag{
					configFlag,
					logLevelFlag,
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Parquet or CSV quote file",
						Sources:  cli.EnvVars("ARGO_DATA"),
						Required: true,
					},
					&cli.StringFlag{
						Name:  "baseline",
						Usage: "Baseline decision source",
						Value: "buy_and_hold",
					},
					&cli.StringFlag{
						Name:  "variant",
						Usage: "Variant decision source",
						Value: enginev1.DefaultDecisionName,
					},
				},
				Action: compareAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the configuration JSON schema",
				Action: schemaAction,
			},
		},
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, stopping...")
		cancel()
	}()

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
