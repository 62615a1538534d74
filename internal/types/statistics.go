package types

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunStats are the diagnostics exposed next to a results timeline.
type RunStats struct {
	// ID is the unique identifier for this run.
	ID string `yaml:"id" json:"id"`
	// Name identifies the decision source of the run.
	Name      string    `yaml:"name" json:"name"`
	StartedAt time.Time `yaml:"started_at" json:"started_at"`
	Cycles    int       `yaml:"cycles" json:"cycles"`
	Trades    int       `yaml:"trades" json:"trades"`
	// Warnings counts skipped instruments, decision failures and malformed signals.
	Warnings         int `yaml:"warnings" json:"warnings"`
	DecisionFailures int `yaml:"decision_failures" json:"decision_failures"`
	InvalidQuotes    int `yaml:"invalid_quotes" json:"invalid_quotes"`
	// MarginRejections counts trades clamped or rejected for lack of margin or cash.
	MarginRejections int  `yaml:"margin_rejections" json:"margin_rejections"`
	MarginCalls      int  `yaml:"margin_calls" json:"margin_calls"`
	GapsFilled       int  `yaml:"gaps_filled" json:"gaps_filled"`
	CyclesDropped    int  `yaml:"cycles_dropped" json:"cycles_dropped"`
	Cancelled        bool `yaml:"cancelled" json:"cancelled"`

	InitialDeposit float64 `yaml:"initial_deposit" json:"initial_deposit"`
	Deposits       float64 `yaml:"deposits" json:"deposits"`
	FinalValue     float64 `yaml:"final_value" json:"final_value"`
	TotalExpenses  float64 `yaml:"total_expenses" json:"total_expenses"`

	// TimelineFilePath is the path to the timeline parquet file.
	TimelineFilePath string `yaml:"timeline_file_path,omitempty" json:"timeline_file_path,omitempty"`
	// TradesFilePath is the path to the trades parquet file.
	TradesFilePath string `yaml:"trades_file_path,omitempty" json:"trades_file_path,omitempty"`
	// DataPath is the quote data used for this run.
	DataPath string `yaml:"data_path,omitempty" json:"data_path,omitempty"`
}

// Return is the final value relative to everything deposited.
func (s RunStats) Return() float64 {
	invested := s.InitialDeposit + s.Deposits
	if invested == 0 {
		return 0
	}

	return (s.FinalValue - invested) / invested
}

func WriteRunStats(path string, stats []RunStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal run stats to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run stats to file: %w", err)
	}

	return nil
}
