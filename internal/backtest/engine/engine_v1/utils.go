package engine

import (
	"fmt"
	"path/filepath"
	"strings"
)

func getResultFolder(resultsFolder string, sourceName string, configName string, dataPath string, config BacktestEngineV1Config) string {
	// Create base folders for source and config
	sourceFolder := filepath.Join(resultsFolder, sourceName)
	configFolder := filepath.Join(sourceFolder, strings.TrimSuffix(filepath.Base(configName), filepath.Ext(configName)))

	// Create data folder with time range if specified
	var dataFolder string

	if config.StartTime.IsSome() || config.EndTime.IsSome() {
		startTimeStr := "all"
		endTimeStr := "all"

		if config.StartTime.IsSome() {
			startTimeStr = config.StartTime.Unwrap().Format("20060102")
		}

		if config.EndTime.IsSome() {
			endTimeStr = config.EndTime.Unwrap().Format("20060102")
		}

		timeRange := fmt.Sprintf("%s_%s", startTimeStr, endTimeStr)
		dataFolder = filepath.Join(configFolder, timeRange)
	} else {
		dataFolder = configFolder
	}

	// Add data file name as the final folder
	dataFileName := strings.TrimSuffix(filepath.Base(dataPath), filepath.Ext(dataPath))

	return filepath.Join(dataFolder, dataFileName)
}
