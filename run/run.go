// Package run runs the actual log ingestion
package run

import (
	"os"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/defs"
)

// Run launches the output and all inputs from the config file with metrics under metricCreator, and keeps them running until a signal arrives
//
// Inputs are stopped and drained before the output is closed, so that records accepted before the signal are delivered.
func Run(configFile string, metricCreator promreg.MetricCreator, shutdownSignal <-chan os.Signal) error {
	runLogger := logger.WithField(defs.LabelComponent, "Launcher")

	config, err := LoadConfigFile(configFile)
	if err != nil {
		return err
	}
	loader := NewLoader(config, metricCreator)

	output, err := loader.LaunchOutput(logger.Root())
	if err != nil {
		return err
	}
	addresses, shutdownInputs, err := loader.LaunchInputs(logger.Root(), output)
	if err != nil {
		output.Close()
		return err
	}
	runLogger.Infof("accepting logs on %v, output %s", addresses, loader.Output.Value.GetType())

	s := <-shutdownSignal
	runLogger.Infof("received %s, shutting down", s)

	shutdownInputs()
	output.Close()
	runLogger.Info("clean exit")
	return nil
}
