package run

import (
	"fmt"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
)

// Loader loads configuration from file and prepares the environments to be launched
//
// Loader should take care of everything derived from the config file, but not trigger anything automatically
//
// Output and inputs are exposed in place of a simple main loop to allow customization, see Run()
type Loader struct {
	*Config
	metricCreator promreg.MetricCreator
}

// NewLoaderFromConfigFile loads and verifies the config file
func NewLoaderFromConfigFile(filepath string, metricCreator promreg.MetricCreator) (*Loader, error) {
	config, configErr := LoadConfigFile(filepath)
	if configErr != nil {
		return nil, configErr
	}
	return NewLoader(config, metricCreator), nil
}

// NewLoader creates a Loader from verified config
func NewLoader(config *Config, metricCreator promreg.MetricCreator) *Loader {
	return &Loader{
		Config:        config,
		metricCreator: metricCreator,
	}
}

// LaunchOutput creates the output to be shared by all inputs
func (loader *Loader) LaunchOutput(parentLogger logger.Logger) (base.LogOutput, error) {
	output, err := loader.Output.Value.NewOutput(parentLogger, loader.metricCreator)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	return output, nil
}

// LaunchInputs starts all inputs in background and returns (list of addresses, shutdown function)
//
// The returned input addresses are final, e.g. assigned random port if it's 0 in config file
//
// The returned shutdown function stops all inputs and waits until all their connections are closed. It doesn't
// close the output.
//
// If any input fails to bind, the inputs already launched are shut down before returning the error.
func (loader *Loader) LaunchInputs(parentLogger logger.Logger, receiver base.MultiSinkMessageReceiver) ([]string, func(), error) {
	stopRequest := channels.NewSignalAwaitable()
	inputStoppedSignals := make([]channels.Awaitable, 0, len(loader.Inputs))
	inputAddresses := make([]string, 0, len(loader.Inputs))

	shutdown := func() {
		stopRequest.Signal()
		if len(inputStoppedSignals) > 0 {
			channels.AllAwaitables(inputStoppedSignals...).WaitForever()
		}
	}

	for index, inputConfig := range loader.Inputs {
		input, ierr := inputConfig.Value.NewInput(parentLogger, receiver, loader.metricCreator, stopRequest)
		if ierr != nil {
			shutdown()
			return nil, nil, fmt.Errorf("inputs[%d]: %w", index, ierr)
		}
		input.Launch()

		inputAddresses = append(inputAddresses, input.Address())
		inputStoppedSignals = append(inputStoppedSignals, input.Stopped())
	}

	return inputAddresses, shutdown, nil
}
