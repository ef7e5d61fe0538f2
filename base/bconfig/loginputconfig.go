package bconfig

import (
	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
)

// LogInputConfig is the configuration of one input endpoint, decoded from an item under "inputs"
type LogInputConfig interface {
	BaseConfig

	// NewInput binds the endpoint right away, so that bind errors are reported before anything is launched
	NewInput(parentLogger logger.Logger, receiver base.MultiSinkMessageReceiver, metricCreator promreg.MetricCreator,
		stopRequest channels.Awaitable) (base.LogInput, error)

	VerifyConfig() error
}

// LogInputConfigHolder decodes any registered LogInputConfig
type LogInputConfigHolder = ConfigHolder[LogInputConfig]

// RegisterInputType adds an input type for "type" in input configurations. Panics on duplicates.
func RegisterInputType(typeName string, newConfig func() LogInputConfig) {
	inputTypes.add(typeName, newConfig)
}
