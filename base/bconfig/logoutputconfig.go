package bconfig

import (
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
)

// LogOutputConfig is the configuration of the output shared by all inputs
type LogOutputConfig interface {
	BaseConfig

	NewOutput(parentLogger logger.Logger, metricCreator promreg.MetricCreator) (base.LogOutput, error)

	VerifyConfig() error
}

// LogOutputConfigHolder decodes any registered LogOutputConfig
type LogOutputConfigHolder = ConfigHolder[LogOutputConfig]

// RegisterOutputType adds an output type for "type" in output configuration. Panics on duplicates.
func RegisterOutputType(typeName string, newConfig func() LogOutputConfig) {
	outputTypes.add(typeName, newConfig)
}
