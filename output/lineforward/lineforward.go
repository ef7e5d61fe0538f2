// Package lineforward provides an output to forward messages as newline-delimited text over TCP or TLS
package lineforward

import (
	"fmt"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/output/baseoutput"
)

// Config defines configuration for line-forward output
type Config struct {
	bconfig.Header `yaml:",inline"`
	Upstream       baseoutput.UpstreamConfig `yaml:"upstream"`
}

// NewOutput creates the output. Connection is not opened until the first batch.
func (cfg *Config) NewOutput(parentLogger logger.Logger, metricCreator promreg.MetricCreator) (base.LogOutput, error) {
	outputLogger := parentLogger.WithField(defs.LabelComponent, "LineForwardOutput")
	upstream, err := baseoutput.NewUpstream(outputLogger, cfg.Upstream, "lineForward", nil, metricCreator)
	if err != nil {
		return nil, err
	}
	return baseoutput.NewBatchOutput(outputLogger, upstream, newLineEncoder), nil
}

// VerifyConfig checks configuration
func (cfg *Config) VerifyConfig() error {
	if err := cfg.Upstream.VerifyConfig(); err != nil {
		return fmt.Errorf(".upstream%w", err)
	}
	return nil
}

type lineEncoder struct {
	buffer []byte
}

func newLineEncoder() baseoutput.BatchEncoder {
	return &lineEncoder{}
}

func (enc *lineEncoder) Encode(records [][]byte) ([]byte, baseoutput.AckWaiter, error) {
	enc.buffer = enc.buffer[:0]
	for _, rec := range records {
		enc.buffer = append(enc.buffer, rec...)
		enc.buffer = append(enc.buffer, '\n')
	}
	return enc.buffer, nil, nil
}
