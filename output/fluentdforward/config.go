// Package fluentdforward provides an output to forward messages to Fluentd by the Forward protocol
//
// Each flush of a sink becomes one message in "Forward" mode, with each record as {"log": message}.
package fluentdforward

import (
	"fmt"
	"net"

	"github.com/relex/fluentlib/protocol/forwardprotocol"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/output/baseoutput"
)

// Config defines configuration for fluentd-forward output
type Config struct {
	bconfig.Header `yaml:",inline"`
	Tag            string                    `yaml:"tag"`
	Secret         string                    `yaml:"secret"`     // shared key for handshake; empty to skip handshake
	RequireAck     bool                      `yaml:"requireAck"` // wait for ACK of each message
	Upstream       baseoutput.UpstreamConfig `yaml:"upstream"`
}

// NewOutput creates the output. Connection is not opened until the first batch.
func (cfg *Config) NewOutput(parentLogger logger.Logger, metricCreator promreg.MetricCreator) (base.LogOutput, error) {
	outputLogger := parentLogger.WithField(defs.LabelComponent, "FluentdForwardOutput")

	var opener baseoutput.SessionOpener
	if len(cfg.Secret) > 0 {
		opener = cfg.doHandshake
	}
	upstream, err := baseoutput.NewUpstream(outputLogger, cfg.Upstream, "fluentdForward", opener, metricCreator)
	if err != nil {
		return nil, err
	}
	return baseoutput.NewBatchOutput(outputLogger, upstream, func() baseoutput.BatchEncoder {
		return newEncoder(cfg.Tag, cfg.RequireAck)
	}), nil
}

// VerifyConfig checks configuration
func (cfg *Config) VerifyConfig() error {
	if len(cfg.Tag) == 0 {
		return fmt.Errorf(".tag is empty")
	}
	if err := cfg.Upstream.VerifyConfig(); err != nil {
		return fmt.Errorf(".upstream%w", err)
	}
	return nil
}

func (cfg *Config) doHandshake(conn net.Conn) error {
	success, reason, err := forwardprotocol.DoClientHandshake(conn, cfg.Secret, defs.ConnectorHandshakeTimeout)
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("handshake rejected: %s", reason)
	}
	return nil
}
