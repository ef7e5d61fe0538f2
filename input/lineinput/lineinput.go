// Package lineinput provides an input source for newline-delimited text over TCP, optionally secured by TLS
//
// Multi-line messages are supported if a pattern is given to recognize the first line of each message. Due to
// multi-line support, such messages are delayed until the arrival of the next message or flush timeout.
package lineinput

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/input/tcplistener"
	"github.com/relex/slog-ingest/transport/maybetls"
)

// Config provides configuration for line input
type Config struct {
	bconfig.Header          `yaml:",inline"`
	maybetls.ListenerConfig `yaml:",inline"`
	MultiLineStart          string `yaml:"multiLineStart"` // glob pattern of the first line of a message; empty if every line is a message
}

type input struct {
	listener base.LogListener
	address  string
}

// NewInput binds the listening socket and creates the line listener on it
func (cfg *Config) NewInput(parentLogger logger.Logger, receiver base.MultiSinkMessageReceiver, metricCreator promreg.MetricCreator,
	stopRequest channels.Awaitable) (base.LogInput, error) {

	testRecord, err := cfg.compileMultiLineStart()
	if err != nil {
		return nil, err
	}

	inputLogger := parentLogger.WithField(defs.LabelComponent, "LineInput")
	inputMetricCreator := metricCreator.AddOrGetPrefix("input_", []string{"protocol"}, []string{"line"})

	socket, err := cfg.ListenerConfig.Bind(inputLogger, inputMetricCreator)
	if err != nil {
		return nil, err
	}

	return &input{
		listener: tcplistener.NewTCPLineListener(inputLogger, socket, testRecord, receiver, stopRequest),
		address:  socket.Addr().String(),
	}, nil
}

// VerifyConfig checks configuration
func (cfg *Config) VerifyConfig() error {
	if err := cfg.ListenerConfig.VerifyConfig(); err != nil {
		return err
	}
	if _, err := cfg.compileMultiLineStart(); err != nil {
		return err
	}
	return nil
}

func (cfg *Config) compileMultiLineStart() (func(ln []byte) bool, error) {
	if len(cfg.MultiLineStart) == 0 {
		return nil, nil
	}
	pattern, err := glob.Compile(cfg.MultiLineStart)
	if err != nil {
		return nil, fmt.Errorf(".multiLineStart: '%s': %w", cfg.MultiLineStart, err)
	}
	return func(ln []byte) bool {
		return pattern.Match(string(ln))
	}, nil
}

func (in *input) Address() string {
	return in.address
}

func (in *input) Stopped() channels.Awaitable {
	return in.listener.Stopped()
}

func (in *input) Launch() {
	in.listener.Launch()
}
