package httpinput

import (
	"fmt"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/base/bconfig"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/transport/maybetls"
)

// Config provides configuration for HTTP input
type Config struct {
	bconfig.Header          `yaml:",inline"`
	maybetls.ListenerConfig `yaml:",inline"`
	Path                    string            `yaml:"path"`        // request path to accept logs, "/" by default
	MaxBodySize             datasize.ByteSize `yaml:"maxBodySize"` // max size of decompressed body, 0 for default
}

type input struct {
	listener base.LogListener
	address  string
}

// NewInput binds the listening socket and creates the HTTP server on it
func (cfg *Config) NewInput(parentLogger logger.Logger, receiver base.MultiSinkMessageReceiver, metricCreator promreg.MetricCreator,
	stopRequest channels.Awaitable) (base.LogInput, error) {

	inputLogger := parentLogger.WithField(defs.LabelComponent, "HTTPInput")
	inputMetricCreator := metricCreator.AddOrGetPrefix("input_", []string{"protocol"}, []string{"http"})

	socket, err := cfg.ListenerConfig.Bind(inputLogger, inputMetricCreator)
	if err != nil {
		return nil, err
	}

	return &input{
		listener: newHTTPListener(inputLogger, socket, cfg.path(), cfg.maxBodyBytes(), receiver, inputMetricCreator, stopRequest),
		address:  socket.Addr().String(),
	}, nil
}

// VerifyConfig checks configuration
func (cfg *Config) VerifyConfig() error {
	if err := cfg.ListenerConfig.VerifyConfig(); err != nil {
		return err
	}
	if len(cfg.Path) > 0 && !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf(".path must start with '/': %s", cfg.Path)
	}
	return nil
}

func (cfg *Config) path() string {
	if len(cfg.Path) == 0 {
		return "/"
	}
	return cfg.Path
}

func (cfg *Config) maxBodyBytes() int64 {
	if cfg.MaxBodySize == 0 {
		return int64(defs.HTTPInputMaxBodyBytes)
	}
	return int64(cfg.MaxBodySize.Bytes())
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
