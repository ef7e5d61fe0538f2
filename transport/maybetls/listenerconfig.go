package maybetls

import (
	"fmt"
	"net"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/defs"
)

// ListenerConfig defines the listener part of network inputs in config file
type ListenerConfig struct {
	Address           string            `yaml:"address"`           // network address, e.g. "localhost:514". Empty host or port means any.
	TLS               TLSConfig         `yaml:"tls"`               // optional TLS
	AllowedPeers      []string          `yaml:"allowedPeers"`      // glob patterns of peer IPs; empty to allow all
	KeepAlive         time.Duration     `yaml:"keepAlive"`         // 0 for default, negative to disable
	ReceiveBufferSize datasize.ByteSize `yaml:"receiveBufferSize"` // 0 for default
}

// VerifyConfig checks configuration
func (cfg *ListenerConfig) VerifyConfig() error {
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return fmt.Errorf(".address has invalid format: %w", err)
	}
	if err := cfg.TLS.VerifyConfig(); err != nil {
		return fmt.Errorf(".tls%w", prefixDot(err))
	}
	if _, err := NewPeerFilter(cfg.AllowedPeers); err != nil {
		return fmt.Errorf(".allowedPeers%w", prefixDot(err))
	}
	if cfg.ReceiveBufferSize.Bytes() > uint64(defs.ListenerReadBufferMax)*16 {
		return fmt.Errorf(".receiveBufferSize is too large: %s", cfg.ReceiveBufferSize.HumanReadable())
	}
	return nil
}

// Bind builds the Acceptor if TLS is enabled and then binds the listening socket
//
// TLS errors such as ErrMissingIdentity are returned before any socket is bound.
func (cfg *ListenerConfig) Bind(parentLogger logger.Logger, metricCreator promreg.MetricCreator) (*Listener, error) {
	var acceptor *Acceptor
	settings, err := cfg.TLS.Resolve()
	if err != nil {
		return nil, err
	}
	if cfg.TLS.Enabled {
		acceptor, err = NewAcceptor(settings)
		if err != nil {
			return nil, err
		}
	}

	var filter *PeerFilter
	if len(cfg.AllowedPeers) > 0 {
		filter, err = NewPeerFilter(cfg.AllowedPeers)
		if err != nil {
			return nil, err
		}
	}

	lsnr, err := Bind(parentLogger, cfg.Address, acceptor, metricCreator)
	if err != nil {
		return nil, err
	}
	lsnr.peerFilter = filter
	lsnr.tuning = cfg.tuning()
	return lsnr, nil
}

func (cfg *ListenerConfig) tuning() Tuning {
	t := Tuning{
		KeepAlive:          cfg.KeepAlive,
		ReceiveBufferBytes: int(cfg.ReceiveBufferSize.Bytes()),
		ReceiveBufferMin:   defs.ListenerReadBufferMin,
	}
	if t.KeepAlive == 0 {
		t.KeepAlive = defs.ListenerKeepAlivePeriod
	}
	if t.ReceiveBufferBytes == 0 {
		t.ReceiveBufferBytes = defs.ListenerReadBufferMax
	}
	return t
}

// prefixDot makes nested field errors such as ".minVersion: ..." join with the parent path, or adds ": " otherwise
func prefixDot(err error) error {
	msg := err.Error()
	if len(msg) > 0 && (msg[0] == '.' || msg[0] == '[') {
		return fieldError{msg: msg, err: err}
	}
	return fieldError{msg: ": " + msg, err: err}
}

type fieldError struct {
	msg string
	err error
}

func (e fieldError) Error() string { return e.msg }
func (e fieldError) Unwrap() error { return e.err }
