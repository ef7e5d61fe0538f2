package baseoutput

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/transport/maybetls"
)

// UpstreamConfig defines the upstream section of network outputs in config file
type UpstreamConfig struct {
	Address string                   `yaml:"address"`
	TLS     maybetls.ClientTLSConfig `yaml:"tls"`
}

// VerifyConfig checks configuration
func (cfg *UpstreamConfig) VerifyConfig() error {
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return fmt.Errorf(".address has invalid format: %w", err)
	}
	if _, err := cfg.newConnector(logger.Root()); err != nil {
		return fmt.Errorf(".tls: %w", err)
	}
	return nil
}

func (cfg *UpstreamConfig) newConnector(parentLogger logger.Logger) (*maybetls.Connector, error) {
	settings, err := cfg.TLS.Resolve()
	if err != nil {
		return nil, err
	}
	return maybetls.NewConnector(parentLogger, cfg.Address, settings)
}

// SessionOpener performs protocol-specific handshake on a new connection, e.g. authentication
type SessionOpener func(conn net.Conn) error

// AckWaiter reads the acknowledgement of a sent batch from the connection
type AckWaiter func(conn net.Conn) error

// Upstream is a single lazily-opened connection to upstream, used by the worker goroutine of an output
//
// There is no retry: a batch which fails to be sent or acknowledged is dropped along with the connection, and the
// next batch opens a new connection.
type Upstream struct {
	logger    logger.Logger
	connector *maybetls.Connector
	open      SessionOpener // may be nil
	metrics   clientMetrics
	conn      net.Conn // nil if not connected
}

// NewUpstream creates an Upstream without connecting
func NewUpstream(parentLogger logger.Logger, cfg UpstreamConfig, outputType string, open SessionOpener,
	metricCreator promreg.MetricCreator) (*Upstream, error) {

	ulogger := parentLogger.WithFields(logger.Fields{
		defs.LabelPart:    "upstream",
		defs.LabelAddress: cfg.Address,
	})
	connector, err := cfg.newConnector(ulogger)
	if err != nil {
		return nil, err
	}
	return &Upstream{
		logger:    ulogger,
		connector: connector,
		open:      open,
		metrics:   newClientMetrics(metricCreator, outputType),
	}, nil
}

// Send sends the packet containing numRecords records, and waits for acknowledgement if awaitAck isn't nil
//
// Not for concurrent use
func (up *Upstream) Send(packet []byte, numRecords int, awaitAck AckWaiter) error {
	up.metrics.OnForwarding()
	if err := up.send(packet, numRecords, awaitAck); err != nil {
		up.metrics.OnError(err)
		up.Drop(numRecords, err.Error())
		up.closeConnection()
		return err
	}
	return nil
}

// Drop counts records which are never going to be sent. It's safe for concurrent use.
func (up *Upstream) Drop(numRecords int, reason string) {
	up.logger.Warnf("dropped %d records: %s", numRecords, reason)
	up.metrics.OnDropped(numRecords)
}

func (up *Upstream) send(packet []byte, numRecords int, awaitAck AckWaiter) error {
	if up.conn == nil {
		if err := up.openConnection(); err != nil {
			return err
		}
	}
	if err := up.conn.SetWriteDeadline(time.Now().Add(defs.OutputSendTimeout)); err != nil {
		return err
	}
	if _, err := up.conn.Write(packet); err != nil {
		return err
	}
	up.metrics.OnForwarded(numRecords, len(packet))
	if awaitAck == nil {
		return nil
	}
	if err := up.conn.SetReadDeadline(time.Now().Add(defs.OutputAckTimeout)); err != nil {
		return err
	}
	if err := awaitAck(up.conn); err != nil {
		return err
	}
	up.metrics.OnAcknowledged()
	return nil
}

func (up *Upstream) openConnection() error {
	conn, err := up.connector.Connect(context.Background())
	if err != nil {
		return err
	}
	if up.open != nil {
		if err := up.open(conn); err != nil {
			conn.Close()
			return err
		}
	}
	up.logger.Infof("opened connection from %s", conn.LocalAddr())
	up.conn = conn
	up.metrics.OnOpened()
	return nil
}

func (up *Upstream) closeConnection() {
	if up.conn == nil {
		return
	}
	up.logger.Info("close connection")
	up.conn.Close()
	up.conn = nil
	up.metrics.OnClosed()
}

// Close closes the current connection if any. Not for concurrent use with Send.
func (up *Upstream) Close() {
	up.closeConnection()
}
