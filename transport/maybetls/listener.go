// Package maybetls provides TCP listeners whose connections may or may not be secured by TLS
//
// Connections are handed out by the accept loop immediately; the TLS handshake is deferred until the consumer
// performs I/O on the connection, so a slow or malicious client never blocks accepting other connections.
package maybetls

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/defs"
)

const (
	acceptRetryDelayMin = 5 * time.Millisecond
	acceptRetryDelayMax = 1 * time.Second
)

// AcceptResult is one outcome from Listener.AcceptStream, either Conn or Err is set
type AcceptResult struct {
	Conn *IncomingConn
	Err  error
}

// Listener is a bound TCP socket with an optional Acceptor shared by all connections accepted from it
type Listener struct {
	logger     logger.Logger
	socket     *net.TCPListener
	acceptTCP  func() (*net.TCPConn, error)
	acceptor   *Acceptor   // nil for raw TCP
	peerFilter *PeerFilter // nil to accept any peer
	tuning     Tuning
	metrics    listenerMetrics
	streamOnce sync.Once
	stream     chan AcceptResult
}

// Bind creates a socket listening on the given TCP address
//
// The given address may use port zero, which would cause the port to be assigned by OS. Use Addr to get the result.
//
// Returns *BindError if the address cannot be bound
func Bind(parentLogger logger.Logger, address string, acceptor *Acceptor, metricCreator promreg.MetricCreator) (*Listener, error) {
	socket, err := net.Listen("tcp", address)
	if err != nil {
		return nil, &BindError{Address: address, Err: err}
	}
	boundAddr := socket.Addr().String()

	security := "tcp"
	if acceptor != nil {
		security = "tls"
	}

	lsnr := &Listener{
		logger: parentLogger.WithFields(logger.Fields{
			defs.LabelComponent: "Listener",
			defs.LabelAddress:   boundAddr,
			defs.LabelSecurity:  security,
		}),
		socket:   socket.(*net.TCPListener),
		acceptor: acceptor,
		metrics:  newListenerMetrics(metricCreator, boundAddr, security),
	}
	lsnr.acceptTCP = lsnr.socket.AcceptTCP
	lsnr.logger.Info("start listening")
	return lsnr, nil
}

// Addr returns the bound address, including the actual port
func (lsnr *Listener) Addr() net.Addr {
	return lsnr.socket.Addr()
}

// Secured tells whether connections accepted from this listener negotiate TLS
func (lsnr *Listener) Secured() bool {
	return lsnr.acceptor != nil
}

// Tuning returns the configured socket options for accepted connections
func (lsnr *Listener) Tuning() Tuning {
	return lsnr.tuning
}

// Accept waits for the next connection and returns it without any handshake
//
// The connection is Raw if the listener has no Acceptor, or Negotiating otherwise. Peers rejected by the peer
// filter are closed and skipped. Errors are returned as *AcceptError, wrapping net.ErrClosed after Close.
func (lsnr *Listener) Accept() (*IncomingConn, error) {
	for {
		socket, err := lsnr.acceptTCP()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				lsnr.metrics.acceptErrorsTotal.Inc()
			}
			return nil, &AcceptError{Err: err}
		}
		peer := socket.RemoteAddr()
		if lsnr.peerFilter != nil && !lsnr.peerFilter.Allow(peer) {
			lsnr.logger.Warnf("rejected connection from %s: not in allowed peers %s", peer, lsnr.peerFilter)
			lsnr.metrics.rejectedConnectionsTotal.Inc()
			socket.Close()
			continue
		}
		lsnr.metrics.acceptedConnectionsTotal.Inc()
		return newIncomingConn(socket, lsnr.acceptor, lsnr.onHandshake), nil
	}
}

func (lsnr *Listener) onHandshake(conn *IncomingConn, err error) {
	lsnr.metrics.OnHandshake(err)
	if err != nil {
		lsnr.logger.Warnf("handshake error: %s", err.Error())
	} else {
		lsnr.logger.Debugf("handshake completed with %s", conn.PeerAddr())
	}
}

// AcceptStream returns the unbounded sequence of accept outcomes, in arrival order
//
// Accept errors are delivered as elements and don't end the sequence; the channel is closed only after the listener
// is closed. The sequence is started by the first call and shared by later calls. Consumers must keep receiving
// until the channel is closed, and close any connection they don't use.
func (lsnr *Listener) AcceptStream() <-chan AcceptResult {
	lsnr.streamOnce.Do(func() {
		lsnr.stream = make(chan AcceptResult)
		go lsnr.runAcceptStream()
	})
	return lsnr.stream
}

func (lsnr *Listener) runAcceptStream() {
	defer close(lsnr.stream)
	lsnr.logger.Info("start accept loop")
	retryDelay := time.Duration(0)
	for {
		conn, err := lsnr.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			lsnr.stream <- AcceptResult{Err: err}
			// back off from repeated failures such as EMFILE
			if retryDelay == 0 {
				retryDelay = acceptRetryDelayMin
			} else if retryDelay *= 2; retryDelay > acceptRetryDelayMax {
				retryDelay = acceptRetryDelayMax
			}
			time.Sleep(retryDelay)
			continue
		}
		retryDelay = 0
		lsnr.stream <- AcceptResult{Conn: conn}
	}
	lsnr.logger.Info("end accept loop")
}

// NetListener returns an adapter for net.Listener consumers such as http.Server
//
// Accept errors other than closing are logged and skipped inside the adapter.
func (lsnr *Listener) NetListener() net.Listener {
	return netListener{lsnr}
}

// Close closes the listening socket. Connections already accepted are not affected.
func (lsnr *Listener) Close() error {
	lsnr.logger.Info("close listener")
	return lsnr.socket.Close()
}

type netListener struct {
	lsnr *Listener
}

func (nl netListener) Accept() (net.Conn, error) {
	retryDelay := acceptRetryDelayMin
	for {
		conn, err := nl.lsnr.Accept()
		if err == nil {
			return conn, nil
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		nl.lsnr.logger.Warn(err)
		time.Sleep(retryDelay)
		if retryDelay *= 2; retryDelay > acceptRetryDelayMax {
			retryDelay = acceptRetryDelayMax
		}
	}
}

func (nl netListener) Close() error {
	return nl.lsnr.Close()
}

func (nl netListener) Addr() net.Addr {
	return nl.lsnr.Addr()
}
