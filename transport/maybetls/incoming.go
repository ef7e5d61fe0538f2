package maybetls

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the handshake state of an IncomingConn
type State int

// States of IncomingConn. Raw and Secured are established states; Failed is sticky.
const (
	StateRaw State = iota
	StateNegotiating
	StateSecured
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRaw:
		return "raw"
	case StateNegotiating:
		return "negotiating"
	case StateSecured:
		return "secured"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// streamState is the tagged union of per-state payloads, one of:
// rawStream, negotiatingStream, securedStream, failedStream
type streamState interface {
	state() State
}

type rawStream struct {
	conn *net.TCPConn
}

type negotiatingStream struct {
	pending *handshake
}

type securedStream struct {
	conn *tls.Conn
}

type failedStream struct {
	err *HandshakeError
}

func (rawStream) state() State         { return StateRaw }
func (negotiatingStream) state() State { return StateNegotiating }
func (securedStream) state() State     { return StateSecured }
func (failedStream) state() State      { return StateFailed }

// handshake is the deferred server handshake of one connection, run at most once
type handshake struct {
	conn *tls.Conn
}

func (hs *handshake) run(ctx context.Context) (*tls.Conn, error) {
	if err := hs.conn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return hs.conn, nil
}

// IncomingConn is an accepted connection which may or may not be secured by TLS
//
// The TLS handshake, if any, is deferred until the first Read, Write, Flush or Handshake call, which blocks until
// the handshake completes and then performs the requested operation. A failed handshake is never retried: the
// same *HandshakeError is returned to every later call.
//
// IncomingConn implements net.Conn. Read and Write may be called from different goroutines.
type IncomingConn struct {
	socket      *net.TCPConn
	peer        net.Addr                    // cached at accept time, never changed
	current     atomic.Pointer[streamState] // written only with handshakeMu held, or at creation
	handshakeMu sync.Mutex
	onHandshake func(conn *IncomingConn, err error) // called once after a handshake finishes, may be nil
}

func newIncomingConn(socket *net.TCPConn, acceptor *Acceptor, onHandshake func(*IncomingConn, error)) *IncomingConn {
	conn := &IncomingConn{
		socket:      socket,
		peer:        socket.RemoteAddr(),
		onHandshake: onHandshake,
	}
	if acceptor == nil {
		conn.setState(rawStream{conn: socket})
	} else {
		conn.setState(negotiatingStream{pending: acceptor.newHandshake(socket)})
	}
	return conn
}

func (conn *IncomingConn) setState(s streamState) {
	conn.current.Store(&s)
}

func (conn *IncomingConn) loadState() streamState {
	return *conn.current.Load()
}

// State returns the current handshake state
func (conn *IncomingConn) State() State {
	return conn.loadState().state()
}

// PeerAddr returns the remote address recorded at accept time, in any state
func (conn *IncomingConn) PeerAddr() net.Addr {
	return conn.peer
}

// establish returns the stream for application I/O, running the pending handshake if necessary
func (conn *IncomingConn) establish(ctx context.Context) (net.Conn, error) {
	switch s := conn.loadState().(type) {
	case rawStream:
		return s.conn, nil
	case securedStream:
		return s.conn, nil
	case failedStream:
		return nil, s.err
	}

	conn.handshakeMu.Lock()
	defer conn.handshakeMu.Unlock()

	// re-check: another goroutine may have finished the handshake while we were waiting
	switch s := conn.loadState().(type) {
	case rawStream:
		return s.conn, nil
	case securedStream:
		return s.conn, nil
	case failedStream:
		return nil, s.err
	case negotiatingStream:
		tlsConn, err := s.pending.run(ctx)
		if err != nil {
			herr := &HandshakeError{Peer: conn.peer, Err: err}
			conn.setState(failedStream{err: herr})
			conn.notifyHandshake(herr)
			return nil, herr
		}
		conn.setState(securedStream{conn: tlsConn})
		conn.notifyHandshake(nil)
		return tlsConn, nil
	default:
		panic("unknown stream state")
	}
}

func (conn *IncomingConn) notifyHandshake(err error) {
	if conn.onHandshake != nil {
		conn.onHandshake(conn, err)
	}
}

// Handshake drives the pending TLS handshake to completion without performing application I/O
//
// It returns nil immediately for raw or already secured connections, and the cached *HandshakeError for failed
// ones. The handshake aborts and the connection fails if ctx is done before completion.
func (conn *IncomingConn) Handshake(ctx context.Context) error {
	_, err := conn.establish(ctx)
	return err
}

func (conn *IncomingConn) Read(p []byte) (int, error) {
	stream, err := conn.establish(context.Background())
	if err != nil {
		return 0, err
	}
	return stream.Read(p)
}

func (conn *IncomingConn) Write(p []byte) (int, error) {
	stream, err := conn.establish(context.Background())
	if err != nil {
		return 0, err
	}
	return stream.Write(p)
}

// Flush completes any pending handshake. Writes are never buffered here.
func (conn *IncomingConn) Flush() error {
	_, err := conn.establish(context.Background())
	return err
}

// Shutdown closes the write side of an established connection, after sending TLS close_notify if secured
//
// Returns ErrNotConnected if the connection is still negotiating or has failed
func (conn *IncomingConn) Shutdown() error {
	switch s := conn.loadState().(type) {
	case rawStream:
		return s.conn.CloseWrite()
	case securedStream:
		if err := s.conn.CloseWrite(); err != nil {
			return err
		}
		return conn.socket.CloseWrite()
	default:
		return ErrNotConnected
	}
}

// Close closes the socket in any state. A handshake in progress is aborted with a network error.
func (conn *IncomingConn) Close() error {
	return conn.socket.Close()
}

// TCPConn returns the underlying socket if the connection is established (raw or secured)
//
// The socket is for tuning options only; reading or writing it directly would corrupt a TLS stream.
func (conn *IncomingConn) TCPConn() (*net.TCPConn, bool) {
	switch conn.loadState().(type) {
	case rawStream, securedStream:
		return conn.socket, true
	default:
		return nil, false
	}
}

// ConnectionState returns the TLS state if the connection is secured
func (conn *IncomingConn) ConnectionState() (tls.ConnectionState, bool) {
	if s, ok := conn.loadState().(securedStream); ok {
		return s.conn.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// LocalAddr returns the local address of the socket
func (conn *IncomingConn) LocalAddr() net.Addr {
	return conn.socket.LocalAddr()
}

// RemoteAddr is the same as PeerAddr
func (conn *IncomingConn) RemoteAddr() net.Addr {
	return conn.peer
}

// SetDeadline sets deadlines on the socket, which apply to the handshake as well as to application I/O
func (conn *IncomingConn) SetDeadline(t time.Time) error {
	return conn.socket.SetDeadline(t)
}

// SetReadDeadline sets the read deadline on the socket
func (conn *IncomingConn) SetReadDeadline(t time.Time) error {
	return conn.socket.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline on the socket
func (conn *IncomingConn) SetWriteDeadline(t time.Time) error {
	return conn.socket.SetWriteDeadline(t)
}
