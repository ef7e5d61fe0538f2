package maybetls

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrMissingIdentity is returned when TLS is required but no certificate and private key are configured
var ErrMissingIdentity = errors.New("TLS identity (certificate and private key) is required")

// ErrNotConnected is returned by operations requiring an established connection, e.g. shutdown or socket tuning
// before the TLS handshake completes or after it has failed
var ErrNotConnected = fmt.Errorf("connection not established: %w", syscall.ENOTCONN)

// ContextBuildError means the TLS material is malformed or the TLS context cannot be constructed from it
type ContextBuildError struct {
	Reason string
	Err    error
}

func (e *ContextBuildError) Error() string {
	if e.Err == nil {
		return "failed to build TLS context: " + e.Reason
	}
	return fmt.Sprintf("failed to build TLS context: %s: %s", e.Reason, e.Err.Error())
}

func (e *ContextBuildError) Unwrap() error {
	return e.Err
}

// BindError means the listening address cannot be bound, e.g. in use or permission denied
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %s", e.Address, e.Err.Error())
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// AcceptError is a failure of a single accept call. The listener keeps serving unless it has been closed.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return "accept() error: " + e.Err.Error()
}

func (e *AcceptError) Unwrap() error {
	return e.Err
}

// HandshakeError is the sticky failure of the TLS handshake of an incoming connection
//
// The same instance is returned for every operation on the connection after the failure
type HandshakeError struct {
	Peer net.Addr
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("TLS handshake with %s failed: %s", e.Peer, e.Err.Error())
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
