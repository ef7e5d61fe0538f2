package maybetls

import (
	"time"

	"github.com/relex/slog-ingest/util"
)

// Tuning defines optional socket options for accepted connections
type Tuning struct {
	KeepAlive          time.Duration // keep-alive period, 0 to leave as OS default, negative to disable
	ReceiveBufferBytes int           // max receive buffer size to try, 0 to leave as OS default
	ReceiveBufferMin   int           // min receive buffer size to accept when halving ReceiveBufferBytes
}

// SetKeepAlive enables TCP keep-alive with the given period, or disables it if period is negative
//
// Returns ErrNotConnected if the connection is not established yet or has failed
func (conn *IncomingConn) SetKeepAlive(period time.Duration) error {
	socket, ok := conn.TCPConn()
	if !ok {
		return ErrNotConnected
	}
	if period < 0 {
		return socket.SetKeepAlive(false)
	}
	if err := socket.SetKeepAlive(true); err != nil {
		return err
	}
	if period > 0 {
		return socket.SetKeepAlivePeriod(period)
	}
	return nil
}

// SetReceiveBufferBytes tries to set the socket receive buffer, halving the size until accepted or below min
//
// Returns the size set, or ErrNotConnected if the connection is not established yet or has failed
func (conn *IncomingConn) SetReceiveBufferBytes(max int, min int) (int, error) {
	socket, ok := conn.TCPConn()
	if !ok {
		return -1, ErrNotConnected
	}
	return util.TrySetTCPReadBuffer(socket, max, min)
}

// ApplyTuning sets all non-zero options in tuning. Receive buffer size is returned if set, or 0.
func (conn *IncomingConn) ApplyTuning(tuning Tuning) (int, error) {
	if _, ok := conn.TCPConn(); !ok {
		return 0, ErrNotConnected
	}
	if tuning.KeepAlive != 0 {
		if err := conn.SetKeepAlive(tuning.KeepAlive); err != nil {
			return 0, err
		}
	}
	if tuning.ReceiveBufferBytes <= 0 {
		return 0, nil
	}
	min := tuning.ReceiveBufferMin
	if min <= 0 || min > tuning.ReceiveBufferBytes {
		min = tuning.ReceiveBufferBytes
	}
	return conn.SetReceiveBufferBytes(tuning.ReceiveBufferBytes, min)
}
