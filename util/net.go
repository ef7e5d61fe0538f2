package util

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsNetworkClosed checks if the given error tells closing of network connection
func IsNetworkClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err.Error() == "use of closed network connection"
	}
	return false
}

// IsNetworkTimeout checks if the given error is network timeout
func IsNetworkTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNetworkError checks if the given error comes from network or socket operations
func IsNetworkError(err error) bool {
	if IsNetworkClosed(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var errno syscall.Errno
	return errors.As(err, &errno)
}

// TrySetTCPReadBuffer attempts to set read buffer within the range given
func TrySetTCPReadBuffer(conn *net.TCPConn, max int, min int) (int, error) {
	var err error
	val := max
	for val >= min {
		err = conn.SetReadBuffer(val)
		if err == nil {
			return val, nil
		}
		if !strings.HasSuffix(err.Error(), "setsockopt: no buffer space available") {
			return -1, err
		}
		val /= 2
	}
	if val != min {
		err = conn.SetReadBuffer(min)
		if err == nil {
			return min, nil
		}
	}
	return -1, err
}

// GetTCPReadBuffer queries the actual receive buffer size of the socket, as reported by the OS
//
// Linux reports double of the value set, to include bookkeeping overhead
func GetTCPReadBuffer(conn *net.TCPConn) (int, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	size := -1
	var serr error
	if cerr := rawConn.Control(func(fd uintptr) {
		size, serr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	}); cerr != nil {
		return -1, cerr
	}
	return size, serr
}

// IsTCPKeepAliveEnabled queries whether SO_KEEPALIVE is set on the socket
func IsTCPKeepAliveEnabled(conn *net.TCPConn) (bool, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return false, err
	}
	value := 0
	var serr error
	if cerr := rawConn.Control(func(fd uintptr) {
		value, serr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	}); cerr != nil {
		return false, cerr
	}
	return value != 0, serr
}

// GetFDFromTCPConn returns the socket FD of the given connection
//
// The FD is only valid until the connection is closed and may be reused by the OS afterwards
func GetFDFromTCPConn(conn *net.TCPConn) (uintptr, error) {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var socketFD uintptr
	if cerr := rawConn.Control(func(fd uintptr) {
		socketFD = fd
	}); cerr != nil {
		return 0, cerr
	}
	return socketFD, nil
}
