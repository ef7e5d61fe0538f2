package defs

import (
	"time"
)

var (
	// InputLogMaxMessageBytes defines the maximum length of a log message received by inputs
	//
	// Longer messages are truncated and the rest up to the next newline is dropped. HTTP inputs cut at exactly this
	// length, while TCP inputs keep whatever has been buffered, which is at least this length.
	InputLogMaxMessageBytes = 1 * 1024 * 1024

	// InputFlushInterval defines how long to call flush from input if no log is received
	//
	// The value affects the delay of logs, as they may not be processed until flush is called
	InputFlushInterval = 500 * time.Millisecond

	// ListenerLineBufferSize defines the initial buffer size in bytes to read lines from a connection
	ListenerLineBufferSize = 64 * 1024

	// ListenerHandshakeTimeout defines how long a line listener waits for the TLS handshake of a new connection
	//
	// The transport layer itself never times out a handshake; only consumers choosing an explicit handshake do
	ListenerHandshakeTimeout = 30 * time.Second

	// ListenerKeepAlivePeriod is the default TCP keep-alive period for accepted connections
	ListenerKeepAlivePeriod = 60 * time.Second

	// ListenerReadBufferMax is the initial socket receive buffer size to try for accepted connections
	//
	// Less than /proc/sys/net/ipv4/tcp_mem; halved until accepted by the OS
	ListenerReadBufferMax = 8 * 1024 * 1024

	// ListenerReadBufferMin is the minimum socket receive buffer size to try
	ListenerReadBufferMin = 65536

	// HTTPInputMaxBodyBytes defines the default maximum of decompressed request body size for HTTP inputs
	HTTPInputMaxBodyBytes = 16 * 1024 * 1024

	// HTTPInputReadHeaderTimeout is for reading request headers in HTTP inputs, including the TLS handshake
	HTTPInputReadHeaderTimeout = 60 * time.Second

	// HTTPInputShutdownTimeout is how long to wait for in-flight HTTP requests on stop request
	HTTPInputShutdownTimeout = 10 * time.Second

	// IntermediateChannelTimeout defines the timeout of intermediate channel reads and writes.
	//
	// There is no recovery without data loss and it should be treated as a bug if such timeout happens at runtime
	IntermediateChannelTimeout = 60 * time.Second

	// ConnectorConnectionTimeout is for establishing a TCP connection to upstream
	ConnectorConnectionTimeout = 60 * time.Second

	// ConnectorHandshakeTimeout is for TLS handshake with upstream
	ConnectorHandshakeTimeout = ConnectorConnectionTimeout + ConnectorConnectionTimeout/2

	// OutputSendTimeout is how long to wait for sending one batch to upstream
	OutputSendTimeout = ConnectorConnectionTimeout + ConnectorConnectionTimeout/2

	// OutputAckTimeout is how long to wait for the acknowledgement of one batch, if the protocol has it
	OutputAckTimeout = ConnectorConnectionTimeout + 60*time.Second

	// OutputRetryInterval is how long an output worker pauses after a failed batch before taking the next one
	OutputRetryInterval = 10 * time.Second

	// OutputQueueBatches is the number of encoded batches an output can hold while its upstream is busy
	//
	// Batches flushed into a full queue are dropped, so that input connections never wait for upstream
	OutputQueueBatches = 100

	// OutputBatchMaxBytes is the size of buffered messages in a sink to trigger sending before the next flush
	OutputBatchMaxBytes = 1 * 1024 * 1024
)

// For testing and experiments
const (
	TestReadTimeout = 5 * time.Second
)

// EnableTestMode turns on test mode with very short timeout
func EnableTestMode() {
	ListenerHandshakeTimeout = 2 * time.Second
	HTTPInputShutdownTimeout = 1 * time.Second
	ConnectorConnectionTimeout = 1 * time.Second
	ConnectorHandshakeTimeout = 2 * time.Second
	OutputSendTimeout = 3 * time.Second
	OutputAckTimeout = 3 * time.Second
	OutputRetryInterval = 100 * time.Millisecond
}
