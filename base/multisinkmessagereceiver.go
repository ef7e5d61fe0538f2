package base

import (
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/defs"
)

// ClientNumber identifies one open connection among all inputs. Inputs use the socket FD.
type ClientNumber uint

// MaxClientNumber is the exclusive upper bound of ClientNumber. Connections with a higher FD are rejected by inputs.
const MaxClientNumber ClientNumber = 262144

// MultiSinkMessageReceiver receives messages from many connections, through one sink per connection
//
// NewSink may be called concurrently by different connections.
type MultiSinkMessageReceiver interface {
	// NewSink opens a sink for the connection from clientAddress, e.g. "10.1.0.1:50001"
	NewSink(clientAddress string, clientNumber ClientNumber) MessageReceiverSink
}

// MessageReceiverSink receives messages of a single connection, from a single goroutine
//
// Inputs call Flush when the connection is idle or a request ends, and once more before Close.
type MessageReceiverSink interface {
	// Accept takes one message. The slice is reused by the caller once Accept returns.
	Accept(message []byte)

	Flush()

	Close()
}

// NewSinkLogger derives the logger of a sink
func NewSinkLogger(parentLogger logger.Logger, clientAddress string, clientNumber ClientNumber) logger.Logger {
	return parentLogger.WithFields(logger.Fields{
		defs.LabelPart:         "sink",
		defs.LabelClient:       clientAddress,
		defs.LabelClientNumber: clientNumber,
	})
}
