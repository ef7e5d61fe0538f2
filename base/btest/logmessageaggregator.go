// Package btest provides receivers and helpers for testing inputs
package btest

import (
	"sync"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/defs"
)

// LogMessageAggregator merges messages from all its sinks into one channel, in the order they are accepted
type LogMessageAggregator struct {
	logger   logger.Logger
	messages chan string
	mutex    sync.Mutex
	open     map[base.ClientNumber]string // client number => address, for sinks not closed
}

type aggregatorSink struct {
	parent       *LogMessageAggregator
	logger       logger.Logger
	clientNumber base.ClientNumber
}

// NewLogMessageAggregator creates an aggregator and returns it with the channel of accepted messages
//
// The channel is buffered; sinks log an error and drop the message if the test doesn't keep receiving.
func NewLogMessageAggregator(parentLogger logger.Logger) (*LogMessageAggregator, <-chan string) {
	recv := &LogMessageAggregator{
		logger:   parentLogger.WithField(defs.LabelComponent, "LogMessageAggregator"),
		messages: make(chan string, 100),
		open:     make(map[base.ClientNumber]string),
	}
	return recv, recv.messages
}

// NewSink registers the client as open until the returned sink is closed
func (recv *LogMessageAggregator) NewSink(clientAddress string, clientNumber base.ClientNumber) base.MessageReceiverSink {
	recv.mutex.Lock()
	recv.open[clientNumber] = clientAddress
	recv.mutex.Unlock()

	return &aggregatorSink{
		parent:       recv,
		logger:       base.NewSinkLogger(recv.logger, clientAddress, clientNumber),
		clientNumber: clientNumber,
	}
}

// OpenSinks returns the count of sinks not yet closed
func (recv *LogMessageAggregator) OpenSinks() int {
	recv.mutex.Lock()
	defer recv.mutex.Unlock()
	return len(recv.open)
}

func (sink *aggregatorSink) Accept(message []byte) {
	text := string(message)
	select {
	case sink.parent.messages <- text:
	case <-time.After(defs.IntermediateChannelTimeout):
		sink.logger.Errorf("BUG: dropped message after timeout: %q", text)
	}
}

func (sink *aggregatorSink) Flush() {
}

func (sink *aggregatorSink) Close() {
	sink.parent.mutex.Lock()
	delete(sink.parent.open, sink.clientNumber)
	sink.parent.mutex.Unlock()
}
