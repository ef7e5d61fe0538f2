package base

import (
	"github.com/relex/gotils/channels"
)

// PipelineWorker runs in background after Launch, until stopped by the stop request given at construction
type PipelineWorker interface {
	Launch()

	// Stopped is signaled after all goroutines and connections of the worker have ended
	Stopped() channels.Awaitable
}

// LogListener accepts connections and sends their messages to a MultiSinkMessageReceiver, e.g. TCP or HTTP listener
type LogListener interface {
	PipelineWorker
}

// LogInput is a configured LogListener with its bound address
type LogInput interface {
	PipelineWorker

	// Address returns the bound address, including the port assigned by OS if configured as 0
	Address() string
}
