package baseoutput

import (
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/defs"
)

// BatchEncoder encodes records of one sink into packets for upstream. It's not shared between sinks.
type BatchEncoder interface {
	// Encode returns the packet of records, and how to wait for its acknowledgement or nil if the protocol has none
	//
	// The packet is only valid until the next call
	Encode(records [][]byte) ([]byte, AckWaiter, error)
}

// BatchOutput collects messages from each sink and queues them for Upstream on flush, or when the batch is too large
//
// Sending happens on a single worker goroutine, so a slow or stalled upstream never blocks sinks.
type BatchOutput struct {
	logger     logger.Logger
	worker     *clientWorker
	newEncoder func() BatchEncoder
}

type batchSink struct {
	logger   logger.Logger
	output   *BatchOutput
	encoder  BatchEncoder
	arena    []byte // holds the contents of records, which are slices of it
	records  [][]byte
	recordAt []int // offsets of records in arena, as arena may be reallocated
}

// NewBatchOutput creates a BatchOutput and launches its worker
func NewBatchOutput(parentLogger logger.Logger, upstream *Upstream, newEncoder func() BatchEncoder) *BatchOutput {
	worker := newClientWorker(parentLogger, upstream)
	worker.Launch()
	return &BatchOutput{
		logger:     parentLogger,
		worker:     worker,
		newEncoder: newEncoder,
	}
}

// NewSink creates a sink with its own batch buffer and encoder
func (output *BatchOutput) NewSink(clientAddress string, clientNumber base.ClientNumber) base.MessageReceiverSink {
	return &batchSink{
		logger:  base.NewSinkLogger(output.logger, clientAddress, clientNumber),
		output:  output,
		encoder: output.newEncoder(),
		arena:   make([]byte, 0, 4096),
	}
}

// Close waits for queued batches to be sent or dropped, then closes the upstream connection. Sinks must be closed first.
func (output *BatchOutput) Close() {
	output.worker.Close()
}

func (sink *batchSink) Accept(message []byte) {
	sink.recordAt = append(sink.recordAt, len(sink.arena))
	sink.arena = append(sink.arena, message...)
	if len(sink.arena) >= defs.OutputBatchMaxBytes {
		sink.Flush()
	}
}

func (sink *batchSink) Flush() {
	if len(sink.recordAt) == 0 {
		return
	}
	sink.records = sink.records[:0]
	for i, start := range sink.recordAt {
		end := len(sink.arena)
		if i+1 < len(sink.recordAt) {
			end = sink.recordAt[i+1]
		}
		sink.records = append(sink.records, sink.arena[start:end])
	}
	numRecords := len(sink.records)

	packet, awaitAck, err := sink.encoder.Encode(sink.records)
	if err != nil {
		sink.logger.Errorf("failed to encode %d records: %s", numRecords, err.Error())
	} else {
		sink.output.worker.Enqueue(pendingBatch{
			packet:     append([]byte(nil), packet...),
			numRecords: numRecords,
			awaitAck:   awaitAck,
		})
	}

	sink.arena = sink.arena[:0]
	sink.recordAt = sink.recordAt[:0]
}

func (sink *batchSink) Close() {
	sink.Flush()
}
