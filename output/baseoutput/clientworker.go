package baseoutput

import (
	"sync"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/defs"
)

// pendingBatch is an encoded packet waiting in the queue of clientWorker
type pendingBatch struct {
	packet     []byte // owned by the batch, not reused by encoders
	numRecords int
	awaitAck   AckWaiter
}

// clientWorker sends queued batches to Upstream from its own goroutine, so that sinks only wait for the queue
//
// After a failed batch the worker pauses for defs.OutputRetryInterval; the connection is reopened by the next batch.
type clientWorker struct {
	logger   logger.Logger
	upstream *Upstream
	queue    chan pendingBatch
	mutex    sync.RWMutex // guards closed against enqueue
	closed   bool
	closing  *channels.SignalAwaitable
	stopped  *channels.SignalAwaitable
}

func newClientWorker(parentLogger logger.Logger, upstream *Upstream) *clientWorker {
	return &clientWorker{
		logger:   parentLogger.WithField(defs.LabelPart, "worker"),
		upstream: upstream,
		queue:    make(chan pendingBatch, defs.OutputQueueBatches),
		closing:  channels.NewSignalAwaitable(),
		stopped:  channels.NewSignalAwaitable(),
	}
}

func (worker *clientWorker) Launch() {
	go worker.run()
}

func (worker *clientWorker) Stopped() channels.Awaitable {
	return worker.stopped
}

// Enqueue adds a batch without blocking. The batch is dropped and counted if the queue is full or closed.
func (worker *clientWorker) Enqueue(batch pendingBatch) bool {
	worker.mutex.RLock()
	defer worker.mutex.RUnlock()
	if !worker.closed {
		select {
		case worker.queue <- batch:
			return true
		default:
		}
	}
	worker.upstream.Drop(batch.numRecords, "queue full or closed")
	return false
}

// Close stops accepting batches and waits until all queued ones are sent or dropped
func (worker *clientWorker) Close() {
	worker.mutex.Lock()
	if worker.closed {
		worker.mutex.Unlock()
		worker.stopped.WaitForever()
		return
	}
	worker.closed = true
	worker.closing.Signal()
	close(worker.queue)
	worker.mutex.Unlock()

	worker.stopped.WaitForever()
}

func (worker *clientWorker) run() {
	defer worker.stopped.Signal()
	worker.logger.Info("started")
	for batch := range worker.queue {
		if err := worker.upstream.Send(batch.packet, batch.numRecords, batch.awaitAck); err != nil {
			// no pause once closing
			worker.closing.Wait(defs.OutputRetryInterval)
		}
	}
	worker.upstream.Close()
	worker.logger.Info("stopped")
}
