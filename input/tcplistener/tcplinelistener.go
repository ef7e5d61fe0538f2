// Package tcplistener provides a line-based TCP listener over raw TCP or TLS connections
package tcplistener

import (
	"context"
	"sync"
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/transport/maybetls"
	"github.com/relex/slog-ingest/util"
)

// tcpLineListener reads newline-delimited messages from every accepted connection into a sink of the receiver
//
// With testRecord set, a message spans lines until another line passes testRecord or the connection stays idle
// for defs.InputFlushInterval. Messages never end with a newline, while multi-line ones keep newlines inside.
//
// Each connection runs in its own goroutine, which also performs the TLS handshake if the listener is secured.
// Nothing is sent back to clients.
type tcpLineListener struct {
	logger      logger.Logger
	listener    *maybetls.Listener
	testRecord  headTester // nil for single-line messages
	receiver    base.MultiSinkMessageReceiver
	stopRequest channels.Awaitable
	taskCounter *sync.WaitGroup    // counter to track connection tasks and the listener task itself
	stopped     channels.Awaitable // stopped is signaled when both listener and all child connections have come to stop
}

// NewTCPLineListener creates a tcpLineListener on the bound listener, which is closed on stop request
//
// testRecord tests whether a line starts a new message, or nil if every line is a message
func NewTCPLineListener(parentLogger logger.Logger, listener *maybetls.Listener, testRecord func(ln []byte) bool,
	receiver base.MultiSinkMessageReceiver, stopRequest channels.Awaitable) base.LogListener {

	// init taskCounter with 1 for the listener; Can't wait for Launch() because WaitGroupAwaitable below would quit immediately if it's zero.
	taskCounter := &sync.WaitGroup{}
	taskCounter.Add(1)

	return &tcpLineListener{
		logger: parentLogger.WithFields(logger.Fields{
			defs.LabelComponent: "TCPLineListener",
			defs.LabelAddress:   listener.Addr().String(),
		}),
		listener:    listener,
		testRecord:  testRecord,
		receiver:    receiver,
		stopRequest: stopRequest,
		taskCounter: taskCounter,
		stopped:     channels.NewWaitGroupAwaitable(taskCounter), // input is only fully stopped after all connections are closed
	}
}

func (lsnr *tcpLineListener) Launch() {
	go lsnr.run()
}

func (lsnr *tcpLineListener) Stopped() channels.Awaitable {
	return lsnr.stopped
}

func (lsnr *tcpLineListener) run() {
	// background goroutine to wait and close listener on request
	go func() {
		lsnr.stopRequest.WaitForever()
		lsnr.logger.Info("close listener on stop request")
		lsnr.listener.Close()
	}()

	for result := range lsnr.listener.AcceptStream() {
		if result.Err != nil {
			lsnr.logger.Warn("accept() error: ", result.Err)
			continue
		}
		conn := result.Conn
		connLogger := lsnr.logger.WithFields(logger.Fields{
			defs.LabelPart:   "connection",
			defs.LabelClient: conn.PeerAddr().String(),
		})
		connLogger.Infof("accepted %s connection", conn.State())
		lsnr.taskCounter.Add(1)
		go lsnr.runConnection(connLogger, conn)
	}

	// mark the listener itself as done, note there could still be established connections
	lsnr.taskCounter.Done()
}

func (lsnr *tcpLineListener) runConnection(connLogger logger.Logger, conn *maybetls.IncomingConn) {
	defer lsnr.taskCounter.Done()

	connAborter := lsnr.launchConnectionCloser(connLogger, conn)

	clientNumber, ok := lsnr.establish(connLogger, conn)
	if !ok {
		connAborter.Signal()
		return
	}
	connLogger = connLogger.WithField(defs.LabelClientNumber, clientNumber)
	connLogger.Info("started")

	sink := lsnr.receiver.NewSink(conn.PeerAddr().String(), clientNumber)
	defer sink.Close()

	// short timeout for periodic flushing
	connReader := newTickReader(conn, defs.InputFlushInterval)
	mlineReader := newMultiLineReader(connReader.Read, lsnr.testRecord,
		defs.ListenerLineBufferSize, defs.InputLogMaxMessageBytes, sink.Accept)

	lsnr.readUntilError(connLogger, connReader, mlineReader, sink, connAborter)

	sink.Flush()
	connLogger.Info("ended")
}

// readUntilError feeds the line reader until the connection fails or closes, flushing whenever a tick passes
//
// A tick is detected either by a read timeout on an idle connection or by the reader moving its deadline.
func (lsnr *tcpLineListener) readUntilError(connLogger logger.Logger, connReader *tickReader, mlineReader *multiLineReader,
	sink base.MessageReceiverSink, connAborter *channels.SignalAwaitable) {

	var lastDeadline time.Time
	flush := func() {
		mlineReader.Flush()
		sink.Flush()
		lastDeadline = connReader.Deadline()
	}
	for {
		err := mlineReader.Read()
		switch {
		case err == nil:
			if lastDeadline.IsZero() {
				lastDeadline = connReader.Deadline()
			} else if !connReader.Deadline().Equal(lastDeadline) {
				flush()
			}
			continue
		case util.IsNetworkTimeout(err):
			flush()
			continue
		}

		mlineReader.FlushAll()
		closed := util.IsNetworkClosed(err)
		switch {
		case closed && lsnr.stopRequest.Peek():
			connLogger.Info("closed by stop request")
		case closed:
			connLogger.Info("closed by client")
			connAborter.Signal()
		default:
			connLogger.Warn("read error: ", err)
			connAborter.Signal()
		}
		return
	}
}

// establish completes TLS handshake if any, tunes the socket and assigns the client number
func (lsnr *tcpLineListener) establish(connLogger logger.Logger, conn *maybetls.IncomingConn) (base.ClientNumber, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), defs.ListenerHandshakeTimeout)
	err := conn.Handshake(ctx)
	cancel()
	if err != nil {
		if !lsnr.stopRequest.Peek() {
			connLogger.Warn(err)
		}
		return 0, false
	}

	if sz, err := conn.ApplyTuning(lsnr.listener.Tuning()); err != nil {
		connLogger.Warnf("error tuning socket: %s", err.Error())
	} else if sz > 0 {
		connLogger.Debugf("set TCP buffer size: %d", sz)
	}

	socket, _ := conn.TCPConn()
	fd, err := util.GetFDFromTCPConn(socket)
	if err != nil {
		connLogger.Warn("failed to get socket FD: ", err)
		return 0, false
	}
	clientNumber := base.ClientNumber(fd)
	if clientNumber >= base.MaxClientNumber {
		connLogger.Errorf("rejected connection: too many clients (fd=%d)", clientNumber)
		return 0, false
	}
	return clientNumber, true
}

func (lsnr *tcpLineListener) launchConnectionCloser(connLogger logger.Logger, conn *maybetls.IncomingConn) *channels.SignalAwaitable {
	abortConn := channels.NewSignalAwaitable()
	// background goroutine to wait and close connection on request
	go func() {
		channels.AnyAwaitables(lsnr.stopRequest, abortConn).Next(func() {
			if abortConn.Peek() {
				connLogger.Debug("abort connection")
			} else {
				connLogger.Info("close connection on stop request")
			}
		}).WaitForever()
		conn.Close()
	}()
	return abortConn
}
