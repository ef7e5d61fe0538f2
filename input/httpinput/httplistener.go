// Package httpinput provides an input source for newline-delimited logs in HTTP POST requests
//
// The HTTP server runs on top of a maybetls listener, so the same listener config enables HTTPS.
// Request bodies may be compressed by gzip, deflate or zstd.
package httpinput

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/puzpuzpuz/xsync"
	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/transport/maybetls"
	"github.com/relex/slog-ingest/util"
)

type sessionKey struct{}

// httpListener serves POST requests and sends each line of request bodies into MultiSinkMessageReceiver
//
// There is one sink per TCP connection, created by the first request on it.
type httpListener struct {
	logger        logger.Logger
	listener      *maybetls.Listener
	server        *http.Server
	path          string
	maxBodyBytes  int64
	receiver      base.MultiSinkMessageReceiver
	requestsTotal map[int]promext.RWCounter // by status code
	sessions      *xsync.Map                // peer address to *connSession
	stopRequest   channels.Awaitable
	taskCounter   *sync.WaitGroup // counter to track connection sessions and the server itself
	stopped       channels.Awaitable
}

// connSession is the state of one connection, only accessed by the serving goroutine of that connection
type connSession struct {
	conn   *maybetls.IncomingConn
	logger logger.Logger
	sink   base.MessageReceiverSink
	tuned  bool
}

func newHTTPListener(parentLogger logger.Logger, listener *maybetls.Listener, path string, maxBodyBytes int64,
	receiver base.MultiSinkMessageReceiver, metricCreator promreg.MetricCreator, stopRequest channels.Awaitable) *httpListener {

	taskCounter := &sync.WaitGroup{}
	taskCounter.Add(1)

	lsnr := &httpListener{
		logger: parentLogger.WithFields(logger.Fields{
			defs.LabelComponent: "HTTPListener",
			defs.LabelAddress:   listener.Addr().String(),
		}),
		listener:      listener,
		path:          path,
		maxBodyBytes:  maxBodyBytes,
		receiver:      receiver,
		requestsTotal: newRequestCounters(metricCreator),
		sessions:      xsync.NewMap(),
		stopRequest:   stopRequest,
		taskCounter:   taskCounter,
		stopped:       channels.NewWaitGroupAwaitable(taskCounter),
	}
	lsnr.server = &http.Server{
		Handler:           lsnr,
		ReadHeaderTimeout: defs.HTTPInputReadHeaderTimeout,
		ConnContext:       lsnr.onConnContext,
		ConnState:         lsnr.onConnState,
	}
	return lsnr
}

func (lsnr *httpListener) Launch() {
	serveDone := channels.NewSignalAwaitable()
	go func() {
		defer serveDone.Signal()
		lsnr.logger.Info("start serving")
		if err := lsnr.server.Serve(lsnr.listener.NetListener()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lsnr.logger.Error("Serve() error: ", err)
		}
	}()
	go func() {
		defer lsnr.taskCounter.Done()
		channels.AnyAwaitables(lsnr.stopRequest, serveDone).WaitForever()
		lsnr.shutdown()
		serveDone.WaitForever()
		lsnr.logger.Info("stopped serving")
	}()
}

func (lsnr *httpListener) Stopped() channels.Awaitable {
	return lsnr.stopped
}

func (lsnr *httpListener) shutdown() {
	lsnr.logger.Info("shut down server on stop request")
	ctx, cancel := context.WithTimeout(context.Background(), defs.HTTPInputShutdownTimeout)
	defer cancel()
	if err := lsnr.server.Shutdown(ctx); err != nil {
		lsnr.logger.Warn("forced to close connections: ", err)
		lsnr.server.Close()
	}
}

func (lsnr *httpListener) onConnContext(ctx context.Context, c net.Conn) context.Context {
	conn := c.(*maybetls.IncomingConn)
	session := &connSession{
		conn: conn,
		logger: lsnr.logger.WithFields(logger.Fields{
			defs.LabelPart:   "connection",
			defs.LabelClient: conn.PeerAddr().String(),
		}),
	}
	lsnr.taskCounter.Add(1)
	lsnr.sessions.Store(conn.PeerAddr().String(), session)
	return context.WithValue(ctx, sessionKey{}, session)
}

// onConnState is called by the serving goroutine of each connection, except for StateNew
func (lsnr *httpListener) onConnState(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateActive:
		if value, ok := lsnr.sessions.Load(c.RemoteAddr().String()); ok {
			lsnr.tune(value.(*connSession))
		}
	case http.StateClosed, http.StateHijacked:
		if value, ok := lsnr.sessions.LoadAndDelete(c.RemoteAddr().String()); ok {
			session := value.(*connSession)
			if session.sink != nil {
				session.sink.Close()
			}
			lsnr.taskCounter.Done()
		}
	}
}

// tune applies socket options once the first request is read, at which point the handshake is done
func (lsnr *httpListener) tune(session *connSession) {
	if session.tuned {
		return
	}
	session.tuned = true
	if sz, err := session.conn.ApplyTuning(lsnr.listener.Tuning()); err != nil {
		session.logger.Warnf("error tuning socket: %s", err.Error())
	} else if sz > 0 {
		session.logger.Debugf("set TCP buffer size: %d", sz)
	}
}

func newRequestCounters(metricCreator promreg.MetricCreator) map[int]promext.RWCounter {
	statuses := []int{
		http.StatusOK,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusRequestEntityTooLarge,
		http.StatusUnsupportedMediaType,
		http.StatusServiceUnavailable,
	}
	counters := make(map[int]promext.RWCounter, len(statuses))
	for _, status := range statuses {
		counters[status] = metricCreator.AddOrGetCounter("requests_total", "Numbers of HTTP requests by status code",
			[]string{"status"}, []string{strconv.Itoa(status)})
	}
	return counters
}

func (lsnr *httpListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := lsnr.handle(w, r)
	lsnr.requestsTotal[status].Inc()
}

func (lsnr *httpListener) handle(w http.ResponseWriter, r *http.Request) int {
	if r.URL.Path != lsnr.path {
		http.NotFound(w, r)
		return http.StatusNotFound
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return writeStatus(w, http.StatusMethodNotAllowed)
	}

	session := r.Context().Value(sessionKey{}).(*connSession)

	body, err := newBodyReader(r.Header.Get("Content-Encoding"), r.Body)
	if err != nil {
		if errors.Is(err, errUnsupportedEncoding) {
			return writeStatus(w, http.StatusUnsupportedMediaType)
		}
		session.logger.Info("bad request body: ", err)
		return writeStatus(w, http.StatusBadRequest)
	}
	defer body.Close()

	data, withinLimit, err := readBody(body, lsnr.maxBodyBytes)
	if err != nil {
		session.logger.Info("bad request body: ", err)
		return writeStatus(w, http.StatusBadRequest)
	}
	if !withinLimit {
		return writeStatus(w, http.StatusRequestEntityTooLarge)
	}

	sink := lsnr.getSink(session)
	if sink == nil {
		return writeStatus(w, http.StatusServiceUnavailable)
	}
	forEachLine(data, defs.InputLogMaxMessageBytes, sink.Accept)
	sink.Flush()
	return writeStatus(w, http.StatusOK)
}

// getSink returns the sink of the connection, or nil if the client number cannot be assigned
func (lsnr *httpListener) getSink(session *connSession) base.MessageReceiverSink {
	if session.sink != nil {
		return session.sink
	}
	socket, ok := session.conn.TCPConn()
	if !ok {
		return nil
	}
	fd, err := util.GetFDFromTCPConn(socket)
	if err != nil {
		session.logger.Warn("failed to get socket FD: ", err)
		return nil
	}
	clientNumber := base.ClientNumber(fd)
	if clientNumber >= base.MaxClientNumber {
		session.logger.Errorf("rejected request: too many clients (fd=%d)", clientNumber)
		return nil
	}
	session.sink = lsnr.receiver.NewSink(session.conn.PeerAddr().String(), clientNumber)
	return session.sink
}

func writeStatus(w http.ResponseWriter, status int) int {
	w.WriteHeader(status)
	return status
}

// forEachLine calls consume for every non-empty line, with trailing CR removed and truncated to maxLength
func forEachLine(data []byte, maxLength int, consume func(line []byte)) {
	for len(data) > 0 {
		var line []byte
		if end := bytes.IndexByte(data, '\n'); end >= 0 {
			line, data = data[:end], data[end+1:]
		} else {
			line, data = data, nil
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLength {
			line = line[:maxLength]
		}
		consume(line)
	}
}
