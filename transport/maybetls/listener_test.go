package maybetls

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promext"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/defs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindTest(t *testing.T, acceptor *Acceptor) *Listener {
	return bindTestWithMetrics(t, acceptor, promreg.NewMetricFactory("maybetls_"+strings.ToLower(t.Name())+"_", nil, nil))
}

func bindTestWithMetrics(t *testing.T, acceptor *Acceptor, metricCreator promreg.MetricCreator) *Listener {
	lsnr, err := Bind(logger.WithField("test", t.Name()), "localhost:0", acceptor, metricCreator)
	require.NoError(t, err)
	t.Cleanup(func() { lsnr.Close() })
	return lsnr
}

func acceptWithTimeout(t *testing.T, lsnr *Listener) *IncomingConn {
	select {
	case result := <-lsnr.AcceptStream():
		require.NoError(t, result.Err)
		t.Cleanup(func() { result.Conn.Close() })
		return result.Conn
	case <-time.After(defs.TestReadTimeout):
		t.Fatal("accept timeout")
		return nil
	}
}

func TestListenerRaw(t *testing.T) {
	lsnr := bindTest(t, nil)
	assert.False(t, lsnr.Secured())

	client, err := net.Dial("tcp", lsnr.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn := acceptWithTimeout(t, lsnr)
	assert.Equal(t, StateRaw, conn.State())
	assert.Equal(t, client.LocalAddr().String(), conn.PeerAddr().String())

	const payload = "0123456789abcdefghijklmnopqrstuvwxyz"
	_, err = client.Write([]byte(payload))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n, err := io.ReadAtLeast(conn, buf, len(payload))
	assert.NoError(t, err)
	assert.Equal(t, payload, string(buf[:n]))
}

func TestListenerSecured(t *testing.T) {
	acceptor, cert := newTestAcceptor(t)
	mfactory := promreg.NewMetricFactory("maybetls_listenersecured_", nil, nil)
	lsnr := bindTestWithMetrics(t, acceptor, mfactory)
	assert.True(t, lsnr.Secured())

	connector, err := NewConnector(logger.WithField("test", t.Name()), lsnr.Addr().String(), &ClientSettings{
		CAPEM:             cert.CertificatePEM,
		VerifyCertificate: false,
	})
	require.NoError(t, err)

	clientResult := make(chan net.Conn, 1)
	go func() {
		client, cerr := connector.Connect(context.Background())
		assert.NoError(t, cerr)
		if cerr == nil {
			_, werr := client.Write([]byte("Hello over TLS"))
			assert.NoError(t, werr)
		}
		clientResult <- client
	}()

	conn := acceptWithTimeout(t, lsnr)
	assert.Equal(t, StateNegotiating, conn.State())
	peerBefore := conn.PeerAddr()

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "Hello over TLS", string(buf[:n]))
	assert.Equal(t, StateSecured, conn.State())
	assert.Equal(t, peerBefore, conn.PeerAddr())

	client := <-clientResult
	if client != nil {
		assert.Equal(t, client.LocalAddr().String(), conn.PeerAddr().String())
		client.Close()
	}
	assert.Contains(t, promext.DumpMetrics("", true, false, mfactory), "handshakes_total")
}

func TestListenerDropWhileNegotiating(t *testing.T) {
	acceptor, cert := newTestAcceptor(t)
	lsnr := bindTest(t, acceptor)

	silent, err := net.Dial("tcp", lsnr.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	first := acceptWithTimeout(t, lsnr)
	assert.Equal(t, StateNegotiating, first.State())
	assert.NoError(t, first.Close())

	go func() {
		client, derr := tls.Dial("tcp", lsnr.Addr().String(), &tls.Config{RootCAs: newPool(t, cert.CertificatePEM), ServerName: "localhost", MinVersion: tls.VersionTLS12})
		if assert.NoError(t, derr) {
			_, werr := client.Write([]byte("second"))
			assert.NoError(t, werr)
			defer client.Close()
			_, _ = io.Copy(io.Discard, client)
		}
	}()

	second := acceptWithTimeout(t, lsnr)
	buf := make([]byte, 100)
	n, err := second.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]))
}

func TestListenerAcceptStreamOrderAndClose(t *testing.T) {
	lsnr := bindTest(t, nil)
	stream := lsnr.AcceptStream()
	assert.Equal(t, stream, lsnr.AcceptStream(), "stream is shared, not restarted")

	var clientAddrs []string
	for i := 0; i < 3; i++ {
		client, err := net.Dial("tcp", lsnr.Addr().String())
		require.NoError(t, err)
		defer client.Close()
		clientAddrs = append(clientAddrs, client.LocalAddr().String())

		result := <-stream
		require.NoError(t, result.Err)
		assert.Equal(t, clientAddrs[i], result.Conn.PeerAddr().String())
		result.Conn.Close()
	}

	assert.NoError(t, lsnr.Close())
	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(defs.TestReadTimeout):
		t.Fatal("stream not closed")
	}

	_, err := lsnr.Accept()
	var aerr *AcceptError
	assert.True(t, errors.As(err, &aerr))
	assert.ErrorIs(t, err, net.ErrClosed)
}

// injectAcceptErrors makes the next n accept calls fail with the given error before reaching the socket
func injectAcceptErrors(lsnr *Listener, n int, err error) {
	realAccept := lsnr.acceptTCP
	lsnr.acceptTCP = func() (*net.TCPConn, error) {
		if n > 0 {
			n--
			return nil, err
		}
		return realAccept()
	}
}

func TestListenerAcceptStreamContinuesAfterError(t *testing.T) {
	lsnr := bindTest(t, nil)
	emfile := errors.New("too many open files")
	injectAcceptErrors(lsnr, 2, emfile)
	stream := lsnr.AcceptStream()

	for i := 0; i < 2; i++ {
		result := <-stream
		assert.Nil(t, result.Conn)
		var aerr *AcceptError
		if assert.True(t, errors.As(result.Err, &aerr)) {
			assert.ErrorIs(t, aerr, emfile)
		}
	}
	assert.EqualValues(t, 2, lsnr.metrics.acceptErrorsTotal.Get())

	client, err := net.Dial("tcp", lsnr.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	conn := acceptWithTimeout(t, lsnr)
	assert.Equal(t, client.LocalAddr().String(), conn.PeerAddr().String())
	assert.EqualValues(t, 1, lsnr.metrics.acceptedConnectionsTotal.Get())
}

func TestListenerNetListenerSkipsError(t *testing.T) {
	lsnr := bindTest(t, nil)
	injectAcceptErrors(lsnr, 1, errors.New("software caused connection abort"))
	nl := lsnr.NetListener()

	client, err := net.Dial("tcp", lsnr.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, aerr := nl.Accept()
		assert.NoError(t, aerr)
		accepted <- conn
	}()
	select {
	case conn := <-accepted:
		require.NotNil(t, conn)
		assert.Equal(t, client.LocalAddr().String(), conn.RemoteAddr().String())
		conn.Close()
	case <-time.After(defs.TestReadTimeout):
		t.Fatal("accept not resumed after error")
	}
	assert.EqualValues(t, 1, lsnr.metrics.acceptErrorsTotal.Get())

	assert.NoError(t, nl.Close())
	_, err = nl.Accept()
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestListenerBindError(t *testing.T) {
	lsnr := bindTest(t, nil)

	_, err := Bind(logger.WithField("test", t.Name()), lsnr.Addr().String(), nil, promreg.NewMetricFactory("maybetls_binderror_", nil, nil))
	var berr *BindError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, lsnr.Addr().String(), berr.Address)

	_, err = Bind(logger.WithField("test", t.Name()), "localhost:x", nil, promreg.NewMetricFactory("maybetls_binderror_", nil, nil))
	assert.True(t, errors.As(err, &berr))
}

func TestListenerPeerFilter(t *testing.T) {
	filter, err := NewPeerFilter([]string{"10.*.*.*"})
	require.NoError(t, err)
	assert.True(t, filter.Allow(&net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 9}))
	assert.False(t, filter.Allow(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}))

	lsnr := bindTest(t, nil)
	lsnr.peerFilter = filter

	rejected, err := net.Dial("tcp", lsnr.Addr().String())
	require.NoError(t, err)
	defer rejected.Close()

	// the rejected client sees its connection closed, while accept keeps waiting
	accepted := make(chan error, 1)
	go func() {
		conn, aerr := lsnr.Accept()
		if conn != nil {
			conn.Close()
		}
		accepted <- aerr
	}()
	assert.NoError(t, rejected.SetReadDeadline(time.Now().Add(defs.TestReadTimeout)))
	_, err = rejected.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-accepted:
		t.Fatal("rejected connection should not be returned")
	case <-time.After(100 * time.Millisecond):
	}

	assert.NoError(t, lsnr.Close())
	select {
	case aerr := <-accepted:
		assert.ErrorIs(t, aerr, net.ErrClosed)
	case <-time.After(defs.TestReadTimeout):
		t.Fatal("accept not ended by close")
	}
}

func TestListenerHTTP(t *testing.T) {
	acceptor, cert := newTestAcceptor(t)
	lsnr := bindTest(t, acceptor)

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "hello "+r.URL.Path)
		}),
		ReadHeaderTimeout: defs.TestReadTimeout,
	}
	go func() {
		_ = server.Serve(lsnr.NetListener())
	}()
	defer server.Close()

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: newPool(t, cert.CertificatePEM), MinVersion: tls.VersionTLS12},
	}}
	resp, err := client.Get("https://" + strings.Replace(lsnr.Addr().String(), "127.0.0.1", "localhost", 1) + "/path")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Equal(t, "hello /path", string(body))
}
