package tcplistener

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/relex/gotils/channels"
	"github.com/relex/gotils/logger"
	"github.com/relex/gotils/promexporter/promreg"
	"github.com/relex/slog-ingest/base/btest"
	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/transport/maybetls"
	"github.com/relex/slog-ingest/transport/maybetls/tlstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const line1 = "<163>1 2019-08-15T15:50:46.866915+03:00 local my-app 123 fn - Something"
const line2 = "<163>1 2019-08-16T15:50:46.866915+03:00 local my-app 123 fn - Something else"
const line3 = "<163>1 2019-08-16T15:50:46.866915+03:00 local my-app 123 fn - End"

func bindListener(t *testing.T, acceptor *maybetls.Acceptor) *maybetls.Listener {
	mfactory := promreg.NewMetricFactory("tcplistener_"+strings.ToLower(t.Name())+"_", nil, nil)
	socket, err := maybetls.Bind(logger.WithField("test", t.Name()), "localhost:0", acceptor, mfactory)
	require.NoError(t, err)
	return socket
}

func TestTCPLineListener(t *testing.T) {
	rlogger := logger.WithField("test", t.Name())
	stop := channels.NewSignalAwaitable()
	recv, out := btest.NewLogMessageAggregator(rlogger)
	socket := bindListener(t, nil)
	lsnr := NewTCPLineListener(rlogger, socket, nil, recv, stop)
	lsnr.Launch()

	conn, err := net.Dial("tcp", socket.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte(line1 + "\n"))
	assert.Nil(t, err)
	_, err = conn.Write([]byte(line2 + "\r\n\n"))
	assert.Nil(t, err)
	assert.Equal(t, line1, readCh(out))
	assert.Equal(t, line2, readCh(out))
	_, err = conn.Write([]byte(line3)) // no newline end - close should force flushing
	assert.Nil(t, err)
	assert.Nil(t, conn.Close())
	assert.Equal(t, line3, readCh(out))
	stop.Signal()
	assert.True(t, lsnr.Stopped().Wait(defs.TestReadTimeout))
	assert.Zero(t, recv.OpenSinks())
}

func TestTCPLineListenerEnd(t *testing.T) {
	rlogger := logger.WithField("test", t.Name())
	stop := channels.NewSignalAwaitable()
	recv, out := btest.NewLogMessageAggregator(rlogger)
	socket := bindListener(t, nil)
	lsnr := NewTCPLineListener(rlogger, socket, nil, recv, stop)
	lsnr.Launch()

	conn, err := net.Dial("tcp", socket.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte(line1 + "\n"))
	assert.Nil(t, err)
	assert.Equal(t, line1, readCh(out))
	_, err = conn.Write([]byte(line2)) // no newline end - stop should force flushing
	assert.Nil(t, err)
	time.Sleep(200 * time.Millisecond)
	stop.Signal()
	assert.True(t, lsnr.Stopped().Wait(defs.TestReadTimeout))
	assert.Nil(t, conn.Close())
	assert.Equal(t, line2, readCh(out))

	_, err = net.Dial("tcp", socket.Addr().String())
	assert.Error(t, err, "listener closed on stop")
}

func TestTCPLineListenerMultiLine(t *testing.T) {
	rlogger := logger.WithField("test", t.Name())
	stop := channels.NewSignalAwaitable()
	recv, out := btest.NewLogMessageAggregator(rlogger)
	socket := bindListener(t, nil)
	lsnr := NewTCPLineListener(rlogger, socket, testSyslogHeader, recv, stop)
	lsnr.Launch()

	conn, err := net.Dial("tcp", socket.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte(line1 + "\nSecond line\n" + line2 + "\n"))
	assert.Nil(t, err)
	assert.Equal(t, line1+"\nSecond line", readCh(out))
	assert.Equal(t, line2, readCh(out), "flushed by timeout")
	assert.Nil(t, conn.Close())
	stop.Signal()
	assert.True(t, lsnr.Stopped().Wait(defs.TestReadTimeout))
}

func TestTCPLineListenerTLS(t *testing.T) {
	cert := tlstest.NewSelfSigned("localhost")
	acceptor, err := maybetls.NewAcceptor(&maybetls.Settings{
		Identity: &maybetls.Identity{CertificatePEM: cert.CertificatePEM, PrivateKeyPEM: cert.PrivateKeyPEM},
	})
	require.NoError(t, err)

	rlogger := logger.WithField("test", t.Name())
	stop := channels.NewSignalAwaitable()
	recv, out := btest.NewLogMessageAggregator(rlogger)
	socket := bindListener(t, acceptor)
	lsnr := NewTCPLineListener(rlogger, socket, nil, recv, stop)
	lsnr.Launch()

	// a plaintext client fails the handshake without affecting others
	plain, err := net.Dial("tcp", socket.Addr().String())
	require.NoError(t, err)
	_, err = plain.Write([]byte(line1 + "\n"))
	assert.Nil(t, err)
	defer plain.Close()

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(cert.CertificatePEM))
	conn, err := tls.Dial("tcp", socket.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12})
	require.NoError(t, err)
	_, err = conn.Write([]byte(line2 + "\n" + line3))
	assert.Nil(t, err)
	assert.Equal(t, line2, readCh(out))
	assert.Nil(t, conn.Close())
	assert.Equal(t, line3, readCh(out))

	stop.Signal()
	assert.True(t, lsnr.Stopped().Wait(defs.TestReadTimeout))
	assert.Zero(t, recv.OpenSinks())
}

func TestTCPLineListenerSlowHandshake(t *testing.T) {
	oldTimeout := defs.ListenerHandshakeTimeout
	defs.ListenerHandshakeTimeout = 200 * time.Millisecond
	defer func() { defs.ListenerHandshakeTimeout = oldTimeout }()

	cert := tlstest.NewSelfSigned("localhost")
	acceptor, err := maybetls.NewAcceptor(&maybetls.Settings{
		Identity: &maybetls.Identity{CertificatePEM: cert.CertificatePEM, PrivateKeyPEM: cert.PrivateKeyPEM},
	})
	require.NoError(t, err)

	rlogger := logger.WithField("test", t.Name())
	stop := channels.NewSignalAwaitable()
	recv, _ := btest.NewLogMessageAggregator(rlogger)
	socket := bindListener(t, acceptor)
	lsnr := NewTCPLineListener(rlogger, socket, nil, recv, stop)
	lsnr.Launch()

	silent, err := net.Dial("tcp", socket.Addr().String())
	require.NoError(t, err)
	defer silent.Close()

	// the silent client is dropped once the handshake times out
	assert.NoError(t, silent.SetReadDeadline(time.Now().Add(defs.TestReadTimeout)))
	_, err = silent.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.False(t, isTimeout(err), "closed by server rather than client timeout")

	stop.Signal()
	assert.True(t, lsnr.Stopped().Wait(defs.TestReadTimeout))
}

func testSyslogHeader(ln []byte) bool {
	return len(ln) > 0 && ln[0] == '<'
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

func readCh(ch <-chan string) string {
	select {
	case log := <-ch:
		return log
	case <-time.After(defs.TestReadTimeout):
		return "<timeout>"
	}
}
