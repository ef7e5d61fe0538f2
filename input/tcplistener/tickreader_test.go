package tcplistener

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"

	"github.com/relex/slog-ingest/defs"
	"github.com/relex/slog-ingest/transport/maybetls"
	"github.com/relex/slog-ingest/transport/maybetls/tlstest"
	"github.com/relex/slog-ingest/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// read timeouts must not break the TLS stream, as the listener keeps reading after each of them
func TestTickReaderOverTLS(t *testing.T) {
	cert := tlstest.NewSelfSigned("localhost")
	acceptor, err := maybetls.NewAcceptor(&maybetls.Settings{
		Identity: &maybetls.Identity{CertificatePEM: cert.CertificatePEM, PrivateKeyPEM: cert.PrivateKeyPEM},
	})
	require.NoError(t, err)
	socket := bindListener(t, acceptor)
	defer socket.Close()

	go func() {
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(cert.CertificatePEM)
		client, cerr := tls.Dial("tcp", socket.Addr().String(), &tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12})
		if !assert.NoError(t, cerr) {
			return
		}
		defer client.Close()
		for _, s := range []string{"Foo\n", "Bar\n", "Hello\n"} {
			_, werr := client.Write([]byte(s))
			assert.NoError(t, werr)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	var conn *maybetls.IncomingConn
	select {
	case result := <-socket.AcceptStream():
		require.NoError(t, result.Err)
		conn = result.Conn
	case <-time.After(defs.TestReadTimeout):
		t.Fatal("accept timeout")
	}
	defer conn.Close()
	require.NoError(t, conn.Handshake(context.Background()))

	tr := newTickReader(conn, 40*time.Millisecond)
	assert.True(t, tr.Deadline().IsZero())
	reader := bufio.NewReaderSize(tr, 1024)

	expectLine := func(expected string) {
		ln, _, lerr := reader.ReadLine()
		assert.NoError(t, lerr)
		assert.Equal(t, expected, string(ln))
	}
	expectTimeout := func() {
		_, _, lerr := reader.ReadLine()
		assert.True(t, util.IsNetworkTimeout(lerr), lerr)
	}

	expectLine("Foo")
	firstDeadline := tr.Deadline()
	assert.False(t, firstDeadline.IsZero())
	expectTimeout()
	expectLine("Bar")
	assert.NotEqual(t, firstDeadline, tr.Deadline())
	expectTimeout()
	expectLine("Hello")
}
