package maybetls

import (
	"crypto/tls"
	"errors"
	"testing"

	"github.com/relex/slog-ingest/transport/maybetls/tlstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptorMissingIdentity(t *testing.T) {
	_, err := NewAcceptor(nil)
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = NewAcceptor(&Settings{VerifyPeer: true})
	assert.ErrorIs(t, err, ErrMissingIdentity)

	cert := tlstest.NewSelfSigned("missing-key")
	_, err = NewAcceptor(&Settings{Identity: &Identity{CertificatePEM: cert.CertificatePEM}})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestNewAcceptorMalformed(t *testing.T) {
	cert1 := tlstest.NewSelfSigned("one")
	cert2 := tlstest.NewSelfSigned("two")

	t.Run("garbage", func(tt *testing.T) {
		_, err := NewAcceptor(&Settings{Identity: &Identity{CertificatePEM: []byte("foo"), PrivateKeyPEM: []byte("bar")}})
		var cerr *ContextBuildError
		assert.True(tt, errors.As(err, &cerr))
	})

	t.Run("mismatched key", func(tt *testing.T) {
		_, err := NewAcceptor(&Settings{Identity: &Identity{CertificatePEM: cert1.CertificatePEM, PrivateKeyPEM: cert2.PrivateKeyPEM}})
		var cerr *ContextBuildError
		assert.True(tt, errors.As(err, &cerr))
	})

	t.Run("bad CA", func(tt *testing.T) {
		_, err := NewAcceptor(&Settings{
			Identity: &Identity{CertificatePEM: cert1.CertificatePEM, PrivateKeyPEM: cert1.PrivateKeyPEM},
			CAPEM:    []byte("not a CA"),
		})
		var cerr *ContextBuildError
		if assert.True(tt, errors.As(err, &cerr)) {
			assert.Equal(tt, "no valid CA certificate found", cerr.Reason)
		}
	})

	t.Run("bad version", func(tt *testing.T) {
		_, err := NewAcceptor(&Settings{
			Identity:   &Identity{CertificatePEM: cert1.CertificatePEM, PrivateKeyPEM: cert1.PrivateKeyPEM},
			MinVersion: 0x0200,
		})
		var cerr *ContextBuildError
		assert.True(tt, errors.As(err, &cerr))
	})
}

func TestNewAcceptor(t *testing.T) {
	cert := tlstest.NewSelfSigned("acceptor")

	acceptor, err := NewAcceptor(&Settings{Identity: &Identity{CertificatePEM: cert.CertificatePEM, PrivateKeyPEM: cert.PrivateKeyPEM}})
	require.NoError(t, err)
	assert.Equal(t, "acceptor", acceptor.Certificate().Subject.CommonName)
	assert.False(t, acceptor.RequiresClientCertificate())
	assert.EqualValues(t, tls.VersionTLS12, acceptor.config.MinVersion)

	verifying, err := NewAcceptor(&Settings{
		Identity:   &Identity{CertificatePEM: cert.CertificatePEM, PrivateKeyPEM: cert.PrivateKeyPEM},
		CAPEM:      cert.CertificatePEM,
		VerifyPeer: true,
		MinVersion: tls.VersionTLS13,
	})
	require.NoError(t, err)
	assert.True(t, verifying.RequiresClientCertificate())
	assert.NotNil(t, verifying.config.ClientCAs)
	assert.EqualValues(t, tls.VersionTLS13, verifying.config.MinVersion)

	noCA, err := NewAcceptor(&Settings{
		Identity:   &Identity{CertificatePEM: cert.CertificatePEM, PrivateKeyPEM: cert.PrivateKeyPEM},
		VerifyPeer: true,
	})
	require.NoError(t, err)
	assert.False(t, noCA.RequiresClientCertificate())
	assert.Nil(t, noCA.config.ClientCAs)
}
