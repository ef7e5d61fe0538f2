package maybetls

import (
	"crypto/tls"
	"crypto/x509"
	"net"
)

// Acceptor is an immutable server-side TLS context, shared by all connections accepted on a listener
type Acceptor struct {
	config *tls.Config
}

// NewAcceptor compiles the given settings into an Acceptor
//
// Returns ErrMissingIdentity if settings is nil or doesn't contain both certificate and private key,
// or *ContextBuildError if any of the material is malformed
func NewAcceptor(settings *Settings) (*Acceptor, error) {
	if settings == nil || settings.Identity == nil ||
		len(settings.Identity.CertificatePEM) == 0 || len(settings.Identity.PrivateKeyPEM) == 0 {
		return nil, ErrMissingIdentity
	}

	cert, err := tls.X509KeyPair(settings.Identity.CertificatePEM, settings.Identity.PrivateKeyPEM)
	if err != nil {
		return nil, &ContextBuildError{Reason: "invalid certificate or private key", Err: err}
	}
	if cert.Leaf == nil {
		leaf, perr := x509.ParseCertificate(cert.Certificate[0])
		if perr != nil {
			return nil, &ContextBuildError{Reason: "invalid leaf certificate", Err: perr}
		}
		cert.Leaf = leaf
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		ClientAuth:   tls.NoClientCert,
	}
	if settings.MinVersion != 0 {
		if settings.MinVersion < tls.VersionTLS10 || settings.MinVersion > tls.VersionTLS13 {
			return nil, &ContextBuildError{Reason: "unsupported minimum TLS version"}
		}
		config.MinVersion = settings.MinVersion
	}
	if len(settings.CAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(settings.CAPEM) {
			return nil, &ContextBuildError{Reason: "no valid CA certificate found"}
		}
		config.ClientCAs = pool
	}
	if settings.VerifyPeer && config.ClientCAs != nil {
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return &Acceptor{config: config}, nil
}

// Certificate returns the parsed leaf certificate of the server identity
func (acc *Acceptor) Certificate() *x509.Certificate {
	return acc.config.Certificates[0].Leaf
}

// RequiresClientCertificate tells whether peers must present a verified certificate
func (acc *Acceptor) RequiresClientCertificate() bool {
	return acc.config.ClientAuth == tls.RequireAndVerifyClientCert
}

// newHandshake prepares the deferred handshake for a newly accepted connection
//
// No byte is exchanged until the handshake is run
func (acc *Acceptor) newHandshake(socket net.Conn) *handshake {
	return &handshake{conn: tls.Server(socket, acc.config)}
}
