package maybetls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"github.com/relex/gotils/logger"
	"github.com/relex/slog-ingest/defs"
)

// ClientTLSConfig defines the client-side TLS section in config file, for outputs connecting to upstream
type ClientTLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CAFile            string `yaml:"caFile"`     // trusted CAs, empty to use system roots
	ServerName        string `yaml:"serverName"` // empty to use the host of address
	VerifyCertificate bool   `yaml:"verifyCertificate"`
	CrtFile           string `yaml:"crtFile"` // optional client certificate
	KeyFile           string `yaml:"keyFile"`
}

// ClientSettings are resolved parameters of client-side TLS
type ClientSettings struct {
	Identity          *Identity
	CAPEM             []byte
	ServerName        string
	VerifyCertificate bool
}

// Resolve loads files referenced in config and returns ClientSettings, or nil if TLS is disabled
func (cfg *ClientTLSConfig) Resolve() (*ClientSettings, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	settings := &ClientSettings{
		ServerName:        cfg.ServerName,
		VerifyCertificate: cfg.VerifyCertificate,
	}
	if len(cfg.CrtFile) > 0 || len(cfg.KeyFile) > 0 {
		crt, err := readPEMFile("crtFile", cfg.CrtFile)
		if err != nil {
			return nil, err
		}
		key, err := readPEMFile("keyFile", cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		settings.Identity = &Identity{CertificatePEM: crt, PrivateKeyPEM: key}
	}
	ca, err := readPEMFile("caFile", cfg.CAFile)
	if err != nil {
		return nil, err
	}
	settings.CAPEM = ca
	return settings, nil
}

// Connector opens outgoing connections to a fixed upstream, with or without TLS
type Connector struct {
	logger    logger.Logger
	address   string
	tlsConfig *tls.Config // nil for raw TCP
}

// NewConnector creates a Connector. settings may be nil for raw TCP.
func NewConnector(parentLogger logger.Logger, address string, settings *ClientSettings) (*Connector, error) {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address '%s': %w", address, err)
	}
	connector := &Connector{
		logger:  parentLogger.WithFields(logger.Fields{defs.LabelComponent: "Connector", defs.LabelAddress: address}),
		address: address,
	}
	if settings == nil {
		return connector, nil
	}

	config := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         settings.ServerName,
		InsecureSkipVerify: !settings.VerifyCertificate, //nolint:gosec
	}
	if len(config.ServerName) == 0 {
		config.ServerName = host
	}
	if len(settings.CAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(settings.CAPEM) {
			return nil, &ContextBuildError{Reason: "no valid CA certificate found"}
		}
		config.RootCAs = pool
	}
	if settings.Identity != nil {
		cert, cerr := tls.X509KeyPair(settings.Identity.CertificatePEM, settings.Identity.PrivateKeyPEM)
		if cerr != nil {
			return nil, &ContextBuildError{Reason: "invalid client certificate or private key", Err: cerr}
		}
		config.Certificates = []tls.Certificate{cert}
	}
	connector.tlsConfig = config
	return connector, nil
}

// Connect opens a connection and completes the TLS handshake if enabled
//
// Connection and handshake are bounded by defs.ConnectorConnectionTimeout and defs.ConnectorHandshakeTimeout
func (connector *Connector) Connect(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: defs.ConnectorConnectionTimeout}
	if connector.tlsConfig == nil {
		connector.logger.Infof("connecting in TCP mode")
		return dialer.DialContext(ctx, "tcp", connector.address)
	}

	connector.logger.Infof("connecting in TLS mode")
	conn, err := dialer.DialContext(ctx, "tcp", connector.address)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(conn, connector.tlsConfig)
	hctx, cancel := context.WithTimeout(ctx, defs.ConnectorHandshakeTimeout)
	defer cancel()
	if herr := tlsConn.HandshakeContext(hctx); herr != nil {
		conn.Close()
		return nil, herr
	}
	return tlsConn, nil
}
