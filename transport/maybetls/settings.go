package maybetls

import (
	"crypto/tls"
	"fmt"
	"os"

	"golang.org/x/exp/slices"
)

// Identity contains PEM-encoded certificate chain and private key
type Identity struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
}

// Settings are resolved parameters of server-side TLS, to be compiled into an Acceptor
//
// Settings must not be modified after being passed to NewAcceptor
type Settings struct {
	Identity   *Identity // nil if not configured
	CAPEM      []byte    // trusted CAs for peer certificates
	VerifyPeer bool      // whether to require and verify client certificates, only effective with CAPEM
	MinVersion uint16    // tls.VersionTLS*, 0 for default
}

// TLSConfig defines the server-side TLS section in config file
type TLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CrtFile           string `yaml:"crtFile"`
	KeyFile           string `yaml:"keyFile"`
	CAFile            string `yaml:"caFile"`
	VerifyCertificate bool   `yaml:"verifyCertificate"`
	MinVersion        string `yaml:"minVersion"`
}

var tlsVersionNames = []string{"", "1.0", "1.1", "1.2", "1.3"}

var tlsVersions = map[string]uint16{
	"":    0,
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// VerifyConfig checks the combination of fields without touching any file
func (cfg *TLSConfig) VerifyConfig() error {
	if !slices.Contains(tlsVersionNames, cfg.MinVersion) {
		return fmt.Errorf(".minVersion: '%s' is not a valid TLS version", cfg.MinVersion)
	}
	if !cfg.Enabled {
		if len(cfg.CrtFile) > 0 || len(cfg.KeyFile) > 0 || len(cfg.CAFile) > 0 {
			return fmt.Errorf(".enabled is false but certificate files are specified")
		}
		return nil
	}
	if (len(cfg.CrtFile) == 0) != (len(cfg.KeyFile) == 0) {
		return fmt.Errorf(".crtFile and .keyFile must be specified together")
	}
	return nil
}

// Resolve loads files referenced in config and returns Settings, or nil if TLS is disabled
//
// Returns ErrMissingIdentity if TLS is enabled without crtFile and keyFile
func (cfg *TLSConfig) Resolve() (*Settings, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.CrtFile) == 0 || len(cfg.KeyFile) == 0 {
		return nil, ErrMissingIdentity
	}
	minVersion, ok := tlsVersions[cfg.MinVersion]
	if !ok {
		return nil, &ContextBuildError{Reason: fmt.Sprintf("invalid minVersion '%s'", cfg.MinVersion)}
	}
	settings := &Settings{
		VerifyPeer: cfg.VerifyCertificate,
		MinVersion: minVersion,
	}
	crt, err := readPEMFile("crtFile", cfg.CrtFile)
	if err != nil {
		return nil, err
	}
	key, err := readPEMFile("keyFile", cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	settings.Identity = &Identity{CertificatePEM: crt, PrivateKeyPEM: key}
	if len(cfg.CAFile) > 0 {
		ca, err := readPEMFile("caFile", cfg.CAFile)
		if err != nil {
			return nil, err
		}
		settings.CAPEM = ca
	}
	return settings, nil
}

func readPEMFile(field string, path string) ([]byte, error) {
	if len(path) == 0 {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ContextBuildError{Reason: "failed to read " + field, Err: err}
	}
	return data, nil
}
