// Package tlstest provides self-signed certificates for tests of TLS listeners and connectors
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/relex/gotils/logger"
)

// Certificate is a PEM-encoded self-signed certificate and its private key
type Certificate struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
}

// NewSelfSigned generates a self-signed certificate valid for localhost and loopback addresses
//
// The certificate is also a CA, so it can be used as the trusted root for itself
func NewSelfSigned(commonName string) Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		logger.Panic("failed to generate key: ", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		logger.Panic("failed to generate serial: ", err)
	}
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		logger.Panic("failed to create certificate: ", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		logger.Panic("failed to marshal key: ", err)
	}
	return Certificate{
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}
}

// WriteFiles writes the certificate and key into dir and returns their paths
func (cert Certificate) WriteFiles(dir string) (crtFile string, keyFile string) {
	crtFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")
	if err := os.WriteFile(crtFile, cert.CertificatePEM, 0o644); err != nil {
		logger.Panic(err)
	}
	if err := os.WriteFile(keyFile, cert.PrivateKeyPEM, 0o600); err != nil {
		logger.Panic(err)
	}
	return
}
