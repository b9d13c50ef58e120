package clients

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadClientCertificate reads the service's mTLS client certificate and key.
func LoadClientCertificate(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading mTLS client certificate: %w", err)
	}
	return cert, nil
}

// authorityTLSConfig verifies the server against the system roots plus any
// certificates in caFile.
func authorityTLSConfig(cert tls.Certificate, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caFile == "" {
		return cfg, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("reading authority CA file: %w", err)
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// takTLSConfig presents cert but does not verify the TAK server, which
// listens on localhost with a certificate issued for its public name.
func takTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true, //nolint:gosec
	}
}
