// ABOUTME: TLS configuration for IoT broker connections
// ABOUTME: Loads the device certificate pair and an optional root CA
package telemetry

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig builds the client TLS config for s. Returns nil for plain
// connections.
func TLSConfig(s Settings) (*tls.Config, error) {
	if !s.UseTLS() {
		return nil, nil
	}

	config := &tls.Config{
		ServerName: s.Host,
		MinVersion: tls.VersionTLS12,
	}

	if s.CertFile != "" && s.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load device certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if s.RootCAFile != "" {
		pem, err := os.ReadFile(s.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("read root CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", s.RootCAFile)
		}
		config.RootCAs = pool
	}

	return config, nil
}
