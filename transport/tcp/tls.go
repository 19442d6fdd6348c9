package tcp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dan-strohschein/qpipe/protocol"
)

// buildTLSConfig creates a TLS configuration from transport options.
func buildTLSConfig(opts TCPTransportOptions) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: opts.SkipVerify,
	}

	// Extract server name from address
	serverName := opts.Address
	if host, _, err := net.SplitHostPort(opts.Address); err == nil {
		serverName = host
	}
	tlsConfig.ServerName = serverName

	// Load custom CA certificate if provided
	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, protocol.ConnectionError("failed to load CA certificate", map[string]interface{}{
				"caFile": opts.CAFile,
			}).WithCause(err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, protocol.ConnectionError("failed to parse CA certificate", map[string]interface{}{
				"caFile": opts.CAFile,
			})
		}
		tlsConfig.RootCAs = caCertPool
	}

	// Load client certificate if provided
	if opts.CertPath != "" && opts.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, protocol.ConnectionError("failed to load TLS certificate", map[string]interface{}{
				"certPath": opts.CertPath,
				"keyPath":  opts.KeyPath,
			}).WithCause(err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// handshake upgrades conn to TLS within the dial timeout.
func handshake(ctx context.Context, conn net.Conn, cfg *tls.Config, timeout time.Duration) (net.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		return nil, parseTLSError(err)
	}

	if !tlsConn.ConnectionState().HandshakeComplete {
		return nil, protocol.ConnectionError("TLS handshake did not complete", nil)
	}

	return tlsConn, nil
}

// parseTLSError provides clear error messages for common TLS failures.
func parseTLSError(err error) error {
	errStr := err.Error()

	var message string
	switch {
	case strings.Contains(errStr, "certificate has expired"):
		message = "server certificate has expired"
	case strings.Contains(errStr, "doesn't match"):
		message = "server certificate hostname doesn't match connection address"
	case strings.Contains(errStr, "unknown authority"):
		message = "server certificate signed by unknown authority (try setting a custom CA)"
	default:
		message = "TLS handshake failed"
	}

	return protocol.ConnectionError(message, nil).WithCause(err)
}
