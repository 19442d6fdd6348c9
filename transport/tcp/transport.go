// Package tcp implements transport.Transport over a single TCP or TLS connection
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/transport"
)

// TCPTransportOptions configures the TCP transport
type TCPTransportOptions struct {
	// Address is the server address (host:port)
	Address string

	// DialTimeout bounds connection establishment and the TLS handshake
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout apply when the context carries no deadline.
	// Zero means no timeout.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// TLS configuration
	UseTLS     bool
	CAFile     string
	CertPath   string
	KeyPath    string
	SkipVerify bool

	// ReadBufferSize sizes the reply reader. Default: 64KB
	ReadBufferSize int
}

// TCPTransport implements transport.Transport for one native TCP connection.
// Frames are written and read in order; it must not be shared between goroutines.
type TCPTransport struct {
	opts         TCPTransportOptions
	codec        protocol.Codec
	conn         net.Conn
	reader       *bufio.Reader
	remoteAddr   string
	lastActivity time.Time
	alive        bool
	metrics      transportMetrics
	mu           sync.RWMutex
}

var _ transport.Transport = (*TCPTransport)(nil)

// transportMetrics tracks transport performance
type transportMetrics struct {
	totalRequests atomic.Int64
	totalReplies  atomic.Int64
	totalErrors   atomic.Int64
	bytesSent     atomic.Int64
	latencySum    atomic.Int64 // nanoseconds
	lastError     error
	lastErrorTime time.Time
	mu            sync.RWMutex
}

func (o *TCPTransportOptions) applyDefaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = 64 * 1024
	}
}

// Dial connects to opts.Address and returns a ready transport
func Dial(ctx context.Context, opts TCPTransportOptions) (*TCPTransport, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	opts.applyDefaults()

	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, protocol.ConnectionError(fmt.Sprintf("failed to connect to %s", opts.Address), map[string]interface{}{
			"address": opts.Address,
			"timeout": opts.DialTimeout.String(),
		}).WithCause(err)
	}

	// Upgrade to TLS if enabled
	if opts.UseTLS {
		tlsConfig, err := buildTLSConfig(opts)
		if err != nil {
			conn.Close()
			return nil, err
		}

		tlsConn, err := handshake(ctx, conn, tlsConfig, opts.DialTimeout)
		if err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	return NewTCPTransport(conn, opts), nil
}

// NewTCPTransport wraps an established connection
func NewTCPTransport(conn net.Conn, opts TCPTransportOptions) *TCPTransport {
	opts.applyDefaults()

	remote := opts.Address
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &TCPTransport{
		opts:         opts,
		codec:        protocol.NewCodec(),
		conn:         conn,
		reader:       bufio.NewReaderSize(conn, opts.ReadBufferSize),
		remoteAddr:   remote,
		lastActivity: time.Now(),
		alive:        true,
	}
}

// Send implements transport.Transport
func (t *TCPTransport) Send(ctx context.Context, frame []byte) error {
	if !t.IsHealthy() {
		return protocol.ClosedError()
	}

	// Check context cancellation before operation
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	t.metrics.totalRequests.Add(1)

	if err := t.conn.SetWriteDeadline(t.deadline(ctx, t.opts.WriteTimeout)); err != nil {
		t.markDead()
		return t.recordError(protocol.WriteError(err))
	}

	if _, err := t.conn.Write(frame); err != nil {
		t.markDead()
		return t.recordError(classify(err, protocol.WriteError(err)))
	}

	t.metrics.bytesSent.Add(int64(len(frame)))
	t.recordLatency(time.Since(start))
	t.updateActivity()
	return nil
}

// Receive implements transport.Transport
func (t *TCPTransport) Receive(ctx context.Context) (*protocol.Reply, error) {
	if !t.IsHealthy() {
		return nil, protocol.ClosedError()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	if err := t.conn.SetReadDeadline(t.deadline(ctx, t.opts.ReadTimeout)); err != nil {
		t.markDead()
		return nil, t.recordError(protocol.ReadError(err))
	}

	reply, err := t.codec.ReadReply(t.reader)
	if err != nil {
		// The stream position is unknown after any read failure
		t.markDead()
		var perr *protocol.ParseError
		if errors.As(err, &perr) {
			return nil, t.recordError(protocol.MalformedReplyError(err))
		}
		return nil, t.recordError(classify(err, protocol.ReadError(err)))
	}

	t.metrics.totalReplies.Add(1)
	t.recordLatency(time.Since(start))
	t.updateActivity()
	return reply, nil
}

// Close implements transport.Transport
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	wasAlive := t.alive
	t.alive = false
	t.mu.Unlock()

	if t.conn != nil && wasAlive {
		return t.conn.Close()
	}
	return nil
}

// IsHealthy implements transport.Transport
func (t *TCPTransport) IsHealthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

// RemoteAddr implements transport.Transport
func (t *TCPTransport) RemoteAddr() string {
	return t.remoteAddr
}

// LastActivity implements transport.Transport
func (t *TCPTransport) LastActivity() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastActivity
}

// GetMetrics implements transport.Transport
func (t *TCPTransport) GetMetrics() transport.TransportMetrics {
	t.metrics.mu.RLock()
	lastErr := t.metrics.lastError
	lastErrTime := t.metrics.lastErrorTime
	t.metrics.mu.RUnlock()

	ops := t.metrics.totalRequests.Load() + t.metrics.totalReplies.Load()
	avgLatency := time.Duration(0)
	if ops > 0 {
		avgLatency = time.Duration(t.metrics.latencySum.Load() / ops)
	}

	return transport.TransportMetrics{
		TotalRequests:  t.metrics.totalRequests.Load(),
		TotalReplies:   t.metrics.totalReplies.Load(),
		TotalErrors:    t.metrics.totalErrors.Load(),
		AverageLatency: avgLatency,
		LastError:      lastErr,
		LastErrorTime:  lastErrTime,
		BytesSent:      t.metrics.bytesSent.Load(),
	}
}

// deadline picks the context deadline, falling back to the configured timeout
func (t *TCPTransport) deadline(ctx context.Context, fallback time.Duration) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	if fallback > 0 {
		return time.Now().Add(fallback)
	}
	return time.Time{}
}

// classify maps net timeouts and EOF onto transport error codes
func classify(err error, fallback *protocol.TransportError) *protocol.TransportError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return protocol.TimeoutError("i/o timeout", nil).WithCause(err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return protocol.NewTransportError(protocol.ErrorCodeConnectionClosed, "connection closed by peer", nil).WithCause(err)
	}
	return fallback
}

// recordError records an error in metrics
func (t *TCPTransport) recordError(err *protocol.TransportError) error {
	t.metrics.totalErrors.Add(1)
	t.metrics.mu.Lock()
	t.metrics.lastError = err
	t.metrics.lastErrorTime = time.Now()
	t.metrics.mu.Unlock()
	return err
}

// recordLatency records latency in metrics
func (t *TCPTransport) recordLatency(latency time.Duration) {
	t.metrics.latencySum.Add(int64(latency))
}

// updateActivity updates the last activity timestamp
func (t *TCPTransport) updateActivity() {
	t.mu.Lock()
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// markDead marks the connection as dead and releases the socket
func (t *TCPTransport) markDead() {
	t.mu.Lock()
	wasAlive := t.alive
	t.alive = false
	t.mu.Unlock()

	if wasAlive && t.conn != nil {
		t.conn.Close()
	}
}
