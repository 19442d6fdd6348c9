//go:generate mockgen -source transport.go -destination ../internal/mocks/mock_transport.go -package mocks Transport

// Package transport defines the connection abstraction consumed by queued batches
package transport

import (
	"context"
	"time"

	"github.com/dan-strohschein/qpipe/protocol"
)

// Transport is one ordered, request/response connection to the server.
// Implementations are not required to be safe for concurrent use.
type Transport interface {
	// Send writes one encoded command frame
	Send(ctx context.Context, frame []byte) error

	// Receive reads and parses exactly one reply frame
	Receive(ctx context.Context) (*protocol.Reply, error)

	// Close closes the transport connection
	Close() error

	// IsHealthy returns false once the transport is broken or closed
	IsHealthy() bool

	// RemoteAddr returns the server address
	RemoteAddr() string

	// LastActivity returns the time of the last successful Send or Receive
	LastActivity() time.Time

	// GetMetrics returns transport performance metrics
	GetMetrics() TransportMetrics
}

// TransportMetrics contains performance and health metrics
type TransportMetrics struct {
	// TotalRequests is the number of frames sent
	TotalRequests int64

	// TotalReplies is the number of frames received
	TotalReplies int64

	// TotalErrors is the total number of errors encountered
	TotalErrors int64

	// AverageLatency is the average Send/Receive latency
	AverageLatency time.Duration

	// LastError is the most recent error encountered
	LastError error

	// LastErrorTime is when the last error occurred
	LastErrorTime time.Time

	// BytesSent is the total bytes sent
	BytesSent int64
}

// Factory creates new transport instances
type Factory func(ctx context.Context) (Transport, error)
