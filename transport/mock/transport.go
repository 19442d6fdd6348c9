// Package mock provides a scripted transport.Transport for tests
package mock

import (
	"bufio"
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/transport"
)

// MockTransport implements transport.Transport for testing.
// Replies are served in the order they were queued.
type MockTransport struct {
	// Behavior configuration
	sendErr       error
	failSendAt    int
	receiveErr    error
	failReceiveAt int
	replies       []*protocol.Reply
	healthy       bool

	// Call tracking
	sendCalls    atomic.Int32
	receiveCalls atomic.Int32
	closeCalls   atomic.Int32

	// Metrics
	metrics      mockMetrics
	mu           sync.RWMutex
	closed       bool
	sendDelay    time.Duration
	recvDelay    time.Duration
	sendHistory  [][]byte
	lastActivity time.Time
	codec        protocol.Codec
}

var _ transport.Transport = (*MockTransport)(nil)

type mockMetrics struct {
	totalRequests atomic.Int64
	totalReplies  atomic.Int64
	totalErrors   atomic.Int64
	bytesSent     atomic.Int64
}

// NewMockTransport creates a new healthy mock transport with no queued replies
func NewMockTransport() *MockTransport {
	return &MockTransport{
		healthy:     true,
		sendHistory: make([][]byte, 0),
		codec:       protocol.NewCodec(),
	}
}

// WithReplies queues replies to be returned by Receive
func (m *MockTransport) WithReplies(replies ...*protocol.Reply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
	return m
}

// WithSendError configures every Send to fail
func (m *MockTransport) WithSendError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
	m.failSendAt = 0
	return m
}

// FailSendAt makes the n-th Send call (1-based) fail with err
func (m *MockTransport) FailSendAt(n int, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
	m.failSendAt = n
	return m
}

// WithReceiveError configures every Receive to fail
func (m *MockTransport) WithReceiveError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveErr = err
	m.failReceiveAt = 0
	return m
}

// FailReceiveAt makes the n-th Receive call (1-based) fail with err
func (m *MockTransport) FailReceiveAt(n int, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveErr = err
	m.failReceiveAt = n
	return m
}

// WithHealthy configures the health status
func (m *MockTransport) WithHealthy(healthy bool) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
	return m
}

// WithSendDelay adds a delay to Send operations
func (m *MockTransport) WithSendDelay(delay time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendDelay = delay
	return m
}

// WithReceiveDelay adds a delay to Receive operations
func (m *MockTransport) WithReceiveDelay(delay time.Duration) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recvDelay = delay
	return m
}

// Send implements transport.Transport
func (m *MockTransport) Send(ctx context.Context, frame []byte) error {
	call := int(m.sendCalls.Add(1))
	m.metrics.totalRequests.Add(1)

	m.mu.Lock()
	if m.closed || !m.healthy {
		m.mu.Unlock()
		m.metrics.totalErrors.Add(1)
		return protocol.ClosedError()
	}

	delay := m.sendDelay
	sendErr := m.sendErr
	if m.failSendAt != 0 && m.failSendAt != call {
		sendErr = nil
	}
	m.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return err
	}

	if sendErr != nil {
		m.metrics.totalErrors.Add(1)
		// A failed write leaves the stream in an unknown state
		m.WithHealthy(false)
		return sendErr
	}

	// Record send
	m.mu.Lock()
	m.sendHistory = append(m.sendHistory, frame)
	m.lastActivity = time.Now()
	m.mu.Unlock()

	m.metrics.bytesSent.Add(int64(len(frame)))
	return nil
}

// Receive implements transport.Transport
func (m *MockTransport) Receive(ctx context.Context) (*protocol.Reply, error) {
	call := int(m.receiveCalls.Add(1))

	m.mu.Lock()
	if m.closed || !m.healthy {
		m.mu.Unlock()
		m.metrics.totalErrors.Add(1)
		return nil, protocol.ClosedError()
	}

	delay := m.recvDelay
	receiveErr := m.receiveErr
	if m.failReceiveAt != 0 && m.failReceiveAt != call {
		receiveErr = nil
	}
	m.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return nil, err
	}

	if receiveErr != nil {
		m.metrics.totalErrors.Add(1)
		m.WithHealthy(false)
		return nil, receiveErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.replies) == 0 {
		m.metrics.totalErrors.Add(1)
		return nil, protocol.TimeoutError("no reply queued", nil)
	}

	reply := m.replies[0]
	m.replies = m.replies[1:]
	m.lastActivity = time.Now()
	m.metrics.totalReplies.Add(1)
	return reply, nil
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Close implements transport.Transport
func (m *MockTransport) Close() error {
	m.closeCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// IsHealthy implements transport.Transport
func (m *MockTransport) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy && !m.closed
}

// RemoteAddr implements transport.Transport
func (m *MockTransport) RemoteAddr() string {
	return "mock"
}

// LastActivity implements transport.Transport
func (m *MockTransport) LastActivity() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastActivity
}

// GetMetrics implements transport.Transport
func (m *MockTransport) GetMetrics() transport.TransportMetrics {
	return transport.TransportMetrics{
		TotalRequests: m.metrics.totalRequests.Load(),
		TotalReplies:  m.metrics.totalReplies.Load(),
		TotalErrors:   m.metrics.totalErrors.Load(),
		BytesSent:     m.metrics.bytesSent.Load(),
	}
}

// GetSendCallCount returns the number of times Send was called
func (m *MockTransport) GetSendCallCount() int {
	return int(m.sendCalls.Load())
}

// GetReceiveCallCount returns the number of times Receive was called
func (m *MockTransport) GetReceiveCallCount() int {
	return int(m.receiveCalls.Load())
}

// GetCloseCallCount returns the number of times Close was called
func (m *MockTransport) GetCloseCallCount() int {
	return int(m.closeCalls.Load())
}

// GetSendHistory returns all frames sent through this transport
func (m *MockTransport) GetSendHistory() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modifications
	history := make([][]byte, len(m.sendHistory))
	copy(history, m.sendHistory)
	return history
}

// SentCommands decodes the send history back into argument lists
func (m *MockTransport) SentCommands() [][]string {
	history := m.GetSendHistory()
	commands := make([][]string, 0, len(history))
	for _, frame := range history {
		reply, err := m.codec.ReadReply(bufio.NewReader(bytes.NewReader(frame)))
		if err != nil {
			commands = append(commands, nil)
			continue
		}
		args, err := reply.Strings()
		if err != nil {
			commands = append(commands, nil)
			continue
		}
		commands = append(commands, args)
	}
	return commands
}

// PendingReplies returns how many queued replies have not been received
func (m *MockTransport) PendingReplies() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.replies)
}

// Reset clears all state and call counts
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErr = nil
	m.failSendAt = 0
	m.receiveErr = nil
	m.failReceiveAt = 0
	m.replies = nil
	m.healthy = true
	m.closed = false
	m.sendDelay = 0
	m.recvDelay = 0

	m.sendCalls.Store(0)
	m.receiveCalls.Store(0)
	m.closeCalls.Store(0)

	m.metrics.totalRequests.Store(0)
	m.metrics.totalReplies.Store(0)
	m.metrics.totalErrors.Store(0)
	m.metrics.bytesSent.Store(0)

	m.sendHistory = make([][]byte, 0)
}

// IsClosed returns whether the transport has been closed
func (m *MockTransport) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
