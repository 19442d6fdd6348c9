package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/transport"
)

// PoolStats tracks connection pool statistics.
type PoolStats struct {
	ActiveConnections atomic.Int32
	IdleConnections   atomic.Int32
	TotalConnections  atomic.Int32
	WaitCount         atomic.Int64
	WaitDuration      atomic.Int64 // nanoseconds
	Hits              atomic.Int64
	Misses            atomic.Int64
	Timeouts          atomic.Int64
	Errors            atomic.Int64
	Poisoned          atomic.Int64
}

// ConnectionPool hands out exclusive transports. A transport is owned by one
// batch at a time and only comes back through Put once its stream is clean.
type ConnectionPool struct {
	conns               chan transport.Transport
	factory             transport.Factory
	codec               protocol.Codec
	logger              Logger
	minIdle             int
	maxOpen             int
	idleTimeout         time.Duration
	healthCheckInterval time.Duration
	stats               PoolStats
	stopCh              chan struct{}
	wg                  sync.WaitGroup
	mu                  sync.RWMutex
	closed              bool
}

// NewConnectionPool creates a new connection pool with the specified configuration.
// If reg is non-nil the pool statistics are exported to it.
func NewConnectionPool(
	factory transport.Factory,
	minIdle, maxOpen int,
	idleTimeout, healthCheckInterval time.Duration,
	logger Logger,
	reg prometheus.Registerer,
) *ConnectionPool {
	if minIdle < 0 {
		minIdle = 0
	}
	if maxOpen < 1 {
		maxOpen = 1
	}
	if minIdle > maxOpen {
		minIdle = maxOpen
	}
	if logger == nil {
		logger = NewNoopLogger()
	}

	pool := &ConnectionPool{
		conns:               make(chan transport.Transport, maxOpen),
		factory:             factory,
		codec:               protocol.NewCodec(),
		logger:              logger,
		minIdle:             minIdle,
		maxOpen:             maxOpen,
		idleTimeout:         idleTimeout,
		healthCheckInterval: healthCheckInterval,
		stopCh:              make(chan struct{}),
	}

	registerPoolMetrics(reg, pool)
	return pool
}

// Initialize starts the pool and creates minimum idle connections.
func (p *ConnectionPool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("pool is closed")
	}

	for i := 0; i < p.minIdle; i++ {
		conn, err := p.factory(ctx)
		if err != nil {
			p.closeAllConnections()
			return fmt.Errorf("failed to create initial connection: %w", err)
		}

		p.conns <- conn
		p.stats.TotalConnections.Add(1)
		p.stats.IdleConnections.Add(1)
	}

	if p.idleTimeout > 0 {
		p.wg.Add(1)
		go p.cleanupWorker()
	}
	if p.healthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthCheckWorker()
	}

	return nil
}

// Get acquires a transport from the pool, dialing a new one while below maxOpen.
func (p *ConnectionPool) Get(ctx context.Context) (transport.Transport, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.RUnlock()

	startWait := time.Now()
	p.stats.WaitCount.Add(1)

	select {
	case <-ctx.Done():
		p.stats.Timeouts.Add(1)
		return nil, ctx.Err()

	case conn := <-p.conns:
		return p.checkout(ctx, conn, startWait)

	default:
		if p.stats.TotalConnections.Add(1) <= int32(p.maxOpen) {
			conn, err := p.factory(ctx)
			if err != nil {
				p.stats.TotalConnections.Add(-1)
				p.stats.Errors.Add(1)
				return nil, fmt.Errorf("failed to create new connection: %w", err)
			}

			p.stats.WaitDuration.Add(int64(time.Since(startWait)))
			p.stats.Misses.Add(1)
			p.stats.ActiveConnections.Add(1)
			return conn, nil
		}
		p.stats.TotalConnections.Add(-1)

		// At capacity, wait for a release
		select {
		case <-ctx.Done():
			p.stats.Timeouts.Add(1)
			return nil, ctx.Err()

		case conn := <-p.conns:
			return p.checkout(ctx, conn, startWait)
		}
	}
}

func (p *ConnectionPool) checkout(ctx context.Context, conn transport.Transport, startWait time.Time) (transport.Transport, error) {
	p.stats.WaitDuration.Add(int64(time.Since(startWait)))
	p.stats.IdleConnections.Add(-1)

	if !conn.IsHealthy() {
		p.stats.TotalConnections.Add(-1)
		conn.Close()
		return p.Get(ctx)
	}

	p.stats.Hits.Add(1)
	p.stats.ActiveConnections.Add(1)
	return conn, nil
}

// Put returns a transport to the pool. Broken transports are closed instead.
func (p *ConnectionPool) Put(conn transport.Transport) {
	if conn == nil {
		return
	}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	p.stats.ActiveConnections.Add(-1)

	if closed || !conn.IsHealthy() {
		p.stats.TotalConnections.Add(-1)
		conn.Close()
		return
	}

	select {
	case p.conns <- conn:
		p.stats.IdleConnections.Add(1)
	default:
		p.stats.TotalConnections.Add(-1)
		conn.Close()
	}
}

// Poison closes a checked-out transport whose stream position is unknown,
// such as one abandoned with queued commands or unread replies.
func (p *ConnectionPool) Poison(conn transport.Transport) {
	if conn == nil {
		return
	}

	p.stats.ActiveConnections.Add(-1)
	p.stats.TotalConnections.Add(-1)
	p.stats.Poisoned.Add(1)

	p.logger.Debug("closing dirty connection", String("remote_addr", conn.RemoteAddr()))
	conn.Close()
}

// Release is the callback handed to batches: clean transports go back to the
// pool, dirty ones are poisoned.
func (p *ConnectionPool) Release(conn transport.Transport, reusable bool) {
	if reusable {
		p.Put(conn)
		return
	}
	p.Poison(conn)
}

// Stats returns a snapshot of pool statistics.
func (p *ConnectionPool) Stats() *PoolStats {
	stats := &PoolStats{}
	stats.ActiveConnections.Store(p.stats.ActiveConnections.Load())
	stats.IdleConnections.Store(p.stats.IdleConnections.Load())
	stats.TotalConnections.Store(p.stats.TotalConnections.Load())
	stats.WaitCount.Store(p.stats.WaitCount.Load())
	stats.WaitDuration.Store(p.stats.WaitDuration.Load())
	stats.Hits.Store(p.stats.Hits.Load())
	stats.Misses.Store(p.stats.Misses.Load())
	stats.Timeouts.Store(p.stats.Timeouts.Load())
	stats.Errors.Store(p.stats.Errors.Load())
	stats.Poisoned.Store(p.stats.Poisoned.Load())
	return stats
}

// Close stops the background workers and closes all idle connections.
// Checked-out transports are closed when they are returned.
func (p *ConnectionPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	p.closeAllConnections()

	return nil
}

func (p *ConnectionPool) cleanupWorker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.idleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return

		case <-ticker.C:
			p.cleanupIdleConnections()
		}
	}
}

// cleanupIdleConnections removes stale idle connections while maintaining minIdle.
func (p *ConnectionPool) cleanupIdleConnections() {
	now := time.Now()
	currentIdle := int(p.stats.IdleConnections.Load())

	for currentIdle > p.minIdle {
		select {
		case conn := <-p.conns:
			if now.Sub(conn.LastActivity()) > p.idleTimeout {
				p.stats.IdleConnections.Add(-1)
				p.stats.TotalConnections.Add(-1)
				conn.Close()
				currentIdle--
			} else {
				p.conns <- conn
				return
			}

		default:
			return
		}
	}
}

func (p *ConnectionPool) healthCheckWorker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return

		case <-ticker.C:
			p.healthCheckIdleConnections()
		}
	}
}

// healthCheckIdleConnections pings idle connections and removes dead ones.
func (p *ConnectionPool) healthCheckIdleConnections() {
	idleCount := int(p.stats.IdleConnections.Load())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < idleCount; i++ {
		select {
		case conn := <-p.conns:
			if err := p.ping(ctx, conn); err != nil {
				p.logger.Debug("idle connection failed health check",
					String("remote_addr", conn.RemoteAddr()),
					Error("error", err))
				p.stats.IdleConnections.Add(-1)
				p.stats.TotalConnections.Add(-1)
				conn.Close()
			} else {
				p.conns <- conn
			}

		default:
			return
		}
	}
}

// ping round-trips PING on an idle transport.
func (p *ConnectionPool) ping(ctx context.Context, conn transport.Transport) error {
	if !conn.IsHealthy() {
		return errConnectionBroken("ping", "")
	}
	if err := conn.Send(ctx, p.codec.EncodeCommand([]string{"PING"})); err != nil {
		return err
	}
	reply, err := conn.Receive(ctx)
	if err != nil {
		return err
	}
	if !reply.IsStatus("PONG") {
		return newProtocolError("expected PONG reply to PING", reply, reply.Err())
	}
	return nil
}

func (p *ConnectionPool) closeAllConnections() {
	for {
		select {
		case conn := <-p.conns:
			p.stats.IdleConnections.Add(-1)
			p.stats.TotalConnections.Add(-1)
			conn.Close()
		default:
			return
		}
	}
}
