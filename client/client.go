package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/transport"
	"github.com/dan-strohschein/qpipe/transport/tcp"
)

// Client hands out batches over pooled connections. Each batch owns its
// connection exclusively until Close, which returns the connection to the pool
// or closes it if the batch left it dirty.
type Client struct {
	opts    ClientOptions
	factory transport.Factory
	pool    *ConnectionPool
	logger  Logger
	hooks   *hookChain
	mu      sync.RWMutex

	debugMode atomic.Bool
}

// NewClient creates a new client with the given options.
// If opts is nil, default options are used. No connection is made until Connect.
func NewClient(opts *ClientOptions) *Client {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}

	tcpOpts := tcp.TCPTransportOptions{
		Address:      opts.Address,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		UseTLS:       opts.TLSEnabled,
		CAFile:       opts.TLSCAFile,
		CertPath:     opts.TLSCertFile,
		KeyPath:      opts.TLSKeyFile,
		SkipVerify:   opts.TLSInsecureSkipVerify,
	}

	return newClient(opts, func(ctx context.Context) (transport.Transport, error) {
		t, err := tcp.Dial(ctx, tcpOpts)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

func newClient(opts *ClientOptions, factory transport.Factory) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = NewLogger(opts.LogLevel, nil)
	}

	c := &Client{
		opts:    *opts,
		factory: factory,
		logger:  logger,
		hooks:   newHookChain(logger),
	}

	c.debugMode.Store(opts.DebugMode)

	for _, hook := range opts.Hooks {
		c.hooks.register(hook)
	}

	return c
}

// Connect creates the connection pool and dials PoolMinSize connections.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool != nil {
		return nil
	}

	c.logger.Info("connecting",
		String("address", c.opts.Address),
		Int("pool_min", c.opts.PoolMinSize),
		Int("pool_max", c.opts.PoolMaxSize))

	pool := NewConnectionPool(
		c.factory,
		c.opts.PoolMinSize,
		c.opts.PoolMaxSize,
		c.opts.PoolIdleTimeout,
		c.opts.HealthCheckInterval,
		c.logger,
		c.opts.Registerer,
	)
	if err := pool.Initialize(ctx); err != nil {
		c.logger.Error("connection pool initialization failed", Error("error", err))
		return newConnectionError("connect", "", err)
	}

	c.pool = pool
	return nil
}

// Pipeline checks out a connection and returns a pipeline batch on it.
// The caller must Close the batch.
func (c *Client) Pipeline(ctx context.Context, opts ...BatchOption) (*QueuedBatch, error) {
	t, pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	b := NewPipeline(t, c.batchOptions(opts)...)
	b.release = pool.Release
	return b, nil
}

// Transaction checks out a connection and returns a MULTI/EXEC batch on it.
// The caller must Close the batch.
func (c *Client) Transaction(ctx context.Context, opts ...BatchOption) (*QueuedBatch, error) {
	t, pool, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	b := NewTransaction(t, c.batchOptions(opts)...)
	b.release = pool.Release
	return b, nil
}

// Do runs one command as a single-command pipeline and returns its reply.
// Server error replies are returned as *protocol.ServerError.
func (c *Client) Do(ctx context.Context, args ...interface{}) (*protocol.Reply, error) {
	b, err := c.Pipeline(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if err := b.Command(ctx, args...); err != nil {
		return nil, err
	}
	replies, err := b.Exec(ctx)
	if err != nil {
		return nil, err
	}
	reply, err := replies.Reply(0)
	if err != nil {
		return nil, err
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return reply, nil
}

// Ping checks that the server answers PONG.
func (c *Client) Ping(ctx context.Context) error {
	reply, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if !reply.IsStatus("PONG") {
		return newProtocolError("expected PONG reply to PING", reply, nil)
	}
	return nil
}

// Stats returns the pool statistics, or nil before Connect.
func (c *Client) Stats() *PoolStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pool == nil {
		return nil
	}
	return c.pool.Stats()
}

// Close closes the pool. Batches still open close their connections on release.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	pool := c.pool
	c.pool = nil
	c.mu.Unlock()

	if pool == nil {
		return nil
	}
	c.logger.Info("closing client", String("address", c.opts.Address))
	return pool.Close(ctx)
}

// RegisterHook adds a hook to every batch created by this client, including
// batches already open. Hooks run in registration order; a hook with the same
// name replaces the existing one.
func (c *Client) RegisterHook(hook Hook) {
	c.hooks.register(hook)
}

// UnregisterHook removes a hook by name.
func (c *Client) UnregisterHook(name string) bool {
	return c.hooks.unregister(name)
}

// GetHooks returns the names of registered hooks in execution order.
func (c *Client) GetHooks() []string {
	return c.hooks.names()
}

func (c *Client) acquire(ctx context.Context) (transport.Transport, *ConnectionPool, error) {
	c.mu.RLock()
	pool := c.pool
	c.mu.RUnlock()

	if pool == nil {
		return nil, nil, &UsageError{
			Code:    "E_NOT_CONNECTED",
			Type:    "USAGE_ERROR",
			Message: "client is not connected",
		}
	}

	t, err := pool.Get(ctx)
	if err != nil {
		return nil, nil, newConnectionError("acquire", "", fmt.Errorf("no connection available: %w", err))
	}
	return t, pool, nil
}

// batchOptions puts the client defaults ahead of the caller's options so
// the caller can override them.
func (c *Client) batchOptions(opts []BatchOption) []BatchOption {
	defaults := []BatchOption{
		WithLogger(c.logger),
		withHookChain(c.hooks),
		WithDebugMode(c.IsDebugMode()),
	}
	if c.opts.OnStateChange != nil {
		defaults = append(defaults, WithStateHandler(c.opts.OnStateChange))
	}
	return append(defaults, opts...)
}
