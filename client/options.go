package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClientOptions configures the client behavior.
type ClientOptions struct {
	// Address is the server address (host:port).
	// Default: "localhost:6379"
	Address string

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout apply to operations whose context has no deadline.
	// Default: 3s, 3s
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DebugMode enables verbose error serialization with full cause chains.
	// Default: false
	DebugMode bool

	// PoolMinSize is the minimum number of idle connections to maintain.
	// Default: 0
	PoolMinSize int

	// PoolMaxSize is the maximum number of open connections.
	// Default: 10
	PoolMaxSize int

	// PoolIdleTimeout is the duration after which idle connections are closed.
	// Default: 5m
	PoolIdleTimeout time.Duration

	// HealthCheckInterval is how often idle connections are pinged.
	// Default: 30s
	HealthCheckInterval time.Duration

	// TLSEnabled enables TLS.
	// Default: false
	TLSEnabled bool

	// TLSInsecureSkipVerify skips certificate validation (for development only).
	TLSInsecureSkipVerify bool

	// TLSCAFile is the path to a custom CA certificate file.
	TLSCAFile string

	// TLSCertFile is the path to the client certificate file.
	TLSCertFile string

	// TLSKeyFile is the path to the client private key file.
	TLSKeyFile string

	// Logger is the logger implementation to use.
	// If nil, a logger is built from LogLevel.
	Logger Logger

	// LogLevel sets the minimum log level (debug, info, warn, error, none).
	// Default: "info"
	LogLevel string

	// Hooks are registered on the client in order.
	Hooks []Hook

	// Registerer receives the pool gauges. If nil, pool metrics are not exported.
	Registerer prometheus.Registerer

	// OnStateChange is attached to every batch the client creates.
	OnStateChange StateChangeHandler
}

// DefaultOptions returns ClientOptions with default values.
func DefaultOptions() ClientOptions {
	return ClientOptions{
		Address:             "localhost:6379",
		DialTimeout:         5 * time.Second,
		ReadTimeout:         3 * time.Second,
		WriteTimeout:        3 * time.Second,
		PoolMinSize:         0,
		PoolMaxSize:         10,
		PoolIdleTimeout:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
		LogLevel:            "info",
	}
}

// BatchOption configures a QueuedBatch.
type BatchOption func(*batchConfig)

type batchConfig struct {
	piped     bool
	logger    Logger
	hooks     *hookChain
	debugMode bool
	onState   []StateChangeHandler
}

// WithPiped makes a transaction leave MULTI/QUEUED acknowledgements on the wire
// until Exec or Discard, instead of reading each one at append time.
// It has no effect on pipelines.
func WithPiped() BatchOption {
	return func(c *batchConfig) { c.piped = true }
}

// WithLogger sets the batch logger.
func WithLogger(logger Logger) BatchOption {
	return func(c *batchConfig) { c.logger = logger }
}

// WithHooks runs hooks around Exec, Discard and Watch.
func WithHooks(hooks ...Hook) BatchOption {
	return func(c *batchConfig) {
		// Copy so a shared client chain is never modified
		chain := newHookChain(nil)
		for _, h := range c.hooks.snapshot() {
			chain.register(h)
		}
		for _, h := range hooks {
			chain.register(h)
		}
		c.hooks = chain
	}
}

// WithDebugMode makes logged errors carry their full debug formatting.
func WithDebugMode(debug bool) BatchOption {
	return func(c *batchConfig) { c.debugMode = debug }
}

// WithStateHandler registers a state change handler on the batch.
func WithStateHandler(handler StateChangeHandler) BatchOption {
	return func(c *batchConfig) { c.onState = append(c.onState, handler) }
}

func withHookChain(chain *hookChain) BatchOption {
	return func(c *batchConfig) { c.hooks = chain }
}
