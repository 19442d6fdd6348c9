package client

import (
	"context"
	"sync"
	"time"
)

// HookContext describes the batch operation being executed.
// It is passed to hooks to allow inspection.
type HookContext struct {
	// Operation is "exec", "discard" or "watch"
	Operation string

	// BatchID identifies the batch
	BatchID string

	// Transaction is true for MULTI/EXEC batches
	Transaction bool

	// Piped is true when transaction acknowledgements are read at exec time
	Piped bool

	// Commands is the number of queued commands
	Commands int

	// Keys are the watched keys (watch only)
	Keys []string

	// Fingerprint is the xxhash of the frames queued so far
	Fingerprint uint64

	// StartTime is when the operation began
	StartTime time.Time

	// Metadata allows hooks to store arbitrary data for passing between Before/After
	Metadata map[string]interface{}

	// TraceID is the unique identifier for this operation
	TraceID string

	// Replies stores the exec result (available in After hook)
	Replies *Replies

	// Error stores any error that occurred (available in After hook)
	Error error

	// Duration is the execution time (available in After hook)
	Duration time.Duration
}

// Hook is the interface that all hooks must implement.
type Hook interface {
	// Name returns the unique name of this hook
	Name() string

	// Before is called before the operation touches the connection.
	// Returning an error aborts the operation and leaves the batch unchanged.
	Before(ctx context.Context, hookCtx *HookContext) error

	// After is called after the operation (even if it failed).
	// Errors are logged and otherwise ignored.
	After(ctx context.Context, hookCtx *HookContext) error
}

// hookEntry wraps a Hook with its registration order for stable iteration.
type hookEntry struct {
	hook  Hook
	order int
}

// hookChain is an ordered, named set of hooks shared by a client and its batches.
type hookChain struct {
	hooks  []hookEntry
	logger Logger
	mu     sync.RWMutex
}

func newHookChain(logger Logger) *hookChain {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &hookChain{logger: logger}
}

// register adds a hook. Hooks run in FIFO order.
// If a hook with the same name already exists, it is replaced.
func (c *hookChain) register(hook Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, entry := range c.hooks {
		if entry.hook.Name() == hook.Name() {
			c.hooks[i].hook = hook
			c.logger.Info("hook replaced", String("hook", hook.Name()))
			return
		}
	}

	order := len(c.hooks)
	c.hooks = append(c.hooks, hookEntry{hook: hook, order: order})
	c.logger.Info("hook registered", String("hook", hook.Name()), Int("order", order))
}

// unregister removes a hook by name.
func (c *hookChain) unregister(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, entry := range c.hooks {
		if entry.hook.Name() == name {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			c.logger.Info("hook unregistered", String("hook", name))
			return true
		}
	}

	return false
}

func (c *hookChain) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.hooks))
	for i, entry := range c.hooks {
		names[i] = entry.hook.Name()
	}
	return names
}

func (c *hookChain) snapshot() []Hook {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	hooks := make([]Hook, len(c.hooks))
	for i, entry := range c.hooks {
		hooks[i] = entry.hook
	}
	return hooks
}

// before runs all Before hooks in order, stopping at the first error.
func (c *hookChain) before(ctx context.Context, hookCtx *HookContext) error {
	for _, hook := range c.snapshot() {
		if err := hook.Before(ctx, hookCtx); err != nil {
			c.logger.Debug("hook aborted operation",
				String("hook", hook.Name()),
				String("operation", hookCtx.Operation),
				Error("error", err))
			return err
		}
	}
	return nil
}

// after runs all After hooks in order. Errors are logged.
func (c *hookChain) after(ctx context.Context, hookCtx *HookContext) {
	for _, hook := range c.snapshot() {
		if err := hook.After(ctx, hookCtx); err != nil {
			c.logger.Debug("hook returned error in After",
				String("hook", hook.Name()),
				String("operation", hookCtx.Operation),
				Error("error", err))
		}
	}
}
