package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, "localhost:6379", opts.Address)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
	assert.Equal(t, 10, opts.PoolMaxSize)
	assert.Equal(t, "info", opts.LogLevel)
	assert.False(t, opts.DebugMode)
}

func TestBatchOptions(t *testing.T) {
	hook := &recordingHook{name: "h"}
	called := false

	cfg := resolveBatchConfig([]BatchOption{
		WithPiped(),
		WithDebugMode(true),
		WithHooks(hook),
		WithStateHandler(func(StateTransition) { called = true }),
	})

	assert.True(t, cfg.piped)
	assert.True(t, cfg.debugMode)
	assert.NotNil(t, cfg.logger, "a noop logger is always set")
	assert.Equal(t, []string{"h"}, cfg.hooks.names())
	assert.Len(t, cfg.onState, 1)

	cfg.onState[0](StateTransition{})
	assert.True(t, called)
}

func TestWithHooksCopiesSharedChain(t *testing.T) {
	shared := newHookChain(nil)
	shared.register(&recordingHook{name: "client"})

	cfg := resolveBatchConfig([]BatchOption{
		withHookChain(shared),
		WithHooks(&recordingHook{name: "batch"}),
	})

	assert.Equal(t, []string{"client", "batch"}, cfg.hooks.names())
	assert.Equal(t, []string{"client"}, shared.names())
}
