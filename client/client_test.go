package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/testutil"
)

func newTestClient(t *testing.T, srv *testutil.Server, configure ...func(*ClientOptions)) *Client {
	t.Helper()

	opts := DefaultOptions()
	opts.Address = srv.Addr()
	opts.LogLevel = "none"
	opts.PoolMaxSize = 2
	opts.ReadTimeout = 2 * time.Second
	for _, fn := range configure {
		fn(&opts)
	}

	c := NewClient(&opts)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient(nil)

	_, err := c.Pipeline(context.Background())
	assert.True(t, errors.Is(err, ErrUsage))

	_, err = c.Transaction(context.Background())
	assert.True(t, errors.Is(err, ErrUsage))

	assert.Nil(t, c.Stats())
	assert.NoError(t, c.Close(context.Background()))
}

func TestClient_ConnectFailure(t *testing.T) {
	opts := DefaultOptions()
	opts.Address = "127.0.0.1:1"
	opts.LogLevel = "none"
	opts.PoolMinSize = 1
	opts.DialTimeout = 500 * time.Millisecond

	c := NewClient(&opts)
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
}

func TestClient_Do(t *testing.T) {
	testutil.VerifyNoLeaks(t)
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	reply, err := c.Do(ctx, "SET", "greeting", "hello")
	require.NoError(t, err)
	assert.True(t, reply.IsStatus("OK"))

	reply, err = c.Do(ctx, "GET", "greeting")
	require.NoError(t, err)
	value, err := reply.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	_, err = c.Do(ctx, "NOPE")
	var serr *protocol.ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "ERR", serr.Prefix())

	require.NoError(t, c.Ping(ctx))

	stats := c.Stats()
	assert.Equal(t, int32(1), stats.TotalConnections.Load(), "one connection serves sequential calls")
	assert.Equal(t, int32(0), stats.ActiveConnections.Load())
}

func TestClient_CleanBatchReturnsConnection(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	b, err := c.Transaction(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "a", "1"))
	require.NoError(t, b.Incr(ctx, "n"))
	_, err = b.Exec(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	stats := c.Stats()
	assert.Equal(t, int32(1), stats.IdleConnections.Load())
	assert.Equal(t, int64(0), stats.Poisoned.Load())
}

func TestClient_DirtyBatchPoisonsConnection(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	b, err := c.Pipeline(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Get(ctx, "a"))
	require.NoError(t, b.Close())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Poisoned.Load())
	assert.Equal(t, int32(0), stats.TotalConnections.Load())

	// the next batch gets a fresh connection with a clean stream
	srv.Set("b", "2")
	reply, err := c.Do(ctx, "GET", "b")
	require.NoError(t, err)
	value, _ := reply.Text()
	assert.Equal(t, "2", value)
}

func TestClient_WatchedTransactionAbort(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	srv.Set("stock", "5")

	tx, err := c.Transaction(ctx, WithPiped())
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.Watch(ctx, "stock"))
	_, err = c.Do(ctx, "SET", "stock", "4")
	require.NoError(t, err)

	require.NoError(t, tx.IncrBy(ctx, "stock", -1))
	_, err = tx.Exec(ctx)
	assert.True(t, errors.Is(err, ErrTransactionAborted))
}

type recordingHook struct {
	name string
	mu   sync.Mutex
	ops  []string
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *recordingHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, hookCtx.Operation)
	return nil
}

func (h *recordingHook) operations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ops...)
}

func TestClient_Hooks(t *testing.T) {
	srv := testutil.NewServer(t)
	fromOptions := &recordingHook{name: "options"}
	c := newTestClient(t, srv, func(o *ClientOptions) {
		o.Hooks = []Hook{fromOptions}
	})
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	registered := &recordingHook{name: "registered"}
	c.RegisterHook(registered)
	assert.Equal(t, []string{"options", "registered"}, c.GetHooks())

	_, err := c.Do(ctx, "PING")
	require.NoError(t, err)

	perBatch := &recordingHook{name: "per-batch"}
	b, err := c.Transaction(ctx, WithHooks(perBatch))
	require.NoError(t, err)
	require.NoError(t, b.Watch(ctx, "k"))
	require.NoError(t, b.Discard(ctx))
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"exec", "watch", "discard"}, fromOptions.operations())
	assert.Equal(t, []string{"exec", "watch", "discard"}, registered.operations())
	assert.Equal(t, []string{"watch", "discard"}, perBatch.operations())
	assert.Equal(t, []string{"options", "registered"}, c.GetHooks(), "per-batch hooks stay off the client")

	assert.True(t, c.UnregisterHook("options"))
	assert.False(t, c.UnregisterHook("options"))
	assert.Equal(t, []string{"registered"}, c.GetHooks())
}

func TestClient_StateHandlerOption(t *testing.T) {
	srv := testutil.NewServer(t)

	var mu sync.Mutex
	var states []BatchState
	c := newTestClient(t, srv, func(o *ClientOptions) {
		o.OnStateChange = func(tr StateTransition) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, tr.To)
		}
	})
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	_, err := c.Do(ctx, "PING")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []BatchState{StateQueuing, StateEmpty}, states)
}

func TestClient_PoolMetricsRegistered(t *testing.T) {
	srv := testutil.NewServer(t)
	reg := prometheus.NewRegistry()
	c := newTestClient(t, srv, func(o *ClientOptions) { o.Registerer = reg })

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, c.Ping(ctx))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["qpipe_pool_total_connections"])
	assert.True(t, names["qpipe_pool_misses_total"])
}

func TestClient_DebugInfo(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)

	assert.False(t, c.IsDebugMode())
	c.EnableDebugMode()
	assert.True(t, c.IsDebugMode())

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(c.DumpDebugInfoJSON()), &info))
	assert.Equal(t, srv.Addr(), info["address"])
	assert.Equal(t, true, info["debugMode"])
	assert.NotNil(t, info["pool"])

	c.DisableDebugMode()
	assert.False(t, c.IsDebugMode())
}
