// Package testutil provides a fake RESP server and helpers for tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

var keyCounter uint64

// ServerAddr returns the address of a server to test against.
// It reads QPIPE_TEST_ADDR from the environment; if unset, it starts an
// in-process fake server that is closed on test cleanup.
//
// Example:
//
//	export QPIPE_TEST_ADDR="localhost:6379"
//	addr := testutil.ServerAddr(t)
func ServerAddr(t testing.TB) string {
	t.Helper()

	if addr := os.Getenv("QPIPE_TEST_ADDR"); addr != "" {
		return addr
	}
	return NewServer(t).Addr()
}

// UniqueKey generates a key that does not collide with other tests.
// Format: <prefix>:<timestamp>:<counter>
func UniqueKey(prefix string) string {
	if prefix == "" {
		prefix = "test"
	}
	n := atomic.AddUint64(&keyCounter, 1)
	return fmt.Sprintf("%s:%d:%d", prefix, time.Now().Unix(), n)
}

// WithTimeout creates a context with timeout for tests.
// Default timeout is 10 seconds.
func WithTimeout(t testing.TB, timeout ...time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	duration := 10 * time.Second
	if len(timeout) > 0 {
		duration = timeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t.Cleanup(cancel)

	return ctx, cancel
}

// VerifyNoLeaks registers a cleanup that fails the test if goroutines leak.
// Call it first so it runs after every other cleanup.
func VerifyNoLeaks(t testing.TB) {
	t.Helper()
	baseline := goleak.IgnoreCurrent()
	t.Cleanup(func() {
		goleak.VerifyNone(t, baseline)
	})
}

// WaitFor polls a condition until it returns true or times out.
func WaitFor(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	t.Errorf("condition not met within timeout %v", timeout)
	return false
}

// SkipIf skips the test if the condition is true.
func SkipIf(t testing.TB, condition bool, reason string) {
	t.Helper()
	if condition {
		t.Skip(reason)
	}
}
