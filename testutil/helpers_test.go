package testutil_test

import (
	"testing"
	"time"

	"github.com/dan-strohschein/qpipe/testutil"
)

func TestUniqueKey(t *testing.T) {
	key1 := testutil.UniqueKey("test")
	key2 := testutil.UniqueKey("test")
	if key1 == key2 {
		t.Error("expected unique keys")
	}
}

func TestWithTimeout(t *testing.T) {
	ctx, _ := testutil.WithTimeout(t, 100*time.Millisecond)
	select {
	case <-ctx.Done():
		t.Fatal("context canceled too early")
	default:
	}
}

func TestWaitFor(t *testing.T) {
	counter := 0
	condition := func() bool {
		counter++
		return counter >= 3
	}
	testutil.WaitFor(t, 1*time.Second, 10*time.Millisecond, condition)
	if counter < 3 {
		t.Errorf("expected counter >= 3, got %d", counter)
	}
}

func TestSkipIf(t *testing.T) {
	testutil.SkipIf(t, false, "should not skip")
}
