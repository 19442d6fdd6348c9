package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/transport/mock"
)

// NoOpHook is a minimal hook that does nothing (for baseline benchmarking).
type NoOpHook struct {
	name string
}

func (h *NoOpHook) Name() string {
	return h.name
}

func (h *NoOpHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *NoOpHook) After(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

// benchmarkExec queues and executes one ten-command pipeline per iteration.
func benchmarkExec(b *testing.B, hooks ...Hook) {
	const commands = 10

	tr := mock.NewMockTransport()
	batch := NewPipeline(tr, WithHooks(hooks...))
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		for j := 0; j < commands; j++ {
			tr.WithReplies(protocol.StatusReply("OK"))
		}
		b.StartTimer()

		for j := 0; j < commands; j++ {
			if err := batch.Set(ctx, "key", j); err != nil {
				b.Fatal(err)
			}
		}
		if _, err := batch.Exec(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExec_NoHooks(b *testing.B) {
	benchmarkExec(b)
}

func BenchmarkExec_Hooks(b *testing.B) {
	for _, n := range []int{1, 3, 5} {
		b.Run(fmt.Sprintf("%d", n), func(b *testing.B) {
			hooks := make([]Hook, n)
			for i := range hooks {
				hooks[i] = &NoOpHook{name: fmt.Sprintf("noop%d", i)}
			}
			benchmarkExec(b, hooks...)
		})
	}
}

func BenchmarkExec_BuiltinHooks(b *testing.B) {
	benchmarkExec(b,
		NewLoggingHook(NewNoopLogger(), false, true),
		NewMetricsHook(nil),
		NewTracingHook(nil),
	)
}
