package mock

import (
	"context"
	"testing"
	"time"

	"github.com/dan-strohschein/qpipe/protocol"
)

func TestMockTransport_Send(t *testing.T) {
	mock := NewMockTransport()
	ctx := context.Background()
	frame := protocol.NewCodec().EncodeCommand([]string{"GET", "k"})

	err := mock.Send(ctx, frame)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if mock.GetSendCallCount() != 1 {
		t.Errorf("expected 1 send call, got %d", mock.GetSendCallCount())
	}

	history := mock.GetSendHistory()
	if len(history) != 1 {
		t.Fatalf("expected 1 item in history, got %d", len(history))
	}
	if string(history[0]) != string(frame) {
		t.Errorf("expected %q in history, got %q", frame, history[0])
	}

	cmds := mock.SentCommands()
	if len(cmds) != 1 || len(cmds[0]) != 2 || cmds[0][0] != "GET" || cmds[0][1] != "k" {
		t.Errorf("unexpected decoded commands: %v", cmds)
	}
}

func TestMockTransport_SendError(t *testing.T) {
	mock := NewMockTransport().WithSendError(protocol.ConnectionError("test error", nil))
	ctx := context.Background()

	err := mock.Send(ctx, []byte("test"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	metrics := mock.GetMetrics()
	if metrics.TotalErrors != 1 {
		t.Errorf("expected 1 error, got %d", metrics.TotalErrors)
	}

	if mock.IsHealthy() {
		t.Error("expected transport to be unhealthy after a failed send")
	}
}

func TestMockTransport_FailSendAt(t *testing.T) {
	mock := NewMockTransport().FailSendAt(2, protocol.WriteError(nil))
	ctx := context.Background()

	if err := mock.Send(ctx, []byte("a")); err != nil {
		t.Fatalf("first send should succeed, got %v", err)
	}
	if err := mock.Send(ctx, []byte("b")); err == nil {
		t.Fatal("second send should fail")
	}
	if len(mock.GetSendHistory()) != 1 {
		t.Errorf("failed send must not be recorded")
	}
}

func TestMockTransport_SendContextCancellation(t *testing.T) {
	mock := NewMockTransport().WithSendDelay(100 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := mock.Send(ctx, []byte("test"))
	if err == nil {
		t.Fatal("expected context deadline exceeded error")
	}
}

func TestMockTransport_ReceiveInOrder(t *testing.T) {
	mock := NewMockTransport().WithReplies(protocol.StatusReply("OK"), protocol.IntegerReply(2))
	ctx := context.Background()

	first, err := mock.Receive(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !first.IsStatus("OK") {
		t.Errorf("expected OK, got %v", first)
	}

	second, err := mock.Receive(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if second.Int != 2 {
		t.Errorf("expected 2, got %v", second)
	}

	if mock.PendingReplies() != 0 {
		t.Errorf("expected no pending replies, got %d", mock.PendingReplies())
	}
}

func TestMockTransport_ReceiveNoData(t *testing.T) {
	mock := NewMockTransport()

	_, err := mock.Receive(context.Background())
	if err == nil {
		t.Fatal("expected error when no reply queued, got nil")
	}
}

func TestMockTransport_FailReceiveAt(t *testing.T) {
	mock := NewMockTransport().
		WithReplies(protocol.StatusReply("OK"), protocol.StatusReply("OK")).
		FailReceiveAt(2, protocol.ReadError(nil))
	ctx := context.Background()

	if _, err := mock.Receive(ctx); err != nil {
		t.Fatalf("first receive should succeed, got %v", err)
	}
	if _, err := mock.Receive(ctx); err == nil {
		t.Fatal("second receive should fail")
	}
	if mock.IsHealthy() {
		t.Error("expected transport to be unhealthy after a failed receive")
	}
}

func TestMockTransport_Close(t *testing.T) {
	mock := NewMockTransport()

	if err := mock.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !mock.IsClosed() {
		t.Error("expected transport to be closed")
	}
	if mock.IsHealthy() {
		t.Error("closed transport must not report healthy")
	}

	if err := mock.Send(context.Background(), []byte("x")); err == nil {
		t.Error("expected error sending on closed transport")
	}
}

func TestMockTransport_Reset(t *testing.T) {
	mock := NewMockTransport().
		WithSendError(protocol.ConnectionError("x", nil)).
		WithReplies(protocol.NilReply()).
		WithHealthy(false)
	mock.Send(context.Background(), []byte("x"))

	mock.Reset()

	if mock.GetSendCallCount() != 0 {
		t.Errorf("expected send calls reset, got %d", mock.GetSendCallCount())
	}
	if !mock.IsHealthy() {
		t.Error("expected healthy after reset")
	}
	if mock.PendingReplies() != 0 {
		t.Errorf("expected replies cleared, got %d", mock.PendingReplies())
	}
	if err := mock.Send(context.Background(), []byte("x")); err != nil {
		t.Errorf("expected send to succeed after reset, got %v", err)
	}
}
