package client

import (
	"context"
	"fmt"

	"github.com/dan-strohschein/qpipe/protocol"
)

// Strategy decides how a batch begins, how its replies are collected and how it
// is cancelled. The two implementations are selected by NewPipeline and
// NewTransaction.
type Strategy interface {
	// Transactional reports whether commands are wrapped in MULTI/EXEC.
	Transactional() bool

	// Piped reports whether acknowledgements are deferred to exec time.
	Piped() bool

	// begin runs once before the first command of a batch.
	begin(ctx context.Context, buf *commandBuffer) error

	// queued runs after each command is written.
	queued(ctx context.Context, buf *commandBuffer) error

	// exec collects exactly buf.count replies.
	exec(ctx context.Context, buf *commandBuffer) ([]*protocol.Reply, error)

	// discard cancels the queued commands.
	discard(ctx context.Context, buf *commandBuffer) error
}

// pipelineStrategy sends commands back to back and reads replies in order.
type pipelineStrategy struct{}

func (pipelineStrategy) Transactional() bool { return false }
func (pipelineStrategy) Piped() bool         { return true }

func (pipelineStrategy) begin(ctx context.Context, buf *commandBuffer) error  { return nil }
func (pipelineStrategy) queued(ctx context.Context, buf *commandBuffer) error { return nil }

func (pipelineStrategy) exec(ctx context.Context, buf *commandBuffer) ([]*protocol.Reply, error) {
	// Replies left behind by an earlier Discard come first on the wire
	for stale := buf.unread - buf.count; stale > 0; stale-- {
		if _, err := buf.receive(ctx); err != nil {
			return nil, err
		}
	}

	replies := make([]*protocol.Reply, buf.count)
	for i := range replies {
		reply, err := buf.receive(ctx)
		if err != nil {
			return nil, err
		}
		replies[i] = reply
	}
	return replies, nil
}

// discard drops local state only. The replies stay owed and are skipped by the
// next exec.
func (pipelineStrategy) discard(ctx context.Context, buf *commandBuffer) error {
	return nil
}

// transactionStrategy wraps commands in MULTI/EXEC.
type transactionStrategy struct {
	piped bool
}

func (s transactionStrategy) Transactional() bool { return true }
func (s transactionStrategy) Piped() bool         { return s.piped }

func (s transactionStrategy) begin(ctx context.Context, buf *commandBuffer) error {
	if err := buf.control(ctx, "MULTI"); err != nil {
		return err
	}
	if s.piped {
		return nil
	}
	return buf.expectStatus(ctx, "OK", "MULTI")
}

func (s transactionStrategy) queued(ctx context.Context, buf *commandBuffer) error {
	if s.piped {
		return nil
	}
	return expectQueued(ctx, buf, buf.count-1)
}

func (s transactionStrategy) exec(ctx context.Context, buf *commandBuffer) ([]*protocol.Reply, error) {
	if err := buf.control(ctx, "EXEC"); err != nil {
		return nil, err
	}

	// In piped mode MULTI's OK and every QUEUED are still ahead of the EXEC reply.
	// A rejected command makes the server answer EXEC with EXECABORT, so the
	// acknowledgements are drained before looking at it.
	var ackErr error
	if s.piped {
		if err := buf.expectStatus(ctx, "OK", "MULTI"); err != nil {
			return nil, err
		}
		for i := 0; i < buf.count; i++ {
			if err := expectQueued(ctx, buf, i); err != nil {
				if _, ok := err.(*ProtocolError); !ok {
					return nil, err
				}
				if ackErr == nil {
					ackErr = err
				}
			}
		}
	}

	reply, err := buf.receive(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case reply.IsNil():
		return nil, newTransactionAbortedError("", "watch", "")
	case reply.IsError():
		if serr, ok := reply.Err().(*protocol.ServerError); ok && serr.Prefix() == "EXECABORT" {
			return nil, newTransactionAbortedError("", "execabort", serr.Message)
		}
		return nil, newProtocolError("EXEC failed", reply, reply.Err())
	}

	if ackErr != nil {
		return nil, ackErr
	}

	elems, err := reply.Array()
	if err != nil {
		return nil, newProtocolError("EXEC reply is not an array", reply, err)
	}
	if len(elems) != buf.count {
		return nil, newProtocolError(
			fmt.Sprintf("EXEC returned %d replies for %d commands", len(elems), buf.count), reply, nil)
	}
	return elems, nil
}

func (s transactionStrategy) discard(ctx context.Context, buf *commandBuffer) error {
	if err := buf.control(ctx, "DISCARD"); err != nil {
		return err
	}

	if s.piped {
		// Rejected commands do not matter once the transaction is dropped
		if err := buf.expectStatus(ctx, "OK", "MULTI"); err != nil {
			return err
		}
		for i := 0; i < buf.count; i++ {
			if _, err := buf.receive(ctx); err != nil {
				return err
			}
		}
	}

	return buf.expectStatus(ctx, "OK", "DISCARD")
}

// expectQueued reads the acknowledgement of the command at position index.
func expectQueued(ctx context.Context, buf *commandBuffer, index int) error {
	reply, err := buf.receive(ctx)
	if err != nil {
		return err
	}
	if !reply.IsStatus("QUEUED") {
		perr := newProtocolError("command was not queued", reply, reply.Err())
		perr.Details["index"] = index
		return perr
	}
	return nil
}
