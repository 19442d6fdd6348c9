package client

import (
	"context"
	"fmt"
	"hash"
	"strconv"
	"time"

	"github.com/cespare/xxhash"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/transport"
)

// commandBuffer writes encoded commands onto the transport as they are queued.
// It counts queued commands, tracks replies that are on the wire but not yet
// read, and fingerprints every frame it sends.
type commandBuffer struct {
	transport transport.Transport
	codec     protocol.Codec
	digest    hash.Hash64
	count     int   // commands queued since the last reset
	unread    int   // replies owed by the server
	bytes     int64 // bytes sent since the last reset
}

func newCommandBuffer(t transport.Transport, codec protocol.Codec) *commandBuffer {
	return &commandBuffer{
		transport: t,
		codec:     codec,
		digest:    xxhash.New(),
	}
}

// append queues one command. The count only moves when the write succeeds.
func (b *commandBuffer) append(ctx context.Context, args []string) error {
	if err := b.send(ctx, args); err != nil {
		return err
	}
	b.count++
	return nil
}

// control sends a transaction or watch marker; it is not counted as a command.
func (b *commandBuffer) control(ctx context.Context, args ...string) error {
	return b.send(ctx, args)
}

func (b *commandBuffer) send(ctx context.Context, args []string) error {
	frame := b.codec.EncodeCommand(args)
	if err := b.transport.Send(ctx, frame); err != nil {
		return err
	}
	b.digest.Write(frame)
	b.bytes += int64(len(frame))
	b.unread++
	return nil
}

// receive reads the next reply owed by the server.
func (b *commandBuffer) receive(ctx context.Context) (*protocol.Reply, error) {
	reply, err := b.transport.Receive(ctx)
	if err != nil {
		return nil, err
	}
	b.unread--
	return reply, nil
}

// expectStatus reads one reply and fails unless it is the given status.
func (b *commandBuffer) expectStatus(ctx context.Context, status, during string) error {
	reply, err := b.receive(ctx)
	if err != nil {
		return err
	}
	if !reply.IsStatus(status) {
		return newProtocolError(fmt.Sprintf("expected %s reply to %s", status, during), reply, reply.Err())
	}
	return nil
}

// Fingerprint returns the xxhash of every frame sent since the last reset.
func (b *commandBuffer) Fingerprint() uint64 {
	return b.digest.Sum64()
}

// reset clears the command count and fingerprint. Unread replies stay owed.
func (b *commandBuffer) reset() {
	b.count = 0
	b.bytes = 0
	b.digest.Reset()
}

// formatArgs converts command arguments to their wire representation.
func formatArgs(args []interface{}) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = formatArg(arg)
	}
	return out
}

func formatArg(arg interface{}) string {
	switch v := arg.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case time.Duration:
		return strconv.FormatInt(int64(v/time.Second), 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
