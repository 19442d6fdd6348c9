package client

import (
	"fmt"
	"strings"

	"github.com/dan-strohschein/qpipe/protocol"
)

// Replies is the ordered result of a successful Exec: one reply per queued
// command, addressed by the command's zero-based position. It never changes
// after Exec returns; accessors that expose *protocol.Reply hand out copies.
type Replies struct {
	replies []*protocol.Reply
}

func newReplies(replies []*protocol.Reply) *Replies {
	return &Replies{replies: replies}
}

// Len returns the number of replies.
func (r *Replies) Len() int {
	if r == nil {
		return 0
	}
	return len(r.replies)
}

// Reply returns a copy of the raw reply at index.
func (r *Replies) Reply(index int) (*protocol.Reply, error) {
	reply, err := r.at(index)
	if err != nil {
		return nil, err
	}
	return reply.Clone(), nil
}

// at returns the stored reply without copying; callers must not modify it.
func (r *Replies) at(index int) (*protocol.Reply, error) {
	if index < 0 || index >= r.Len() {
		return nil, ErrIndexOutOfRange(index, r.Len())
	}
	return r.replies[index], nil
}

// All returns copies of the replies.
func (r *Replies) All() []*protocol.Reply {
	out := make([]*protocol.Reply, r.Len())
	for i := range out {
		out[i] = r.replies[i].Clone()
	}
	return out
}

// Err returns the server error at index, if the command failed.
func (r *Replies) Err(index int) error {
	reply, err := r.at(index)
	if err != nil {
		return err
	}
	return reply.Err()
}

// IsNil reports whether the reply at index is nil.
func (r *Replies) IsNil(index int) (bool, error) {
	reply, err := r.at(index)
	if err != nil {
		return false, err
	}
	return reply.IsNil(), nil
}

// Text returns the string at index.
func (r *Replies) Text(index int) (string, error) { return Get[string](r, index) }

// OptionalText returns the string at index, or nil for a nil reply.
func (r *Replies) OptionalText(index int) (*string, error) { return Get[*string](r, index) }

// Integer returns the integer at index.
func (r *Replies) Integer(index int) (int64, error) { return Get[int64](r, index) }

// Bool returns the boolean at index.
func (r *Replies) Bool(index int) (bool, error) { return Get[bool](r, index) }

// Float returns the float at index.
func (r *Replies) Float(index int) (float64, error) { return Get[float64](r, index) }

// Strings returns the string array at index.
func (r *Replies) Strings(index int) ([]string, error) { return Get[[]string](r, index) }

// String renders the replies for logs.
func (r *Replies) String() string {
	if r == nil {
		return "(empty)"
	}
	parts := make([]string, len(r.replies))
	for i, reply := range r.replies {
		parts[i] = fmt.Sprintf("%d) %s", i+1, reply)
	}
	return strings.Join(parts, "\n")
}

// Get converts the reply at index to T.
//
// Supported types: *protocol.Reply, string, *string, []byte, int64, int,
// bool, float64, []string, []*string, []*protocol.Reply.
//
// An out-of-range index returns a *UsageError. A server error reply returns
// *protocol.ServerError. A reply that cannot convert returns a
// *protocol.ReplyTypeError.
func Get[T any](r *Replies, index int) (T, error) {
	var zero T

	reply, err := r.at(index)
	if err != nil {
		return zero, err
	}

	var value interface{}
	switch any(zero).(type) {
	case *protocol.Reply:
		return any(reply.Clone()).(T), nil
	}

	if err := reply.Err(); err != nil {
		return zero, err
	}

	switch any(zero).(type) {
	case string:
		value, err = reply.Text()
	case *string:
		value, err = reply.OptionalText()
	case []byte:
		var s string
		s, err = reply.Text()
		value = []byte(s)
	case int64:
		value, err = reply.Integer()
	case int:
		var n int64
		n, err = reply.Integer()
		value = int(n)
	case bool:
		value, err = reply.Bool()
	case float64:
		value, err = reply.Float()
	case []string:
		value, err = reply.Strings()
	case []*string:
		value, err = reply.OptionalStrings()
	case []*protocol.Reply:
		var elems []*protocol.Reply
		elems, err = reply.Array()
		copies := make([]*protocol.Reply, len(elems))
		for i, e := range elems {
			copies[i] = e.Clone()
		}
		value = copies
	default:
		return zero, &UsageError{
			Code:    "E_UNSUPPORTED_TYPE",
			Type:    "USAGE_ERROR",
			Message: fmt.Sprintf("cannot convert reply to %T", zero),
		}
	}

	if err != nil {
		return zero, err
	}
	return value.(T), nil
}
