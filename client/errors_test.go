package client

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/qpipe/protocol"
)

func TestConnectionError(t *testing.T) {
	err := newConnectionError("append", "batch-1", protocol.ClosedError())

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(err.Error()), &parsed), "error should be valid JSON")

	assert.Equal(t, "E_CONNECTION", parsed["code"])
	assert.Equal(t, "CONNECTION_ERROR", parsed["type"])

	details := parsed["details"].(map[string]interface{})
	assert.Equal(t, "append", details["operation"])
	assert.Equal(t, "batch-1", details["batch_id"])

	cause := parsed["cause"].(map[string]interface{})
	assert.Equal(t, float64(protocol.ErrorCodeConnectionClosed), cause["code"])

	assert.True(t, errors.Is(err, ErrConnection))
	assert.False(t, errors.Is(err, ErrProtocol))

	var terr *protocol.TransportError
	assert.True(t, errors.As(err, &terr))
}

func TestConnectionErrorPlainCause(t *testing.T) {
	err := newConnectionError("exec", "", errors.New("boom"))

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(err.Error()), &parsed))
	cause := parsed["cause"].(map[string]interface{})
	assert.Equal(t, "boom", cause["message"])
}

func TestProtocolError(t *testing.T) {
	reply := protocol.ErrorReply("ERR syntax error")
	err := newProtocolError("command was not queued", reply, reply.Err())

	assert.True(t, errors.Is(err, ErrProtocol))

	var serr *protocol.ServerError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "ERR", serr.Prefix())

	assert.Equal(t, reply.String(), err.Details["reply"])
	assert.NotEmpty(t, err.StackTrace)
	assert.Contains(t, err.FormatError(false), "E_PROTOCOL: command was not queued")
}

func TestTransactionAbortedError(t *testing.T) {
	err := newTransactionAbortedError("batch-7", "execabort", "EXECABORT Transaction discarded")

	assert.True(t, errors.Is(err, ErrTransactionAborted))
	assert.True(t, errors.Is(err, ErrProtocol))
	assert.False(t, errors.Is(err, ErrConnection))
	assert.Contains(t, err.Error(), "batch-7")
	assert.Contains(t, err.Error(), "EXECABORT")

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(err.FormatError(true)), &parsed))
	assert.Equal(t, "execabort", parsed["reason"])
}

func TestInvalidBatchError(t *testing.T) {
	cause := newConnectionError("append", "batch-2", errors.New("reset by peer"))
	err := newInvalidBatchError("batch-2", "exec", cause)

	assert.True(t, errors.Is(err, ErrInvalidBatch))
	assert.True(t, errors.Is(err, ErrConnection), "the cause stays reachable")
	assert.Contains(t, err.Error(), "operation: exec")
	assert.Contains(t, err.Error(), "reset by peer")
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		err  *UsageError
		code string
	}{
		{"empty command", ErrEmptyCommand(), "E_EMPTY_COMMAND"},
		{"index out of range", ErrIndexOutOfRange(5, 2), "E_INDEX_OUT_OF_RANGE"},
		{"watch not allowed", ErrWatchNotAllowed("WATCH requires a transaction"), "E_WATCH_NOT_ALLOWED"},
		{"batch closed", ErrBatchClosed("exec"), "E_BATCH_CLOSED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.True(t, errors.Is(tt.err, ErrUsage))
			assert.True(t, strings.HasPrefix(tt.err.Error(), tt.code+": "))
		})
	}
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "", FormatError(nil, true))
	assert.Equal(t, "plain", FormatError(errors.New("plain"), true))

	err := newConnectionError("exec", "b", errors.New("eof"))
	assert.Equal(t, "E_CONNECTION: exec failed (caused by: eof)", FormatError(err, false))

	debug := FormatError(err, true)
	assert.Contains(t, debug, "stack_trace")
	assert.Contains(t, debug, "timestamp")
}
