package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCodecEncodeCommand(t *testing.T) {
	codec := NewCodec()

	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{
			name:     "single word",
			args:     []string{"PING"},
			expected: "*1\r\n$4\r\nPING\r\n",
		},
		{
			name:     "command with arguments",
			args:     []string{"SET", "key", "value"},
			expected: "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$5\r\nvalue\r\n",
		},
		{
			name:     "empty argument",
			args:     []string{"SET", "k", ""},
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$0\r\n\r\n",
		},
		{
			name:     "binary safe argument",
			args:     []string{"ECHO", "a\r\nb"},
			expected: "*2\r\n$4\r\nECHO\r\n$4\r\na\r\nb\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := codec.EncodeCommand(tt.args)
			require.Equal(t, tt.expected, string(result))
		})
	}
}

func TestCodecReadReply(t *testing.T) {
	codec := NewCodec()

	tests := []struct {
		name     string
		input    string
		expected *Reply
	}{
		{"status", "+OK\r\n", StatusReply("OK")},
		{"error", "-ERR wrong number of arguments\r\n", ErrorReply("ERR wrong number of arguments")},
		{"integer", ":42\r\n", IntegerReply(42)},
		{"negative integer", ":-2\r\n", IntegerReply(-2)},
		{"bulk string", "$5\r\nhello\r\n", StringReply("hello")},
		{"empty bulk string", "$0\r\n\r\n", StringReply("")},
		{"null bulk string", "$-1\r\n", NilReply()},
		{"null array", "*-1\r\n", NilReply()},
		{"empty array", "*0\r\n", ArrayReply()},
		{
			name:  "nested array",
			input: "*3\r\n:1\r\n*2\r\n$1\r\na\r\n$-1\r\n+QUEUED\r\n",
			expected: ArrayReply(
				IntegerReply(1),
				ArrayReply(StringReply("a"), NilReply()),
				StatusReply("QUEUED"),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bufio.NewReader(strings.NewReader(tt.input))
			reply, err := codec.ReadReply(r)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, reply); diff != "" {
				t.Errorf("ReadReply() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCodecReadReplySequence(t *testing.T) {
	codec := NewCodec()
	r := bufio.NewReader(strings.NewReader("+OK\r\n+QUEUED\r\n:7\r\n"))

	for _, want := range []*Reply{StatusReply("OK"), StatusReply("QUEUED"), IntegerReply(7)} {
		got, err := codec.ReadReply(r)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := codec.ReadReply(r)
	require.ErrorIs(t, err, io.EOF)
}

func TestCodecReadReplyMalformed(t *testing.T) {
	codec := NewCodec()

	tests := []struct {
		name  string
		input string
	}{
		{"unknown prefix", "!oops\r\n"},
		{"bad integer", ":abc\r\n"},
		{"bad bulk length", "$x\r\n"},
		{"bulk length below -1", "$-5\r\n"},
		{"missing CR", "+OK\n"},
		{"bulk without CRLF", "$2\r\nabcd"},
		{"bad array length", "*z\r\n"},
		{"array length below -1", "*-2\r\n"},
		{"array length above limit", "*1152921504606846976\r\n"},
		{"array length overflows int", "*99999999999999999999999\r\n"},
		{"empty line", "\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.ReadReply(bufio.NewReader(strings.NewReader(tt.input)))
			require.Error(t, err)
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "expected ParseError, got %T", err)
		})
	}
}

func TestCodecReadReplyTruncated(t *testing.T) {
	codec := NewCodec()
	_, err := codec.ReadReply(bufio.NewReader(strings.NewReader("$10\r\nabc")))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCodecReadReplyLargeArrayHeader(t *testing.T) {
	// A header within the limit is trusted only as far as elements arrive
	input := "*100000000\r\n:1\r\n:2\r\n"
	_, err := NewCodec().ReadReply(bufio.NewReader(strings.NewReader(input)))
	require.ErrorIs(t, err, io.EOF)
}

func TestCodecWriteReplyRoundTrip(t *testing.T) {
	codec := NewCodec()
	reply := ArrayReply(
		StatusReply("OK"),
		ErrorReply("WRONGTYPE Operation against a key holding the wrong kind of value"),
		IntegerReply(3),
		StringReply("bar"),
		NilReply(),
		ArrayReply(),
	)

	var buf bytes.Buffer
	require.NoError(t, codec.WriteReply(&buf, reply))

	got, err := codec.ReadReply(bufio.NewReader(&buf))
	require.NoError(t, err)
	if diff := cmp.Diff(reply, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
