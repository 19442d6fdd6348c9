package testutil_test

import (
	"bufio"
	"net"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/qpipe/protocol"
	"github.com/dan-strohschein/qpipe/testutil"
)

type rawConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	codec  protocol.Codec
}

func dialRaw(t *testing.T, srv *testutil.Server) *rawConn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &rawConn{t: t, conn: conn, reader: bufio.NewReader(conn), codec: protocol.NewCodec()}
}

func (c *rawConn) do(args ...string) *protocol.Reply {
	c.t.Helper()
	_, err := c.conn.Write(c.codec.EncodeCommand(args))
	require.NoError(c.t, err)
	reply, err := c.codec.ReadReply(c.reader)
	require.NoError(c.t, err)
	return reply
}

func TestServer_BasicCommands(t *testing.T) {
	testutil.VerifyNoLeaks(t)
	srv := testutil.NewServer(t)
	c := dialRaw(t, srv)

	assert.True(t, c.do("PING").IsStatus("PONG"))
	assert.True(t, c.do("SET", "k", "v").IsStatus("OK"))
	assert.Equal(t, "v", c.do("GET", "k").Str)
	assert.True(t, c.do("GET", "missing").IsNil())
	assert.True(t, c.do("SET", "k", "w", "NX").IsNil())
	assert.Equal(t, int64(5), c.do("INCRBY", "n", "5").Int)
	assert.Equal(t, int64(1), c.do("DEL", "k").Int)
	assert.True(t, c.do("NOPE").IsError())

	assert.Equal(t, 8, len(srv.Calls()))
	assert.Equal(t, 2, srv.CallCount("get"))
}

func TestServer_Transaction(t *testing.T) {
	srv := testutil.NewServer(t)
	c := dialRaw(t, srv)

	assert.True(t, c.do("MULTI").IsStatus("OK"))
	assert.True(t, c.do("SET", "a", "1").IsStatus("QUEUED"))
	assert.True(t, c.do("INCR", "a").IsStatus("QUEUED"))

	want := protocol.ArrayReply(protocol.StatusReply("OK"), protocol.IntegerReply(2))
	if diff := cmp.Diff(want, c.do("EXEC")); diff != "" {
		t.Errorf("EXEC reply mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_WatchConflict(t *testing.T) {
	srv := testutil.NewServer(t)
	c := dialRaw(t, srv)

	assert.True(t, c.do("WATCH", "w").IsStatus("OK"))
	srv.Set("w", "changed")
	c.do("MULTI")
	c.do("SET", "w", "mine")
	assert.True(t, c.do("EXEC").IsNil())

	v, _ := srv.Get("w")
	assert.Equal(t, "changed", v)
}

func TestServer_QueueErrorAbortsExec(t *testing.T) {
	srv := testutil.NewServer(t)
	c := dialRaw(t, srv)

	c.do("MULTI")
	assert.True(t, c.do("BOGUS").IsError())
	reply := c.do("EXEC")
	require.True(t, reply.IsError())
	assert.Contains(t, reply.Str, "EXECABORT")
}

func TestServer_Expectations(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.ExpectCommand("GEORADIUS").WillReturn(protocol.ArrayReply(protocol.StringReply("x")))
	srv.ExpectCommand("GET", "k").WillReturn(protocol.StringReply("scripted")).Times(2)
	c := dialRaw(t, srv)

	assert.Equal(t, 1, len(c.do("georadius", "g", "0", "0", "1", "km").Elems))
	assert.Equal(t, "scripted", c.do("GET", "k").Str)

	c.do("MULTI")
	assert.True(t, c.do("GET", "k").IsStatus("QUEUED"))
	exec := c.do("EXEC")
	require.Len(t, exec.Elems, 1)
	assert.Equal(t, "scripted", exec.Elems[0].Str)

	srv.VerifyExpectations(t)
}

func TestServer_CloseConnection(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.ExpectCommand("GET").WillCloseConnection()
	c := dialRaw(t, srv)

	_, err := c.conn.Write(c.codec.EncodeCommand([]string{"GET", "k"}))
	require.NoError(t, err)
	_, err = c.codec.ReadReply(c.reader)
	assert.Error(t, err)
}
