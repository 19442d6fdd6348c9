package testutil

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dan-strohschein/qpipe/protocol"
)

// Server is an in-process RESP server for tests.
// It understands a small command set (PING, ECHO, GET, SET, DEL, INCR, INCRBY,
// MULTI, EXEC, DISCARD, WATCH, UNWATCH) backed by an in-memory map, and lets tests
// override any command's reply with expectations.
//
// Example usage:
//
//	srv := testutil.NewServer(t)
//	srv.ExpectCommand("GEORADIUS").WillReturn(protocol.StatusReply("OK"))
//	tr, _ := tcp.Dial(ctx, tcp.TCPTransportOptions{Address: srv.Addr()})
type Server struct {
	ln           net.Listener
	codec        protocol.Codec
	expectations []*Expectation
	calls        []Call
	data         map[string]string
	versions     map[string]uint64
	conns        map[net.Conn]struct{}
	mu           sync.Mutex
	wg           sync.WaitGroup
	closed       bool
}

// Expectation overrides the reply of matching commands.
type Expectation struct {
	args        []string // command name plus optional leading arguments
	reply       *protocol.Reply
	closeConn   bool
	times       int // -1 = any
	actualCalls int
}

// Call represents a command received by the server.
type Call struct {
	Args []string
}

// connState is the per-connection transaction state.
type connState struct {
	inMulti bool
	queued  [][]string
	failed  bool
	watched map[string]uint64
}

// NewServer starts a server on a random localhost port. It is closed on test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &Server{
		ln:       ln,
		codec:    protocol.NewCodec(),
		data:     make(map[string]string),
		versions: make(map[string]uint64),
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// ExpectCommand registers an expectation for commands whose name (case-insensitive)
// and leading arguments match args.
func (s *Server) ExpectCommand(args ...string) *Expectation {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := &Expectation{args: args, times: 1}
	s.expectations = append(s.expectations, exp)
	return exp
}

// WillReturn sets the reply for this expectation.
func (e *Expectation) WillReturn(reply *protocol.Reply) *Expectation {
	e.reply = reply
	return e
}

// WillCloseConnection drops the connection instead of replying.
func (e *Expectation) WillCloseConnection() *Expectation {
	e.closeConn = true
	return e
}

// Times sets the expected number of matches. Use -1 for any number.
func (e *Expectation) Times(n int) *Expectation {
	e.times = n
	return e
}

// AnyTimes allows this expectation to match any number of times.
func (e *Expectation) AnyTimes() *Expectation {
	return e.Times(-1)
}

func (e *Expectation) matches(args []string) bool {
	if e.times >= 0 && e.actualCalls >= e.times {
		return false
	}
	if len(args) < len(e.args) {
		return false
	}
	for i, want := range e.args {
		if i == 0 {
			if !strings.EqualFold(want, args[0]) {
				return false
			}
			continue
		}
		if want != args[i] {
			return false
		}
	}
	return true
}

// Set stores a value and bumps the key version, as a write from another client would.
func (s *Server) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.versions[key]++
}

// Get returns a stored value.
func (s *Server) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// Calls returns every command received, in arrival order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	calls := make([]Call, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// CallCount returns how many commands named name were received.
func (s *Server) CallCount(name string) int {
	count := 0
	for _, c := range s.Calls() {
		if len(c.Args) > 0 && strings.EqualFold(c.Args[0], name) {
			count++
		}
	}
	return count
}

// VerifyExpectations fails the test if any bounded expectation was not met.
func (s *Server) VerifyExpectations(t testing.TB) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, exp := range s.expectations {
		if exp.times >= 0 && exp.actualCalls != exp.times {
			t.Errorf("expectation %v: expected %d calls, got %d", exp.args, exp.times, exp.actualCalls)
		}
	}
}

// Close stops the listener and drops all connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.ln.Close()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	state := &connState{}

	for {
		req, err := s.codec.ReadReply(reader)
		if err != nil {
			return
		}
		args, err := req.Strings()
		if err != nil || len(args) == 0 {
			if werr := s.codec.WriteReply(conn, protocol.ErrorReply("ERR invalid request")); werr != nil {
				return
			}
			continue
		}

		reply, closeConn := s.handle(state, args)
		if closeConn {
			return
		}
		if err := s.codec.WriteReply(conn, reply); err != nil {
			return
		}
	}
}

// handle processes one command and reports whether the connection should be dropped.
func (s *Server) handle(state *connState, args []string) (*protocol.Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Args: args})
	name := strings.ToUpper(args[0])

	if state.inMulti {
		switch name {
		case "EXEC", "DISCARD", "MULTI", "WATCH":
		default:
			if exp := s.peek(args); exp != nil && exp.closeConn {
				exp.actualCalls++
				return nil, true
			}
			if _, known := commandArity[name]; !known && s.peek(args) == nil {
				state.failed = true
				return protocol.ErrorReply("ERR unknown command '" + args[0] + "'"), false
			}
			state.queued = append(state.queued, args)
			return protocol.StatusReply("QUEUED"), false
		}
	}

	if exp := s.match(args); exp != nil {
		if exp.closeConn {
			return nil, true
		}
		return exp.reply, false
	}

	return s.execute(state, name, args), false
}

// match consumes the first live expectation matching args.
func (s *Server) match(args []string) *Expectation {
	for _, exp := range s.expectations {
		if exp.matches(args) {
			exp.actualCalls++
			return exp
		}
	}
	return nil
}

// peek finds a live expectation without consuming it.
func (s *Server) peek(args []string) *Expectation {
	for _, exp := range s.expectations {
		if exp.matches(args) {
			return exp
		}
	}
	return nil
}

var commandArity = map[string]int{
	"PING":    1,
	"ECHO":    2,
	"GET":     2,
	"SET":     3,
	"DEL":     2,
	"INCR":    2,
	"INCRBY":  3,
	"MULTI":   1,
	"EXEC":    1,
	"DISCARD": 1,
	"WATCH":   2,
	"UNWATCH": 1,
}

func (s *Server) execute(state *connState, name string, args []string) *protocol.Reply {
	arity, known := commandArity[name]
	if !known {
		return protocol.ErrorReply("ERR unknown command '" + args[0] + "'")
	}
	if len(args) < arity {
		return protocol.ErrorReply("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
	}

	switch name {
	case "PING":
		if len(args) > 1 {
			return protocol.StringReply(args[1])
		}
		return protocol.StatusReply("PONG")

	case "ECHO":
		return protocol.StringReply(args[1])

	case "GET":
		if v, ok := s.data[args[1]]; ok {
			return protocol.StringReply(v)
		}
		return protocol.NilReply()

	case "SET":
		return s.set(args)

	case "DEL":
		n := int64(0)
		for _, key := range args[1:] {
			if _, ok := s.data[key]; ok {
				delete(s.data, key)
				s.versions[key]++
				n++
			}
		}
		return protocol.IntegerReply(n)

	case "INCR", "INCRBY":
		delta := int64(1)
		if name == "INCRBY" {
			d, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return protocol.ErrorReply("ERR value is not an integer or out of range")
			}
			delta = d
		}
		cur := int64(0)
		if v, ok := s.data[args[1]]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return protocol.ErrorReply("ERR value is not an integer or out of range")
			}
			cur = n
		}
		cur += delta
		s.data[args[1]] = strconv.FormatInt(cur, 10)
		s.versions[args[1]]++
		return protocol.IntegerReply(cur)

	case "MULTI":
		if state.inMulti {
			return protocol.ErrorReply("ERR MULTI calls can not be nested")
		}
		state.inMulti = true
		state.queued = nil
		state.failed = false
		return protocol.StatusReply("OK")

	case "EXEC":
		return s.exec(state)

	case "DISCARD":
		if !state.inMulti {
			return protocol.ErrorReply("ERR DISCARD without MULTI")
		}
		state.inMulti = false
		state.queued = nil
		state.watched = nil
		return protocol.StatusReply("OK")

	case "WATCH":
		if state.inMulti {
			return protocol.ErrorReply("ERR WATCH inside MULTI is not allowed")
		}
		if state.watched == nil {
			state.watched = make(map[string]uint64)
		}
		for _, key := range args[1:] {
			state.watched[key] = s.versions[key]
		}
		return protocol.StatusReply("OK")

	case "UNWATCH":
		state.watched = nil
		return protocol.StatusReply("OK")
	}

	return protocol.ErrorReply("ERR unsupported")
}

func (s *Server) set(args []string) *protocol.Reply {
	key, value := args[1], args[2]
	nx, xx := false, false
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "EX", "PX":
			i++
		}
	}

	_, exists := s.data[key]
	if (nx && exists) || (xx && !exists) {
		return protocol.NilReply()
	}

	s.data[key] = value
	s.versions[key]++
	return protocol.StatusReply("OK")
}

func (s *Server) exec(state *connState) *protocol.Reply {
	if !state.inMulti {
		return protocol.ErrorReply("ERR EXEC without MULTI")
	}

	queued := state.queued
	watched := state.watched
	failed := state.failed
	state.inMulti = false
	state.queued = nil
	state.watched = nil
	state.failed = false

	if failed {
		return protocol.ErrorReply("EXECABORT Transaction discarded because of previous errors.")
	}

	for key, version := range watched {
		if s.versions[key] != version {
			return protocol.NilReply()
		}
	}

	replies := make([]*protocol.Reply, 0, len(queued))
	for _, args := range queued {
		if exp := s.match(args); exp != nil {
			replies = append(replies, exp.reply)
			continue
		}
		replies = append(replies, s.execute(state, strings.ToUpper(args[0]), args))
	}
	return protocol.ArrayReply(replies...)
}
