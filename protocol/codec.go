// Package protocol provides encoding/decoding for the RESP2 wire protocol
package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"sync"
)

const (
	// Type prefixes of RESP2 frames
	prefixStatus  byte = '+'
	prefixError   byte = '-'
	prefixInteger byte = ':'
	prefixBulk    byte = '$'
	prefixArray   byte = '*'

	// MaxBulkLen is the largest bulk string the server is allowed to send (512MB)
	MaxBulkLen = 512 * 1024 * 1024

	// MaxArrayLen is the largest array header accepted when decoding
	MaxArrayLen = 512 * 1024 * 1024

	// arrayPrealloc caps the capacity reserved from an untrusted array header
	arrayPrealloc = 1024

	// MaxNesting bounds array recursion when decoding
	MaxNesting = 64
)

var crlf = []byte("\r\n")

// Codec handles encoding and decoding of protocol messages
type Codec interface {
	// EncodeCommand encodes a command and its arguments as a RESP array of bulk strings
	EncodeCommand(args []string) []byte

	// ReadReply parses exactly one reply frame
	ReadReply(r *bufio.Reader) (*Reply, error)

	// WriteReply serializes a reply (used by servers and tests)
	WriteReply(w io.Writer, reply *Reply) error
}

// RESPCodec implements the RESP2 codec
type RESPCodec struct {
	// Buffer pool for encoding operations
	bufferPool sync.Pool
}

// NewCodec creates a new RESP codec
func NewCodec() Codec {
	return &RESPCodec{
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// EncodeCommand encodes a command with its arguments
func (c *RESPCodec) EncodeCommand(args []string) []byte {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	var scratch [20]byte

	buf.WriteByte(prefixArray)
	buf.Write(strconv.AppendInt(scratch[:0], int64(len(args)), 10))
	buf.Write(crlf)

	for _, arg := range args {
		buf.WriteByte(prefixBulk)
		buf.Write(strconv.AppendInt(scratch[:0], int64(len(arg)), 10))
		buf.Write(crlf)
		buf.WriteString(arg)
		buf.Write(crlf)
	}

	// Return a copy since we're reusing the buffer
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result
}

// ReadReply parses one reply frame from r
func (c *RESPCodec) ReadReply(r *bufio.Reader) (*Reply, error) {
	return readReply(r, 0)
}

func readReply(r *bufio.Reader, depth int) (*Reply, error) {
	if depth > MaxNesting {
		return nil, &ParseError{Message: "reply nesting too deep"}
	}

	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, &ParseError{Message: "empty reply line"}
	}

	payload := line[1:]
	switch line[0] {
	case prefixStatus:
		return StatusReply(string(payload)), nil

	case prefixError:
		return ErrorReply(string(payload)), nil

	case prefixInteger:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return nil, &ParseError{Message: "invalid integer reply", Line: string(line)}
		}
		return IntegerReply(n), nil

	case prefixBulk:
		n, err := strconv.Atoi(string(payload))
		if err != nil || n < -1 || n > MaxBulkLen {
			return nil, &ParseError{Message: "invalid bulk length", Line: string(line)}
		}
		if n == -1 {
			return NilReply(), nil
		}
		data := make([]byte, n+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if data[n] != '\r' || data[n+1] != '\n' {
			return nil, &ParseError{Message: "bulk string not terminated by CRLF"}
		}
		return StringReply(string(data[:n])), nil

	case prefixArray:
		n, err := strconv.Atoi(string(payload))
		if err != nil || n < -1 || n > MaxArrayLen {
			return nil, &ParseError{Message: "invalid array length", Line: string(line)}
		}
		if n == -1 {
			return NilReply(), nil
		}
		if n == 0 {
			return ArrayReply(), nil
		}
		elems := make([]*Reply, 0, min(n, arrayPrealloc))
		for i := 0; i < n; i++ {
			elem, err := readReply(r, depth+1)
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
		}
		return ArrayReply(elems...), nil
	}

	return nil, &ParseError{Message: fmt.Sprintf("unknown reply prefix %q", line[0]), Line: string(line)}
}

// readLine reads up to CRLF and returns the line without the terminator
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, &ParseError{Message: "reply line too long"}
		}
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, &ParseError{Message: "reply line not terminated by CRLF", Line: string(line)}
	}
	return line[:len(line)-2], nil
}

// WriteReply serializes a reply in RESP2
func (c *RESPCodec) WriteReply(w io.Writer, reply *Reply) error {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	appendReply(buf, reply)
	_, err := w.Write(buf.Bytes())
	return err
}

func appendReply(buf *bytes.Buffer, reply *Reply) {
	if reply == nil || reply.Kind == KindNil {
		buf.WriteString("$-1\r\n")
		return
	}

	switch reply.Kind {
	case KindStatus:
		buf.WriteByte(prefixStatus)
		buf.WriteString(reply.Str)
	case KindError:
		buf.WriteByte(prefixError)
		buf.WriteString(reply.Str)
	case KindInteger:
		buf.WriteByte(prefixInteger)
		buf.WriteString(strconv.FormatInt(reply.Int, 10))
	case KindString:
		buf.WriteByte(prefixBulk)
		buf.WriteString(strconv.Itoa(len(reply.Str)))
		buf.Write(crlf)
		buf.WriteString(reply.Str)
	case KindArray:
		buf.WriteByte(prefixArray)
		buf.WriteString(strconv.Itoa(len(reply.Elems)))
		buf.Write(crlf)
		for _, e := range reply.Elems {
			appendReply(buf, e)
		}
		return
	}
	buf.Write(crlf)
}

// ParseError indicates a frame that is not valid RESP
type ParseError struct {
	Message string
	Line    string
}

func (e *ParseError) Error() string {
	if e.Line != "" {
		return fmt.Sprintf("protocol parse error: %s (line: %q)", e.Message, e.Line)
	}
	return fmt.Sprintf("protocol parse error: %s", e.Message)
}
