package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind is the type tag of a parsed reply.
type Kind int

const (
	KindNil Kind = iota
	KindString
	KindStatus
	KindError
	KindInteger
	KindArray
)

// String returns the string representation of the reply kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindString:
		return "string"
	case KindStatus:
		return "status"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// ErrUnexpectedReply is matched by every ReplyTypeError.
var ErrUnexpectedReply = errors.New("unexpected reply type")

// ReplyTypeError reports a reply that cannot be converted to the requested Go type.
type ReplyTypeError struct {
	Want string
	Got  Kind
	// Text carries the server message when Got is KindError.
	Text string
}

func (e *ReplyTypeError) Error() string {
	if e.Got == KindError {
		return fmt.Sprintf("expected %s reply, got error reply: %s", e.Want, e.Text)
	}
	return fmt.Sprintf("expected %s reply, got %s reply", e.Want, e.Got)
}

// Is lets errors.Is match ErrUnexpectedReply.
func (e *ReplyTypeError) Is(target error) bool {
	return target == ErrUnexpectedReply
}

// ServerError is an error reply sent by the server for a single command.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return e.Message
}

// Prefix returns the leading error code word, e.g. "WRONGTYPE" or "EXECABORT".
func (e *ServerError) Prefix() string {
	for i := 0; i < len(e.Message); i++ {
		if e.Message[i] == ' ' {
			return e.Message[:i]
		}
	}
	return e.Message
}

// Reply is one parsed response value.
//
// For KindString, KindStatus and KindError the payload is Str.
// For KindInteger it is Int, for KindArray it is Elems.
// A null array is represented as KindNil.
type Reply struct {
	Kind  Kind
	Str   string
	Int   int64
	Elems []*Reply
}

// Clone returns a deep copy of the reply.
func (r *Reply) Clone() *Reply {
	if r == nil {
		return nil
	}
	c := *r
	if r.Elems != nil {
		c.Elems = make([]*Reply, len(r.Elems))
		for i, e := range r.Elems {
			c.Elems[i] = e.Clone()
		}
	}
	return &c
}

// Constructors used by the codec, the rewriters and tests.

func NilReply() *Reply                  { return &Reply{Kind: KindNil} }
func StringReply(s string) *Reply       { return &Reply{Kind: KindString, Str: s} }
func StatusReply(s string) *Reply       { return &Reply{Kind: KindStatus, Str: s} }
func ErrorReply(s string) *Reply        { return &Reply{Kind: KindError, Str: s} }
func IntegerReply(n int64) *Reply       { return &Reply{Kind: KindInteger, Int: n} }
func ArrayReply(elems ...*Reply) *Reply { return &Reply{Kind: KindArray, Elems: elems} }

// IsNil reports whether the reply is a null bulk string or null array.
func (r *Reply) IsNil() bool {
	return r == nil || r.Kind == KindNil
}

// IsError reports whether the reply is an error reply.
func (r *Reply) IsError() bool {
	return r != nil && r.Kind == KindError
}

// IsStatus reports whether the reply is the status reply s (e.g. "OK", "QUEUED").
func (r *Reply) IsStatus(s string) bool {
	return r != nil && r.Kind == KindStatus && r.Str == s
}

// Err returns a ServerError if the reply is an error reply, nil otherwise.
func (r *Reply) Err() error {
	if r.IsError() {
		return &ServerError{Message: r.Str}
	}
	return nil
}

func (r *Reply) typeError(want string) error {
	if r == nil {
		return &ReplyTypeError{Want: want, Got: KindNil}
	}
	if r.Kind == KindError {
		return &ReplyTypeError{Want: want, Got: KindError, Text: r.Str}
	}
	return &ReplyTypeError{Want: want, Got: r.Kind}
}

// Text returns the payload of a string or status reply.
func (r *Reply) Text() (string, error) {
	if r != nil && (r.Kind == KindString || r.Kind == KindStatus) {
		return r.Str, nil
	}
	return "", r.typeError("string")
}

// OptionalText is Text that maps a nil reply to a nil pointer.
func (r *Reply) OptionalText() (*string, error) {
	if r.IsNil() {
		return nil, nil
	}
	s, err := r.Text()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Integer returns the value of an integer reply.
func (r *Reply) Integer() (int64, error) {
	if r != nil && r.Kind == KindInteger {
		return r.Int, nil
	}
	return 0, r.typeError("integer")
}

// Bool interprets an integer reply as 0/1 or a status reply as "OK".
func (r *Reply) Bool() (bool, error) {
	if r == nil {
		return false, r.typeError("bool")
	}
	switch r.Kind {
	case KindInteger:
		return r.Int != 0, nil
	case KindStatus:
		return r.Str == "OK", nil
	case KindNil:
		return false, nil
	}
	return false, r.typeError("bool")
}

// Float parses a string reply (e.g. INCRBYFLOAT) as a float64.
func (r *Reply) Float() (float64, error) {
	if r != nil && r.Kind == KindInteger {
		return float64(r.Int), nil
	}
	s, err := r.Text()
	if err != nil {
		return 0, r.typeError("float")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ReplyTypeError{Want: "float", Got: r.Kind}
	}
	return f, nil
}

// Array returns the elements of an array reply.
func (r *Reply) Array() ([]*Reply, error) {
	if r != nil && r.Kind == KindArray {
		return r.Elems, nil
	}
	return nil, r.typeError("array")
}

// Strings converts an array of string replies. Nil elements become "".
func (r *Reply) Strings() ([]string, error) {
	elems, err := r.Array()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(elems))
	for i, e := range elems {
		if e.IsNil() {
			continue
		}
		s, err := e.Text()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// OptionalStrings converts an array of string replies keeping nils, as HMGET/MGET return.
func (r *Reply) OptionalStrings() ([]*string, error) {
	elems, err := r.Array()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(elems))
	for i, e := range elems {
		s, err := e.OptionalText()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// String renders the reply for logs and the CLI.
func (r *Reply) String() string {
	if r == nil {
		return "(nil)"
	}
	switch r.Kind {
	case KindNil:
		return "(nil)"
	case KindString:
		return strconv.Quote(r.Str)
	case KindStatus:
		return r.Str
	case KindError:
		return "(error) " + r.Str
	case KindInteger:
		return "(integer) " + strconv.FormatInt(r.Int, 10)
	case KindArray:
		if len(r.Elems) == 0 {
			return "(empty array)"
		}
		s := "["
		for i, e := range r.Elems {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + "]"
	default:
		return "(unknown)"
	}
}
