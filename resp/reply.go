// Package resp implements the RESP (REdis Serialization Protocol) wire
// codec used on both the client-facing and backend-facing sides of the
// proxy: reply value types plus a zero-copy frame parser.
package resp

import (
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// Reply is anything that can serialize itself as a RESP frame.
type Reply interface {
	ToBytes() []byte
}

// SimpleStringReply is a RESP "+..." line.
type SimpleStringReply struct {
	Status string
}

func NewSimpleStringReply(status string) *SimpleStringReply {
	return &SimpleStringReply{Status: status}
}

func (r *SimpleStringReply) ToBytes() []byte {
	return []byte("+" + r.Status + "\r\n")
}

// OKReply is the canonical "+OK\r\n" shared by every command that succeeds
// without a more specific payload.
var OKReply = NewSimpleStringReply("OK")

// PongReply answers PING.
var PongReply = NewSimpleStringReply("PONG")

// ErrorReply is a RESP "-..." line. It also satisfies the error interface
// so it can be threaded through normal Go error-handling paths.
type ErrorReply struct {
	Message string
}

func NewErrorReply(msg string) *ErrorReply {
	return &ErrorReply{Message: msg}
}

func (r *ErrorReply) ToBytes() []byte {
	return []byte("-" + r.Message + "\r\n")
}

func (r *ErrorReply) Error() string {
	return r.Message
}

// The five client-visible error kinds from the error taxonomy, plus the
// Operation forbidden reply that HASHMAPPING always returns.
var (
	ErrProtoError             = NewErrorReply("Proto error")
	ErrProtoNotSupport        = NewErrorReply("Proto not support")
	ErrWrongNumberOfArguments = NewErrorReply("Wrong number of arguments")
	ErrRequestError           = NewErrorReply("Request error")
	ErrMigrateFailed          = NewErrorReply("Migrate failed")
	ErrOperationForbidden     = NewErrorReply("Operation forbidden")
)

// IsErrorReply reports whether r is a RESP error, whether it's an
// *ErrorReply this proxy generated itself or a *RawReply carrying a
// backend's own "-..." line forwarded verbatim.
func IsErrorReply(r Reply) bool {
	switch v := r.(type) {
	case *ErrorReply:
		return true
	case *RawReply:
		return len(v.Data) > 0 && v.Data[0] == '-'
	default:
		return false
	}
}

// IsOKReply reports whether r is a successful simple-string reply, i.e. the
// backend answered "+OK" (or any non-error simple string) to a command like
// MIGRATE whose only interesting outcome is success/failure.
func IsOKReply(r Reply) bool {
	s, ok := r.(*SimpleStringReply)
	return ok && s != nil
}

// IntReply is a RESP ":N" line.
type IntReply struct {
	Code int64
}

func NewIntReply(code int64) *IntReply {
	return &IntReply{Code: code}
}

func (r *IntReply) ToBytes() []byte {
	return []byte(":" + strconv.FormatInt(r.Code, 10) + "\r\n")
}

// BulkReply is a RESP "$len\r\n...\r\n" frame. Arg == nil encodes the null
// bulk string "$-1\r\n".
type BulkReply struct {
	Arg []byte
}

func NewBulkReply(arg []byte) *BulkReply {
	return &BulkReply{Arg: arg}
}

func (r *BulkReply) ToBytes() []byte {
	if r.Arg == nil {
		return []byte("$-1\r\n")
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteByte('$')
	buf.WriteString(strconv.Itoa(len(r.Arg)))
	buf.WriteString("\r\n")
	buf.Write(r.Arg)
	buf.WriteString("\r\n")
	out := make([]byte, len(buf.B))
	copy(out, buf.B)
	return out
}

var NullBulkReply = NewBulkReply(nil)

// MultiBulkReply is a RESP "*N\r\n..." array of bulk strings.
type MultiBulkReply struct {
	Args [][]byte
}

func NewMultiBulkReply(args [][]byte) *MultiBulkReply {
	return &MultiBulkReply{Args: args}
}

func (r *MultiBulkReply) ToBytes() []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.WriteByte('*')
	buf.WriteString(strconv.Itoa(len(r.Args)))
	buf.WriteString("\r\n")
	for _, a := range r.Args {
		if a == nil {
			buf.WriteString("$-1\r\n")
			continue
		}
		buf.WriteByte('$')
		buf.WriteString(strconv.Itoa(len(a)))
		buf.WriteString("\r\n")
		buf.Write(a)
		buf.WriteString("\r\n")
	}
	out := make([]byte, len(buf.B))
	copy(out, buf.B)
	return out
}

// EmptyMultiBulkReply is the "*0\r\n" empty array.
var EmptyMultiBulkReply = NewMultiBulkReply(nil)

// RawReply wraps bytes that are already a well-formed RESP frame, used when
// forwarding a backend's reply bytes unchanged (MGET's fan-out unpacks the
// bulk payloads of its GET sub-replies into a MultiBulkReply instead).
// Outbound request frames are built by EncodeRequest, not RawReply.
type RawReply struct {
	Data []byte
}

func NewRawReply(data []byte) *RawReply {
	return &RawReply{Data: data}
}

func (r *RawReply) ToBytes() []byte {
	return r.Data
}

// EncodeRequest builds a well-formed "*N\r\n$len\r\n...\r\n" multi-bulk
// frame for a command line, used to synthesize sub-requests (GET/SET/DEL
// fan-out, MIGRATE) that re-enter the dispatch path.
func EncodeRequest(args ...[]byte) []byte {
	return (&MultiBulkReply{Args: args}).ToBytes()
}

// EncodeRequestStrings is the string-argument convenience form of
// EncodeRequest.
func EncodeRequestStrings(args ...string) []byte {
	b := make([][]byte, len(args))
	for i, a := range args {
		b[i] = []byte(a)
	}
	return EncodeRequest(b...)
}
