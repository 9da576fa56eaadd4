package proxy

import (
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TigerZhang/onecache/resp"
)

// session owns one client connection's read/parse/dispatch/write cycle,
// the Go realization of ClientPacket's per-connection request state
// machine (Reading -> Parsing -> Dispatching -> Awaiting -> Writing ->
// Reading), run synchronously on its own goroutine rather than as
// callbacks on a shared libevent loop.
type session struct {
	server *Server
	conn   net.Conn
	id     string
	log    *logrus.Entry

	buf []byte
}

func newSession(s *Server, conn net.Conn, id string, log *logrus.Entry) *session {
	return &session{server: s, conn: conn, id: id, log: log, buf: make([]byte, 0, 4096)}
}

func (sess *session) run() {
	defer sess.conn.Close()
	sess.log.Debug("client connected")
	defer sess.log.Debug("client disconnected")

	readBuf := make([]byte, 4096)
	for {
		frame, ok := sess.nextFrame()
		if !ok {
			n, err := sess.conn.Read(readBuf)
			if err != nil {
				return
			}
			sess.buf = append(sess.buf, readBuf[:n]...)
			continue
		}

		reply := sess.dispatch(frame.tokens)
		if reply == nil {
			// SHUTDOWN: the server is tearing the process down: nothing
			// more to write, the listener and this connection are both
			// closing.
			return
		}
		if _, err := sess.conn.Write(reply.ToBytes()); err != nil {
			return
		}
		sess.consume(frame.length)
	}
}

type parsedFrame struct {
	tokens [][]byte
	length int
}

// nextFrame attempts to parse one complete request frame out of the
// session's accumulated buffer without consuming it; callers call
// consume() once the frame has been fully handled, matching
// ClientPacket::parseRecvBuffer/recvBufferOffset bookkeeping.
func (sess *session) nextFrame() (parsedFrame, bool) {
	if len(sess.buf) == 0 {
		return parsedFrame{}, false
	}
	res, state := resp.Parse(sess.buf)
	switch state {
	case resp.StateOK:
		tokens := make([][]byte, len(res.Tokens))
		copy(tokens, res.Tokens)
		return parsedFrame{tokens: tokens, length: res.ProtoBuffLen}, true
	case resp.StateError:
		sess.conn.Write(resp.ErrProtoError.ToBytes())
		sess.conn.Close()
		return parsedFrame{}, false
	default: // StateIncomplete
		return parsedFrame{}, false
	}
}

// consume drops the first n bytes (one fully-handled frame) from the
// session buffer. The remaining bytes, if any, are a frame not yet
// parsed; reslicing in place is safe because appends that follow write
// past them, not over them.
func (sess *session) consume(n int) {
	sess.buf = sess.buf[n:]
}

// dispatch routes one fully-parsed request to its command handler,
// mirroring RedisCommandTable::execCommand's name lookup followed by
// onStandardKeyCommand / the fan-out handlers / an admin handler. A nil
// return means the connection is being torn down (SHUTDOWN) and nothing
// should be written.
func (sess *session) dispatch(tokens [][]byte) resp.Reply {
	if len(tokens) == 0 {
		return resp.ErrProtoError
	}
	name := strings.ToUpper(string(tokens[0]))
	spec, ok := lookupCommand(name)
	if !ok {
		return resp.ErrProtoNotSupport
	}
	if len(tokens) < spec.minArity {
		return resp.ErrWrongNumberOfArguments
	}

	sess.server.metrics.CommandsTotal.WithLabelValues(name).Inc()

	var reply resp.Reply
	switch spec.kind {
	case kindAdmin:
		reply = sess.server.dispatchAdmin(sess, name, tokens)
	case kindFanOutMGet:
		reply = sess.server.fanOutMGet(tokens)
	case kindFanOutMSet:
		reply = sess.server.fanOutMSet(tokens)
	case kindFanOutDel:
		reply = sess.server.fanOutDel(tokens)
	case kindStandardKey:
		key := tokens[1]
		frame := reencodeFrame(tokens)
		reply = sess.server.dispatchKeyCommand(key, frame, spec.readOnly)
	default:
		reply = resp.ErrProtoNotSupport
	}

	if resp.IsErrorReply(reply) {
		sess.server.metrics.CommandErrors.WithLabelValues(name, "backend").Inc()
	}
	return reply
}

// reencodeFrame rebuilds a well-formed multi-bulk frame from tokens. The
// client's original bytes are not forwarded verbatim because the proxy
// has already consumed them into token slices that may not be
// contiguous (e.g. after buffer compaction); re-encoding is cheap and
// keeps the backend-facing wire format exact regardless of how the
// client's frame was laid out on the socket.
func reencodeFrame(tokens [][]byte) []byte {
	return resp.EncodeRequest(tokens...)
}
