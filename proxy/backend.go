package proxy

import (
	"bufio"

	"github.com/pkg/errors"

	"github.com/TigerZhang/onecache/cluster"
	"github.com/TigerZhang/onecache/pool"
	"github.com/TigerZhang/onecache/resp"
)

// backendReply is the result of forwarding one request frame to a backend
// and reading its single reply frame back.
type backendReply struct {
	raw    []byte
	parsed resp.ParseResult
}

func (r backendReply) isError() bool { return r.parsed.IsError }

// forward sends frame to backend b and reads exactly one reply frame
// back, returning the connection to the pool (or marking it broken) once
// done. It mirrors RedisServant::handle's synchronous request/response
// cycle over one pooled connection. There is no request-level deadline
// here: a slow backend command blocks this goroutine, not the rest of the
// proxy, and MIGRATE's own 3000ms budget is enforced by the backend that
// receives it, not by the caller.
func forward(b *cluster.Backend, frame []byte) (backendReply, error) {
	conn, err := b.Pool.Acquire()
	if err != nil {
		return backendReply{}, errors.Wrapf(err, "acquire connection to %s", b.Addr)
	}

	if _, err := conn.Write(frame); err != nil {
		b.Pool.MarkBroken(conn)
		return backendReply{}, errors.Wrapf(err, "write to %s", b.Addr)
	}

	reply, err := readReplyFrame(conn)
	if err != nil {
		b.Pool.MarkBroken(conn)
		return backendReply{}, errors.Wrapf(err, "read reply from %s", b.Addr)
	}
	b.Pool.Release(conn)
	return reply, nil
}

// readReplyFrame reads bytes from conn until resp.Parse reports a
// complete frame, growing its buffer as needed.
func readReplyFrame(conn *pool.Conn) (backendReply, error) {
	r := bufio.NewReaderSize(conn, 4096)
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 512)
	for {
		res, state := resp.Parse(buf)
		switch state {
		case resp.StateOK:
			out := make([]byte, res.ProtoBuffLen)
			copy(out, buf[:res.ProtoBuffLen])
			return backendReply{raw: out, parsed: res}, nil
		case resp.StateError:
			return backendReply{}, errors.New("malformed reply from backend")
		}
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			return backendReply{}, err
		}
	}
}
