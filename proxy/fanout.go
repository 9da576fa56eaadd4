package proxy

import (
	"sync"

	"github.com/TigerZhang/onecache/resp"
)

// fanOutMGet splits "MGET k1 k2 ... kn" into n independent GET
// sub-requests, dispatches them concurrently, and assembles the replies
// into a single multi-bulk array in request order, mirroring
// onMGetCommand/onGetPacketFinished (there, sub-packets complete
// asynchronously on the event loop and a counter triggers assembly; here
// a WaitGroup does the equivalent join).
func (s *Server) fanOutMGet(tokens [][]byte) resp.Reply {
	keys := tokens[1:]
	if len(keys) == 1 {
		return s.dispatchKeyCommand(keys[0], resp.EncodeRequestStrings("GET", string(keys[0])), true)
	}

	results := make([][]byte, len(keys))
	var wg sync.WaitGroup
	wg.Add(len(keys))
	for i, key := range keys {
		go func(i int, key []byte) {
			defer wg.Done()
			reply := s.dispatchKeyCommand(key, resp.EncodeRequestStrings("GET", string(key)), true)
			if raw, ok := reply.(*resp.RawReply); ok {
				results[i] = bulkPayloadFromRaw(raw.Data)
			}
		}(i, key)
	}
	wg.Wait()
	return resp.NewMultiBulkReply(results)
}

// bulkPayloadFromRaw extracts the $-prefixed bulk payload out of a raw
// backend reply (GET's answer is always a bulk string or null bulk); any
// other reply shape (e.g. a backend protocol error) degrades to nil,
// matching the null entries a crashed sub-packet would otherwise leave.
func bulkPayloadFromRaw(raw []byte) []byte {
	res, state := resp.Parse(raw)
	if state != resp.StateOK {
		return nil
	}
	if len(res.Tokens) == 1 {
		return res.Tokens[0]
	}
	return nil
}

// fanOutMSet splits "MSET k1 v1 k2 v2 ... " into independent SET
// sub-requests, waits for all to complete, and replies +OK, mirroring
// onMSetCommand/onSetPacketFinished. Like the original, this is NOT
// atomic: a failure partway through leaves some keys set and others not.
func (s *Server) fanOutMSet(tokens [][]byte) resp.Reply {
	pairs := tokens[1:]
	if len(pairs)%2 != 0 {
		return resp.ErrWrongNumberOfArguments
	}
	if len(pairs) == 2 {
		key, val := pairs[0], pairs[1]
		reply := s.dispatchKeyCommand(key, resp.EncodeRequest([]byte("SET"), key, val), false)
		if resp.IsErrorReply(reply) {
			return resp.ErrRequestError
		}
		return resp.OKReply
	}

	var wg sync.WaitGroup
	n := len(pairs) / 2
	failed := make([]bool, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		key, val := pairs[2*i], pairs[2*i+1]
		go func(i int, key, val []byte) {
			defer wg.Done()
			reply := s.dispatchKeyCommand(key, resp.EncodeRequest([]byte("SET"), key, val), false)
			if resp.IsErrorReply(reply) {
				failed[i] = true
			}
		}(i, key, val)
	}
	wg.Wait()
	for _, f := range failed {
		if f {
			return resp.ErrRequestError
		}
	}
	return resp.OKReply
}

// fanOutDel splits "DEL k1 k2 ..." into independent DEL sub-requests and
// sums their integer replies, mirroring onDelCommand/onDelPacketFinished.
func (s *Server) fanOutDel(tokens [][]byte) resp.Reply {
	keys := tokens[1:]
	if len(keys) == 1 {
		return s.dispatchKeyCommand(keys[0], resp.EncodeRequestStrings("DEL", string(keys[0])), false)
	}

	counts := make([]int64, len(keys))
	var wg sync.WaitGroup
	wg.Add(len(keys))
	for i, key := range keys {
		go func(i int, key []byte) {
			defer wg.Done()
			reply := s.dispatchKeyCommand(key, resp.EncodeRequestStrings("DEL", string(key)), false)
			if raw, ok := reply.(*resp.RawReply); ok {
				counts[i] = integerFromRaw(raw.Data)
			}
		}(i, key)
	}
	wg.Wait()

	var total int64
	for _, c := range counts {
		total += c
	}
	return resp.NewIntReply(total)
}

func integerFromRaw(raw []byte) int64 {
	res, state := resp.Parse(raw)
	if state != resp.StateOK || !res.IsInteger {
		return 0
	}
	return res.Integer
}
