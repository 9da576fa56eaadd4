package proxy

import "strings"

// commandKind classifies how a command's key(s) are located and routed,
// grounded on RedisCommandTable's dispatch entries in cmdhandler.cpp/
// redisproxy.cpp (onStandardKeyCommand vs. the three fan-out handlers vs.
// the admin command table registered in RedisProxy::run).
type commandKind int

const (
	kindStandardKey commandKind = iota // token[1] is the key, forward verbatim
	kindFanOutMGet
	kindFanOutMSet
	kindFanOutDel
	kindAdmin
	kindUnknown
)

type commandSpec struct {
	name     string
	kind     commandKind
	minArity int // minimum tokenCount, including the command name itself
	readOnly bool
}

// commandTable maps an upper-cased command name to its spec. Populated
// once at startup from the fixed tables below; never mutated after.
var commandTable = buildCommandTable()

func buildCommandTable() map[string]commandSpec {
	t := make(map[string]commandSpec)
	add := func(s commandSpec) { t[s.name] = s }

	// Admin surface, matching the RedisCommand[] table registered in
	// RedisProxy::run.
	add(commandSpec{"PING", kindAdmin, 1, true})
	add(commandSpec{"SHOWMAPPING", kindAdmin, 1, true})
	// ADDKEYMAPPING/DELKEYMAPPING/YMIGRATE validate their own arity with a
	// usage-string reply, so the table only demands the command name itself
	// be present; a stricter minArity here would shadow that friendlier
	// message with the generic wrong-number-of-arguments error.
	add(commandSpec{"ADDKEYMAPPING", kindAdmin, 1, false})
	add(commandSpec{"DELKEYMAPPING", kindAdmin, 1, false})
	add(commandSpec{"POOLINFO", kindAdmin, 1, true})
	add(commandSpec{"HASHMAPPING", kindAdmin, 1, false})
	add(commandSpec{"YMIGRATE", kindAdmin, 1, false})
	add(commandSpec{"MIGSTAT", kindAdmin, 1, true})
	add(commandSpec{"SHUTDOWN", kindAdmin, 1, false})
	add(commandSpec{"LOG", kindAdmin, 1, false})
	add(commandSpec{"HASH", kindAdmin, 2, true})

	// Fan-out multi-key commands.
	add(commandSpec{"MGET", kindFanOutMGet, 2, true})
	add(commandSpec{"MSET", kindFanOutMSet, 3, false})
	add(commandSpec{"DEL", kindFanOutDel, 2, false})

	// Everything else reaching the proxy is a standard single-key
	// command: token[1] is the key, the whole frame forwards unchanged.
	// readOnlyCommands below narrows which of these may be served from a
	// slave under the ReadBalance policy; anything not listed there is
	// treated as a write.
	for name := range readOnlyCommands {
		add(commandSpec{name, kindStandardKey, 2, true})
	}
	for _, name := range []string{
		"SET", "SETNX", "SETEX", "PSETEX", "APPEND", "INCR", "INCRBY",
		"INCRBYFLOAT", "DECR", "DECRBY", "GETSET", "EXPIRE", "PEXPIRE",
		"EXPIREAT", "PERSIST", "RPUSH", "LPUSH", "RPOP", "LPOP", "LSET",
		"LTRIM", "LREM", "HSET", "HSETNX", "HDEL", "HINCRBY", "SADD",
		"SREM", "SPOP", "ZADD", "ZREM", "ZINCRBY", "SETBIT", "GETBIT",
		"RENAME",
	} {
		add(commandSpec{name, kindStandardKey, 2, false})
	}
	return t
}

// readOnlyCommands is the set of single-key commands that may be served
// by a slave under the ReadBalance policy.
var readOnlyCommands = map[string]bool{
	"GET": true, "STRLEN": true, "EXISTS": true, "TTL": true, "PTTL": true,
	"TYPE": true, "GETRANGE": true, "LLEN": true, "LINDEX": true,
	"LRANGE": true, "HGET": true, "HGETALL": true, "HMGET": true,
	"HKEYS": true, "HVALS": true, "HLEN": true, "HEXISTS": true,
	"SCARD": true, "SISMEMBER": true, "SMEMBERS": true, "ZSCORE": true,
	"ZRANGE": true, "ZCARD": true, "ZRANK": true,
}

// lookupCommand resolves name (any case) to its spec. A name not in
// commandTable reports ok == false; the caller replies Proto not support
// rather than guessing at routing for a command this proxy doesn't know.
func lookupCommand(name string) (commandSpec, bool) {
	upper := strings.ToUpper(name)
	spec, ok := commandTable[upper]
	if ok {
		return spec, true
	}
	return commandSpec{name: upper, kind: kindUnknown}, false
}
