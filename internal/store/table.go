package store

import (
	"bytes"

	"github.com/mosmeh/zakros/internal/resp"
)

// Class drives the dispatcher: where a command may run and whether it goes
// through raft.
type Class uint8

const (
	// ClassWrite mutates the keyspace; ordered through raft when enabled.
	ClassWrite Class = iota
	// ClassRead observes the applied keyspace of the serving node.
	ClassRead
	// ClassStateless touches neither keyspace nor session; always local.
	ClassStateless
	// ClassSystem is handled by the server/connection layer (CLUSTER, INFO,
	// pub/sub, READONLY, SELECT, SHUTDOWN, QUIT, RESET).
	ClassSystem
	// ClassTransaction is MULTI/EXEC/DISCARD/WATCH/UNWATCH.
	ClassTransaction
)

// Arity counts arguments after the verb. Variadic means "at least N".
type Arity struct {
	N        int
	Variadic bool
}

func fixed(n int) Arity   { return Arity{N: n} }
func atLeast(n int) Arity { return Arity{N: n, Variadic: true} }

func (a Arity) Ok(n int) bool {
	if a.Variadic {
		return n >= a.N
	}
	return n == a.N
}

// Handler executes a command against the dictionary. Stateless handlers
// ignore d. The returned error, if a common.RedisError, becomes the client
// reply; any other error is a server fault.
type Handler func(d *Dictionary, args [][]byte) (resp.Value, error)

type CommandSpec struct {
	Name    string
	Arity   Arity
	Class   Class
	Handler Handler
}

var table = map[string]*CommandSpec{}

func register(name string, arity Arity, class Class, h Handler) {
	table[name] = &CommandSpec{Name: name, Arity: arity, Class: class, Handler: h}
}

// Lookup resolves a verb case-insensitively.
func Lookup(verb []byte) (*CommandSpec, bool) {
	spec, ok := table[string(bytes.ToUpper(verb))]
	return spec, ok
}

func init() {
	// strings
	register("GET", fixed(1), ClassRead, getCommand)
	register("SET", atLeast(2), ClassWrite, setCommand)
	register("SETNX", fixed(2), ClassWrite, setnxCommand)
	register("GETSET", fixed(2), ClassWrite, getsetCommand)
	register("GETDEL", fixed(1), ClassWrite, getdelCommand)
	register("APPEND", fixed(2), ClassWrite, appendCommand)
	register("STRLEN", fixed(1), ClassRead, strlenCommand)
	register("GETRANGE", fixed(3), ClassRead, getrangeCommand)
	register("SUBSTR", fixed(3), ClassRead, getrangeCommand)
	register("SETRANGE", fixed(3), ClassWrite, setrangeCommand)
	register("INCR", fixed(1), ClassWrite, incrCommand)
	register("DECR", fixed(1), ClassWrite, decrCommand)
	register("INCRBY", fixed(2), ClassWrite, incrbyCommand)
	register("DECRBY", fixed(2), ClassWrite, decrbyCommand)
	register("MGET", atLeast(1), ClassRead, mgetCommand)
	register("MSET", atLeast(2), ClassWrite, msetCommand)
	register("MSETNX", atLeast(2), ClassWrite, msetnxCommand)

	// bit operations
	register("GETBIT", fixed(2), ClassRead, getbitCommand)
	register("SETBIT", fixed(3), ClassWrite, setbitCommand)
	register("BITCOUNT", atLeast(1), ClassRead, bitcountCommand)
	register("BITOP", atLeast(3), ClassWrite, bitopCommand)

	// lists
	register("LPUSH", atLeast(2), ClassWrite, lpushCommand)
	register("RPUSH", atLeast(2), ClassWrite, rpushCommand)
	register("LPUSHX", atLeast(2), ClassWrite, lpushxCommand)
	register("RPUSHX", atLeast(2), ClassWrite, rpushxCommand)
	register("LPOP", atLeast(1), ClassWrite, lpopCommand)
	register("RPOP", atLeast(1), ClassWrite, rpopCommand)
	register("LRANGE", fixed(3), ClassRead, lrangeCommand)
	register("LINDEX", fixed(2), ClassRead, lindexCommand)
	register("LLEN", fixed(1), ClassRead, llenCommand)
	register("LSET", fixed(3), ClassWrite, lsetCommand)
	register("LTRIM", fixed(3), ClassWrite, ltrimCommand)
	register("RPOPLPUSH", fixed(2), ClassWrite, rpoplpushCommand)

	// hashes
	register("HSET", atLeast(3), ClassWrite, hsetCommand)
	register("HMSET", atLeast(3), ClassWrite, hmsetCommand)
	register("HSETNX", fixed(3), ClassWrite, hsetnxCommand)
	register("HGET", fixed(2), ClassRead, hgetCommand)
	register("HDEL", atLeast(2), ClassWrite, hdelCommand)
	register("HEXISTS", fixed(2), ClassRead, hexistsCommand)
	register("HLEN", fixed(1), ClassRead, hlenCommand)
	register("HKEYS", fixed(1), ClassRead, hkeysCommand)
	register("HVALS", fixed(1), ClassRead, hvalsCommand)
	register("HGETALL", fixed(1), ClassRead, hgetallCommand)
	register("HINCRBY", fixed(3), ClassWrite, hincrbyCommand)
	register("HSTRLEN", fixed(2), ClassRead, hstrlenCommand)
	register("HMGET", atLeast(2), ClassRead, hmgetCommand)

	// sets
	register("SADD", atLeast(2), ClassWrite, saddCommand)
	register("SREM", atLeast(2), ClassWrite, sremCommand)
	register("SISMEMBER", fixed(2), ClassRead, sismemberCommand)
	register("SMISMEMBER", atLeast(2), ClassRead, smismemberCommand)
	register("SMEMBERS", fixed(1), ClassRead, smembersCommand)
	register("SCARD", fixed(1), ClassRead, scardCommand)
	register("SINTER", atLeast(1), ClassRead, sinterCommand)
	register("SUNION", atLeast(1), ClassRead, sunionCommand)
	register("SDIFF", atLeast(1), ClassRead, sdiffCommand)
	register("SINTERSTORE", atLeast(2), ClassWrite, sinterstoreCommand)
	register("SUNIONSTORE", atLeast(2), ClassWrite, sunionstoreCommand)
	register("SDIFFSTORE", atLeast(2), ClassWrite, sdiffstoreCommand)
	register("SMOVE", fixed(3), ClassWrite, smoveCommand)

	// generic
	register("DEL", atLeast(1), ClassWrite, delCommand)
	register("UNLINK", atLeast(1), ClassWrite, delCommand)
	register("EXISTS", atLeast(1), ClassRead, existsCommand)
	register("KEYS", fixed(1), ClassRead, keysCommand)
	register("TYPE", fixed(1), ClassRead, typeCommand)
	register("RENAME", fixed(2), ClassWrite, renameCommand)
	register("RENAMENX", fixed(2), ClassWrite, renamenxCommand)

	// server
	register("DBSIZE", fixed(0), ClassRead, dbsizeCommand)
	register("FLUSHDB", fixed(0), ClassWrite, flushCommand)
	register("FLUSHALL", fixed(0), ClassWrite, flushCommand)

	// stateless
	register("PING", atLeast(0), ClassStateless, pingCommand)
	register("ECHO", fixed(1), ClassStateless, echoCommand)
	register("TIME", fixed(0), ClassStateless, timeCommand)

	// handled by the server layer
	register("CLUSTER", atLeast(1), ClassSystem, nil)
	register("INFO", atLeast(0), ClassSystem, nil)
	register("SELECT", fixed(1), ClassSystem, nil)
	register("SHUTDOWN", atLeast(0), ClassSystem, nil)
	register("READONLY", fixed(0), ClassSystem, nil)
	register("READWRITE", fixed(0), ClassSystem, nil)
	register("SUBSCRIBE", atLeast(1), ClassSystem, nil)
	register("UNSUBSCRIBE", atLeast(0), ClassSystem, nil)
	register("PSUBSCRIBE", atLeast(1), ClassSystem, nil)
	register("PUNSUBSCRIBE", atLeast(0), ClassSystem, nil)
	register("PUBLISH", fixed(2), ClassSystem, nil)
	register("PUBSUB", atLeast(1), ClassSystem, nil)
	register("QUIT", fixed(0), ClassSystem, nil)
	register("RESET", fixed(0), ClassSystem, nil)

	// transactions
	register("MULTI", fixed(0), ClassTransaction, nil)
	register("EXEC", fixed(0), ClassTransaction, nil)
	register("DISCARD", fixed(0), ClassTransaction, nil)
	register("WATCH", atLeast(1), ClassTransaction, nil)
	register("UNWATCH", fixed(0), ClassTransaction, nil)
}
