package common

import "fmt"

// RedisError is an error whose text is sent verbatim to the client as a RESP
// error reply. The leading word (ERR, WRONGTYPE, MOVED, ...) is the error
// class redis clients switch on.
type RedisError string

func (e RedisError) Error() string { return string(e) }

const (
	ErrUnknownCommand  RedisError = "ERR unknown command"
	ErrWrongArity      RedisError = "ERR wrong number of arguments"
	ErrSyntax          RedisError = "ERR syntax error"
	ErrWrongType       RedisError = "WRONGTYPE Operation against a key holding the wrong kind of value"
	ErrNotInteger      RedisError = "ERR value is not an integer or out of range"
	ErrOutOfRange      RedisError = "ERR value is out of range"
	ErrIndexOutOfRange RedisError = "ERR index out of range"
	ErrOverflow        RedisError = "ERR increment or decrement would overflow"
	ErrNoKey           RedisError = "ERR no such key"
	ErrExecAbort       RedisError = "EXECABORT Transaction discarded because of previous errors."
	ErrMaxClients      RedisError = "ERR max number of clients reached"
)

func ErrUnknownSubcommand(sub string) RedisError {
	return RedisError(fmt.Sprintf("ERR unknown subcommand '%s'", sub))
}

// ErrMoved redirects a client to the authoritative node. Zakros maps the
// whole keyspace to a single slot range, so the slot is always 0.
func ErrMoved(addr string) RedisError {
	return RedisError("MOVED 0 " + addr)
}

func ErrClusterDown(reason string) RedisError {
	return RedisError("CLUSTERDOWN " + reason)
}

// IsRedisError reports whether err should be surfaced to the client as a
// command-level error rather than tearing the connection down.
func IsRedisError(err error) bool {
	_, ok := err.(RedisError)
	return ok
}
