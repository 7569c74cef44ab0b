package server

import (
	"fmt"
	"strings"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/internal/store"
	"github.com/mosmeh/zakros/pkg/common"
)

// dispatch validates one parsed command and routes it: local execution,
// raft submission, redirection, or session manipulation. It returns an
// error only for I/O failures on the reply path.
func (c *conn) dispatch(cmd [][]byte) error {
	spec, ok := store.Lookup(cmd[0])
	if !ok {
		if c.inMulti {
			c.dirty = true
		}
		return c.write(common.RedisError(fmt.Sprintf("ERR unknown command '%s'", cmd[0])))
	}
	args := cmd[1:]
	if !spec.Arity.Ok(len(args)) {
		if c.inMulti {
			c.dirty = true
		}
		return c.write(common.RedisError(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(spec.Name))))
	}
	metricCommands.WithLabelValues(spec.Name).Inc()

	if c.subscribed() && !allowedWhileSubscribed(spec.Name) {
		return c.write(common.RedisError(fmt.Sprintf(
			"ERR Can't execute '%s': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context",
			strings.ToLower(spec.Name))))
	}

	if c.inMulti && spec.Class != store.ClassTransaction {
		if spec.Class == store.ClassSystem {
			c.dirty = true
			return c.write(common.RedisError(fmt.Sprintf("ERR %s inside MULTI is not allowed", spec.Name)))
		}
		c.queued = append(c.queued, copyCommand(cmd))
		return c.write(resp.SimpleString("QUEUED"))
	}

	switch spec.Class {
	case store.ClassStateless:
		value, err := spec.Handler(nil, args)
		if err != nil {
			return c.write(err)
		}
		return c.write(value)
	case store.ClassRead:
		return c.write(c.readCommand(spec, args))
	case store.ClassWrite:
		return c.write(c.writeCommand(cmd))
	case store.ClassTransaction:
		return c.transactionCommand(spec, args)
	case store.ClassSystem:
		return c.systemCommand(spec, args)
	}
	return nil
}

func allowedWhileSubscribed(name string) bool {
	switch name {
	case "SUBSCRIBE", "UNSUBSCRIBE", "PSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT", "RESET":
		return true
	}
	return false
}

// copyCommand detaches queued arguments from the read buffer.
func copyCommand(cmd [][]byte) [][]byte {
	out := make([][]byte, len(cmd))
	for i, arg := range cmd {
		out[i] = append([]byte(nil), arg...)
	}
	return out
}

// readCommand serves reads locally whenever the node is allowed to: raft
// disabled, this node is the leader, or the client opted into stale reads
// with READONLY. Otherwise the client is redirected.
func (c *conn) readCommand(spec *store.CommandSpec, args [][]byte) resp.Value {
	s := c.srv
	if s.rf == nil || c.readonly || s.isLeader() {
		value, err := s.store.ExecuteRead(spec, args)
		if err != nil {
			return err
		}
		return value
	}
	return s.redirect()
}

// writeCommand orders a single write through raft, or applies it directly
// when raft is disabled.
func (c *conn) writeCommand(cmd [][]byte) resp.Value {
	s := c.srv
	batch := &store.Batch{Commands: [][][]byte{cmd}}
	if s.rf == nil {
		return s.store.Apply(batch)
	}
	if !s.isLeader() {
		return s.redirect()
	}
	return s.submit(batch)
}

func (c *conn) transactionCommand(spec *store.CommandSpec, args [][]byte) error {
	switch spec.Name {
	case "MULTI":
		if c.inMulti {
			return c.write(common.RedisError("ERR MULTI calls can not be nested"))
		}
		c.inMulti = true
		c.dirty = false
		c.queued = nil
		return c.write(resp.OK)

	case "EXEC":
		if !c.inMulti {
			return c.write(common.RedisError("ERR EXEC without MULTI"))
		}
		queued, dirty, watched := c.queued, c.dirty, c.watched
		c.inMulti = false
		c.dirty = false
		c.queued = nil
		c.watched = nil
		if dirty {
			return c.write(common.ErrExecAbort)
		}
		return c.write(c.execBatch(queued, watched))

	case "DISCARD":
		if !c.inMulti {
			return c.write(common.RedisError("ERR DISCARD without MULTI"))
		}
		c.inMulti = false
		c.dirty = false
		c.queued = nil
		c.watched = nil
		return c.write(resp.OK)

	case "WATCH":
		if c.inMulti {
			return c.write(common.RedisError("ERR WATCH inside MULTI is not allowed"))
		}
		if c.watched == nil {
			c.watched = make(map[string]uint64)
		}
		for _, key := range args {
			if _, ok := c.watched[string(key)]; !ok {
				c.watched[string(key)] = c.srv.store.WatchVersion(key)
			}
		}
		return c.write(resp.OK)

	case "UNWATCH":
		c.watched = nil
		return c.write(resp.OK)
	}
	return nil
}

// execBatch runs a whole transaction as one atomic raft entry. The watched
// versions ride in the payload, so the freshness check happens at apply
// time on every replica and the decision is identical everywhere.
func (c *conn) execBatch(queued [][][]byte, watched map[string]uint64) resp.Value {
	s := c.srv
	batch := &store.Batch{Exec: true, Watch: watched, Commands: queued}
	if s.rf == nil {
		return s.store.Apply(batch)
	}
	if !s.isLeader() {
		return s.redirect()
	}
	return s.submit(batch)
}
