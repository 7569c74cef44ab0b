package store

import (
	"strconv"
	"time"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/pkg/common"
)

func delCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	removed := 0
	for _, key := range args {
		if d.lookup(key) != nil {
			d.remove(key)
			removed++
		}
	}
	return resp.Integer(removed), nil
}

func existsCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	count := 0
	for _, key := range args {
		if d.lookup(key) != nil {
			count++
		}
	}
	return resp.Integer(count), nil
}

func keysCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	out := resp.Array{}
	for key := range d.items {
		if GlobMatch(args[0], []byte(key)) {
			out = append(out, resp.BulkString(key))
		}
	}
	return out, nil
}

func typeCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj := d.lookup(args[0])
	if obj == nil {
		return resp.SimpleString("none"), nil
	}
	return resp.SimpleString(obj.Kind.String()), nil
}

func renameCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj := d.lookup(args[0])
	if obj == nil {
		return nil, common.ErrNoKey
	}
	if string(args[0]) == string(args[1]) {
		return resp.OK, nil
	}
	delete(d.items, string(args[0]))
	d.markMutated(args[0])
	d.set(args[1], obj)
	return resp.OK, nil
}

func renamenxCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	if d.lookup(args[0]) == nil {
		return nil, common.ErrNoKey
	}
	if string(args[0]) == string(args[1]) {
		return resp.Integer(0), nil
	}
	if d.lookup(args[1]) != nil {
		return resp.Integer(0), nil
	}
	obj := d.lookup(args[0])
	delete(d.items, string(args[0]))
	d.markMutated(args[0])
	d.set(args[1], obj)
	return resp.Integer(1), nil
}

func dbsizeCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return resp.Integer(d.Len()), nil
}

// flushCommand backs both FLUSHDB and FLUSHALL; with a single database they
// are the same operation. Raising flushVersion invalidates every WATCH.
func flushCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	d.flush()
	return resp.OK, nil
}

func pingCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	switch len(args) {
	case 0:
		return resp.SimpleString("PONG"), nil
	case 1:
		return resp.BulkString(args[0]), nil
	default:
		return nil, common.ErrWrongArity
	}
}

func echoCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return resp.BulkString(args[0]), nil
}

// timeCommand is wall-clock dependent and therefore never goes through raft;
// the dispatcher always runs it on the receiving node.
func timeCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	now := time.Now()
	return resp.Array{
		resp.BulkString(formatInt(now.Unix())),
		resp.BulkString(formatInt(int64(now.Nanosecond()) / 1000)),
	}, nil
}

func formatInt(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}
