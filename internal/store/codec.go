package store

import (
	"fmt"
	"sort"

	"github.com/Allen1211/msgp/msgp"
)

// The log payload and snapshot encodings use the msgp primitive API
// directly. Encoding must be deterministic: the same batch yields the same
// bytes on every node, and a snapshot round-trips to an identical keyspace.
// Map iteration is randomized in Go, so all maps are emitted in sorted key
// order.

// EncodeBatch frames a batch for the raft log.
func EncodeBatch(b *Batch) []byte {
	var o []byte
	o = msgp.AppendBool(o, b.Exec)
	o = msgp.AppendMapHeader(o, uint32(len(b.Watch)))
	for _, key := range sortedKeysU64(b.Watch) {
		o = msgp.AppendString(o, key)
		o = msgp.AppendUint64(o, b.Watch[key])
	}
	o = msgp.AppendArrayHeader(o, uint32(len(b.Commands)))
	for _, cmd := range b.Commands {
		o = msgp.AppendArrayHeader(o, uint32(len(cmd)))
		for _, arg := range cmd {
			o = msgp.AppendBytes(o, arg)
		}
	}
	return o
}

// DecodeBatch is the inverse of EncodeBatch.
func DecodeBatch(data []byte) (*Batch, error) {
	b := &Batch{}
	var err error
	if b.Exec, data, err = msgp.ReadBoolBytes(data); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	var nw uint32
	if nw, data, err = msgp.ReadMapHeaderBytes(data); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	b.Watch = make(map[string]uint64, nw)
	for i := uint32(0); i < nw; i++ {
		var key string
		var version uint64
		if key, data, err = msgp.ReadStringBytes(data); err != nil {
			return nil, fmt.Errorf("batch: %w", err)
		}
		if version, data, err = msgp.ReadUint64Bytes(data); err != nil {
			return nil, fmt.Errorf("batch: %w", err)
		}
		b.Watch[key] = version
	}
	var nc uint32
	if nc, data, err = msgp.ReadArrayHeaderBytes(data); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	b.Commands = make([][][]byte, 0, nc)
	for i := uint32(0); i < nc; i++ {
		var na uint32
		if na, data, err = msgp.ReadArrayHeaderBytes(data); err != nil {
			return nil, fmt.Errorf("batch: %w", err)
		}
		cmd := make([][]byte, 0, na)
		for j := uint32(0); j < na; j++ {
			var arg []byte
			if arg, data, err = msgp.ReadBytesBytes(data, nil); err != nil {
				return nil, fmt.Errorf("batch: %w", err)
			}
			cmd = append(cmd, arg)
		}
		b.Commands = append(b.Commands, cmd)
	}
	return b, nil
}

func encodeSnapshot(d *Dictionary) []byte {
	var o []byte
	o = msgp.AppendUint64(o, d.version)
	o = msgp.AppendUint64(o, d.flushVersion)

	o = msgp.AppendMapHeader(o, uint32(len(d.versions)))
	for _, key := range sortedKeysU64(d.versions) {
		o = msgp.AppendString(o, key)
		o = msgp.AppendUint64(o, d.versions[key])
	}

	o = msgp.AppendMapHeader(o, uint32(len(d.items)))
	keys := make([]string, 0, len(d.items))
	for key := range d.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		obj := d.items[key]
		o = msgp.AppendString(o, key)
		o = msgp.AppendUint8(o, uint8(obj.Kind))
		switch obj.Kind {
		case KindString:
			o = msgp.AppendBytes(o, obj.Str)
		case KindList:
			o = msgp.AppendArrayHeader(o, uint32(len(obj.List)))
			for _, elem := range obj.List {
				o = msgp.AppendBytes(o, elem)
			}
		case KindHash:
			o = msgp.AppendMapHeader(o, uint32(len(obj.Hash)))
			fields := make([]string, 0, len(obj.Hash))
			for field := range obj.Hash {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			for _, field := range fields {
				o = msgp.AppendString(o, field)
				o = msgp.AppendBytes(o, obj.Hash[field])
			}
		case KindSet:
			o = msgp.AppendArrayHeader(o, uint32(len(obj.Set)))
			members := make([]string, 0, len(obj.Set))
			for member := range obj.Set {
				members = append(members, member)
			}
			sort.Strings(members)
			for _, member := range members {
				o = msgp.AppendString(o, member)
			}
		}
	}
	return o
}

func decodeSnapshot(data []byte) (*Dictionary, error) {
	d := NewDictionary()
	var err error
	if d.version, data, err = msgp.ReadUint64Bytes(data); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if d.flushVersion, data, err = msgp.ReadUint64Bytes(data); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	var nv uint32
	if nv, data, err = msgp.ReadMapHeaderBytes(data); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	for i := uint32(0); i < nv; i++ {
		var key string
		var version uint64
		if key, data, err = msgp.ReadStringBytes(data); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		if version, data, err = msgp.ReadUint64Bytes(data); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		d.versions[key] = version
	}

	var ni uint32
	if ni, data, err = msgp.ReadMapHeaderBytes(data); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	for i := uint32(0); i < ni; i++ {
		var key string
		if key, data, err = msgp.ReadStringBytes(data); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		var kind uint8
		if kind, data, err = msgp.ReadUint8Bytes(data); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		obj := &Object{Kind: Kind(kind)}
		switch obj.Kind {
		case KindString:
			if obj.Str, data, err = msgp.ReadBytesBytes(data, nil); err != nil {
				return nil, fmt.Errorf("snapshot: %w", err)
			}
		case KindList:
			var n uint32
			if n, data, err = msgp.ReadArrayHeaderBytes(data); err != nil {
				return nil, fmt.Errorf("snapshot: %w", err)
			}
			obj.List = make([][]byte, 0, n)
			for j := uint32(0); j < n; j++ {
				var elem []byte
				if elem, data, err = msgp.ReadBytesBytes(data, nil); err != nil {
					return nil, fmt.Errorf("snapshot: %w", err)
				}
				obj.List = append(obj.List, elem)
			}
		case KindHash:
			var n uint32
			if n, data, err = msgp.ReadMapHeaderBytes(data); err != nil {
				return nil, fmt.Errorf("snapshot: %w", err)
			}
			obj.Hash = make(map[string][]byte, n)
			for j := uint32(0); j < n; j++ {
				var field string
				var value []byte
				if field, data, err = msgp.ReadStringBytes(data); err != nil {
					return nil, fmt.Errorf("snapshot: %w", err)
				}
				if value, data, err = msgp.ReadBytesBytes(data, nil); err != nil {
					return nil, fmt.Errorf("snapshot: %w", err)
				}
				obj.Hash[field] = value
			}
		case KindSet:
			var n uint32
			if n, data, err = msgp.ReadArrayHeaderBytes(data); err != nil {
				return nil, fmt.Errorf("snapshot: %w", err)
			}
			obj.Set = make(map[string]struct{}, n)
			for j := uint32(0); j < n; j++ {
				var member string
				if member, data, err = msgp.ReadStringBytes(data); err != nil {
					return nil, fmt.Errorf("snapshot: %w", err)
				}
				obj.Set[member] = struct{}{}
			}
		default:
			return nil, fmt.Errorf("snapshot: unknown value kind %d", kind)
		}
		d.items[key] = obj
	}
	return d, nil
}

func sortedKeysU64(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
