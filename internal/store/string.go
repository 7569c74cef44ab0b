package store

import (
	"bytes"
	"strconv"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/pkg/common"
)

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, common.ErrNotInteger
	}
	return n, nil
}

func getCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return resp.BulkString(obj.Str), nil
}

func setCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	key, value := args[0], args[1]
	var nx, xx bool
	for _, opt := range args[2:] {
		switch string(bytes.ToUpper(opt)) {
		case "NX":
			nx = true
		case "XX":
			xx = true
		default:
			return nil, common.ErrSyntax
		}
	}
	if nx && xx {
		return nil, common.ErrSyntax
	}
	exists := d.lookup(key) != nil
	if (nx && exists) || (xx && !exists) {
		return nil, nil
	}
	d.set(key, &Object{Kind: KindString, Str: append([]byte(nil), value...)})
	return resp.OK, nil
}

func setnxCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	if d.lookup(args[0]) != nil {
		return resp.Integer(0), nil
	}
	d.set(args[0], &Object{Kind: KindString, Str: append([]byte(nil), args[1]...)})
	return resp.Integer(1), nil
}

func getsetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	var old resp.Value
	if obj != nil {
		old = resp.BulkString(obj.Str)
	}
	d.set(args[0], &Object{Kind: KindString, Str: append([]byte(nil), args[1]...)})
	return old, nil
}

func getdelCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	d.remove(args[0])
	return resp.BulkString(obj.Str), nil
}

func appendCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = &Object{Kind: KindString}
	}
	obj.Str = append(obj.Str, args[1]...)
	d.set(args[0], obj)
	return resp.Integer(len(obj.Str)), nil
}

func strlenCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	return resp.Integer(len(obj.Str)), nil
}

// rangeIndices resolves redis-style inclusive [start, end] over a value of
// length n, with negative offsets counting from the tail. ok is false when
// the resolved range is empty.
func rangeIndices(start, end, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if end < 0 {
		end += n
	}
	if start < 0 {
		start = 0
	}
	if end >= n {
		end = n - 1
	}
	if n == 0 || start > end || start >= n {
		return 0, 0, false
	}
	return start, end, true
}

func getrangeCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	start, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	end, err := parseInt(args[2])
	if err != nil {
		return nil, err
	}
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.BulkString{}, nil
	}
	lo, hi, ok := rangeIndices(start, end, int64(len(obj.Str)))
	if !ok {
		return resp.BulkString{}, nil
	}
	return resp.BulkString(obj.Str[lo : hi+1]), nil
}

func setrangeCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	offset, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, common.ErrOutOfRange
	}
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	value := args[2]
	if len(value) == 0 {
		if obj == nil {
			return resp.Integer(0), nil
		}
		return resp.Integer(len(obj.Str)), nil
	}
	if obj == nil {
		obj = &Object{Kind: KindString}
	}
	needed := int(offset) + len(value)
	for len(obj.Str) < needed {
		obj.Str = append(obj.Str, 0)
	}
	copy(obj.Str[offset:], value)
	d.set(args[0], obj)
	return resp.Integer(len(obj.Str)), nil
}

func incrDecr(d *Dictionary, key []byte, delta int64) (resp.Value, error) {
	obj, err := d.lookupString(key)
	if err != nil {
		return nil, err
	}
	var current int64
	if obj != nil {
		if current, err = parseInt(obj.Str); err != nil {
			return nil, err
		}
	}
	if (delta > 0 && current > maxInt64-delta) || (delta < 0 && current < minInt64-delta) {
		return nil, common.ErrOverflow
	}
	result := current + delta
	d.set(key, &Object{Kind: KindString, Str: []byte(strconv.FormatInt(result, 10))})
	return resp.Integer(result), nil
}

const (
	maxInt64 = int64(^uint64(0) >> 1)
	minInt64 = -maxInt64 - 1
)

func incrCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return incrDecr(d, args[0], 1)
}

func decrCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return incrDecr(d, args[0], -1)
}

func incrbyCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	delta, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	return incrDecr(d, args[0], delta)
}

func decrbyCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	delta, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	if delta == minInt64 {
		return nil, common.ErrOverflow
	}
	return incrDecr(d, args[0], -delta)
}

func mgetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	values := make(resp.Array, len(args))
	for i, key := range args {
		if obj := d.lookup(key); obj != nil && obj.Kind == KindString {
			values[i] = resp.BulkString(obj.Str)
		}
	}
	return values, nil
}

func msetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	if len(args)%2 != 0 {
		return nil, common.ErrWrongArity
	}
	for i := 0; i < len(args); i += 2 {
		d.set(args[i], &Object{Kind: KindString, Str: append([]byte(nil), args[i+1]...)})
	}
	return resp.OK, nil
}

func msetnxCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	if len(args)%2 != 0 {
		return nil, common.ErrWrongArity
	}
	for i := 0; i < len(args); i += 2 {
		if d.lookup(args[i]) != nil {
			return resp.Integer(0), nil
		}
	}
	for i := 0; i < len(args); i += 2 {
		d.set(args[i], &Object{Kind: KindString, Str: append([]byte(nil), args[i+1]...)})
	}
	return resp.Integer(1), nil
}
