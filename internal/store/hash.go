package store

import (
	"strconv"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/pkg/common"
)

func hsetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	if len(args)%2 != 1 {
		return nil, common.ErrWrongArity
	}
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = &Object{Kind: KindHash, Hash: make(map[string][]byte)}
	}
	added := 0
	for i := 1; i < len(args); i += 2 {
		field := string(args[i])
		if _, ok := obj.Hash[field]; !ok {
			added++
		}
		obj.Hash[field] = append([]byte(nil), args[i+1]...)
	}
	d.set(args[0], obj)
	return resp.Integer(added), nil
}

func hmsetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	if _, err := hsetCommand(d, args); err != nil {
		return nil, err
	}
	return resp.OK, nil
}

func hsetnxCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj != nil {
		if _, ok := obj.Hash[string(args[1])]; ok {
			return resp.Integer(0), nil
		}
	} else {
		obj = &Object{Kind: KindHash, Hash: make(map[string][]byte)}
	}
	obj.Hash[string(args[1])] = append([]byte(nil), args[2]...)
	d.set(args[0], obj)
	return resp.Integer(1), nil
}

func hgetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	value, ok := obj.Hash[string(args[1])]
	if !ok {
		return nil, nil
	}
	return resp.BulkString(value), nil
}

func hdelCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	removed := 0
	for _, field := range args[1:] {
		if _, ok := obj.Hash[string(field)]; ok {
			delete(obj.Hash, string(field))
			removed++
		}
	}
	if removed > 0 {
		d.markMutated(args[0])
		d.removeIfEmpty(args[0], obj)
	}
	return resp.Integer(removed), nil
}

func hexistsCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj != nil {
		if _, ok := obj.Hash[string(args[1])]; ok {
			return resp.Integer(1), nil
		}
	}
	return resp.Integer(0), nil
}

func hlenCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	return resp.Integer(len(obj.Hash)), nil
}

func hkeysCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	out := resp.Array{}
	if obj != nil {
		for field := range obj.Hash {
			out = append(out, resp.BulkString(field))
		}
	}
	return out, nil
}

func hvalsCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	out := resp.Array{}
	if obj != nil {
		for _, value := range obj.Hash {
			out = append(out, resp.BulkString(value))
		}
	}
	return out, nil
}

func hgetallCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	out := resp.Array{}
	if obj != nil {
		for field, value := range obj.Hash {
			out = append(out, resp.BulkString(field), resp.BulkString(value))
		}
	}
	return out, nil
}

func hincrbyCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	delta, err := parseInt(args[2])
	if err != nil {
		return nil, err
	}
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = &Object{Kind: KindHash, Hash: make(map[string][]byte)}
	}
	var current int64
	if value, ok := obj.Hash[string(args[1])]; ok {
		if current, err = parseInt(value); err != nil {
			return nil, err
		}
	}
	if (delta > 0 && current > maxInt64-delta) || (delta < 0 && current < minInt64-delta) {
		return nil, common.ErrOverflow
	}
	result := current + delta
	obj.Hash[string(args[1])] = []byte(strconv.FormatInt(result, 10))
	d.set(args[0], obj)
	return resp.Integer(result), nil
}

func hstrlenCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	return resp.Integer(len(obj.Hash[string(args[1])])), nil
}

func hmgetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupHash(args[0])
	if err != nil {
		return nil, err
	}
	out := make(resp.Array, len(args)-1)
	if obj != nil {
		for i, field := range args[1:] {
			if value, ok := obj.Hash[string(field)]; ok {
				out[i] = resp.BulkString(value)
			}
		}
	}
	return out, nil
}
