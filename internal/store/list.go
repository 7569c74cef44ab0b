package store

import (
	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/pkg/common"
)

const errNegativeCount common.RedisError = "ERR value is out of range, must be positive"

func pushCommand(d *Dictionary, args [][]byte, left, requireExisting bool) (resp.Value, error) {
	obj, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if requireExisting {
			return resp.Integer(0), nil
		}
		obj = &Object{Kind: KindList}
	}
	for _, v := range args[1:] {
		elem := append([]byte(nil), v...)
		if left {
			obj.List = append([][]byte{elem}, obj.List...)
		} else {
			obj.List = append(obj.List, elem)
		}
	}
	d.set(args[0], obj)
	return resp.Integer(len(obj.List)), nil
}

func lpushCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return pushCommand(d, args, true, false)
}

func rpushCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return pushCommand(d, args, false, false)
}

func lpushxCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return pushCommand(d, args, true, true)
}

func rpushxCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return pushCommand(d, args, false, true)
}

func popCommand(d *Dictionary, args [][]byte, left bool) (resp.Value, error) {
	hasCount := len(args) == 2
	var count int64 = 1
	if len(args) > 2 {
		return nil, common.ErrSyntax
	}
	if hasCount {
		var err error
		if count, err = parseInt(args[1]); err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, errNegativeCount
		}
	}
	obj, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if hasCount {
			return resp.NullArray, nil
		}
		return nil, nil
	}
	if count > int64(len(obj.List)) {
		count = int64(len(obj.List))
	}
	popped := make(resp.Array, 0, count)
	for i := int64(0); i < count; i++ {
		var elem []byte
		if left {
			elem = obj.List[0]
			obj.List = obj.List[1:]
		} else {
			elem = obj.List[len(obj.List)-1]
			obj.List = obj.List[:len(obj.List)-1]
		}
		popped = append(popped, resp.BulkString(elem))
	}
	if count > 0 {
		d.markMutated(args[0])
		d.removeIfEmpty(args[0], obj)
	}
	if !hasCount {
		return popped[0], nil
	}
	return popped, nil
}

func lpopCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return popCommand(d, args, true)
}

func rpopCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return popCommand(d, args, false)
}

func lrangeCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	start, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	end, err := parseInt(args[2])
	if err != nil {
		return nil, err
	}
	obj, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Array{}, nil
	}
	lo, hi, ok := rangeIndices(start, end, int64(len(obj.List)))
	if !ok {
		return resp.Array{}, nil
	}
	out := make(resp.Array, 0, hi-lo+1)
	for _, elem := range obj.List[lo : hi+1] {
		out = append(out, resp.BulkString(elem))
	}
	return out, nil
}

func lindexCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	idx, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	obj, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	if idx < 0 {
		idx += int64(len(obj.List))
	}
	if idx < 0 || idx >= int64(len(obj.List)) {
		return nil, nil
	}
	return resp.BulkString(obj.List[idx]), nil
}

func llenCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	return resp.Integer(len(obj.List)), nil
}

func lsetCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	idx, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	obj, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, common.ErrNoKey
	}
	if idx < 0 {
		idx += int64(len(obj.List))
	}
	if idx < 0 || idx >= int64(len(obj.List)) {
		return nil, common.ErrIndexOutOfRange
	}
	obj.List[idx] = append([]byte(nil), args[2]...)
	d.markMutated(args[0])
	return resp.OK, nil
}

func ltrimCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	start, err := parseInt(args[1])
	if err != nil {
		return nil, err
	}
	end, err := parseInt(args[2])
	if err != nil {
		return nil, err
	}
	obj, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.OK, nil
	}
	lo, hi, ok := rangeIndices(start, end, int64(len(obj.List)))
	if !ok {
		d.remove(args[0])
		return resp.OK, nil
	}
	obj.List = append([][]byte(nil), obj.List[lo:hi+1]...)
	d.markMutated(args[0])
	d.removeIfEmpty(args[0], obj)
	return resp.OK, nil
}

func rpoplpushCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	src, err := d.lookupList(args[0])
	if err != nil {
		return nil, err
	}
	dst, err := d.lookupList(args[1])
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, nil
	}
	elem := src.List[len(src.List)-1]
	src.List = src.List[:len(src.List)-1]
	d.markMutated(args[0])
	if string(args[0]) == string(args[1]) {
		dst = src
	}
	if dst == nil {
		dst = &Object{Kind: KindList}
	}
	dst.List = append([][]byte{elem}, dst.List...)
	d.set(args[1], dst)
	d.removeIfEmpty(args[0], src)
	return resp.BulkString(elem), nil
}
