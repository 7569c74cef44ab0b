package store

import (
	"bytes"
	"math/bits"
	"strconv"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/pkg/common"
)

const (
	errBitOffset common.RedisError = "ERR bit offset is not an integer or out of range"
	errBitValue  common.RedisError = "ERR bit is not an integer or out of range"
	errBitOpNot  common.RedisError = "ERR BITOP NOT must be called with a single source key."

	// redis caps string values at 512 MB, so bit offsets fit in 32 bits
	maxBitOffset = int64(512*1024*1024)*8 - 1
)

func parseBitOffset(b []byte) (int64, error) {
	offset, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || offset < 0 || offset > maxBitOffset {
		return 0, errBitOffset
	}
	return offset, nil
}

func getbitCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	offset, err := parseBitOffset(args[1])
	if err != nil {
		return nil, err
	}
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	byteIdx := offset / 8
	if byteIdx >= int64(len(obj.Str)) {
		return resp.Integer(0), nil
	}
	bit := (obj.Str[byteIdx] >> (7 - uint(offset%8))) & 1
	return resp.Integer(bit), nil
}

func setbitCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	offset, err := parseBitOffset(args[1])
	if err != nil {
		return nil, err
	}
	bit, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil || (bit != 0 && bit != 1) {
		return nil, errBitValue
	}
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = &Object{Kind: KindString}
	}
	byteIdx := int(offset / 8)
	for len(obj.Str) <= byteIdx {
		obj.Str = append(obj.Str, 0)
	}
	mask := byte(1) << (7 - uint(offset%8))
	old := resp.Integer(0)
	if obj.Str[byteIdx]&mask != 0 {
		old = 1
	}
	if bit == 1 {
		obj.Str[byteIdx] |= mask
	} else {
		obj.Str[byteIdx] &^= mask
	}
	d.set(args[0], obj)
	return old, nil
}

func bitcountCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupString(args[0])
	if err != nil {
		return nil, err
	}
	var s []byte
	if obj != nil {
		s = obj.Str
	}
	switch len(args) {
	case 1:
		return resp.Integer(popcount(s)), nil
	case 3, 4:
		start, err := parseInt(args[1])
		if err != nil {
			return nil, err
		}
		end, err := parseInt(args[2])
		if err != nil {
			return nil, err
		}
		byByte := true
		if len(args) == 4 {
			switch string(bytes.ToUpper(args[3])) {
			case "BYTE":
			case "BIT":
				byByte = false
			default:
				return nil, common.ErrSyntax
			}
		}
		if byByte {
			lo, hi, ok := rangeIndices(start, end, int64(len(s)))
			if !ok {
				return resp.Integer(0), nil
			}
			return resp.Integer(popcount(s[lo : hi+1])), nil
		}
		lo, hi, ok := rangeIndices(start, end, int64(len(s))*8)
		if !ok {
			return resp.Integer(0), nil
		}
		count := 0
		for i := lo; i <= hi; i++ {
			if s[i/8]&(1<<(7-uint(i%8))) != 0 {
				count++
			}
		}
		return resp.Integer(count), nil
	default:
		return nil, common.ErrSyntax
	}
}

func popcount(s []byte) int {
	n := 0
	for _, b := range s {
		n += bits.OnesCount8(b)
	}
	return n
}

func bitopCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	op := string(bytes.ToUpper(args[0]))
	dest := args[1]
	srcs := args[2:]
	if op == "NOT" && len(srcs) != 1 {
		return nil, errBitOpNot
	}
	switch op {
	case "AND", "OR", "XOR", "NOT":
	default:
		return nil, common.ErrSyntax
	}

	values := make([][]byte, len(srcs))
	maxLen := 0
	for i, key := range srcs {
		obj, err := d.lookupString(key)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			values[i] = obj.Str
			if len(obj.Str) > maxLen {
				maxLen = len(obj.Str)
			}
		}
	}

	if maxLen == 0 {
		if d.lookup(dest) != nil {
			d.remove(dest)
		}
		return resp.Integer(0), nil
	}

	result := make([]byte, maxLen)
	for i, v := range values {
		for j := 0; j < maxLen; j++ {
			var b byte
			if j < len(v) {
				b = v[j]
			}
			if i == 0 {
				result[j] = b
				continue
			}
			switch op {
			case "AND":
				result[j] &= b
			case "OR":
				result[j] |= b
			case "XOR":
				result[j] ^= b
			}
		}
	}
	if op == "NOT" {
		for j := range result {
			result[j] = ^result[j]
		}
	}
	d.set(dest, &Object{Kind: KindString, Str: result})
	return resp.Integer(len(result)), nil
}
