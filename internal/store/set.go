package store

import (
	"github.com/mosmeh/zakros/internal/resp"
)

func saddCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupSet(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		obj = &Object{Kind: KindSet, Set: make(map[string]struct{})}
	}
	added := 0
	for _, member := range args[1:] {
		if _, ok := obj.Set[string(member)]; !ok {
			obj.Set[string(member)] = struct{}{}
			added++
		}
	}
	d.set(args[0], obj)
	return resp.Integer(added), nil
}

func sremCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupSet(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	removed := 0
	for _, member := range args[1:] {
		if _, ok := obj.Set[string(member)]; ok {
			delete(obj.Set, string(member))
			removed++
		}
	}
	if removed > 0 {
		d.markMutated(args[0])
		d.removeIfEmpty(args[0], obj)
	}
	return resp.Integer(removed), nil
}

func sismemberCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupSet(args[0])
	if err != nil {
		return nil, err
	}
	if obj != nil {
		if _, ok := obj.Set[string(args[1])]; ok {
			return resp.Integer(1), nil
		}
	}
	return resp.Integer(0), nil
}

func smismemberCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupSet(args[0])
	if err != nil {
		return nil, err
	}
	out := make(resp.Array, len(args)-1)
	for i, member := range args[1:] {
		out[i] = resp.Integer(0)
		if obj != nil {
			if _, ok := obj.Set[string(member)]; ok {
				out[i] = resp.Integer(1)
			}
		}
	}
	return out, nil
}

func smembersCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupSet(args[0])
	if err != nil {
		return nil, err
	}
	out := resp.Array{}
	if obj != nil {
		for member := range obj.Set {
			out = append(out, resp.BulkString(member))
		}
	}
	return out, nil
}

func scardCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	obj, err := d.lookupSet(args[0])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return resp.Integer(0), nil
	}
	return resp.Integer(len(obj.Set)), nil
}

// setAlgebra computes the intersection, union, or difference of the named
// sets; missing keys count as empty.
func setAlgebra(d *Dictionary, keys [][]byte, op string) (map[string]struct{}, error) {
	sets := make([]map[string]struct{}, len(keys))
	for i, key := range keys {
		obj, err := d.lookupSet(key)
		if err != nil {
			return nil, err
		}
		if obj != nil {
			sets[i] = obj.Set
		}
	}
	result := make(map[string]struct{})
	switch op {
	case "inter":
		if sets[0] == nil {
			return result, nil
		}
		for member := range sets[0] {
			in := true
			for _, s := range sets[1:] {
				if s == nil {
					in = false
					break
				}
				if _, ok := s[member]; !ok {
					in = false
					break
				}
			}
			if in {
				result[member] = struct{}{}
			}
		}
	case "union":
		for _, s := range sets {
			for member := range s {
				result[member] = struct{}{}
			}
		}
	case "diff":
		for member := range sets[0] {
			in := false
			for _, s := range sets[1:] {
				if s == nil {
					continue
				}
				if _, ok := s[member]; ok {
					in = true
					break
				}
			}
			if !in {
				result[member] = struct{}{}
			}
		}
	}
	return result, nil
}

func setAlgebraCommand(d *Dictionary, args [][]byte, op string) (resp.Value, error) {
	result, err := setAlgebra(d, args, op)
	if err != nil {
		return nil, err
	}
	out := make(resp.Array, 0, len(result))
	for member := range result {
		out = append(out, resp.BulkString(member))
	}
	return out, nil
}

func setAlgebraStoreCommand(d *Dictionary, args [][]byte, op string) (resp.Value, error) {
	result, err := setAlgebra(d, args[1:], op)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		if d.lookup(args[0]) != nil {
			d.remove(args[0])
		}
		return resp.Integer(0), nil
	}
	d.set(args[0], &Object{Kind: KindSet, Set: result})
	return resp.Integer(len(result)), nil
}

func sinterCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return setAlgebraCommand(d, args, "inter")
}

func sunionCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return setAlgebraCommand(d, args, "union")
}

func sdiffCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return setAlgebraCommand(d, args, "diff")
}

func sinterstoreCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return setAlgebraStoreCommand(d, args, "inter")
}

func sunionstoreCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return setAlgebraStoreCommand(d, args, "union")
}

func sdiffstoreCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	return setAlgebraStoreCommand(d, args, "diff")
}

func smoveCommand(d *Dictionary, args [][]byte) (resp.Value, error) {
	src, err := d.lookupSet(args[0])
	if err != nil {
		return nil, err
	}
	dst, err := d.lookupSet(args[1])
	if err != nil {
		return nil, err
	}
	if src == nil {
		return resp.Integer(0), nil
	}
	member := string(args[2])
	if _, ok := src.Set[member]; !ok {
		return resp.Integer(0), nil
	}
	delete(src.Set, member)
	d.markMutated(args[0])
	if string(args[0]) == string(args[1]) {
		dst = src
	}
	if dst == nil {
		dst = &Object{Kind: KindSet, Set: make(map[string]struct{})}
	}
	dst.Set[member] = struct{}{}
	d.set(args[1], dst)
	d.removeIfEmpty(args[0], src)
	return resp.Integer(1), nil
}
