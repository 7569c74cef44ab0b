// Package store implements the zakros keyspace: a typed in-memory dictionary,
// the redis-style command handlers operating on it, and the deterministic
// batch/snapshot codecs used by the replicated log.
package store

import (
	"github.com/mosmeh/zakros/pkg/common"
)

type Kind uint8

const (
	KindString Kind = iota + 1
	KindList
	KindHash
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindHash:
		return "hash"
	case KindSet:
		return "set"
	}
	return "none"
}

// Object is a tagged keyspace value. Exactly one payload field is populated,
// selected by Kind. Containers are never left empty: the command handlers
// delete a key as soon as its list/hash/set loses its last element.
type Object struct {
	Kind Kind
	Str  []byte
	List [][]byte
	Hash map[string][]byte
	Set  map[string]struct{}
}

// Dictionary is the keyspace of database 0. It is not internally
// synchronized; Store arbitrates access with a readers-writer lock, and when
// raft is enabled only the apply loop ever mutates it.
//
// version is a monotonic counter bumped on every mutation. versions remembers
// the counter value at which each key was last modified and survives key
// deletion, so WATCH can detect delete-and-recreate. flushVersion is raised
// to the current counter by FLUSHALL/FLUSHDB, invalidating every outstanding
// watch at once.
type Dictionary struct {
	items        map[string]*Object
	versions     map[string]uint64
	version      uint64
	flushVersion uint64
}

func NewDictionary() *Dictionary {
	return &Dictionary{
		items:    make(map[string]*Object),
		versions: make(map[string]uint64),
	}
}

func (d *Dictionary) Len() int { return len(d.items) }

func (d *Dictionary) Version() uint64 { return d.version }

func (d *Dictionary) lookup(key []byte) *Object {
	return d.items[string(key)]
}

// markMutated records that key changed in this mutation. Every handler that
// changes visible state calls it exactly once per affected key.
func (d *Dictionary) markMutated(key []byte) {
	d.version++
	d.versions[string(key)] = d.version
}

func (d *Dictionary) set(key []byte, obj *Object) {
	d.items[string(key)] = obj
	d.markMutated(key)
}

func (d *Dictionary) remove(key []byte) {
	delete(d.items, string(key))
	d.markMutated(key)
}

// removeIfEmpty enforces the no-empty-containers invariant after a handler
// shrank obj in place.
func (d *Dictionary) removeIfEmpty(key []byte, obj *Object) {
	empty := false
	switch obj.Kind {
	case KindList:
		empty = len(obj.List) == 0
	case KindHash:
		empty = len(obj.Hash) == 0
	case KindSet:
		empty = len(obj.Set) == 0
	}
	if empty {
		delete(d.items, string(key))
	}
}

// WatchVersion is the version a WATCH on key observes. A missing key reports
// the flush version so that both later creation and a flush are detected.
func (d *Dictionary) WatchVersion(key []byte) uint64 {
	if v, ok := d.versions[string(key)]; ok && v > d.flushVersion {
		return v
	}
	return d.flushVersion
}

func (d *Dictionary) flush() {
	d.items = make(map[string]*Object)
	d.versions = make(map[string]uint64)
	d.version++
	d.flushVersion = d.version
}

// typed lookups; a key of the wrong kind yields WRONGTYPE without mutation.

func (d *Dictionary) lookupKind(key []byte, kind Kind) (*Object, error) {
	obj := d.lookup(key)
	if obj == nil {
		return nil, nil
	}
	if obj.Kind != kind {
		return nil, common.ErrWrongType
	}
	return obj, nil
}

func (d *Dictionary) lookupString(key []byte) (*Object, error) {
	return d.lookupKind(key, KindString)
}

func (d *Dictionary) lookupList(key []byte) (*Object, error) {
	return d.lookupKind(key, KindList)
}

func (d *Dictionary) lookupHash(key []byte) (*Object, error) {
	return d.lookupKind(key, KindHash)
}

func (d *Dictionary) lookupSet(key []byte) (*Object, error) {
	return d.lookupKind(key, KindSet)
}
