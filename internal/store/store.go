package store

import (
	"sync"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/pkg/common"
)

// Store arbitrates access to the dictionary with a readers-writer lock.
// When raft is enabled the only writer is the apply loop, so every batch
// observed by a reader is either fully applied or not at all.
type Store struct {
	mu   sync.RWMutex
	dict *Dictionary
}

func New() *Store {
	return &Store{dict: NewDictionary()}
}

// Batch is the unit of application: a single write command, or a whole EXEC
// transaction together with the versions its WATCHed keys had when the
// client queued it.
type Batch struct {
	Exec     bool
	Watch    map[string]uint64
	Commands [][][]byte
}

// ExecuteRead runs a read-only handler under the shared lock.
func (s *Store) ExecuteRead(spec *CommandSpec, args [][]byte) (resp.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return spec.Handler(s.dict, args)
}

// Apply executes a batch atomically. For an EXEC batch whose watched keys
// changed since WATCH, it performs no mutation and returns the null array.
// Inner command errors become that command's reply; they do not abort the
// rest of the batch.
func (s *Store) Apply(b *Batch) resp.Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range b.Watch {
		if s.dict.WatchVersion([]byte(key)) != version {
			return resp.NullArray
		}
	}

	replies := make(resp.Array, 0, len(b.Commands))
	for _, cmd := range b.Commands {
		replies = append(replies, s.applyOne(cmd))
	}
	if b.Exec {
		return replies
	}
	return replies[0]
}

func (s *Store) applyOne(cmd [][]byte) resp.Value {
	spec, ok := Lookup(cmd[0])
	if !ok {
		return common.ErrUnknownCommand
	}
	args := cmd[1:]
	if !spec.Arity.Ok(len(args)) {
		return common.ErrWrongArity
	}
	value, err := spec.Handler(s.dict, args)
	if err != nil {
		return err
	}
	return value
}

// WatchVersion snapshots the version a WATCH observes for key.
func (s *Store) WatchVersion(key []byte) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dict.WatchVersion(key)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dict.Len()
}

// SnapshotBytes serializes the whole keyspace deterministically.
func (s *Store) SnapshotBytes() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return encodeSnapshot(s.dict)
}

// Restore replaces the keyspace with a decoded snapshot.
func (s *Store) Restore(data []byte) error {
	dict, err := decodeSnapshot(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.dict = dict
	s.mu.Unlock()
	return nil
}
