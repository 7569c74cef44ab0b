package raft

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/mosmeh/zakros/pkg/common/utils"
)

// LevelDBStorage is the durable backend. Log entries live under "l:" keys
// ordered by big-endian index, hard state and snapshot under "m:" keys.
// Every write is synced; an entry is only acknowledged to the engine once
// it would survive a crash.
type LevelDBStorage struct {
	db *leveldb.DB
}

var (
	keyHardState = []byte("m:hardstate")
	keySnapMeta  = []byte("m:snapmeta")
	keySnapData  = []byte("m:snapdata")

	syncWrite = &opt.WriteOptions{Sync: true}
)

func entryKey(index uint64) []byte {
	key := make([]byte, 2+8)
	copy(key, "l:")
	binary.BigEndian.PutUint64(key[2:], index)
	return key
}

func OpenLevelDBStorage(dir string) (*LevelDBStorage, error) {
	if err := utils.CheckAndMkdir(dir); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(dir, &opt.Options{WriteBuffer: 4096 * 1024})
	if err != nil {
		return nil, err
	}
	return &LevelDBStorage{db: db}, nil
}

func (s *LevelDBStorage) Append(entries []LogEntry) error {
	batch := new(leveldb.Batch)
	for _, e := range entries {
		batch.Put(entryKey(e.Index), encodeEntry(e))
	}
	return s.db.Write(batch, syncWrite)
}

func (s *LevelDBStorage) Entries(lo, hi uint64) ([]LogEntry, error) {
	if lo >= hi {
		return nil, nil
	}
	iter := s.db.NewIterator(&util.Range{Start: entryKey(lo), Limit: entryKey(hi)}, nil)
	defer iter.Release()
	var out []LogEntry
	for iter.Next() {
		e, err := decodeEntry(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

func (s *LevelDBStorage) TermAt(index uint64) (uint64, bool, error) {
	value, err := s.db.Get(entryKey(index), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	e, err := decodeEntry(value)
	if err != nil {
		return 0, false, err
	}
	return e.Term, true, nil
}

func (s *LevelDBStorage) Last() (uint64, uint64, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte("l:")), nil)
	defer iter.Release()
	if !iter.Last() {
		return 0, 0, iter.Error()
	}
	e, err := decodeEntry(iter.Value())
	if err != nil {
		return 0, 0, err
	}
	return e.Index, e.Term, nil
}

func (s *LevelDBStorage) deleteRange(lo, hi uint64) error {
	iter := s.db.NewIterator(&util.Range{Start: entryKey(lo), Limit: entryKey(hi)}, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, syncWrite)
}

func (s *LevelDBStorage) TruncateSuffix(from uint64) error {
	return s.deleteRange(from, ^uint64(0))
}

func (s *LevelDBStorage) TruncatePrefix(upto uint64) error {
	if upto == ^uint64(0) {
		return s.deleteRange(0, upto)
	}
	return s.deleteRange(0, upto+1)
}

func (s *LevelDBStorage) SaveSnapshot(meta SnapshotMeta, data []byte) error {
	metaBuf := make([]byte, 16)
	binary.BigEndian.PutUint64(metaBuf, meta.LastIncludedIndex)
	binary.BigEndian.PutUint64(metaBuf[8:], meta.LastIncludedTerm)
	batch := new(leveldb.Batch)
	batch.Put(keySnapMeta, metaBuf)
	batch.Put(keySnapData, data)
	return s.db.Write(batch, syncWrite)
}

func (s *LevelDBStorage) LoadSnapshot() (*SnapshotMeta, []byte, error) {
	metaBuf, err := s.db.Get(keySnapMeta, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	data, err := s.db.Get(keySnapData, nil)
	if err != nil && err != leveldb.ErrNotFound {
		return nil, nil, err
	}
	meta := &SnapshotMeta{
		LastIncludedIndex: binary.BigEndian.Uint64(metaBuf),
		LastIncludedTerm:  binary.BigEndian.Uint64(metaBuf[8:]),
	}
	return meta, data, nil
}

func (s *LevelDBStorage) SaveHardState(st HardState) error {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, st.CurrentTerm)
	binary.BigEndian.PutUint64(buf[8:], uint64(st.VotedFor))
	return s.db.Put(keyHardState, buf, syncWrite)
}

func (s *LevelDBStorage) LoadHardState() (HardState, error) {
	buf, err := s.db.Get(keyHardState, nil)
	if err == leveldb.ErrNotFound {
		return HardState{VotedFor: -1}, nil
	}
	if err != nil {
		return HardState{}, err
	}
	return HardState{
		CurrentTerm: binary.BigEndian.Uint64(buf),
		VotedFor:    int64(binary.BigEndian.Uint64(buf[8:])),
	}, nil
}

func (s *LevelDBStorage) Close() error { return s.db.Close() }

func encodeEntry(e LogEntry) []byte {
	buf := make([]byte, 16+len(e.Command))
	binary.BigEndian.PutUint64(buf, e.Index)
	binary.BigEndian.PutUint64(buf[8:], e.Term)
	copy(buf[16:], e.Command)
	return buf
}

func decodeEntry(buf []byte) (LogEntry, error) {
	if len(buf) < 16 {
		return LogEntry{}, errCorruptEntry
	}
	return LogEntry{
		Index:   binary.BigEndian.Uint64(buf),
		Term:    binary.BigEndian.Uint64(buf[8:]),
		Command: append([]byte(nil), buf[16:]...),
	}, nil
}

type storageError string

func (e storageError) Error() string { return string(e) }

const errCorruptEntry storageError = "raft: corrupt log entry"
