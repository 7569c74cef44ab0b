package raft

// raftLog keeps the live tail of the log in memory, mirroring every
// mutation to storage. cpIdx/cpTerm are the index and term of the last
// entry subsumed by the current snapshot; entries[i].Index == cpIdx+1+i.
type raftLog struct {
	storage Storage
	cpIdx   uint64
	cpTerm  uint64
	entries []LogEntry
}

func newRaftLog(storage Storage) (*raftLog, error) {
	l := &raftLog{storage: storage}
	meta, _, err := storage.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	if meta != nil {
		l.cpIdx = meta.LastIncludedIndex
		l.cpTerm = meta.LastIncludedTerm
	}
	lastIdx, _, err := storage.Last()
	if err != nil {
		return nil, err
	}
	if lastIdx > l.cpIdx {
		if l.entries, err = storage.Entries(l.cpIdx+1, lastIdx+1); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *raftLog) lastIndex() uint64 {
	if len(l.entries) == 0 {
		return l.cpIdx
	}
	return l.entries[len(l.entries)-1].Index
}

func (l *raftLog) lastTerm() uint64 {
	if len(l.entries) == 0 {
		return l.cpTerm
	}
	return l.entries[len(l.entries)-1].Term
}

// termAt reports the term of index, with ok=false when the index has been
// compacted away or lies beyond the log tail.
func (l *raftLog) termAt(index uint64) (uint64, bool) {
	if index == l.cpIdx {
		return l.cpTerm, true
	}
	if index < l.cpIdx+1 || index > l.lastIndex() {
		return 0, false
	}
	return l.entries[index-l.cpIdx-1].Term, true
}

func (l *raftLog) entryAt(index uint64) *LogEntry {
	if index < l.cpIdx+1 || index > l.lastIndex() {
		return nil
	}
	return &l.entries[index-l.cpIdx-1]
}

// slice copies the entries with index in [lo, hi).
func (l *raftLog) slice(lo, hi uint64) []LogEntry {
	if lo < l.cpIdx+1 {
		lo = l.cpIdx + 1
	}
	if max := l.lastIndex() + 1; hi > max {
		hi = max
	}
	if lo >= hi {
		return nil
	}
	out := make([]LogEntry, hi-lo)
	copy(out, l.entries[lo-l.cpIdx-1:hi-l.cpIdx-1])
	return out
}

func (l *raftLog) append(entries ...LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := l.storage.Append(entries); err != nil {
		return err
	}
	l.entries = append(l.entries, entries...)
	return nil
}

// truncateAppend reconciles e with the local log the way AppendEntries
// requires: an existing conflicting suffix is dropped before e is appended;
// a matching existing entry is kept untouched.
func (l *raftLog) truncateAppend(e LogEntry) error {
	if e.Index <= l.cpIdx {
		return nil
	}
	if term, ok := l.termAt(e.Index); ok {
		if term == e.Term {
			return nil
		}
		if err := l.storage.TruncateSuffix(e.Index); err != nil {
			return err
		}
		l.entries = l.entries[:e.Index-l.cpIdx-1]
	}
	return l.append(e)
}

// compactTo drops the prefix up to index, which becomes the snapshot
// checkpoint with the given term.
func (l *raftLog) compactTo(index, term uint64) error {
	if index <= l.cpIdx {
		return nil
	}
	if err := l.storage.TruncatePrefix(index); err != nil {
		return err
	}
	if index >= l.lastIndex() {
		l.entries = nil
	} else {
		l.entries = append([]LogEntry(nil), l.entries[index-l.cpIdx:]...)
	}
	l.cpIdx = index
	l.cpTerm = term
	return nil
}

// reset discards the whole log in favor of an installed snapshot.
func (l *raftLog) reset(index, term uint64) error {
	if err := l.storage.TruncateSuffix(0); err != nil {
		return err
	}
	l.entries = nil
	l.cpIdx = index
	l.cpTerm = term
	return nil
}

func (l *raftLog) length() int { return len(l.entries) }
