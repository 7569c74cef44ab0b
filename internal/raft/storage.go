package raft

// Storage persists the raft log, the hard (voting) state, and the most
// recent snapshot. Implementations must make Append durable before
// returning: vote and commit decisions are only safe once the entries they
// are based on survive a crash. Any error is fatal to the node.
type Storage interface {
	// Append adds entries at the tail of the log.
	Append(entries []LogEntry) error
	// Entries returns the entries with index in [lo, hi).
	Entries(lo, hi uint64) ([]LogEntry, error)
	// TermAt returns the term of the entry at index, or ok=false if the
	// index is not in the log.
	TermAt(index uint64) (term uint64, ok bool, err error)
	// Last returns the highest index and its term; (0, 0) for an empty log.
	Last() (index, term uint64, err error)
	// TruncateSuffix drops all entries with index >= from.
	TruncateSuffix(from uint64) error
	// TruncatePrefix drops all entries with index <= upto.
	TruncatePrefix(upto uint64) error

	SaveSnapshot(meta SnapshotMeta, data []byte) error
	// LoadSnapshot returns nil meta if no snapshot has been saved.
	LoadSnapshot() (*SnapshotMeta, []byte, error)

	SaveHardState(st HardState) error
	// LoadHardState returns the persisted state, or a zero state with
	// VotedFor=-1 on first boot.
	LoadHardState() (HardState, error)

	Close() error
}

// MemoryStorage is the volatile backend: a restarting node comes back with
// an empty log and no recollection of its votes.
type MemoryStorage struct {
	entries  []LogEntry
	first    uint64 // index of entries[0]; 1 when no snapshot was taken
	snapMeta *SnapshotMeta
	snapData []byte
	hard     HardState
	hasHard  bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{first: 1, hard: HardState{VotedFor: -1}}
}

func (m *MemoryStorage) pos(index uint64) int {
	return int(index - m.first)
}

func (m *MemoryStorage) Append(entries []LogEntry) error {
	if len(m.entries) == 0 && len(entries) > 0 {
		m.first = entries[0].Index
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *MemoryStorage) Entries(lo, hi uint64) ([]LogEntry, error) {
	if lo < m.first {
		lo = m.first
	}
	if max := m.first + uint64(len(m.entries)); hi > max {
		hi = max
	}
	if lo >= hi {
		return nil, nil
	}
	out := make([]LogEntry, hi-lo)
	copy(out, m.entries[m.pos(lo):m.pos(hi)])
	return out, nil
}

func (m *MemoryStorage) TermAt(index uint64) (uint64, bool, error) {
	if index < m.first || index >= m.first+uint64(len(m.entries)) {
		return 0, false, nil
	}
	return m.entries[m.pos(index)].Term, true, nil
}

func (m *MemoryStorage) Last() (uint64, uint64, error) {
	if len(m.entries) == 0 {
		return 0, 0, nil
	}
	last := m.entries[len(m.entries)-1]
	return last.Index, last.Term, nil
}

func (m *MemoryStorage) TruncateSuffix(from uint64) error {
	if from < m.first {
		m.entries = nil
		return nil
	}
	if pos := m.pos(from); pos < len(m.entries) {
		m.entries = m.entries[:pos]
	}
	return nil
}

func (m *MemoryStorage) TruncatePrefix(upto uint64) error {
	if upto < m.first {
		return nil
	}
	end := m.pos(upto) + 1
	if end >= len(m.entries) {
		m.entries = nil
	} else {
		m.entries = append([]LogEntry(nil), m.entries[end:]...)
	}
	m.first = upto + 1
	return nil
}

func (m *MemoryStorage) SaveSnapshot(meta SnapshotMeta, data []byte) error {
	m.snapMeta = &meta
	m.snapData = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStorage) LoadSnapshot() (*SnapshotMeta, []byte, error) {
	if m.snapMeta == nil {
		return nil, nil, nil
	}
	meta := *m.snapMeta
	return &meta, append([]byte(nil), m.snapData...), nil
}

func (m *MemoryStorage) SaveHardState(st HardState) error {
	m.hard = st
	m.hasHard = true
	return nil
}

func (m *MemoryStorage) LoadHardState() (HardState, error) {
	if !m.hasHard {
		return HardState{VotedFor: -1}, nil
	}
	return m.hard, nil
}

func (m *MemoryStorage) Close() error { return nil }
