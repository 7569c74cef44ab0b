package raft

import (
	"testing"
)

func testStorage(t *testing.T, s Storage) {
	entries := []LogEntry{
		{Index: 1, Term: 1, Command: []byte("a")},
		{Index: 2, Term: 1, Command: []byte("b")},
		{Index: 3, Term: 2, Command: []byte("c")},
	}
	if err := s.Append(entries); err != nil {
		t.Fatal(err)
	}

	idx, term, err := s.Last()
	if err != nil || idx != 3 || term != 2 {
		t.Fatalf("Last = (%d, %d, %v)", idx, term, err)
	}

	got, err := s.Entries(2, 4)
	if err != nil || len(got) != 2 || got[0].Index != 2 || got[1].Index != 3 {
		t.Fatalf("Entries(2,4) = %v, %v", got, err)
	}
	if string(got[1].Command) != "c" {
		t.Fatalf("command = %q", got[1].Command)
	}

	if term, ok, err := s.TermAt(3); err != nil || !ok || term != 2 {
		t.Fatalf("TermAt(3) = (%d, %v, %v)", term, ok, err)
	}
	if _, ok, err := s.TermAt(9); err != nil || ok {
		t.Fatalf("TermAt(9) should miss")
	}

	if err := s.TruncateSuffix(3); err != nil {
		t.Fatal(err)
	}
	if idx, _, _ := s.Last(); idx != 2 {
		t.Fatalf("after TruncateSuffix(3), last = %d", idx)
	}

	if err := s.Append([]LogEntry{{Index: 3, Term: 3, Command: []byte("c2")}}); err != nil {
		t.Fatal(err)
	}
	if err := s.TruncatePrefix(1); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.TermAt(1); ok {
		t.Fatal("entry 1 should be gone after TruncatePrefix(1)")
	}
	if term, ok, _ := s.TermAt(3); !ok || term != 3 {
		t.Fatalf("TermAt(3) after truncations = (%d, %v)", term, ok)
	}

	if err := s.SaveHardState(HardState{CurrentTerm: 5, VotedFor: 2}); err != nil {
		t.Fatal(err)
	}
	hard, err := s.LoadHardState()
	if err != nil || hard.CurrentTerm != 5 || hard.VotedFor != 2 {
		t.Fatalf("hard state = %+v, %v", hard, err)
	}

	meta, data, err := s.LoadSnapshot()
	if err != nil || meta != nil {
		t.Fatalf("unexpected snapshot %v %v", meta, err)
	}
	if err := s.SaveSnapshot(SnapshotMeta{LastIncludedIndex: 3, LastIncludedTerm: 3}, []byte("snap")); err != nil {
		t.Fatal(err)
	}
	meta, data, err = s.LoadSnapshot()
	if err != nil || meta == nil || meta.LastIncludedIndex != 3 || string(data) != "snap" {
		t.Fatalf("snapshot = %+v %q %v", meta, data, err)
	}
}

func TestMemoryStorage(t *testing.T) {
	testStorage(t, NewMemoryStorage())
}

func TestLevelDBStorage(t *testing.T) {
	s, err := OpenLevelDBStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	testStorage(t, s)
}

func TestLevelDBStorageReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenLevelDBStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append([]LogEntry{{Index: 1, Term: 1, Command: []byte("x")}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveHardState(HardState{CurrentTerm: 7, VotedFor: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenLevelDBStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	hard, err := s.LoadHardState()
	if err != nil || hard.CurrentTerm != 7 || hard.VotedFor != 1 {
		t.Fatalf("hard state after reopen = %+v, %v", hard, err)
	}
	idx, term, err := s.Last()
	if err != nil || idx != 1 || term != 1 {
		t.Fatalf("last after reopen = (%d, %d, %v)", idx, term, err)
	}
}

func TestMemoryStorageVolatile(t *testing.T) {
	s := NewMemoryStorage()
	hard, err := s.LoadHardState()
	if err != nil || hard.CurrentTerm != 0 || hard.VotedFor != -1 {
		t.Fatalf("fresh memory storage = %+v, %v", hard, err)
	}
}
