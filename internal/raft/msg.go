package raft

// LogEntry is a replicated log record. Index is 1-based and gapless;
// Command is an opaque payload owned by the state machine.
type LogEntry struct {
	Index   uint64
	Term    uint64
	Command []byte
}

// HardState is the durable per-node voting state. VotedFor is -1 when the
// node has not voted in CurrentTerm.
type HardState struct {
	CurrentTerm uint64
	VotedFor    int64
}

// SnapshotMeta identifies the log prefix a snapshot subsumes.
type SnapshotMeta struct {
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
}

// ApplyMsg delivers either a committed command or a leader-installed
// snapshot to the state machine, in log order.
type ApplyMsg struct {
	CommandValid bool
	Command      []byte
	CommandIndex uint64
	CommandTerm  uint64

	SnapshotValid bool
	Snapshot      []byte
	SnapshotIndex uint64
	SnapshotTerm  uint64
}

type RequestVoteArgs struct {
	Term        uint64
	CandidateId int
	LastLogIdx  uint64
	LastLogTerm uint64
}

type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool
}

type AppendEntriesArgs struct {
	Term         uint64
	LeaderId     int
	PrevLogIdx   uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// XTerm/XIndex implement fast log backup: on a conflict the follower
// reports the conflicting term and the first index it holds for that term,
// so the leader can skip a whole term per round trip instead of decrementing
// nextIndex one entry at a time.
type AppendEntriesReply struct {
	Term    uint64
	Success bool
	XTerm   int64
	XIndex  uint64
}

type InstallSnapshotArgs struct {
	Term             uint64
	LeaderId         int
	LastIncludedIdx  uint64
	LastIncludedTerm uint64
	Data             []byte
}

type InstallSnapshotReply struct {
	Term uint64
}
