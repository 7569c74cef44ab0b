// Package raft implements the consensus engine replicating zakros write
// batches. The engine is deliberately application-agnostic: payloads are
// opaque bytes handed to the state machine through an apply channel, and
// persistence is pluggable behind the Storage interface.
package raft

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosmeh/zakros/internal/netw"
	"github.com/mosmeh/zakros/pkg/common"
)

const (
	RoleFollower  int32 = 0
	RoleCandidate int32 = 1
	RoleLeader    int32 = 2
)

type Config struct {
	Me    int
	Peers int
	// ElectionTimeout is T; actual timeouts are drawn from [T, 2T) and
	// heartbeats are sent every T/3.
	ElectionTimeout time.Duration
	LogLevel        string
}

const DefaultElectionTimeout = 150 * time.Millisecond

type Raft struct {
	mu      sync.RWMutex
	peers   int
	me      int
	storage Storage
	dead    int32

	leader int32 // last known leader id, -1 unknown

	// persistent state
	currTerm uint64
	voteFor  int64

	log *raftLog

	commitIdx   uint64
	lastApplied uint64

	nextIdx  []uint64
	matchIdx []uint64

	role int32

	applyCh   chan ApplyMsg
	applyCond *sync.Cond

	replicatorCond []*sync.Cond

	electionTimeout time.Duration
	electionTimer   *time.Timer
	heartbeatTimer  *time.Timer

	rpcFunc netw.RpcFunc
	rand    *common.ThreadSafeRand

	logger *logrus.Logger
}

func Make(cfg Config, rpcFunc netw.RpcFunc, storage Storage, applyCh chan ApplyMsg) *Raft {
	rf := &Raft{
		peers:   cfg.Peers,
		me:      cfg.Me,
		storage: storage,
		rpcFunc: rpcFunc,
		applyCh: applyCh,
		leader:  -1,
		rand:    common.MakeTimeSeededRand(),
	}
	rf.logger, _ = common.InitLogger(cfg.LogLevel, "Raft")
	if rf.logger == nil {
		rf.logger, _ = common.InitLogger("info", "Raft")
	}
	rf.applyCond = sync.NewCond(&rf.mu)
	rf.setRole(RoleFollower)

	rf.electionTimeout = cfg.ElectionTimeout
	if rf.electionTimeout <= 0 {
		rf.electionTimeout = DefaultElectionTimeout
	}

	hard, err := storage.LoadHardState()
	if err != nil {
		rf.logger.Fatalf("peer %d failed to load hard state: %v", rf.me, err)
	}
	rf.currTerm = hard.CurrentTerm
	rf.voteFor = hard.VotedFor

	if rf.log, err = newRaftLog(storage); err != nil {
		rf.logger.Fatalf("peer %d failed to load log: %v", rf.me, err)
	}
	rf.commitIdx = rf.log.cpIdx
	rf.lastApplied = rf.log.cpIdx

	rf.nextIdx = make([]uint64, rf.peers)
	rf.matchIdx = make([]uint64, rf.peers)
	rf.reInitNextIdx()

	rf.electionTimer = time.NewTimer(rf.randomElectionTimeout())
	rf.heartbeatTimer = time.NewTimer(rf.heartbeatInterval())

	go rf.ticker()
	go rf.applyer()

	rf.replicatorCond = make([]*sync.Cond, rf.peers)
	for i := 0; i < rf.peers; i++ {
		if i == rf.me {
			continue
		}
		rf.replicatorCond[i] = sync.NewCond(&sync.Mutex{})
		go rf.replicator(i)
	}

	rf.logger.Infof("raft peer %d created, term=%d lastLog=%d", rf.me, rf.currTerm, rf.log.lastIndex())
	return rf
}

func (rf *Raft) randomElectionTimeout() time.Duration {
	return rf.electionTimeout + time.Duration(rf.rand.Int63n(int64(rf.electionTimeout)))
}

func (rf *Raft) heartbeatInterval() time.Duration {
	return rf.electionTimeout / 3
}

func (rf *Raft) getRole() int32  { return atomic.LoadInt32(&rf.role) }
func (rf *Raft) setRole(r int32) { atomic.StoreInt32(&rf.role, r) }

// GetState returns the current term and whether this node believes it is
// the leader.
func (rf *Raft) GetState() (uint64, bool) {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.currTerm, rf.getRole() == RoleLeader
}

// Leader returns the id of the last known leader, or -1.
func (rf *Raft) Leader() int {
	return int(atomic.LoadInt32(&rf.leader))
}

// LogLength reports how many entries follow the snapshot checkpoint; the
// application uses it to decide when to snapshot.
func (rf *Raft) LogLength() int {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.log.length()
}

func (rf *Raft) persistHardState() {
	if err := rf.storage.SaveHardState(HardState{CurrentTerm: rf.currTerm, VotedFor: rf.voteFor}); err != nil {
		rf.logger.Fatalf("peer %d failed to persist hard state: %v", rf.me, err)
	}
}

func (rf *Raft) ticker() {
	for !rf.killed() {
		select {
		case <-rf.electionTimer.C:
			if rf.killed() {
				return
			}
			rf.doElection()
			rf.mu.Lock()
			rf.electionTimer.Reset(rf.randomElectionTimeout())
			rf.mu.Unlock()

		case <-rf.heartbeatTimer.C:
			if rf.killed() {
				return
			}
			if rf.getRole() == RoleLeader {
				rf.BroadcastHeartbeat(true)
			}
			rf.mu.Lock()
			rf.heartbeatTimer.Reset(rf.heartbeatInterval())
			rf.mu.Unlock()
		}
	}
}

// RequestVote handles a candidate's vote request. Registered with rpcx.
func (rf *Raft) RequestVote(ctx context.Context, args *RequestVoteArgs, reply *RequestVoteReply) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if args.Term > rf.currTerm {
		rf.hearBiggerTerm(args.Term)
	}

	granted := func() bool {
		if args.Term < rf.currTerm {
			return false
		}
		if rf.voteFor != -1 && rf.voteFor != int64(args.CandidateId) {
			return false
		}
		lastIdx, lastTerm := rf.log.lastIndex(), rf.log.lastTerm()
		return args.LastLogTerm > lastTerm ||
			(args.LastLogTerm == lastTerm && args.LastLogIdx >= lastIdx)
	}()

	if granted {
		rf.voteFor = int64(args.CandidateId)
		rf.persistHardState()
		rf.electionTimer.Reset(rf.randomElectionTimeout())
	}
	rf.logger.Debugf("peer %d vote for candidate %d in term %d: %v", rf.me, args.CandidateId, args.Term, granted)

	reply.Term = rf.currTerm
	reply.VoteGranted = granted
	return nil
}

// AppendEntries handles replication and heartbeats. Registered with rpcx.
func (rf *Raft) AppendEntries(ctx context.Context, args *AppendEntriesArgs, reply *AppendEntriesReply) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	reply.XTerm = -1
	if args.Term < rf.currTerm {
		reply.Term = rf.currTerm
		reply.Success = false
		return nil
	}

	rf.electionTimer.Reset(rf.randomElectionTimeout())
	if args.Term > rf.currTerm {
		rf.hearBiggerTerm(args.Term)
	}
	if rf.getRole() != RoleFollower {
		rf.setRole(RoleFollower)
	}
	atomic.StoreInt32(&rf.leader, int32(args.LeaderId))

	// consistency check on the previous entry
	if args.PrevLogIdx > 0 {
		term, ok := rf.log.termAt(args.PrevLogIdx)
		if !ok {
			if args.PrevLogIdx > rf.log.lastIndex() {
				reply.XTerm = -1
				reply.XIndex = rf.log.lastIndex() + 1
				reply.Term = rf.currTerm
				reply.Success = false
				return nil
			}
			// prev entry is inside our snapshot; it is committed, so it matches
		} else if term != args.PrevLogTerm {
			reply.XTerm = int64(term)
			reply.XIndex = args.PrevLogIdx
			for reply.XIndex-1 > rf.log.cpIdx {
				t, ok := rf.log.termAt(reply.XIndex - 1)
				if !ok || t != term {
					break
				}
				reply.XIndex--
			}
			reply.Term = rf.currTerm
			reply.Success = false
			return nil
		}
	}

	for _, e := range args.Entries {
		if err := rf.log.truncateAppend(e); err != nil {
			rf.logger.Fatalf("peer %d failed to append log: %v", rf.me, err)
		}
	}

	if args.LeaderCommit > rf.commitIdx {
		// cap at the last index this RPC verified: entries past it may
		// still disagree with the leader's log
		newCommit := args.LeaderCommit
		if verified := args.PrevLogIdx + uint64(len(args.Entries)); newCommit > verified {
			newCommit = verified
		}
		if last := rf.log.lastIndex(); newCommit > last {
			newCommit = last
		}
		if newCommit > rf.commitIdx {
			rf.commitIdx = newCommit
			rf.applyCond.Signal()
		}
	}

	reply.Term = rf.currTerm
	reply.Success = true
	return nil
}

// InstallSnapshot replaces a lagging follower's state wholesale. The
// snapshot is forwarded to the application through the apply channel; the
// application calls CondInstallSnapshot to finish the installation.
func (rf *Raft) InstallSnapshot(ctx context.Context, args *InstallSnapshotArgs, reply *InstallSnapshotReply) error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if args.Term < rf.currTerm {
		reply.Term = rf.currTerm
		return nil
	}
	rf.electionTimer.Reset(rf.randomElectionTimeout())
	if args.Term > rf.currTerm {
		rf.hearBiggerTerm(args.Term)
	}
	atomic.StoreInt32(&rf.leader, int32(args.LeaderId))

	if args.LastIncludedIdx <= rf.commitIdx {
		reply.Term = rf.currTerm
		return nil
	}

	msg := ApplyMsg{
		SnapshotValid: true,
		Snapshot:      args.Data,
		SnapshotIndex: args.LastIncludedIdx,
		SnapshotTerm:  args.LastIncludedTerm,
	}
	go func() { rf.applyCh <- msg }()

	reply.Term = rf.currTerm
	return nil
}

// CondInstallSnapshot commits to an offered snapshot unless the log has
// caught up past it in the meantime.
func (rf *Raft) CondInstallSnapshot(lastIncludedTerm, lastIncludedIdx uint64, data []byte) bool {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if lastIncludedIdx <= rf.commitIdx {
		return false
	}
	if err := rf.log.reset(lastIncludedIdx, lastIncludedTerm); err != nil {
		rf.logger.Fatalf("peer %d failed to reset log: %v", rf.me, err)
	}
	if err := rf.storage.SaveSnapshot(SnapshotMeta{
		LastIncludedIndex: lastIncludedIdx,
		LastIncludedTerm:  lastIncludedTerm,
	}, data); err != nil {
		rf.logger.Fatalf("peer %d failed to save snapshot: %v", rf.me, err)
	}
	rf.commitIdx = lastIncludedIdx
	rf.lastApplied = lastIncludedIdx
	rf.logger.Infof("peer %d installed snapshot at index %d", rf.me, lastIncludedIdx)
	return true
}

// Start submits a command. It returns the assigned index and term, and
// isLeader=false when this node cannot accept writes.
func (rf *Raft) Start(command []byte) (uint64, uint64, bool) {
	rf.mu.Lock()
	if rf.getRole() != RoleLeader {
		rf.mu.Unlock()
		return 0, 0, false
	}
	entry := LogEntry{
		Index:   rf.log.lastIndex() + 1,
		Term:    rf.currTerm,
		Command: command,
	}
	if err := rf.log.append(entry); err != nil {
		rf.logger.Fatalf("leader %d failed to append log: %v", rf.me, err)
	}
	rf.matchIdx[rf.me] = entry.Index
	rf.mu.Unlock()

	if rf.peers == 1 {
		rf.mu.Lock()
		rf.maybeCommit(entry.Index)
		rf.mu.Unlock()
	} else {
		rf.BroadcastHeartbeat(false)
	}
	return entry.Index, entry.Term, true
}

func (rf *Raft) BroadcastHeartbeat(isHeartbeat bool) {
	for peer := 0; peer < rf.peers; peer++ {
		if peer == rf.me {
			continue
		}
		if isHeartbeat {
			go rf.replicateOneRound(peer)
		} else {
			rf.replicatorCond[peer].Signal()
		}
	}
}

func (rf *Raft) needReplicating(peer int) bool {
	rf.mu.RLock()
	defer rf.mu.RUnlock()
	return rf.getRole() == RoleLeader && rf.matchIdx[peer] < rf.log.lastIndex()
}

func (rf *Raft) replicator(peer int) {
	rf.replicatorCond[peer].L.Lock()
	defer rf.replicatorCond[peer].L.Unlock()
	for !rf.killed() {
		for !rf.needReplicating(peer) {
			rf.replicatorCond[peer].Wait()
			if rf.killed() {
				return
			}
		}
		rf.replicateOneRound(peer)
	}
}

func (rf *Raft) replicateOneRound(peer int) {
	rf.mu.RLock()
	if rf.getRole() != RoleLeader {
		rf.mu.RUnlock()
		return
	}

	prevIdx := rf.nextIdx[peer] - 1
	if prevIdx < rf.log.cpIdx {
		// the peer is behind our earliest retained entry; only a snapshot
		// can catch it up
		meta, data, err := rf.storage.LoadSnapshot()
		rf.mu.RUnlock()
		if err != nil {
			rf.logger.Fatalf("leader %d failed to load snapshot: %v", rf.me, err)
		}
		if meta != nil {
			rf.sendSnapshotTo(peer, meta, data)
		}
		return
	}

	prevTerm, _ := rf.log.termAt(prevIdx)
	args := AppendEntriesArgs{
		Term:         rf.currTerm,
		LeaderId:     rf.me,
		PrevLogIdx:   prevIdx,
		PrevLogTerm:  prevTerm,
		Entries:      rf.log.slice(rf.nextIdx[peer], rf.log.lastIndex()+1),
		LeaderCommit: rf.commitIdx,
	}
	rf.mu.RUnlock()

	var reply AppendEntriesReply
	if rf.rpcFunc(netw.ApiAppendEntries, &args, &reply, peer) {
		rf.mu.Lock()
		rf.handleAppendEntriesReply(peer, &args, &reply)
		rf.mu.Unlock()
	}
}

func (rf *Raft) handleAppendEntriesReply(peer int, args *AppendEntriesArgs, reply *AppendEntriesReply) {
	if rf.currTerm != args.Term || rf.getRole() != RoleLeader {
		return
	}
	if !reply.Success {
		if reply.Term > rf.currTerm {
			rf.hearBiggerTerm(reply.Term)
			return
		}
		rf.backUpNextIdx(peer, reply)
		// the replicator notices matchIdx < lastIndex and retries
		rf.replicatorCond[peer].Signal()
		return
	}

	match := args.PrevLogIdx + uint64(len(args.Entries))
	if rf.nextIdx[peer] < match+1 {
		rf.nextIdx[peer] = match + 1
	}
	if rf.matchIdx[peer] < match {
		rf.matchIdx[peer] = match
	}
	rf.maybeCommit(match)
}

// backUpNextIdx applies the fast-backup hints from a rejecting follower.
func (rf *Raft) backUpNextIdx(peer int, reply *AppendEntriesReply) {
	if reply.XTerm < 0 {
		rf.nextIdx[peer] = reply.XIndex
	} else {
		// find our last entry of XTerm; if present, resume after it,
		// otherwise jump to the follower's first index of that term
		next := reply.XIndex
		for idx := rf.log.lastIndex(); idx > rf.log.cpIdx; idx-- {
			term, ok := rf.log.termAt(idx)
			if !ok {
				break
			}
			if term == uint64(reply.XTerm) {
				next = idx + 1
				break
			}
			if term < uint64(reply.XTerm) {
				break
			}
		}
		rf.nextIdx[peer] = next
	}
	if rf.nextIdx[peer] < 1 {
		rf.nextIdx[peer] = 1
	}
}

// maybeCommit advances commitIdx to n if a majority matches it and the
// entry is from the current term; committing entries from older terms by
// counting replicas is unsafe (figure 8 of the raft paper).
func (rf *Raft) maybeCommit(n uint64) {
	if n <= rf.commitIdx || n <= rf.log.cpIdx {
		return
	}
	count := 1
	for peer := 0; peer < rf.peers; peer++ {
		if peer != rf.me && rf.matchIdx[peer] >= n {
			count++
		}
	}
	if count < rf.peers/2+1 {
		return
	}
	if term, ok := rf.log.termAt(n); !ok || term != rf.currTerm {
		return
	}
	rf.commitIdx = n
	rf.logger.Debugf("leader %d commitIdx advanced to %d", rf.me, n)
	rf.applyCond.Signal()
}

func (rf *Raft) applyer() {
	for !rf.killed() {
		rf.mu.Lock()
		for rf.lastApplied >= rf.commitIdx {
			rf.applyCond.Wait()
			if rf.killed() {
				rf.mu.Unlock()
				return
			}
		}
		commitIdx := rf.commitIdx
		entries := rf.log.slice(rf.lastApplied+1, commitIdx+1)
		rf.mu.Unlock()

		for _, entry := range entries {
			rf.applyCh <- ApplyMsg{
				CommandValid: true,
				Command:      entry.Command,
				CommandIndex: entry.Index,
				CommandTerm:  entry.Term,
			}
		}

		rf.mu.Lock()
		// an InstallSnapshot may have advanced lastApplied concurrently
		if rf.lastApplied < commitIdx {
			rf.lastApplied = commitIdx
		}
		rf.mu.Unlock()
	}
}

// LogCompact truncates the log prefix once the application has snapshotted
// its state up to lastIncludedIdx.
func (rf *Raft) LogCompact(snapshot []byte, lastIncludedIdx uint64) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if lastIncludedIdx <= rf.log.cpIdx || lastIncludedIdx > rf.lastApplied {
		return
	}
	term, ok := rf.log.termAt(lastIncludedIdx)
	if !ok {
		return
	}
	if err := rf.storage.SaveSnapshot(SnapshotMeta{
		LastIncludedIndex: lastIncludedIdx,
		LastIncludedTerm:  term,
	}, snapshot); err != nil {
		rf.logger.Fatalf("peer %d failed to save snapshot: %v", rf.me, err)
	}
	if err := rf.log.compactTo(lastIncludedIdx, term); err != nil {
		rf.logger.Fatalf("peer %d failed to compact log: %v", rf.me, err)
	}
	rf.logger.Infof("peer %d compacted log up to %d", rf.me, lastIncludedIdx)
}

func (rf *Raft) sendSnapshotTo(peer int, meta *SnapshotMeta, data []byte) {
	rf.mu.RLock()
	if rf.getRole() != RoleLeader {
		rf.mu.RUnlock()
		return
	}
	args := InstallSnapshotArgs{
		Term:             rf.currTerm,
		LeaderId:         rf.me,
		LastIncludedIdx:  meta.LastIncludedIndex,
		LastIncludedTerm: meta.LastIncludedTerm,
		Data:             data,
	}
	rf.mu.RUnlock()

	var reply InstallSnapshotReply
	if !rf.rpcFunc(netw.ApiInstallSnapshot, &args, &reply, peer) {
		return
	}

	rf.mu.Lock()
	defer rf.mu.Unlock()
	if reply.Term > rf.currTerm {
		rf.hearBiggerTerm(reply.Term)
		return
	}
	if rf.currTerm != args.Term {
		return
	}
	if rf.nextIdx[peer] < meta.LastIncludedIndex+1 {
		rf.nextIdx[peer] = meta.LastIncludedIndex + 1
	}
	if rf.matchIdx[peer] < meta.LastIncludedIndex {
		rf.matchIdx[peer] = meta.LastIncludedIndex
	}
}

func (rf *Raft) hearBiggerTerm(term uint64) {
	rf.currTerm = term
	rf.voteFor = -1
	rf.persistHardState()
	if rf.getRole() != RoleFollower {
		rf.logger.Infof("peer %d saw term %d, stepping down to follower", rf.me, term)
		rf.setRole(RoleFollower)
	}
	atomic.StoreInt32(&rf.leader, -1)
}

func (rf *Raft) doElection() {
	rf.mu.Lock()
	if rf.getRole() == RoleLeader {
		rf.mu.Unlock()
		return
	}

	rf.setRole(RoleCandidate)
	rf.currTerm++
	rf.voteFor = int64(rf.me)
	rf.persistHardState()
	atomic.StoreInt32(&rf.leader, -1)

	electionTerm := rf.currTerm
	args := RequestVoteArgs{
		Term:        electionTerm,
		CandidateId: rf.me,
		LastLogIdx:  rf.log.lastIndex(),
		LastLogTerm: rf.log.lastTerm(),
	}
	rf.logger.Infof("peer %d starting election for term %d", rf.me, electionTerm)

	if rf.peers == 1 {
		rf.becomeLeader()
		rf.mu.Unlock()
		return
	}
	rf.mu.Unlock()

	var votes int32 = 1
	var once sync.Once
	for i := 0; i < rf.peers; i++ {
		if i == rf.me {
			continue
		}
		go func(peer int) {
			var reply RequestVoteReply
			if !rf.rpcFunc(netw.ApiRequestVote, &args, &reply, peer) {
				return
			}
			rf.mu.Lock()
			defer rf.mu.Unlock()

			if rf.currTerm != electionTerm {
				return
			}
			if reply.Term > rf.currTerm {
				rf.hearBiggerTerm(reply.Term)
				return
			}
			if !reply.VoteGranted || rf.getRole() != RoleCandidate {
				return
			}
			if int(atomic.AddInt32(&votes, 1)) >= rf.peers/2+1 {
				once.Do(func() {
					rf.logger.Infof("peer %d won election for term %d", rf.me, electionTerm)
					rf.becomeLeader()
				})
			}
		}(i)
	}
}

// becomeLeader is called with rf.mu held.
func (rf *Raft) becomeLeader() {
	rf.setRole(RoleLeader)
	atomic.StoreInt32(&rf.leader, int32(rf.me))
	rf.reInitNextIdx()
	for i := range rf.matchIdx {
		rf.matchIdx[i] = 0
	}
	rf.matchIdx[rf.me] = rf.log.lastIndex()
	// establish authority immediately
	go rf.BroadcastHeartbeat(true)
}

func (rf *Raft) reInitNextIdx() {
	next := rf.log.lastIndex() + 1
	for i := 0; i < rf.peers; i++ {
		rf.nextIdx[i] = next
	}
}

func (rf *Raft) Kill() {
	atomic.StoreInt32(&rf.dead, 1)
	for _, cond := range rf.replicatorCond {
		if cond != nil {
			cond.Signal()
		}
	}
	rf.applyCond.Broadcast()
}

func (rf *Raft) killed() bool {
	return atomic.LoadInt32(&rf.dead) == 1
}
