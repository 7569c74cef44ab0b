package raft

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mosmeh/zakros/internal/netw"
)

// cluster wires n raft peers together with an in-process transport that can
// partition nodes, and drains each node's apply channel into a log.
type cluster struct {
	t     *testing.T
	mu    sync.Mutex
	rafts []*Raft
	down  []bool

	applied [][]ApplyMsg
	cond    *sync.Cond
}

func newCluster(t *testing.T, n int) *cluster {
	c := &cluster{
		t:       t,
		rafts:   make([]*Raft, n),
		down:    make([]bool, n),
		applied: make([][]ApplyMsg, n),
	}
	c.cond = sync.NewCond(&c.mu)

	for i := 0; i < n; i++ {
		i := i
		applyCh := make(chan ApplyMsg, 64)
		go func() {
			for msg := range applyCh {
				c.mu.Lock()
				c.applied[i] = append(c.applied[i], msg)
				c.cond.Broadcast()
				c.mu.Unlock()
			}
		}()
		rpc := func(api string, args interface{}, reply interface{}, peer int) bool {
			return c.call(i, peer, api, args, reply)
		}
		rf := Make(Config{
			Me:              i,
			Peers:           n,
			ElectionTimeout: 50 * time.Millisecond,
			LogLevel:        "error",
		}, rpc, NewMemoryStorage(), applyCh)
		c.mu.Lock()
		c.rafts[i] = rf
		c.mu.Unlock()
	}
	t.Cleanup(func() {
		for _, rf := range c.rafts {
			rf.Kill()
		}
	})
	return c
}

func (c *cluster) call(from, to int, api string, args interface{}, reply interface{}) bool {
	c.mu.Lock()
	target := c.rafts[to]
	blocked := c.down[from] || c.down[to]
	c.mu.Unlock()
	if target == nil || blocked {
		return false
	}
	ctx := context.Background()
	switch api {
	case netw.ApiRequestVote:
		return target.RequestVote(ctx, args.(*RequestVoteArgs), reply.(*RequestVoteReply)) == nil
	case netw.ApiAppendEntries:
		return target.AppendEntries(ctx, args.(*AppendEntriesArgs), reply.(*AppendEntriesReply)) == nil
	case netw.ApiInstallSnapshot:
		return target.InstallSnapshot(ctx, args.(*InstallSnapshotArgs), reply.(*InstallSnapshotReply)) == nil
	}
	return false
}

func (c *cluster) disconnect(i int) {
	c.mu.Lock()
	c.down[i] = true
	c.mu.Unlock()
}

func (c *cluster) waitLeader(exclude int) int {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for i, rf := range c.rafts {
			if i == exclude {
				continue
			}
			c.mu.Lock()
			down := c.down[i]
			c.mu.Unlock()
			if down {
				continue
			}
			if _, isLeader := rf.GetState(); isLeader {
				return i
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatal("no leader elected within deadline")
	return -1
}

// waitApplied blocks until node i has applied an entry with the given
// command, returning its index.
func (c *cluster) waitApplied(i int, command []byte) uint64 {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, msg := range c.applied[i] {
			if msg.CommandValid && bytes.Equal(msg.Command, command) {
				c.mu.Unlock()
				return msg.CommandIndex
			}
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatalf("node %d never applied %q", i, command)
	return 0
}

func (c *cluster) submit(command []byte) int {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		leader := c.waitLeader(-1)
		if _, _, ok := c.rafts[leader].Start(command); ok {
			return leader
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.t.Fatal("could not submit command")
	return -1
}

func TestSingleNodeCommits(t *testing.T) {
	c := newCluster(t, 1)
	c.waitLeader(-1)
	c.rafts[0].Start([]byte("solo"))
	c.waitApplied(0, []byte("solo"))
}

func TestElectionAndReplication(t *testing.T) {
	c := newCluster(t, 3)
	c.waitLeader(-1)

	c.submit([]byte("cmd1"))
	for i := 0; i < 3; i++ {
		c.waitApplied(i, []byte("cmd1"))
	}
}

func TestFollowerRejectsStaleLeader(t *testing.T) {
	c := newCluster(t, 3)
	leader := c.waitLeader(-1)
	term, _ := c.rafts[leader].GetState()

	var reply AppendEntriesReply
	err := c.rafts[leader].AppendEntries(context.Background(), &AppendEntriesArgs{
		Term:     term - 1,
		LeaderId: (leader + 1) % 3,
	}, &reply)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Success {
		t.Fatal("stale AppendEntries accepted")
	}
	if reply.Term < term {
		t.Fatalf("reply term %d < current term %d", reply.Term, term)
	}
}

func TestLeaderFailover(t *testing.T) {
	c := newCluster(t, 3)
	leader := c.submit([]byte("before"))
	for i := 0; i < 3; i++ {
		c.waitApplied(i, []byte("before"))
	}

	c.disconnect(leader)
	newLeader := c.waitLeader(leader)
	if newLeader == leader {
		t.Fatal("old leader still leading")
	}

	if _, _, ok := c.rafts[newLeader].Start([]byte("after")); !ok {
		t.Fatal("new leader rejected command")
	}
	for i := 0; i < 3; i++ {
		if i == leader {
			continue
		}
		c.waitApplied(i, []byte("after"))
	}
}

// Committed entries survive the leader that proposed them: the new leader's
// log contains everything applied under the old one.
func TestLeaderCompleteness(t *testing.T) {
	c := newCluster(t, 3)
	leader := c.submit([]byte("durable"))
	index := c.waitApplied(leader, []byte("durable"))
	for i := 0; i < 3; i++ {
		c.waitApplied(i, []byte("durable"))
	}

	c.disconnect(leader)
	newLeader := c.waitLeader(leader)

	rf := c.rafts[newLeader]
	rf.mu.RLock()
	entry := rf.log.entryAt(index)
	rf.mu.RUnlock()
	if entry == nil || !bytes.Equal(entry.Command, []byte("durable")) {
		t.Fatalf("new leader %d lost committed entry at %d", newLeader, index)
	}
}

func TestApplyOrderIsSequential(t *testing.T) {
	c := newCluster(t, 3)
	c.waitLeader(-1)
	for i := 0; i < 10; i++ {
		c.submit([]byte(fmt.Sprintf("op%d", i)))
	}
	c.waitApplied(0, []byte("op9"))

	c.mu.Lock()
	defer c.mu.Unlock()
	for node := 0; node < 3; node++ {
		var last uint64
		for _, msg := range c.applied[node] {
			if !msg.CommandValid {
				continue
			}
			if msg.CommandIndex != last+1 {
				t.Fatalf("node %d applied %d after %d", node, msg.CommandIndex, last)
			}
			last = msg.CommandIndex
		}
	}
}

func TestLogCompactionAndCatchUp(t *testing.T) {
	c := newCluster(t, 3)
	leader := c.waitLeader(-1)

	straggler := (leader + 1) % 3
	c.disconnect(straggler)

	for i := 0; i < 20; i++ {
		c.submit([]byte(fmt.Sprintf("op%d", i)))
	}
	leader = c.waitLeader(straggler)
	index := c.waitApplied(leader, []byte("op19"))

	// every connected node snapshots and drops its log prefix, so whichever
	// of them leads after the straggler returns can only catch it up by
	// InstallSnapshot
	for i := range c.rafts {
		if i == straggler {
			continue
		}
		c.waitApplied(i, []byte("op19"))
		c.rafts[i].LogCompact([]byte("snapshot-state"), index)
	}
	if got := c.rafts[leader].LogLength(); got != 0 {
		t.Fatalf("leader log length after compaction = %d", got)
	}

	// the straggler reconnects and can only catch up via InstallSnapshot
	c.mu.Lock()
	c.down[straggler] = false
	c.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		var snap *ApplyMsg
		for i := range c.applied[straggler] {
			if c.applied[straggler][i].SnapshotValid {
				snap = &c.applied[straggler][i]
			}
		}
		c.mu.Unlock()
		if snap != nil {
			if !bytes.Equal(snap.Snapshot, []byte("snapshot-state")) {
				t.Fatalf("unexpected snapshot payload %q", snap.Snapshot)
			}
			if !c.rafts[straggler].CondInstallSnapshot(snap.SnapshotTerm, snap.SnapshotIndex, snap.Snapshot) {
				t.Fatal("straggler refused snapshot")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("straggler never received a snapshot")
}

func TestVoteRequiresUpToDateLog(t *testing.T) {
	c := newCluster(t, 3)
	leader := c.submit([]byte("entry"))
	c.waitApplied(leader, []byte("entry"))

	term, _ := c.rafts[leader].GetState()
	var reply RequestVoteReply
	err := c.rafts[leader].RequestVote(context.Background(), &RequestVoteArgs{
		Term:        term + 1,
		CandidateId: (leader + 1) % 3,
		LastLogIdx:  0,
		LastLogTerm: 0,
	}, &reply)
	if err != nil {
		t.Fatal(err)
	}
	if reply.VoteGranted {
		t.Fatal("vote granted to candidate with stale log")
	}
}
