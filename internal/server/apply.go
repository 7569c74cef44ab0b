package server

import (
	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/internal/store"
	"github.com/mosmeh/zakros/pkg/common"
)

// applyLoop is the state machine adapter: it consumes committed entries in
// index order, executes each batch atomically against the keyspace, and
// wakes the submitting connection with the result. It is the only keyspace
// writer while raft is enabled.
func (s *Server) applyLoop() {
	for msg := range s.applyCh {
		switch {
		case msg.SnapshotValid:
			if !s.rf.CondInstallSnapshot(msg.SnapshotTerm, msg.SnapshotIndex, msg.Snapshot) {
				continue
			}
			if err := s.store.Restore(msg.Snapshot); err != nil {
				s.logger.Fatalf("failed to restore snapshot at index %d: %v", msg.SnapshotIndex, err)
			}
			s.mu.Lock()
			s.lastApplied = msg.SnapshotIndex
			s.failWaitersBelow(msg.SnapshotIndex + 1)
			s.mu.Unlock()
			metricApplied.Set(float64(msg.SnapshotIndex))
			s.logger.Infof("restored keyspace from snapshot at index %d", msg.SnapshotIndex)

		case msg.CommandValid:
			s.mu.Lock()
			if msg.CommandIndex <= s.lastApplied {
				s.mu.Unlock()
				continue
			}
			s.mu.Unlock()

			batch, err := store.DecodeBatch(msg.Command)
			var value resp.Value
			if err != nil {
				// every replica sees the same bytes; a decode failure is
				// deterministic and not fatal to the cluster
				s.logger.Errorf("undecodable log entry at index %d: %v", msg.CommandIndex, err)
				value = common.ErrClusterDown("corrupted log entry")
			} else {
				value = s.store.Apply(batch)
			}

			s.mu.Lock()
			s.lastApplied = msg.CommandIndex
			if w, ok := s.waiters[msg.CommandIndex]; ok {
				delete(s.waiters, msg.CommandIndex)
				if w.term == msg.CommandTerm {
					w.ch <- value
				} else {
					// a different leader's entry landed on our index
					w.ch <- common.ErrClusterDown("leadership changed, retry")
				}
			}
			s.mu.Unlock()

			metricApplied.Set(float64(msg.CommandIndex))
			s.updateLeaderGauge()
			s.maybeSnapshot(msg.CommandIndex)
		}
	}
}

// failWaitersBelow is called with s.mu held; waiters for indices already
// superseded by a snapshot can never see their reply.
func (s *Server) failWaitersBelow(index uint64) {
	for idx, w := range s.waiters {
		if idx < index {
			delete(s.waiters, idx)
			w.ch <- common.ErrClusterDown("leadership changed, retry")
		}
	}
}

func (s *Server) maybeSnapshot(appliedIndex uint64) {
	if s.rf.LogLength() < snapshotThreshold {
		return
	}
	s.rf.LogCompact(s.store.SnapshotBytes(), appliedIndex)
}

func (s *Server) updateLeaderGauge() {
	if s.isLeader() {
		metricIsLeader.Set(1)
	} else {
		metricIsLeader.Set(0)
	}
}
