// Package server wires the zakros node together: the TCP front end speaking
// RESP, the command dispatcher, the raft engine with its rpcx peer
// transport, and the state machine adapter applying committed batches to
// the keyspace.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosmeh/zakros/internal/netw"
	"github.com/mosmeh/zakros/internal/raft"
	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/internal/store"
	"github.com/mosmeh/zakros/pkg/common"
)

const (
	// submitTimeout bounds how long a client waits for its write to be
	// committed before getting a retryable cluster error.
	submitTimeout = 10 * time.Second

	// snapshotThreshold is the number of log entries past the last
	// checkpoint that triggers a keyspace snapshot.
	snapshotThreshold = 10000

	runIDLen = 40
)

type waiter struct {
	term uint64
	ch   chan resp.Value
}

type Server struct {
	cfg    Config
	logger *logrus.Logger

	store  *store.Store
	pubsub *PubSub

	rf       *raft.Raft // nil when raft is disabled
	applyCh  chan raft.ApplyMsg
	storage  raft.Storage
	peerServ *netw.RpcxServer
	peerEnds []*netw.ClientEnd

	listener net.Listener

	mu          sync.Mutex
	waiters     map[uint64]*waiter
	lastApplied uint64

	clients int32

	runID     string
	startedAt time.Time
	dead      int32
}

func NewServer(cfg Config) (*Server, error) {
	logger, err := common.InitLogger(cfg.LogLevel, "Zakros")
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		store:     store.New(),
		pubsub:    NewPubSub(),
		waiters:   make(map[uint64]*waiter),
		runID:     makeRunID(),
		startedAt: time.Now(),
	}

	if cfg.RaftEnabled {
		if err := s.setupRaft(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func makeRunID() string {
	const charset = "0123456789abcdef"
	rng := common.MakeTimeSeededRand()
	id := make([]byte, runIDLen)
	for i := range id {
		id[i] = charset[rng.Intn(len(charset))]
	}
	return string(id)
}

func (s *Server) setupRaft() error {
	switch s.cfg.RaftStorage {
	case "disk":
		dir := fmt.Sprintf("%s/%d", s.cfg.Dir, s.cfg.NodeId)
		storage, err := raft.OpenLevelDBStorage(dir)
		if err != nil {
			return fmt.Errorf("cannot open raft storage in %s: %w", dir, err)
		}
		s.storage = storage
	case "memory":
		s.storage = raft.NewMemoryStorage()
	}

	s.peerEnds = make([]*netw.ClientEnd, len(s.cfg.ClusterAddrs))
	for id := range s.cfg.ClusterAddrs {
		if id == s.cfg.NodeId {
			continue
		}
		addr, err := s.cfg.PeerAddr(id)
		if err != nil {
			return err
		}
		s.peerEnds[id] = netw.MakeClientEnd(netw.ServiceRaft, addr)
	}

	s.applyCh = make(chan raft.ApplyMsg, 256)
	s.rf = raft.Make(raft.Config{
		Me:              s.cfg.NodeId,
		Peers:           len(s.cfg.ClusterAddrs),
		ElectionTimeout: raft.DefaultElectionTimeout,
		LogLevel:        s.cfg.LogLevel,
	}, s.rpcCall, s.storage, s.applyCh)

	go s.applyLoop()

	peerAddr, err := s.cfg.PeerAddr(s.cfg.NodeId)
	if err != nil {
		return err
	}
	s.peerServ = netw.MakeRpcxServer(peerAddr)
	if err := s.peerServ.Register(netw.ServiceRaft, s.rf); err != nil {
		return err
	}
	go func() {
		if err := s.peerServ.Start(); err != nil && !s.killed() {
			s.logger.Errorf("peer RPC server stopped: %v", err)
		}
	}()
	return nil
}

func (s *Server) rpcCall(api string, args interface{}, reply interface{}, peer int) bool {
	end := s.peerEnds[peer]
	if end == nil {
		return false
	}
	return end.Call(api, args, reply)
}

// Run binds the client listener and serves connections until Shutdown.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cannot bind to %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.logger.Infof("node %d listening on %s", s.cfg.NodeId, listener.Addr())

	if s.cfg.MetricsAddr != "" {
		go func() {
			if err := serveMetrics(s.cfg.MetricsAddr); err != nil {
				s.logger.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	for {
		c, err := listener.Accept()
		if err != nil {
			if s.killed() {
				return nil
			}
			return err
		}
		if int(atomic.LoadInt32(&s.clients)) >= s.cfg.MaxClients {
			w := resp.NewWriter(c)
			_ = w.WriteValue(common.ErrMaxClients)
			_ = c.Close()
			continue
		}
		atomic.AddInt32(&s.clients, 1)
		metricClients.Inc()
		go func() {
			defer func() {
				atomic.AddInt32(&s.clients, -1)
				metricClients.Dec()
			}()
			newConn(s, c).serve()
		}()
	}
}

// Shutdown stops the node. The process exits from the caller.
func (s *Server) Shutdown() {
	if !atomic.CompareAndSwapInt32(&s.dead, 0, 1) {
		return
	}
	s.logger.Infof("node %d shutting down", s.cfg.NodeId)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.rf != nil {
		s.rf.Kill()
	}
	if s.peerServ != nil {
		s.peerServ.Stop()
	}
	for _, end := range s.peerEnds {
		if end != nil {
			end.Close()
		}
	}
	if s.storage != nil {
		_ = s.storage.Close()
	}
}

func (s *Server) killed() bool {
	return atomic.LoadInt32(&s.dead) == 1
}

// submit orders a batch through raft and waits for its apply result.
func (s *Server) submit(b *store.Batch) resp.Value {
	payload := store.EncodeBatch(b)
	index, term, isLeader := s.rf.Start(payload)
	if !isLeader {
		return s.redirect()
	}
	metricSubmissions.Inc()

	w := &waiter{term: term, ch: make(chan resp.Value, 1)}
	s.mu.Lock()
	s.waiters[index] = w
	s.mu.Unlock()

	select {
	case value := <-w.ch:
		return value
	case <-time.After(submitTimeout):
		s.mu.Lock()
		delete(s.waiters, index)
		s.mu.Unlock()
		return common.ErrClusterDown("request timed out, retry")
	}
}

// redirect points the client at the current leader, or reports the cluster
// unavailable when there is none.
func (s *Server) redirect() resp.Value {
	leader := s.rf.Leader()
	if leader < 0 || leader >= len(s.cfg.ClusterAddrs) {
		return common.ErrClusterDown("No leader")
	}
	metricRedirects.Inc()
	return common.ErrMoved(s.cfg.ClientAddr(leader))
}

// Addr reports the bound client address, or "" before Run has bound it.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) clientCount() int {
	return int(atomic.LoadInt32(&s.clients))
}

func (s *Server) isLeader() bool {
	if s.rf == nil {
		return true
	}
	_, isLeader := s.rf.GetState()
	return isLeader
}
