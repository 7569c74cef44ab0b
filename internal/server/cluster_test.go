package server

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mosmeh/zakros/pkg/client"
)

// startCluster brings up n raft-enabled nodes on localhost with memory
// storage and returns the servers and their client addresses.
func startCluster(t *testing.T, n int) ([]*Server, []string) {
	t.Helper()
	ports := make([]int, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		ports[i] = pickPort(t)
		addrs[i] = fmt.Sprintf("127.0.0.1:%d", ports[i])
	}

	servers := make([]*Server, n)
	for i := 0; i < n; i++ {
		cfg := DefaultConfig()
		cfg.Bind = "127.0.0.1"
		cfg.Port = ports[i]
		cfg.NodeId = i
		cfg.ClusterAddrs = addrs
		cfg.RaftStorage = "memory"
		cfg.LogLevel = "error"
		if err := cfg.validate(); err != nil {
			t.Fatal(err)
		}
		srv, err := NewServer(cfg)
		if err != nil {
			t.Fatal(err)
		}
		servers[i] = srv
		go func() { _ = srv.Run() }()
		t.Cleanup(srv.Shutdown)
	}

	deadline := time.Now().Add(5 * time.Second)
	for _, srv := range servers {
		for srv.Addr() == "" {
			if time.Now().After(deadline) {
				t.Fatal("cluster did not start")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return servers, addrs
}

// findLeader locates the node that accepts writes.
func findLeader(t *testing.T, servers []*Server, skip int) int {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for i, srv := range servers {
			if i == skip || srv.killed() {
				continue
			}
			if srv.isLeader() {
				return i
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no leader emerged")
	return -1
}

func setWithRetry(t *testing.T, cli *client.Client, key, value string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		reply, err := cli.Do("SET", key, value)
		if err != nil {
			t.Fatal(err)
		}
		if reply == "OK" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("SET %s never succeeded", key)
}

func TestClusterRedirectAndReplication(t *testing.T) {
	servers, addrs := startCluster(t, 3)
	leader := findLeader(t, servers, -1)

	// a write against a follower is redirected to the leader
	follower := (leader + 1) % 3
	fcli := dial(t, addrs[follower])
	deadline := time.Now().Add(10 * time.Second)
	for {
		reply := do(t, fcli, "SET", "x", "1")
		if e, ok := reply.(client.Error); ok && strings.HasPrefix(string(e), "MOVED 0 ") {
			if !strings.HasSuffix(string(e), addrs[leader]) {
				t.Fatalf("MOVED points at %q, leader is %s", e, addrs[leader])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("follower reply = %#v", reply)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// following the redirect succeeds
	lcli := dial(t, addrs[leader])
	setWithRetry(t, lcli, "x", "1")

	// READONLY reads on the follower observe the replicated value
	expectReply(t, fcli, "OK", "READONLY")
	readDeadline := time.Now().Add(10 * time.Second)
	for {
		reply := do(t, fcli, "GET", "x")
		if b, ok := reply.([]byte); ok && string(b) == "1" {
			break
		}
		if time.Now().After(readDeadline) {
			t.Fatalf("follower never saw the write, last = %#v", reply)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestClusterFailover(t *testing.T) {
	servers, addrs := startCluster(t, 3)
	leader := findLeader(t, servers, -1)

	lcli := dial(t, addrs[leader])
	setWithRetry(t, lcli, "k", "0")

	// give replication a moment to reach both followers, then kill the
	// leader and make sure the value survives
	time.Sleep(500 * time.Millisecond)
	servers[leader].Shutdown()

	newLeader := findLeader(t, servers, leader)
	ncli := dial(t, addrs[newLeader])

	deadline := time.Now().Add(10 * time.Second)
	for {
		reply := do(t, ncli, "GET", "k")
		if b, ok := reply.([]byte); ok && string(b) == "0" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("value lost after failover, last = %#v", reply)
		}
		time.Sleep(50 * time.Millisecond)
	}

	setWithRetry(t, ncli, "k2", "1")
}

func TestClusterSlotsTopology(t *testing.T) {
	servers, addrs := startCluster(t, 3)
	leader := findLeader(t, servers, -1)

	cli := dial(t, addrs[(leader+1)%3])
	var slots []client.Reply
	deadline := time.Now().Add(10 * time.Second)
	for {
		reply := do(t, cli, "CLUSTER", "SLOTS")
		if arr, ok := reply.([]client.Reply); ok && len(arr) == 1 {
			slots = arr
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("CLUSTER SLOTS = %#v", reply)
		}
		time.Sleep(50 * time.Millisecond)
	}
	entry := slots[0].([]client.Reply)
	if entry[0] != int64(0) || entry[1] != int64(16383) {
		t.Fatalf("slot range = %#v", entry[:2])
	}
	if len(entry) != 2+3 {
		t.Fatalf("expected 3 nodes in slot entry, got %d", len(entry)-2)
	}
}
