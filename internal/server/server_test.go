package server

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/mosmeh/zakros/pkg/client"
)

// pickPort reserves an ephemeral port low enough that the derived peer port
// still fits in the port range.
func pickPort(t *testing.T) int {
	t.Helper()
	for i := 0; i < 50; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		port := l.Addr().(*net.TCPAddr).Port
		l.Close()
		if port+10000 < 65535 {
			return port
		}
	}
	t.Fatal("no usable port found")
	return 0
}

func startServer(t *testing.T, raftEnabled bool) (*Server, string) {
	t.Helper()
	port := pickPort(t)
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = port
	cfg.RaftEnabled = raftEnabled
	cfg.RaftStorage = "memory"
	cfg.LogLevel = "error"
	cfg.ClusterAddrs = []string{fmt.Sprintf("127.0.0.1:%d", port)}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Run() }()
	t.Cleanup(srv.Shutdown)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Addr() != "" {
			return srv, addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server did not start")
	return nil, ""
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	cli, err := client.Dial(addr, 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cli.Close() })
	return cli
}

func do(t *testing.T, cli *client.Client, args ...string) client.Reply {
	t.Helper()
	reply, err := cli.Do(args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return reply
}

func expectReply(t *testing.T, cli *client.Client, want client.Reply, args ...string) {
	t.Helper()
	got := do(t, cli, args...)
	if !replyEqual(got, want) {
		t.Fatalf("%v: got %#v, want %#v", args, got, want)
	}
}

func replyEqual(a, b client.Reply) bool {
	switch a := a.(type) {
	case []byte:
		b, ok := b.([]byte)
		return ok && bytes.Equal(a, b)
	case []client.Reply:
		b, ok := b.([]client.Reply)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !replyEqual(a[i], b[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func TestEndToEndStrings(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)

	expectReply(t, cli, "OK", "SET", "foo", "bar")
	expectReply(t, cli, []byte("bar"), "GET", "foo")
	expectReply(t, cli, int64(3), "STRLEN", "foo")
	expectReply(t, cli, int64(6), "APPEND", "foo", "baz")
	expectReply(t, cli, []byte("barbaz"), "GET", "foo")
	expectReply(t, cli, nil, "GET", "missing")
}

func TestEndToEndErrors(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)

	reply := do(t, cli, "NOSUCHCMD")
	if _, ok := reply.(client.Error); !ok {
		t.Fatalf("expected error reply, got %#v", reply)
	}

	reply = do(t, cli, "GET")
	err, ok := reply.(client.Error)
	if !ok || err != "ERR wrong number of arguments for 'get' command" {
		t.Fatalf("arity error = %#v", reply)
	}

	do(t, cli, "LPUSH", "l", "x")
	reply = do(t, cli, "GET", "l")
	if err, ok := reply.(client.Error); !ok || err[:9] != "WRONGTYPE" {
		t.Fatalf("wrongtype error = %#v", reply)
	}
}

func TestEndToEndTransaction(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)

	expectReply(t, cli, "OK", "MULTI")
	expectReply(t, cli, "QUEUED", "SET", "k", "v")
	expectReply(t, cli, "QUEUED", "INCR", "counter")
	reply := do(t, cli, "EXEC")
	arr, ok := reply.([]client.Reply)
	if !ok || len(arr) != 2 {
		t.Fatalf("EXEC reply = %#v", reply)
	}
	if arr[0] != "OK" || arr[1] != int64(1) {
		t.Fatalf("EXEC replies = %#v", arr)
	}
	expectReply(t, cli, []byte("v"), "GET", "k")
}

func TestEndToEndTransactionAbortOnBadCommand(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)

	expectReply(t, cli, "OK", "MULTI")
	reply := do(t, cli, "NOSUCHCMD")
	if _, ok := reply.(client.Error); !ok {
		t.Fatalf("queued unknown command reply = %#v", reply)
	}
	expectReply(t, cli, "QUEUED", "SET", "k", "v")
	reply = do(t, cli, "EXEC")
	err, ok := reply.(client.Error)
	if !ok || err[:9] != "EXECABORT" {
		t.Fatalf("EXEC after bad queue = %#v", reply)
	}
	expectReply(t, cli, int64(0), "EXISTS", "k")
}

func TestEndToEndWatchAbort(t *testing.T) {
	_, addr := startServer(t, false)
	a := dial(t, addr)
	b := dial(t, addr)

	expectReply(t, a, "OK", "SET", "k", "v0")
	expectReply(t, a, "OK", "WATCH", "k")
	expectReply(t, a, "OK", "MULTI")
	expectReply(t, a, "QUEUED", "SET", "k", "v1")

	expectReply(t, b, "OK", "SET", "k", "v2")

	reply := do(t, a, "EXEC")
	if reply != nil {
		t.Fatalf("EXEC should be nil after watched key changed, got %#v", reply)
	}
	expectReply(t, a, []byte("v2"), "GET", "k")
}

func TestEndToEndWatchCleanSucceeds(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)

	expectReply(t, cli, "OK", "SET", "k", "v0")
	expectReply(t, cli, "OK", "WATCH", "k")
	expectReply(t, cli, "OK", "MULTI")
	expectReply(t, cli, "QUEUED", "SET", "k", "v1")
	reply := do(t, cli, "EXEC")
	if _, ok := reply.([]client.Reply); !ok {
		t.Fatalf("EXEC = %#v", reply)
	}
	expectReply(t, cli, []byte("v1"), "GET", "k")
}

func TestEndToEndDiscard(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)

	expectReply(t, cli, "OK", "MULTI")
	expectReply(t, cli, "QUEUED", "SET", "k", "v")
	expectReply(t, cli, "OK", "DISCARD")
	expectReply(t, cli, int64(0), "EXISTS", "k")

	reply := do(t, cli, "EXEC")
	if _, ok := reply.(client.Error); !ok {
		t.Fatalf("EXEC without MULTI = %#v", reply)
	}
}

func TestEndToEndPubSub(t *testing.T) {
	_, addr := startServer(t, false)
	sub := dial(t, addr)
	pub := dial(t, addr)

	reply := do(t, sub, "SUBSCRIBE", "news")
	arr, ok := reply.([]client.Reply)
	if !ok || len(arr) != 3 || !replyEqual(arr[0], []byte("subscribe")) {
		t.Fatalf("subscribe reply = %#v", reply)
	}

	// non-subscription commands are refused in subscribed mode
	reply = do(t, sub, "GET", "k")
	if _, ok := reply.(client.Error); !ok {
		t.Fatalf("GET in subscribe mode = %#v", reply)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n := do(t, pub, "PUBLISH", "news", "hello").(int64); n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	msg := do(t, sub, "PING")
	// the published message is delivered before or after the PING reply;
	// read until we see it
	for i := 0; i < 2; i++ {
		if arr, ok := msg.([]client.Reply); ok && len(arr) == 3 && replyEqual(arr[0], []byte("message")) {
			if !replyEqual(arr[1], []byte("news")) || !replyEqual(arr[2], []byte("hello")) {
				t.Fatalf("message = %#v", arr)
			}
			return
		}
		var err error
		msg, err = sub.ReadReply()
		if err != nil {
			t.Fatal(err)
		}
	}
	t.Fatalf("published message never delivered, last = %#v", msg)
}

func TestEndToEndSystemCommands(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)

	expectReply(t, cli, "PONG", "PING")
	expectReply(t, cli, []byte("hi"), "PING", "hi")
	expectReply(t, cli, []byte("echo"), "ECHO", "echo")
	expectReply(t, cli, "OK", "SELECT", "0")
	reply := do(t, cli, "SELECT", "1")
	if _, ok := reply.(client.Error); !ok {
		t.Fatalf("SELECT 1 = %#v", reply)
	}

	id := do(t, cli, "CLUSTER", "MYID")
	if b, ok := id.([]byte); !ok || len(b) != 40 {
		t.Fatalf("CLUSTER MYID = %#v", id)
	}

	expectReply(t, cli, "OK", "READONLY")
	expectReply(t, cli, "OK", "READWRITE")

	info := do(t, cli, "INFO")
	if b, ok := info.([]byte); !ok || !bytes.Contains(b, []byte("run_id:")) {
		t.Fatalf("INFO = %#v", info)
	}

	expectReply(t, cli, "RESET", "RESET")
}

func TestEndToEndTime(t *testing.T) {
	_, addr := startServer(t, false)
	cli := dial(t, addr)
	reply := do(t, cli, "TIME")
	arr, ok := reply.([]client.Reply)
	if !ok || len(arr) != 2 {
		t.Fatalf("TIME = %#v", reply)
	}
	secs, err := strconv.ParseInt(string(arr[0].([]byte)), 10, 64)
	if err != nil || secs <= 0 {
		t.Fatalf("TIME seconds = %#v", arr[0])
	}
}

func TestEndToEndRaftSingleNode(t *testing.T) {
	srv, addr := startServer(t, true)
	cli := dial(t, addr)

	// writes go through raft; the first may race the initial election
	deadline := time.Now().Add(5 * time.Second)
	for {
		reply := do(t, cli, "SET", "k", "v")
		if reply == "OK" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("SET never succeeded, last = %#v", reply)
		}
		time.Sleep(50 * time.Millisecond)
	}
	expectReply(t, cli, []byte("v"), "GET", "k")

	reply := do(t, cli, "CLUSTER", "SLOTS")
	slots, ok := reply.([]client.Reply)
	if !ok || len(slots) != 1 {
		t.Fatalf("CLUSTER SLOTS = %#v", reply)
	}
	entry := slots[0].([]client.Reply)
	if entry[0] != int64(0) || entry[1] != int64(16383) {
		t.Fatalf("slot range = %#v", entry)
	}

	if got := srv.appliedIndex(); got == 0 {
		t.Fatal("nothing applied through raft")
	}

	// transactions are a single atomic raft entry
	expectReply(t, cli, "OK", "MULTI")
	expectReply(t, cli, "QUEUED", "SET", "a", "1")
	expectReply(t, cli, "QUEUED", "APPEND", "a", "2")
	exec := do(t, cli, "EXEC")
	if arr, ok := exec.([]client.Reply); !ok || len(arr) != 2 {
		t.Fatalf("EXEC via raft = %#v", exec)
	}
	expectReply(t, cli, []byte("12"), "GET", "a")
}

func TestMaxClients(t *testing.T) {
	port := pickPort(t)
	cfg := DefaultConfig()
	cfg.Bind = "127.0.0.1"
	cfg.Port = port
	cfg.RaftEnabled = false
	cfg.MaxClients = 1
	cfg.LogLevel = "error"
	cfg.ClusterAddrs = []string{fmt.Sprintf("127.0.0.1:%d", port)}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Run() }()
	t.Cleanup(srv.Shutdown)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	first := dial(t, addr)
	expectReply(t, first, "PONG", "PING")

	second := dial(t, addr)
	reply, err := second.ReadReply()
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := reply.(client.Error); !ok || e[:3] != "ERR" {
		t.Fatalf("over-limit reply = %#v", reply)
	}
}
