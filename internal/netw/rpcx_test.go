package netw

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

type EchoService struct{}

type EchoArgs struct {
	Payload []byte
	Seq     uint64
}

type EchoReply struct {
	Payload []byte
	Seq     uint64
}

func (s *EchoService) Echo(ctx context.Context, args *EchoArgs, reply *EchoReply) error {
	reply.Payload = args.Payload
	reply.Seq = args.Seq
	return nil
}

func pickAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestRpcxRoundTrip(t *testing.T) {
	addr := pickAddr(t)
	serv := MakeRpcxServer(addr)
	if err := serv.Register("Echo", &EchoService{}); err != nil {
		t.Fatal(err)
	}
	go func() { _ = serv.Start() }()
	defer serv.Stop()

	end := MakeClientEnd("Echo", addr)
	defer end.Close()

	args := &EchoArgs{Payload: []byte{1, 2, 0, 255}, Seq: 7}
	var reply EchoReply
	ok := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if end.Call("Echo", args, &reply) {
			ok = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !ok {
		t.Fatal("call never succeeded")
	}
	if reply.Seq != 7 || fmt.Sprintf("%v", reply.Payload) != fmt.Sprintf("%v", args.Payload) {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestCallToDeadPeerFails(t *testing.T) {
	end := MakeClientEnd("Echo", pickAddr(t))
	defer end.Close()
	var reply EchoReply
	if end.Call("Echo", &EchoArgs{}, &reply) {
		t.Fatal("call to dead peer reported success")
	}
}
