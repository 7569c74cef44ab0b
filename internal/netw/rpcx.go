package netw

import (
	"context"
	"sync"
	"time"

	rpcx_client "github.com/smallnest/rpcx/client"
	"github.com/smallnest/rpcx/log"
	"github.com/smallnest/rpcx/server"
)

func init() {
	log.SetDummyLogger()
}

const callTimeout = time.Second

type RpcxServer struct {
	Addr string

	serv *server.Server
}

func MakeRpcxServer(addr string) *RpcxServer {
	return &RpcxServer{
		Addr: addr,
		serv: server.NewServer(),
	}
}

func (s *RpcxServer) Register(name string, obj interface{}) error {
	return s.serv.RegisterName(name, obj, "")
}

// Start blocks serving peer RPCs until Stop is called.
func (s *RpcxServer) Start() error {
	return s.serv.Serve("tcp", s.Addr)
}

func (s *RpcxServer) Stop() {
	_ = s.serv.Close()
}

// ClientEnd is a lazily-connected client to one peer. rpcx re-establishes
// the underlying connection on failure; a failed call simply reports false
// and the raft engine retries later.
type ClientEnd struct {
	mu   sync.Mutex
	Name string
	Addr string

	client rpcx_client.XClient
}

func MakeClientEnd(name, addr string) *ClientEnd {
	return &ClientEnd{Name: name, Addr: addr}
}

func (ce *ClientEnd) lazyClient() rpcx_client.XClient {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if ce.client == nil {
		d, err := rpcx_client.NewPeer2PeerDiscovery("tcp@"+ce.Addr, "")
		if err != nil {
			return nil
		}
		option := rpcx_client.DefaultOption
		ce.client = rpcx_client.NewXClient(ce.Name, rpcx_client.Failfast, rpcx_client.RandomSelect, d, option)
	}
	return ce.client
}

func (ce *ClientEnd) Call(method string, args interface{}, reply interface{}) bool {
	cli := ce.lazyClient()
	if cli == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return cli.Call(ctx, method, args, reply) == nil
}

func (ce *ClientEnd) Close() {
	ce.mu.Lock()
	defer ce.mu.Unlock()
	if ce.client != nil {
		_ = ce.client.Close()
		ce.client = nil
	}
}
