package server

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/internal/store"
	"github.com/mosmeh/zakros/pkg/common"
)

const clusterSlots = 16384

func (c *conn) systemCommand(spec *store.CommandSpec, args [][]byte) error {
	switch spec.Name {
	case "CLUSTER":
		return c.write(c.clusterCommand(args))
	case "INFO":
		return c.write(resp.BulkString(c.srv.infoText()))
	case "SELECT":
		index, err := strconv.Atoi(string(args[0]))
		if err != nil {
			return c.write(common.ErrNotInteger)
		}
		if index != 0 {
			return c.write(common.RedisError("ERR DB index is out of range"))
		}
		return c.write(resp.OK)
	case "SHUTDOWN":
		c.srv.logger.Infof("shutdown requested by client %s", c.c.RemoteAddr())
		c.srv.Shutdown()
		os.Exit(0)
		return nil
	case "READONLY":
		c.readonly = true
		return c.write(resp.OK)
	case "READWRITE":
		c.readonly = false
		return c.write(resp.OK)
	case "SUBSCRIBE":
		return c.subscribeCommand(args)
	case "UNSUBSCRIBE":
		return c.unsubscribeCommand(args)
	case "PSUBSCRIBE":
		return c.psubscribeCommand(args)
	case "PUNSUBSCRIBE":
		return c.punsubscribeCommand(args)
	case "PUBLISH":
		receivers := c.srv.pubsub.Publish(string(args[0]), args[1])
		return c.write(resp.Integer(receivers))
	case "PUBSUB":
		return c.write(c.pubsubCommand(args))
	case "QUIT":
		c.quit = true
		return c.write(resp.OK)
	case "RESET":
		c.resetSession()
		return c.write(resp.SimpleString("RESET"))
	}
	return nil
}

func (c *conn) clusterCommand(args [][]byte) resp.Value {
	s := c.srv
	switch string(bytes.ToUpper(args[0])) {
	case "MYID":
		return resp.BulkString(formatNodeID(s.cfg.NodeId))
	case "SLOTS":
		if s.rf == nil {
			return common.RedisError("ERR This instance has cluster support disabled")
		}
		leader := s.rf.Leader()
		if leader < 0 || leader >= len(s.cfg.ClusterAddrs) {
			return common.ErrClusterDown("No leader")
		}
		// one slot range covering everything, the leader listed first as
		// the master
		entry := resp.Array{resp.Integer(0), resp.Integer(clusterSlots - 1)}
		entry = append(entry, formatNode(leader, s.cfg.ClientAddr(leader)))
		for id := range s.cfg.ClusterAddrs {
			if id != leader {
				entry = append(entry, formatNode(id, s.cfg.ClientAddr(id)))
			}
		}
		return resp.Array{entry}
	default:
		return common.ErrUnknownSubcommand(string(args[0]))
	}
}

func formatNodeID(id int) []byte {
	return []byte(fmt.Sprintf("%040x", id))
}

func formatNode(id int, addr string) resp.Value {
	host, portStr, err := net.SplitHostPort(addr)
	port := 0
	if err == nil {
		port, _ = strconv.Atoi(portStr)
	} else {
		host = addr
	}
	return resp.Array{
		resp.BulkString(host),
		resp.Integer(port),
		resp.BulkString(formatNodeID(id)),
	}
}

func (c *conn) subscribeCommand(args [][]byte) error {
	for _, channel := range args {
		name := string(channel)
		if _, ok := c.channels[name]; !ok {
			c.channels[name] = struct{}{}
			c.srv.pubsub.Subscribe(c, name)
		}
		reply := resp.Array{
			resp.BulkString("subscribe"),
			resp.BulkString(channel),
			resp.Integer(c.subscriptionCount()),
		}
		if err := c.write(reply); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) unsubscribeCommand(args [][]byte) error {
	names := make([]string, 0, len(args))
	if len(args) == 0 {
		for name := range c.channels {
			names = append(names, name)
		}
	} else {
		for _, channel := range args {
			names = append(names, string(channel))
		}
	}
	if len(names) == 0 {
		reply := resp.Array{resp.BulkString("unsubscribe"), nil, resp.Integer(0)}
		return c.write(reply)
	}
	for _, name := range names {
		if _, ok := c.channels[name]; ok {
			delete(c.channels, name)
			c.srv.pubsub.Unsubscribe(c, name)
		}
		reply := resp.Array{
			resp.BulkString("unsubscribe"),
			resp.BulkString(name),
			resp.Integer(c.subscriptionCount()),
		}
		if err := c.write(reply); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) psubscribeCommand(args [][]byte) error {
	for _, pattern := range args {
		name := string(pattern)
		if _, ok := c.patterns[name]; !ok {
			c.patterns[name] = struct{}{}
			c.srv.pubsub.PSubscribe(c, name)
		}
		reply := resp.Array{
			resp.BulkString("psubscribe"),
			resp.BulkString(pattern),
			resp.Integer(c.subscriptionCount()),
		}
		if err := c.write(reply); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) punsubscribeCommand(args [][]byte) error {
	names := make([]string, 0, len(args))
	if len(args) == 0 {
		for name := range c.patterns {
			names = append(names, name)
		}
	} else {
		for _, pattern := range args {
			names = append(names, string(pattern))
		}
	}
	if len(names) == 0 {
		reply := resp.Array{resp.BulkString("punsubscribe"), nil, resp.Integer(0)}
		return c.write(reply)
	}
	for _, name := range names {
		if _, ok := c.patterns[name]; ok {
			delete(c.patterns, name)
			c.srv.pubsub.PUnsubscribe(c, name)
		}
		reply := resp.Array{
			resp.BulkString("punsubscribe"),
			resp.BulkString(name),
			resp.Integer(c.subscriptionCount()),
		}
		if err := c.write(reply); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) pubsubCommand(args [][]byte) resp.Value {
	s := c.srv
	switch string(bytes.ToUpper(args[0])) {
	case "CHANNELS":
		var pattern []byte
		if len(args) > 1 {
			pattern = args[1]
		}
		return resp.FromStrings(s.pubsub.Channels(pattern))
	case "NUMSUB":
		out := make(resp.Array, 0, 2*(len(args)-1))
		for _, channel := range args[1:] {
			out = append(out, resp.BulkString(channel), resp.Integer(s.pubsub.NumSub(string(channel))))
		}
		return out
	case "NUMPAT":
		return resp.Integer(s.pubsub.NumPat())
	default:
		return common.ErrUnknownSubcommand(string(args[0]))
	}
}

// infoText is best-effort operational introspection.
func (s *Server) infoText() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Server\r\n")
	fmt.Fprintf(&b, "run_id:%s\r\n", s.runID)
	fmt.Fprintf(&b, "tcp_port:%d\r\n", s.cfg.Port)
	fmt.Fprintf(&b, "uptime_in_seconds:%d\r\n", int(time.Since(s.startedAt).Seconds()))
	fmt.Fprintf(&b, "\r\n# Clients\r\n")
	fmt.Fprintf(&b, "connected_clients:%d\r\n", s.clientCount())
	fmt.Fprintf(&b, "\r\n# Cluster\r\n")
	if s.rf != nil {
		fmt.Fprintf(&b, "cluster_enabled:1\r\n")
		term, isLeader := s.rf.GetState()
		role := "follower"
		if isLeader {
			role = "leader"
		} else if s.rf.Leader() < 0 {
			role = "candidate"
		}
		fmt.Fprintf(&b, "\r\n# Raft\r\n")
		fmt.Fprintf(&b, "raft_node_id:%d\r\n", s.cfg.NodeId)
		fmt.Fprintf(&b, "raft_role:%s\r\n", role)
		fmt.Fprintf(&b, "raft_current_term:%d\r\n", term)
		fmt.Fprintf(&b, "raft_leader_id:%d\r\n", s.rf.Leader())
		fmt.Fprintf(&b, "raft_applied_index:%d\r\n", s.appliedIndex())
		fmt.Fprintf(&b, "raft_log_entries:%d\r\n", s.rf.LogLength())
	} else {
		fmt.Fprintf(&b, "cluster_enabled:0\r\n")
	}
	fmt.Fprintf(&b, "\r\n# Keyspace\r\n")
	if n := s.store.Len(); n > 0 {
		fmt.Fprintf(&b, "db0:keys=%d\r\n", n)
	}
	return []byte(b.String())
}

func (s *Server) appliedIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastApplied
}
