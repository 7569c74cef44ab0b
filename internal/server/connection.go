package server

import (
	"errors"
	"net"
	"sync"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/pkg/common"
)

const outboxSize = 1024

// conn owns one client connection and its session state. Replies to
// requests are emitted in request order by the reading goroutine; pub/sub
// deliveries are interleaved by a separate writer draining the outbox.
type conn struct {
	srv *Server
	c   net.Conn

	reader *resp.Reader
	writer *resp.Writer
	wmu    sync.Mutex

	// session state, owned by the reading goroutine
	readonly bool
	inMulti  bool
	dirty    bool
	queued   [][][]byte
	watched  map[string]uint64
	channels map[string]struct{}
	patterns map[string]struct{}

	outbox    chan resp.Value
	closed    chan struct{}
	closeOnce sync.Once
	quit      bool
}

func newConn(s *Server, c net.Conn) *conn {
	return &conn{
		srv:      s,
		c:        c,
		reader:   resp.NewReader(c),
		writer:   resp.NewWriter(c),
		channels: make(map[string]struct{}),
		patterns: make(map[string]struct{}),
		outbox:   make(chan resp.Value, outboxSize),
		closed:   make(chan struct{}),
	}
}

func (c *conn) serve() {
	defer c.teardown()
	go c.outboxWriter()

	for {
		cmd, err := c.reader.ReadCommand()
		if err != nil {
			if errors.Is(err, resp.ErrProtocol) {
				// report once, then drop the connection: the stream
				// position is unrecoverable
				_ = c.write(common.RedisError("ERR Protocol error"))
			}
			return
		}
		if len(cmd) == 0 {
			continue
		}
		if err := c.dispatch(cmd); err != nil {
			return
		}
		if c.quit {
			return
		}
	}
}

func (c *conn) teardown() {
	c.closeOnce.Do(func() { close(c.closed) })
	c.unsubscribeAll()
	_ = c.c.Close()
}

func (c *conn) unsubscribeAll() {
	for channel := range c.channels {
		c.srv.pubsub.Unsubscribe(c, channel)
	}
	for pattern := range c.patterns {
		c.srv.pubsub.PUnsubscribe(c, pattern)
	}
}

// write emits one reply value under the write mutex shared with the
// outbox writer.
func (c *conn) write(v resp.Value) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writer.WriteValue(v)
}

// deliver enqueues a pub/sub message without blocking the publisher. A
// full outbox disconnects the subscriber: it is lagging beyond repair.
func (c *conn) deliver(msg resp.Value) bool {
	select {
	case c.outbox <- msg:
		return true
	case <-c.closed:
		return false
	default:
		_ = c.c.Close()
		return false
	}
}

func (c *conn) outboxWriter() {
	for {
		select {
		case msg := <-c.outbox:
			if err := c.write(msg); err != nil {
				_ = c.c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *conn) subscribed() bool {
	return len(c.channels)+len(c.patterns) > 0
}

func (c *conn) subscriptionCount() int {
	return len(c.channels) + len(c.patterns)
}

// resetSession implements RESET: drop subscriptions, transaction state, and
// the readonly flag.
func (c *conn) resetSession() {
	c.unsubscribeAll()
	c.channels = make(map[string]struct{})
	c.patterns = make(map[string]struct{})
	c.inMulti = false
	c.dirty = false
	c.queued = nil
	c.watched = nil
	c.readonly = false
}
