package server

import (
	"sync"

	"github.com/mosmeh/zakros/internal/resp"
	"github.com/mosmeh/zakros/internal/store"
)

// subscriber receives published messages. Delivery must not block the
// publisher; a subscriber that cannot keep up is disconnected.
type subscriber interface {
	deliver(msg resp.Value) bool
}

// PubSub is the node-local publish/subscribe registry. Messages published
// on one node are not replicated to the rest of the cluster.
type PubSub struct {
	mu       sync.RWMutex
	channels map[string]map[subscriber]struct{}
	patterns map[string]map[subscriber]struct{}
}

func NewPubSub() *PubSub {
	return &PubSub{
		channels: make(map[string]map[subscriber]struct{}),
		patterns: make(map[string]map[subscriber]struct{}),
	}
}

func (p *PubSub) Subscribe(sub subscriber, channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.channels[channel]
	if !ok {
		set = make(map[subscriber]struct{})
		p.channels[channel] = set
	}
	set[sub] = struct{}{}
}

func (p *PubSub) Unsubscribe(sub subscriber, channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.channels[channel]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.channels, channel)
		}
	}
}

func (p *PubSub) PSubscribe(sub subscriber, pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.patterns[pattern]
	if !ok {
		set = make(map[subscriber]struct{})
		p.patterns[pattern] = set
	}
	set[sub] = struct{}{}
}

func (p *PubSub) PUnsubscribe(sub subscriber, pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if set, ok := p.patterns[pattern]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.patterns, pattern)
		}
	}
}

// Publish fans message out to local subscribers and returns how many
// received it.
func (p *PubSub) Publish(channel string, message []byte) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	receivers := 0
	if set, ok := p.channels[channel]; ok {
		msg := resp.Array{
			resp.BulkString("message"),
			resp.BulkString(channel),
			resp.BulkString(message),
		}
		for sub := range set {
			if sub.deliver(msg) {
				receivers++
			}
		}
	}
	for pattern, set := range p.patterns {
		if !store.GlobMatch([]byte(pattern), []byte(channel)) {
			continue
		}
		msg := resp.Array{
			resp.BulkString("pmessage"),
			resp.BulkString(pattern),
			resp.BulkString(channel),
			resp.BulkString(message),
		}
		for sub := range set {
			if sub.deliver(msg) {
				receivers++
			}
		}
	}
	return receivers
}

// Channels lists active channels, optionally filtered by a glob pattern.
func (p *PubSub) Channels(pattern []byte) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for channel := range p.channels {
		if pattern == nil || store.GlobMatch(pattern, []byte(channel)) {
			out = append(out, channel)
		}
	}
	return out
}

// NumSub reports the subscriber count per named channel.
func (p *PubSub) NumSub(channel string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.channels[channel])
}

// NumPat reports how many distinct patterns are subscribed.
func (p *PubSub) NumPat() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.patterns)
}
