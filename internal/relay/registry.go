package relay

import (
	"errors"
	"strings"
	"sync"
)

// ErrDuplicateHost is returned by Join when the channel already has a
// different open host connection.
var ErrDuplicateHost = errors.New("relay: channel already has a host")

// NormalizeChannel lowercases a channel name. All registry lookups go through
// this, so "Game1" and "game1" are the same session.
func NormalizeChannel(name string) string { return strings.ToLower(name) }

// Registry owns the channel to members mapping, the relay's single piece of
// shared mutable state. One RWMutex guards membership: joins, leaves and
// sweeps take the write lock, per-message fan-out only snapshots members
// under the read lock. Membership changes are rare relative to message
// volume.
//
// Channel and player identifiers are deliberately not validated; empty
// strings are accepted as-is for compatibility with deployed clients.
type Registry struct {
	mu       sync.RWMutex
	channels map[string][]*Conn
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string][]*Conn)}
}

// Join adds the connection to its channel, creating the channel lazily. A
// host connection is rejected when the channel already holds another open
// host.
func (r *Registry) Join(c *Conn) error {
	name := NormalizeChannel(c.Channel())
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.IsHost() {
		for _, member := range r.channels[name] {
			if member != c && member.IsHost() && member.Open() {
				return ErrDuplicateHost
			}
		}
	}
	r.channels[name] = append(r.channels[name], c)
	return nil
}

// Leave removes the connection from its channel; the channel is evicted once
// its member set is empty.
func (r *Registry) Leave(c *Conn) {
	name := NormalizeChannel(c.Channel())
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[name]
	if !ok {
		return
	}
	kept := members[:0]
	for _, m := range members {
		if m != c {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		delete(r.channels, name)
		return
	}
	r.channels[name] = kept
}

// Members returns a snapshot of the channel's member set.
func (r *Registry) Members(name string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.channels[NormalizeChannel(name)]
	out := make([]*Conn, len(members))
	copy(out, members)
	return out
}

// AllConns returns a snapshot of every registered connection across channels.
func (r *Registry) AllConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Conn
	for _, members := range r.channels {
		out = append(out, members...)
	}
	return out
}

// Sweep evicts channels with no open member and returns their names. It
// covers abrupt network loss where a close event never fired.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []string
	for name, members := range r.channels {
		open := false
		for _, m := range members {
			if m.Open() {
				open = true
				break
			}
		}
		if !open {
			delete(r.channels, name)
			evicted = append(evicted, name)
		}
	}
	return evicted
}

// ChannelCounts returns the open member count per channel. The metrics sink
// reads this at scrape time; slightly stale counts are acceptable.
func (r *Registry) ChannelCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.channels))
	for name, members := range r.channels {
		n := 0
		for _, m := range members {
			if m.Open() {
				n++
			}
		}
		out[name] = n
	}
	return out
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
