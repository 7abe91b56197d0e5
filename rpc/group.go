package rpc

import (
	"sync"

	"github.com/coregx/meshrpc/stream"
	"github.com/coregx/meshrpc/xerr"
)

// Group is a named, mutable set of connections a caller can broadcast to
// without re-collecting them each time.
//
// Unlike stream.Channel's own connection registry, a Group does not detach
// a connection automatically on close: stream.Connection exposes a single
// close-callback slot, and Channel.adopt already claims it for every
// connection it owns, so Group has no slot of its own to hook. Callers that
// want membership to track a connection's lifecycle must wire that
// explicitly with Watch.
type Group struct {
	mu    sync.RWMutex
	conns map[uint64]*stream.Connection
}

// NewGroup returns an empty, ready-to-use Group.
func NewGroup() *Group {
	return &Group{conns: make(map[uint64]*stream.Connection)}
}

// Add registers conn in the group. Safe to call multiple times for the
// same connection. Membership is not removed automatically when conn
// closes; see Watch.
func (g *Group) Add(conn *stream.Connection) {
	g.mu.Lock()
	_, already := g.conns[conn.ID]
	if !already {
		g.conns[conn.ID] = conn
	}
	g.mu.Unlock()
}

// Remove unregisters conn, if present.
func (g *Group) Remove(conn *stream.Connection) {
	g.mu.Lock()
	delete(g.conns, conn.ID)
	g.mu.Unlock()
}

// Watch returns a stream.CloseCallback that removes conn from the group
// and then invokes next, if non-nil. Since stream.Connection has only one
// close-callback slot, a caller that wants a connection to self-remove
// from the group on close must chain it this way, typically by wrapping
// whatever callback the owning stream.Channel would otherwise install:
//
//	conn.SetCloseCallback(group.Watch(conn, existingCallback))
func (g *Group) Watch(conn *stream.Connection, next stream.CloseCallback) stream.CloseCallback {
	return func(c *stream.Connection, reason *xerr.Error, reset bool) {
		g.Remove(c)
		if next != nil {
			next(c, reason, reset)
		}
	}
}

// Len reports the current membership count.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Members returns a point-in-time snapshot, safe to range over.
func (g *Group) Members() []*stream.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*stream.Connection, 0, len(g.conns))
	for _, c := range g.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends a NOTIFICATION for method to every member.
func (g *Group) Broadcast(method string, payload []byte) []*xerr.Error {
	var errs []*xerr.Error
	for _, c := range g.Members() {
		if err := c.SendNotification(method, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
