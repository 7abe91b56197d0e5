package stream

import (
	"time"

	"github.com/coregx/meshrpc/xerr"
)

// Heartbeat method name carried in a NOTIFICATION frame's ServiceMethod.
// Any frame at all resets the peer's liveness counter; this is sent by a
// client with no other traffic so the server side still sees activity.
const heartbeatMethod = "__heartbeat__"

// runServerHeartbeat drives liveness off a periodic timer rather than
// per-packet timestamp comparison: every interval, if no frame arrived
// since the previous tick, bump a timeout counter; any traffic resets
// it. Reaching maxTimeouts closes the connection with HeartbeatTimeout.
func (c *Connection) runServerHeartbeat(interval time.Duration, maxTimeouts int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeouts := 0
	for {
		select {
		case <-ticker.C:
			c.hbMu.Lock()
			seenSinceTick := c.lastActivity.After(c.lastTick)
			c.lastTick = time.Now()
			c.hbMu.Unlock()

			if seenSinceTick {
				timeouts = 0
				continue
			}
			timeouts++
			if timeouts >= maxTimeouts {
				// Liveness failures drain-then-close, not reset.
				c.Close(xerr.HeartbeatTimeout(c.localAddr, c.peerAddr), false)
				return
			}
		case <-c.closedCh:
			return
		}
	}
}

// runClientHeartbeat sends a heartbeat NOTIFICATION every interval so a
// connection with no application traffic still looks alive to the
// server's runServerHeartbeat.
func (c *Connection) runClientHeartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = c.sendNotification(heartbeatMethod, nil)
		case <-c.closedCh:
			return
		}
	}
}

// noteActivity records that a frame was just received, for the server
// heartbeat's "any traffic resets the counter" rule.
func (c *Connection) noteActivity() {
	c.hbMu.Lock()
	c.lastActivity = time.Now()
	c.hbMu.Unlock()
}
