package stream

import (
	"testing"
	"time"

	"github.com/coregx/meshrpc/xerr"
)

// TestServerHeartbeatTimeoutClosesCleanly: after maxTimeouts consecutive
// silent intervals with no traffic at all, the server side closes with
// HeartbeatTimeout, and that close must be clean (reset=false), not a
// reset.
func TestServerHeartbeatTimeoutClosesCleanly(t *testing.T) {
	client, server := pipeConns(t)
	_ = client // kept alive only so the pipe stays open; no traffic is sent on it

	closed := make(chan *xerr.Error, 1)
	var reset bool
	server.SetCloseCallback(func(_ *Connection, reason *xerr.Error, r bool) {
		reset = r
		closed <- reason
	})

	const interval = 30 * time.Millisecond
	const maxTimeouts = 3
	server.EnableServerHeartbeat(interval, maxTimeouts)

	select {
	case reason := <-closed:
		if reason == nil || reason.Code != xerr.CodeHeartbeatTimeout {
			t.Fatalf("close reason = %v, want HeartbeatTimeout", reason)
		}
		if reset {
			t.Fatal("HeartbeatTimeout must close cleanly (reset=false)")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to close on heartbeat timeout")
	}
}

// TestServerHeartbeatResetByTraffic: any traffic within an interval
// resets the timeout counter, so a connection with traffic faster than
// the heartbeat interval never closes.
func TestServerHeartbeatResetByTraffic(t *testing.T) {
	client, server := pipeConns(t)

	closed := make(chan *xerr.Error, 1)
	server.SetCloseCallback(func(_ *Connection, reason *xerr.Error, _ bool) {
		closed <- reason
	})

	const interval = 30 * time.Millisecond
	const maxTimeouts = 3
	server.EnableServerHeartbeat(interval, maxTimeouts)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(interval / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := client.SendNotification(heartbeatMethod, nil); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	// Drain the server's receive queue so traffic isn't backed up behind an
	// unread heartbeat notification (dispatchFrame's job, normally; here we
	// only need noteActivity, which already fired before the frame reached
	// recvCh).
	go func() {
		for {
			if _, err := server.Recv(); err != nil {
				return
			}
		}
	}()

	select {
	case reason := <-closed:
		t.Fatalf("connection closed (%v) despite continuous traffic resetting the heartbeat counter", reason)
	case <-time.After(interval * (maxTimeouts + 2)):
		// Survived past what maxTimeouts consecutive silent intervals would
		// have allowed: traffic kept resetting the counter, as required.
	}
}
