// Package rpc is the call-site layer built on top of stream.Connection
// and stream.Channel: Stub for statically bound call sites, Agent for
// dynamic name-keyed dispatch, and Group for named broadcast sets.
package rpc

import (
	"context"
	"time"

	"github.com/coregx/meshrpc/stream"
	"github.com/coregx/meshrpc/xerr"
)

// DefaultTimeout bounds a Call that neither the context nor the stub
// configuration gives a tighter deadline.
const DefaultTimeout = 30 * time.Second

// Stub binds a set of remote methods to a single default connection.
// Call sites are built with Call and Notify rather than generated
// per-method functions, since this package has no .proto descriptors to
// iterate at construction time; Invoke is the ahead-of-time typed
// alternative.
type Stub struct {
	conn    *stream.Connection
	timeout time.Duration
}

// NewStub binds a stub to conn. Call and Notify always send on this
// connection; they take no connection argument. A nil conn is valid for
// a stub that only ever broadcasts: Call and Notify on it return
// NoConnection, and Broadcast takes its connections as an argument.
func NewStub(conn *stream.Connection, timeout time.Duration) *Stub {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Stub{conn: conn, timeout: timeout}
}

// Call sends a REQUEST for method and blocks for the matching RESPONSE,
// honoring ctx's deadline and falling back to the stub's configured
// timeout if ctx has none. On expiry the pending slot is dropped, so a
// late response is discarded.
func (s *Stub) Call(ctx context.Context, method string, payload []byte) ([]byte, *xerr.Error) {
	if s.conn == nil {
		return nil, xerr.NoConnection()
	}
	return call(ctx, s.conn, method, payload, s.timeout)
}

// Notify sends a NOTIFICATION for method on the stub's connection; there
// is no response to await.
func (s *Stub) Notify(method string, payload []byte) *xerr.Error {
	if s.conn == nil {
		return xerr.NoConnection()
	}
	return s.conn.SendNotification(method, payload)
}

// Broadcast sends a NOTIFICATION for method to every connection in
// conns. No response correlation is performed; send failures are
// per-connection and do not stop the remaining sends.
func (s *Stub) Broadcast(conns []*stream.Connection, method string, payload []byte) []*xerr.Error {
	var errs []*xerr.Error
	for _, c := range conns {
		if err := c.SendNotification(method, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// call is the shared request/await/timeout machinery behind Stub.Call
// and Agent's dynamically dispatched rpc closures.
func call(ctx context.Context, conn *stream.Connection, method string, payload []byte, timeout time.Duration) ([]byte, *xerr.Error) {
	id := conn.AllocateTransmissionID()
	resultCh := conn.AwaitResponse(id)

	if err := conn.SendRequest(id, method, payload); err != nil {
		conn.DropTransmission(id)
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	var timer *time.Timer
	if ok {
		timer = time.NewTimer(time.Until(deadline))
	} else {
		timer = time.NewTimer(timeout)
	}
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.Payload, res.Err
	case <-timer.C:
		conn.DropTransmission(id)
		return nil, xerr.Timeout(method)
	case <-ctx.Done():
		conn.DropTransmission(id)
		return nil, xerr.Timeout(method)
	}
}
