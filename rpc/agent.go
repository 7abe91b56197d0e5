package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/meshrpc/stream"
	"github.com/coregx/meshrpc/xerr"
)

// Agent is the dynamic-dispatch counterpart to Stub: call by method
// name rather than through per-method bound functions. The only
// per-method state worth caching in Go is a timeout override; the
// generic send-and-await machinery is shared with Stub.
type Agent struct {
	conn    *stream.Connection
	timeout time.Duration

	mu            sync.Mutex
	methodTimeout map[string]time.Duration
}

// NewAgent binds an Agent to conn with a default per-call timeout.
func NewAgent(conn *stream.Connection, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Agent{conn: conn, timeout: timeout, methodTimeout: make(map[string]time.Duration)}
}

// SetMethodTimeout overrides the per-call timeout for one method name,
// used by call sites that know a particular RPC is slow or fast.
func (a *Agent) SetMethodTimeout(method string, timeout time.Duration) {
	a.mu.Lock()
	a.methodTimeout[method] = timeout
	a.mu.Unlock()
}

// Call dynamically dispatches method by name. Prefer Invoke for call
// sites known ahead of time.
func (a *Agent) Call(ctx context.Context, method string, payload []byte) ([]byte, *xerr.Error) {
	if a.conn == nil {
		return nil, xerr.NoConnection()
	}

	a.mu.Lock()
	timeout, ok := a.methodTimeout[method]
	a.mu.Unlock()
	if !ok {
		timeout = a.timeout
	}

	return call(ctx, a.conn, method, payload, timeout)
}

// Notify dynamically dispatches a fire-and-forget notification.
func (a *Agent) Notify(method string, payload []byte) *xerr.Error {
	if a.conn == nil {
		return xerr.NoConnection()
	}
	return a.conn.SendNotification(method, payload)
}

// Invoke builds a strongly-typed call site ahead of time: a caller
// supplies its own request/response encode/decode and gets back a
// type-safe wrapper over Agent.Call.
func Invoke[Req, Resp any](a *Agent, method string, encode func(Req) []byte, decode func([]byte) (Resp, *xerr.Error)) func(context.Context, Req) (Resp, *xerr.Error) {
	return func(ctx context.Context, req Req) (Resp, *xerr.Error) {
		var zero Resp
		payload, err := a.Call(ctx, method, encode(req))
		if err != nil {
			return zero, err
		}
		return decode(payload)
	}
}
