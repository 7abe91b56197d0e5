package stream

import (
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coregx/meshrpc/frame"
	"github.com/coregx/meshrpc/xerr"
)

// DefaultMaxConcurrency caps how many accepted connections a Channel
// serves at once. Go's net.Listener has no per-wake "accept batch" hook,
// so the cap is enforced as a semaphore acquired before each Accept
// call, letting the kernel backlog absorb connections past the cap
// until a slot frees.
const DefaultMaxConcurrency = 50000

// DefaultBacklog documents the intended listen backlog for operators
// sizing the OS socket backlog externally (e.g. net.core.somaxconn);
// Go's net.Listen has no parameter accepting a backlog directly.
const DefaultBacklog = 1024

// connIDWrap bounds the conn_id counter: ids are monotonically assigned
// and wrap within this range, never reissuing an in-use id.
const connIDWrap = 1 << 24

// RequestHandler and NotificationHandler process one REQUEST or
// NOTIFICATION frame for a given service method. Request handlers return
// a payload (or an error, surfaced to the caller as an error RESPONSE);
// notification handlers have no reply path.
type RequestHandler func(ctx context.Context, conn *Connection, payload []byte) ([]byte, *xerr.Error)
type NotificationHandler func(ctx context.Context, conn *Connection, payload []byte)

// Channel is the accept/dial/dispatch engine: it owns a listener, the
// live-connection registry, and the method dispatch tables shared by
// every connection it accepts or dials.
type Channel struct {
	logger zerolog.Logger

	maxConcurrency int

	listener net.Listener
	sockPath string // unlinked on Stop if this is a AF_UNIX listener

	mu         sync.RWMutex
	conns      map[uint64]*Connection
	nextConnID atomic.Uint64

	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler

	group  *errgroup.Group
	cancel context.CancelFunc

	sem chan struct{}

	started atomic.Bool
}

// NewChannel constructs an unstarted Channel. Call Listen then Start to
// accept, or Connect to dial out without ever listening.
func NewChannel(logger zerolog.Logger) *Channel {
	return &Channel{
		logger:               logger,
		maxConcurrency:       DefaultMaxConcurrency,
		conns:                make(map[uint64]*Connection),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
	}
}

// SetMaxConcurrency overrides DefaultMaxConcurrency before Start.
func (ch *Channel) SetMaxConcurrency(n int) { ch.maxConcurrency = n }

// HandleRequest registers a request handler for method.
func (ch *Channel) HandleRequest(method string, h RequestHandler) {
	ch.mu.Lock()
	ch.requestHandlers[method] = h
	ch.mu.Unlock()
}

// HandleNotification registers a notification handler for method.
func (ch *Channel) HandleNotification(method string, h NotificationHandler) {
	ch.mu.Lock()
	ch.notificationHandlers[method] = h
	ch.mu.Unlock()
}

// Listen binds address: a path-shaped address (contains "/" or has no
// parseable port) binds AF_UNIX, otherwise AF_INET. Call Start
// afterward to begin accepting.
func (ch *Channel) Listen(address string) error {
	network := "tcp"
	if looksLikeUnixPath(address) {
		network = "unix"
		_ = os.Remove(address)
		ch.sockPath = address
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	l, err := lc.Listen(context.Background(), network, address)
	if err != nil {
		return err
	}
	ch.listener = l
	return nil
}

// setReuseAddr sets SO_REUSEADDR before bind so a restarted listener can
// rebind a recently used address; net.ListenConfig.Control is the
// documented hook for a pre-bind setsockopt.
func setReuseAddr(network, _ string, c syscall.RawConn) error {
	if network == "unix" {
		return nil
	}
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

func looksLikeUnixPath(address string) bool {
	if strings.Contains(address, "/") {
		return true
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return true
	}
	return false
}

// Start launches the accept loop. Safe to call once.
func (ch *Channel) Start() error {
	if ch.listener == nil {
		return xerr.ProtocolError("channel: Start called before Listen")
	}
	if !ch.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	ch.cancel = cancel
	ch.group = group
	ch.sem = make(chan struct{}, ch.maxConcurrency)

	group.Go(func() error {
		return ch.acceptLoop(groupCtx)
	})
	return nil
}

// Stop closes the listener, stops accepting, and closes every live
// connection, then waits for all per-connection goroutines to drain.
func (ch *Channel) Stop() error {
	if ch.cancel != nil {
		ch.cancel()
	}
	if ch.listener != nil {
		_ = ch.listener.Close()
	}
	if ch.sockPath != "" {
		_ = os.Remove(ch.sockPath)
	}

	ch.mu.RLock()
	conns := make([]*Connection, 0, len(ch.conns))
	for _, c := range ch.conns {
		conns = append(conns, c)
	}
	ch.mu.RUnlock()

	// Graceful close so already-queued output (a final broadcast, an
	// in-flight response) still reaches the peer before the socket goes.
	for _, c := range conns {
		c.Close(xerr.ConnectionClosed("channel stopped"), false)
	}
	for _, c := range conns {
		c.Wait()
	}

	if ch.group != nil {
		// acceptLoop returns nil on a clean listener-closed shutdown;
		// only a genuine accept error propagates.
		return ch.group.Wait()
	}
	return nil
}

func (ch *Channel) acceptLoop(ctx context.Context) error {
	for {
		select {
		case ch.sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		sock, err := ch.listener.Accept()
		if err != nil {
			<-ch.sem
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		conn := ch.adopt(sock, true)
		ch.group.Go(func() error {
			ch.runConnection(ctx, conn)
			<-ch.sem
			return nil
		})
	}
}

// Connect dials address (matching Listen's AF_UNIX/AF_INET choice) and
// returns a ready Connection that the caller's own goroutine must drain
// with Recv (or ignore, for a pure RPC client that only awaits
// responses). Dialed connections do not consume the accept semaphore:
// the concurrency cap governs accepted connections only, so a Channel
// that both listens and dials can hold more than maxConcurrency entries
// in its registry.
func (ch *Channel) Connect(ctx context.Context, address string, timeout time.Duration) (*Connection, error) {
	network := "tcp"
	if looksLikeUnixPath(address) {
		network = "unix"
	}

	d := net.Dialer{Timeout: timeout}
	sock, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}

	conn := ch.adopt(sock, false)
	return conn, nil
}

func (ch *Channel) adopt(sock net.Conn, serverSide bool) *Connection {
	id := ch.allocConnID()
	conn := newConnection(id, sock, serverSide, WithLogger(ch.logger))
	conn.SetCloseCallback(func(c *Connection, _ *xerr.Error, _ bool) {
		ch.detach(c.ID)
	})

	ch.mu.Lock()
	ch.conns[id] = conn
	ch.mu.Unlock()

	return conn
}

func (ch *Channel) allocConnID() uint64 {
	for {
		id := ch.nextConnID.Add(1) % connIDWrap
		if id == 0 {
			continue
		}
		ch.mu.RLock()
		_, inUse := ch.conns[id]
		ch.mu.RUnlock()
		if !inUse {
			return id
		}
	}
}

// detach removes a connection from the live registry. Called exactly
// once, from the connection's own close callback, which runs before any
// reference to the connection could otherwise be reclaimed. With
// detach guaranteed to run first, the registry can hold plain
// (*Connection) pointers instead of weak references.
func (ch *Channel) detach(id uint64) {
	ch.mu.Lock()
	delete(ch.conns, id)
	ch.mu.Unlock()
}

// Connections returns a point-in-time snapshot of live connections, safe
// to range over after the call returns even as connections detach
// concurrently.
func (ch *Channel) Connections() []*Connection {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]*Connection, 0, len(ch.conns))
	for _, c := range ch.conns {
		out = append(out, c)
	}
	return out
}

// Broadcast sends a NOTIFICATION for method to every connection in conns
// (or every live connection, if conns is nil). Send errors are logged
// per connection, not returned, since one slow peer must not block the
// others.
func (ch *Channel) Broadcast(conns []*Connection, method string, payload []byte) {
	if conns == nil {
		conns = ch.Connections()
	}
	for _, c := range conns {
		if err := c.SendNotification(method, payload); err != nil {
			ch.logger.Warn().Uint64("conn_id", c.ID).Err(err).Msg("broadcast send failed")
		}
	}
}

// runConnection drains one connection's inbound frames and dispatches
// each to the registered handler, until Recv reports the connection is
// gone.
func (ch *Channel) runConnection(ctx context.Context, conn *Connection) {
	for {
		f, err := conn.Recv()
		if err != nil {
			return
		}
		ch.dispatchFrame(ctx, conn, f)
	}
}

func (ch *Channel) dispatchFrame(ctx context.Context, conn *Connection, f *frame.Frame) {
	switch f.Meta.PacketType {
	case frame.PacketRequest:
		ch.mu.RLock()
		h, ok := ch.requestHandlers[f.Meta.ServiceMethod]
		ch.mu.RUnlock()
		if !ok {
			_ = conn.SendErrorResponse(f.Meta.TransmissionID, xerr.CodeProtocolError, "unknown method: "+f.Meta.ServiceMethod)
			return
		}
		resp, herr := h(ctx, conn, f.Payload)
		if herr != nil {
			_ = conn.SendErrorResponse(f.Meta.TransmissionID, herr.Code, herr.Message)
			return
		}
		_ = conn.SendResponse(f.Meta.TransmissionID, resp)

	case frame.PacketNotification:
		if f.Meta.ServiceMethod == heartbeatMethod {
			return
		}
		ch.mu.RLock()
		h, ok := ch.notificationHandlers[f.Meta.ServiceMethod]
		ch.mu.RUnlock()
		if ok {
			h(ctx, conn, f.Payload)
		}
	}
}
