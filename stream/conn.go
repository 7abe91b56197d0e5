// Package stream implements the connection/framing/dispatch engine:
// Connection owns one socket's send queue, receive buffer, heartbeat
// state machine, and transmission table; Channel owns listening/dialing
// and the live-connection registry.
package stream

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coregx/meshrpc/frame"
	"github.com/coregx/meshrpc/xerr"
)

// MaxSend bounds how many queued outbound frames the writer goroutine
// drains in one wake before flushing and yielding back to select. Under
// Go's blocking net.Conn.Write the kernel already serializes writes, so
// this mostly bounds how much a single flush can batch rather than
// relieving real backpressure.
const MaxSend = 5

// DefaultSendQueueSize is the outbound channel's buffer capacity.
const DefaultSendQueueSize = 256

// DefaultRecvQueueSize is the inbound (non-RESPONSE) channel's buffer
// capacity; Channel's dispatcher drains it.
const DefaultRecvQueueSize = 64

// drainTimeout bounds how long a graceful Close waits for the writer
// goroutine to flush queued output before the socket is closed anyway.
const drainTimeout = 5 * time.Second

type connState int32

const (
	stateOpen connState = iota
	stateClosing
	stateClosed
)

// CloseCallback is invoked exactly once when a Connection finishes
// closing. reset is true when the close discarded queued output rather
// than draining it.
type CloseCallback func(c *Connection, reason *xerr.Error, reset bool)

// Connection is one RPC peer: a socket plus the send/receive machinery,
// heartbeat state, and transmission table. Callers normally obtain one
// via Channel.Connect or a Channel's accept loop.
type Connection struct {
	ID         uint64
	ServerSide bool

	sock      net.Conn
	localAddr string
	peerAddr  string
	maxPacket int

	sendCh     chan []byte
	recvCh     chan *frame.Frame
	closedCh   chan struct{}
	drainCh    chan struct{}
	writerDone chan struct{}

	state atomic.Int32

	transmissions      *transmissionTable
	nextTransmissionID atomic.Uint32

	closeOnce sync.Once
	closeCB   CloseCallback
	closeMu   sync.Mutex // serializes access to closeCB during SetCloseCallback

	hbMu         sync.Mutex
	lastActivity time.Time
	lastTick     time.Time

	log zerolog.Logger

	wg sync.WaitGroup
}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithMaxPacketLength overrides frame.DefaultMaxPacketLength for this
// connection.
func WithMaxPacketLength(n int) Option {
	return func(c *Connection) { c.maxPacket = n }
}

// WithLogger attaches a structured logger; the zero value is a disabled
// logger (matches zerolog's own default).
func WithLogger(l zerolog.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// newConnection wraps an already-connected socket. id is assigned by the
// owning Channel, or chosen by the caller of NewStandaloneConnection.
func newConnection(id uint64, sock net.Conn, serverSide bool, opts ...Option) *Connection {
	c := &Connection{
		ID:            id,
		ServerSide:    serverSide,
		sock:          sock,
		localAddr:     sock.LocalAddr().String(),
		peerAddr:      sock.RemoteAddr().String(),
		maxPacket:     frame.DefaultMaxPacketLength,
		sendCh:        make(chan []byte, DefaultSendQueueSize),
		recvCh:        make(chan *frame.Frame, DefaultRecvQueueSize),
		closedCh:      make(chan struct{}),
		drainCh:       make(chan struct{}),
		writerDone:    make(chan struct{}),
		transmissions: newTransmissionTable(),
		lastActivity:  time.Now(),
		lastTick:      time.Now(),
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if tc, ok := sock.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()

	return c
}

// NewStandaloneConnection wraps an already-connected socket without any
// owning Channel, for a client that only ever calls Stub/Agent methods
// and never needs Channel's registry or accept loop, or for tests.
func NewStandaloneConnection(id uint64, sock net.Conn, serverSide bool, opts ...Option) *Connection {
	return newConnection(id, sock, serverSide, opts...)
}

// SetCloseCallback registers the single callback invoked when Close
// completes. Must be called before the connection can close (typically
// right after construction, by the owning Channel).
func (c *Connection) SetCloseCallback(cb CloseCallback) {
	c.closeMu.Lock()
	c.closeCB = cb
	c.closeMu.Unlock()
}

// LocalAddr and PeerAddr expose the socket's endpoints for logging and
// diagnostics.
func (c *Connection) LocalAddr() string { return c.localAddr }
func (c *Connection) PeerAddr() string  { return c.peerAddr }

// IsClosed reports whether the connection has finished closing.
func (c *Connection) IsClosed() bool {
	return connState(c.state.Load()) == stateClosed
}

// Wait blocks until both the read and write goroutines have exited,
// which happens after Close (or a fatal socket error) tears the
// connection down. Used by Channel.Stop to drain cleanly.
func (c *Connection) Wait() {
	c.wg.Wait()
}

// EnableServerHeartbeat starts the timeout-counting side of the liveness
// state machine. Call once, server-side.
func (c *Connection) EnableServerHeartbeat(interval time.Duration, maxTimeouts int) {
	go c.runServerHeartbeat(interval, maxTimeouts)
}

// EnableClientHeartbeat starts sending periodic heartbeat notifications.
// Call once, client-side.
func (c *Connection) EnableClientHeartbeat(interval time.Duration) {
	go c.runClientHeartbeat(interval)
}

// AllocateTransmissionID returns the next id to use for a REQUEST:
// post-increment, so the first id is 0, wrapping uint32 naturally.
func (c *Connection) AllocateTransmissionID() uint32 {
	return c.nextTransmissionID.Add(1) - 1
}

// AwaitResponse registers id in the transmission table and returns the
// channel its Result will arrive on. Call before writing the REQUEST
// frame so a fast reply can never race the registration.
func (c *Connection) AwaitResponse(id uint32) <-chan Result {
	return c.transmissions.insert(id)
}

// DropTransmission removes id without completing it; used by a caller's
// own timeout path so a late RESPONSE is dropped.
func (c *Connection) DropTransmission(id uint32) {
	c.transmissions.remove(id)
}

// SendRequest writes a REQUEST frame for method carrying payload.
func (c *Connection) SendRequest(id uint32, method string, payload []byte) *xerr.Error {
	return c.send(frame.Meta{PacketType: frame.PacketRequest, TransmissionID: id, ServiceMethod: method}, payload)
}

// sendNotification writes a NOTIFICATION frame, which expects no reply.
func (c *Connection) sendNotification(method string, payload []byte) *xerr.Error {
	return c.send(frame.Meta{PacketType: frame.PacketNotification, ServiceMethod: method}, payload)
}

// SendNotification is the exported form used by rpc.Stub and Channel
// broadcast paths.
func (c *Connection) SendNotification(method string, payload []byte) *xerr.Error {
	return c.sendNotification(method, payload)
}

// SendResponse writes a successful RESPONSE for transmission id.
func (c *Connection) SendResponse(id uint32, payload []byte) *xerr.Error {
	return c.send(frame.Meta{PacketType: frame.PacketResponse, TransmissionID: id}, payload)
}

// SendErrorResponse writes a failed RESPONSE carrying an ErrorEnvelope.
func (c *Connection) SendErrorResponse(id uint32, errCode int32, message string) *xerr.Error {
	payload := frame.EncodeErrorEnvelope(frame.ErrorEnvelope{ErrorCode: errCode, ErrorMessage: message})
	return c.send(frame.Meta{PacketType: frame.PacketResponse, TransmissionID: id, Failed: true}, payload)
}

func (c *Connection) send(meta frame.Meta, payload []byte) *xerr.Error {
	if connState(c.state.Load()) != stateOpen {
		return xerr.ConnectionClosed("")
	}

	encoded, err := frame.Encode(meta, payload, c.maxPacket)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- encoded:
		return nil
	case <-c.closedCh:
		return xerr.ConnectionClosed("")
	}
}

// Recv returns the next fully decoded REQUEST or NOTIFICATION frame.
// RESPONSE frames never surface here; they are routed straight to the
// transmission table by readLoop. Returns ConnectionClosed once the
// connection is gone and every buffered frame has been drained.
func (c *Connection) Recv() (*frame.Frame, *xerr.Error) {
	f, ok := <-c.recvCh
	if !ok {
		return nil, xerr.ConnectionClosed("")
	}
	return f, nil
}

// writeLoop is the single writer goroutine: it owns c.sock.Write calls so
// frames are never interleaved, and drains up to MaxSend queued frames
// per wake before flushing. A graceful Close signals drainCh, at which
// point the loop flushes whatever the queue still holds and exits; a
// reset close signals closedCh and abandons the queue.
func (c *Connection) writeLoop() {
	defer c.wg.Done()
	defer close(c.writerDone)
	w := bufio.NewWriter(c.sock)

	for {
		select {
		case first := <-c.sendCh:
			batch := [][]byte{first}
		drain:
			for len(batch) < MaxSend {
				select {
				case b := <-c.sendCh:
					batch = append(batch, b)
				default:
					break drain
				}
			}
			for _, b := range batch {
				if _, err := w.Write(b); err != nil {
					c.Close(xerr.ConnectionClosed(err.Error()), true)
					return
				}
			}
			if err := w.Flush(); err != nil {
				c.Close(xerr.ConnectionClosed(err.Error()), true)
				return
			}
		case <-c.drainCh:
			c.flushRemaining(w)
			return
		case <-c.closedCh:
			return
		}
	}
}

// flushRemaining empties whatever the send queue still holds when a
// graceful close begins, then flushes the buffered writer. Write errors
// end the drain early; the socket is about to be closed regardless.
func (c *Connection) flushRemaining(w *bufio.Writer) {
	for {
		select {
		case b := <-c.sendCh:
			if _, err := w.Write(b); err != nil {
				return
			}
		default:
			_ = w.Flush()
			return
		}
	}
}

// readLoop owns the per-connection receive buffer: it blocks on
// c.sock.Read, appends into a growable buffer, and repeatedly calls
// frame.Decode to peel off complete frames, dispatching RESPONSE frames
// to the transmission table and everything else to recvCh. Partial reads
// leave the buffer intact for the next Read; frames surface in exactly
// the order they were decoded.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer close(c.recvCh)

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		n, err := c.sock.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)

			for {
				consumed, f, derr := frame.Decode(buf, c.maxPacket)
				if derr != nil {
					c.Close(derr, true)
					return
				}
				if f == nil {
					break
				}
				buf = buf[consumed:]
				c.noteActivity()
				c.dispatch(f)
			}
		}
		if err != nil {
			c.Close(xerr.ConnectionClosed(err.Error()), false)
			return
		}
	}
}

func (c *Connection) dispatch(f *frame.Frame) {
	if f.Meta.PacketType == frame.PacketResponse {
		if f.Meta.Failed {
			env, derr := frame.DecodeErrorEnvelope(f.Payload)
			if derr != nil {
				c.transmissions.fail(f.Meta.TransmissionID, derr)
				return
			}
			c.transmissions.fail(f.Meta.TransmissionID, xerr.Default.Reconstruct(env.ErrorCode, env.ErrorMessage))
			return
		}
		c.transmissions.complete(f.Meta.TransmissionID, f.Payload)
		return
	}

	select {
	case c.recvCh <- f:
	case <-c.closedCh:
	}
}

// Close is idempotent: only the first caller's reason/reset win, and
// closeCB fires exactly once. reset discards queued output immediately
// (SO_LINGER 0 on TCP); a graceful close waits for the writer goroutine
// to flush what's already queued, bounded by drainTimeout, before the
// socket is closed. New sends are refused as soon as Close begins.
func (c *Connection) Close(reason *xerr.Error, reset bool) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosing))

		if reason == nil {
			reason = xerr.ConnectionClosed("")
		}

		if reset {
			if tc, ok := c.sock.(*net.TCPConn); ok {
				_ = tc.SetLinger(0)
			}
		} else {
			_ = c.sock.SetWriteDeadline(time.Now().Add(drainTimeout))
			close(c.drainCh)
			select {
			case <-c.writerDone:
			case <-time.After(drainTimeout):
			}
		}
		close(c.closedCh)
		_ = c.sock.Close()

		c.transmissions.failAll(reason)
		c.state.Store(int32(stateClosed))

		c.log.Info().
			Uint64("conn_id", c.ID).
			Str("peer_addr", c.peerAddr).
			Str("local_addr", c.localAddr).
			Bool("reset", reset).
			AnErr("reason", errOrNil(reason)).
			Msg("connection closed")

		c.closeMu.Lock()
		cb := c.closeCB
		c.closeMu.Unlock()
		if cb != nil {
			cb(c, reason, reset)
		}
	})
}

func errOrNil(e *xerr.Error) error {
	if e == nil {
		return nil
	}
	return e
}
