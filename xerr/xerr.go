// Package xerr is the error taxonomy shared by frame, wsproto, stream,
// and rpc: a process-wide registry mapping a stable numeric code to a
// reconstructible error, so a failed RPC response can be rebuilt as the
// same error on the caller's side.
package xerr

import (
	"fmt"
	"sync"
)

// Kind groups errors into protocol, transport, liveness, remote, and
// caller errors.
type Kind int

const (
	KindProtocol Kind = iota + 1
	KindTransport
	KindLiveness
	KindRemote
	KindCaller
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol"
	case KindTransport:
		return "transport"
	case KindLiveness:
		return "liveness"
	case KindRemote:
		return "remote"
	case KindCaller:
		return "caller"
	default:
		return "unknown"
	}
}

// Error is the common shape for every registered error: a stable code,
// a kind, and a formattable message.
type Error struct {
	Code    int32
	Kind    Kind
	Name    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s][code|%d][%s] %s", e.Kind, e.Code, e.Name, e.Message)
}

// New builds an *Error of the given registered kind/name/code. Callers
// normally go through the convenience constructors below or
// Registry.Reconstruct rather than calling this directly.
func New(code int32, kind Kind, name, message string) *Error {
	return &Error{Code: code, Kind: kind, Name: name, Message: message}
}

// Constructor builds a fresh *Error for a given runtime message. Registered
// once per code; invoked by Registry.Reconstruct when a RESPONSE frame
// carries a Failed meta and an error envelope.
type Constructor func(message string) *Error

// Registry is a duplicate-checked code -> constructor table. One
// Registry is process-global (see Default); tests may build their own to
// avoid cross-test interference.
type Registry struct {
	mu    sync.RWMutex
	byCode map[int32]Constructor
	names  map[int32]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byCode: make(map[int32]Constructor),
		names:  make(map[int32]string),
	}
}

// Register associates code with a constructor. It returns an error on a
// duplicate code instead of panicking so callers that register at init()
// time can decide how to fail.
func (r *Registry) Register(code int32, name string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.names[code]; ok {
		return fmt.Errorf("xerr: duplicate exception code %d: %s already registered as %s", code, name, existing)
	}

	r.byCode[code] = func(message string) *Error {
		return New(code, kind, name, message)
	}
	r.names[code] = name
	return nil
}

// Reconstruct rebuilds the error registered under code, or a generic
// RemoteError if code is unknown.
func (r *Registry) Reconstruct(code int32, message string) *Error {
	r.mu.RLock()
	ctor, ok := r.byCode[code]
	r.mu.RUnlock()

	if !ok {
		return New(code, KindRemote, "RemoteError", message)
	}
	return ctor(message)
}

// Default is the process-wide registry. stream.Connection reconstructs
// the errors carried by failed RESPONSE frames through it; no component
// takes a Registry of its own.
var Default = NewRegistry()

// Well-known codes. 0 is reserved for "unregistered" (never assigned).
const (
	CodePacketTooLarge  int32 = 1
	CodeProtocolError   int32 = 2
	CodeFrameTooLarge   int32 = 3
	CodeDecodeError     int32 = 4
	CodeHeartbeatTimeout int32 = 5
	CodeTimeout         int32 = 6
	CodeNoConnection    int32 = 7
	CodeConnectionClosed int32 = 8
	CodeRemoteError     int32 = 9
)

func mustRegister(code int32, name string, kind Kind) {
	if err := Default.Register(code, name, kind); err != nil {
		panic(err)
	}
}

func init() {
	mustRegister(CodePacketTooLarge, "PacketTooLarge", KindProtocol)
	mustRegister(CodeProtocolError, "ProtocolError", KindProtocol)
	mustRegister(CodeFrameTooLarge, "FrameTooLarge", KindProtocol)
	mustRegister(CodeDecodeError, "DecodeError", KindProtocol)
	mustRegister(CodeHeartbeatTimeout, "HeartbeatTimeout", KindLiveness)
	mustRegister(CodeTimeout, "Timeout", KindCaller)
	mustRegister(CodeNoConnection, "NoConnection", KindCaller)
	mustRegister(CodeConnectionClosed, "ConnectionClosed", KindCaller)
	mustRegister(CodeRemoteError, "RemoteError", KindRemote)
}

// Convenience constructors for the well-known errors, used throughout
// frame/stream/rpc instead of ad-hoc errors.New calls.

func PacketTooLarge(declaredLen, max int) *Error {
	return New(CodePacketTooLarge, KindProtocol, "PacketTooLarge",
		fmt.Sprintf("declared length %d exceeds MAX_PACKET_LENGTH %d", declaredLen, max))
}

func ProtocolError(format string, args ...any) *Error {
	return New(CodeProtocolError, KindProtocol, "ProtocolError", fmt.Sprintf(format, args...))
}

func FrameTooLarge(n int) *Error {
	return New(CodeFrameTooLarge, KindProtocol, "FrameTooLarge", fmt.Sprintf("frame length %d exceeds limit", n))
}

func DecodeError(cause error) *Error {
	msg := "malformed frame"
	if cause != nil {
		msg = cause.Error()
	}
	return New(CodeDecodeError, KindProtocol, "DecodeError", msg)
}

func HeartbeatTimeout(local, peer string) *Error {
	return New(CodeHeartbeatTimeout, KindLiveness, "HeartbeatTimeout",
		fmt.Sprintf("no traffic from peer %s (local %s)", peer, local))
}

func Timeout(method string) *Error {
	return New(CodeTimeout, KindCaller, "Timeout", fmt.Sprintf("rpc %q timed out", method))
}

func NoConnection() *Error {
	return New(CodeNoConnection, KindCaller, "NoConnection", "stub has no connection to send on")
}

func ConnectionClosed(reason string) *Error {
	msg := "connection closed"
	if reason != "" {
		msg = reason
	}
	return New(CodeConnectionClosed, KindCaller, "ConnectionClosed", msg)
}

func RemoteError(message string) *Error {
	return New(CodeRemoteError, KindRemote, "RemoteError", message)
}
