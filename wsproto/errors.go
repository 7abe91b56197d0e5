package wsproto

import "github.com/coregx/meshrpc/xerr"

// Protocol-level failures during frame decode.

func errReservedBits() *xerr.Error {
	return xerr.ProtocolError("reserved bits must be 0")
}

func errInvalidOpcode(op byte) *xerr.Error {
	return xerr.ProtocolError("invalid opcode 0x%X", op)
}

func errControlFragmented() *xerr.Error {
	return xerr.ProtocolError("control frame must not be fragmented")
}

func errControlTooLarge(n int) *xerr.Error {
	return xerr.FrameTooLarge(n)
}

func errFrameTooLarge(n int) *xerr.Error {
	return xerr.FrameTooLarge(n)
}

// Handshake-level failures.

func errInvalidMethod() *xerr.Error       { return xerr.ProtocolError("handshake method must be GET") }
func errMissingUpgrade() *xerr.Error      { return xerr.ProtocolError("missing or invalid Upgrade header") }
func errMissingConnection() *xerr.Error   { return xerr.ProtocolError("missing or invalid Connection header") }
func errUnsupportedVersion(v string) *xerr.Error {
	return xerr.ProtocolError("unsupported Sec-WebSocket-Version %q", v)
}
func errMissingSecKey() *xerr.Error  { return xerr.ProtocolError("missing Sec-WebSocket-Key header") }
func errBadStatus(code int) *xerr.Error {
	return xerr.ProtocolError("handshake response status %d, want 101", code)
}
func errAcceptMismatch() *xerr.Error { return xerr.ProtocolError("Sec-WebSocket-Accept mismatch") }
func errHeaderTooLarge() *xerr.Error { return xerr.ProtocolError("handshake header line exceeds MaxHeaderSize") }
