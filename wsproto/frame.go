package wsproto

import (
	"encoding/binary"

	"github.com/coregx/meshrpc/xerr"
)

// Payload length encoding thresholds (RFC 6455 Section 5.2).
const (
	payloadLen7Bit  = 125
	payloadLen16Bit = 126
	payloadLen64Bit = 127
)

// MaxControlPayload is RFC 6455's hard limit on control frame payloads.
const MaxControlPayload = 125

// DefaultMaxFramePayload bounds data frame payloads (implementation
// limit, not an RFC requirement).
const DefaultMaxFramePayload = 32 * 1024 * 1024

// Frame is one RFC 6455 WebSocket frame.
type Frame struct {
	Fin              bool
	RSV1, RSV2, RSV3 bool
	Opcode           Opcode
	Masked           bool
	Mask             [4]byte
	Payload          []byte
}

// Decode attempts to parse one frame from buf. Like frame.Decode, it
// returns (0, nil, nil) on a short read: header, extended length, mask,
// and payload each wait for the full byte count before any bytes are
// consumed.
func Decode(buf []byte, maxPayload int) (consumed int, f *Frame, err *xerr.Error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFramePayload
	}

	if len(buf) < 2 {
		return 0, nil, nil
	}

	b0, b1 := buf[0], buf[1]
	fr := &Frame{
		Fin:    b0&0x80 != 0,
		RSV1:   b0&0x40 != 0,
		RSV2:   b0&0x20 != 0,
		RSV3:   b0&0x10 != 0,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&0x80 != 0,
	}

	if !fr.Opcode.Valid() {
		return 0, nil, errInvalidOpcode(byte(fr.Opcode))
	}
	if fr.RSV1 || fr.RSV2 || fr.RSV3 {
		return 0, nil, errReservedBits()
	}
	if fr.Opcode.IsControl() && !fr.Fin {
		return 0, nil, errControlFragmented()
	}

	pos := 2
	payloadLen := uint64(b1 & 0x7F)

	switch payloadLen {
	case payloadLen16Bit:
		if len(buf) < pos+2 {
			return 0, nil, nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
	case payloadLen64Bit:
		if len(buf) < pos+8 {
			return 0, nil, nil
		}
		payloadLen = binary.BigEndian.Uint64(buf[pos : pos+8])
		if payloadLen&(1<<63) != 0 {
			return 0, nil, xerr.ProtocolError("payload length MSB must be 0")
		}
		pos += 8
	}

	if fr.Opcode.IsControl() && payloadLen > MaxControlPayload {
		return 0, nil, errControlTooLarge(int(payloadLen))
	}
	if payloadLen > uint64(maxPayload) {
		return 0, nil, errFrameTooLarge(int(payloadLen))
	}

	if fr.Masked {
		if len(buf) < pos+4 {
			return 0, nil, nil
		}
		copy(fr.Mask[:], buf[pos:pos+4])
		pos += 4
	}

	if len(buf) < pos+int(payloadLen) {
		return 0, nil, nil
	}

	if payloadLen > 0 {
		fr.Payload = make([]byte, payloadLen)
		copy(fr.Payload, buf[pos:pos+int(payloadLen)])
		if fr.Masked {
			ApplyMask(fr.Payload, fr.Mask)
		}
		pos += int(payloadLen)
	}

	return pos, fr, nil
}

// Encode serializes f: header byte1 from fin|rsv|opcode, byte2 from
// mask_bit|length, extended length in 2 or 8 bytes per the standard
// thresholds, mask key if present, then the (optionally masked) payload.
func Encode(f Frame) ([]byte, *xerr.Error) {
	if !f.Opcode.Valid() {
		return nil, errInvalidOpcode(byte(f.Opcode))
	}
	if f.Opcode.IsControl() {
		if !f.Fin {
			return nil, errControlFragmented()
		}
		if len(f.Payload) > MaxControlPayload {
			return nil, errControlTooLarge(len(f.Payload))
		}
	}

	payloadLen := len(f.Payload)

	out := make([]byte, 0, 14+payloadLen)

	var b0 byte
	if f.Fin {
		b0 |= 0x80
	}
	if f.RSV1 {
		b0 |= 0x40
	}
	if f.RSV2 {
		b0 |= 0x20
	}
	if f.RSV3 {
		b0 |= 0x10
	}
	b0 |= byte(f.Opcode) & 0x0F

	var b1 byte
	if f.Masked {
		b1 |= 0x80
	}

	switch {
	case payloadLen <= payloadLen7Bit:
		b1 |= byte(payloadLen)
		out = append(out, b0, b1)
	case payloadLen <= 0xFFFF:
		b1 |= payloadLen16Bit
		out = append(out, b0, b1)
		var lb [2]byte
		binary.BigEndian.PutUint16(lb[:], uint16(payloadLen))
		out = append(out, lb[:]...)
	default:
		b1 |= payloadLen64Bit
		out = append(out, b0, b1)
		var lb [8]byte
		binary.BigEndian.PutUint64(lb[:], uint64(payloadLen))
		out = append(out, lb[:]...)
	}

	if f.Masked {
		out = append(out, f.Mask[:]...)
	}

	if payloadLen > 0 {
		payload := make([]byte, payloadLen)
		copy(payload, f.Payload)
		if f.Masked {
			ApplyMask(payload, f.Mask)
		}
		out = append(out, payload...)
	}

	return out, nil
}

// ApplyMask XORs data in place with mask, cycling every 4 bytes (RFC 6455
// §5.3). It is its own inverse: ApplyMask(ApplyMask(p, m), m) == p.
func ApplyMask(data []byte, mask [4]byte) {
	for i := range data {
		data[i] ^= mask[i%4]
	}
}
