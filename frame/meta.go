package frame

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/coregx/meshrpc/xerr"
)

// PacketType classifies a frame's control block: REQUEST expects a
// RESPONSE, NOTIFICATION does not, RESPONSE carries a reply (possibly a
// failure envelope).
type PacketType uint8

const (
	PacketRequest      PacketType = 1
	PacketResponse     PacketType = 2
	PacketNotification PacketType = 3
)

func (t PacketType) String() string {
	switch t {
	case PacketRequest:
		return "REQUEST"
	case PacketResponse:
		return "RESPONSE"
	case PacketNotification:
		return "NOTIFICATION"
	default:
		return "UNKNOWN"
	}
}

func (t PacketType) valid() bool {
	return t == PacketRequest || t == PacketResponse || t == PacketNotification
}

// Meta is the control block carried by every RPC frame. It is encoded
// protobuf-wire-compatible (field numbers below match what a `.proto`
// Controller message would assign) via the low-level protowire helpers,
// with no codegen step.
type Meta struct {
	PacketType     PacketType
	TransmissionID uint32
	ServiceMethod  string
	ContentSize    uint32
	// Failed marks a RESPONSE whose content is an ErrorEnvelope rather
	// than the decoded response payload.
	Failed bool
}

const (
	fieldPacketType     protowire.Number = 1
	fieldTransmissionID protowire.Number = 2
	fieldServiceMethod  protowire.Number = 3
	fieldContentSize    protowire.Number = 4
	fieldFailed         protowire.Number = 5
)

// EncodeMeta serializes m. packet_type is always written; the other
// fields are omitted at their zero value, same as proto3 field-presence
// semantics.
func EncodeMeta(m Meta) []byte {
	var b []byte

	b = protowire.AppendTag(b, fieldPacketType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.PacketType))

	if m.TransmissionID != 0 {
		b = protowire.AppendTag(b, fieldTransmissionID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.TransmissionID))
	}

	if m.ServiceMethod != "" {
		b = protowire.AppendTag(b, fieldServiceMethod, protowire.BytesType)
		b = protowire.AppendString(b, m.ServiceMethod)
	}

	if m.ContentSize != 0 {
		b = protowire.AppendTag(b, fieldContentSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ContentSize))
	}

	if m.Failed {
		b = protowire.AppendTag(b, fieldFailed, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	return b
}

// DecodeMeta parses a Meta block produced by EncodeMeta. It returns
// *xerr.Error (DecodeError) on malformed input.
func DecodeMeta(b []byte) (Meta, *xerr.Error) {
	var m Meta

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Meta{}, xerr.DecodeError(fmt.Errorf("meta: bad tag: %w", protowire.ParseError(n)))
		}
		b = b[n:]

		switch num {
		case fieldPacketType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Meta{}, xerr.DecodeError(fmt.Errorf("meta: bad packet_type"))
			}
			b = b[n:]
			m.PacketType = PacketType(v)
		case fieldTransmissionID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Meta{}, xerr.DecodeError(fmt.Errorf("meta: bad transmission_id"))
			}
			b = b[n:]
			m.TransmissionID = uint32(v)
		case fieldServiceMethod:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Meta{}, xerr.DecodeError(fmt.Errorf("meta: bad service_method"))
			}
			b = b[n:]
			m.ServiceMethod = v
		case fieldContentSize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Meta{}, xerr.DecodeError(fmt.Errorf("meta: bad content_size"))
			}
			b = b[n:]
			m.ContentSize = uint32(v)
		case fieldFailed:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Meta{}, xerr.DecodeError(fmt.Errorf("meta: bad failed flag"))
			}
			b = b[n:]
			m.Failed = v != 0
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Meta{}, xerr.DecodeError(fmt.Errorf("meta: bad field %d", num))
			}
			b = b[n:]
		}
	}

	if !m.PacketType.valid() {
		return Meta{}, xerr.DecodeError(fmt.Errorf("meta: invalid packet_type %d", m.PacketType))
	}

	return m, nil
}

const (
	fieldErrorCode    protowire.Number = 1
	fieldErrorMessage protowire.Number = 2
)

// ErrorEnvelope is the content payload of a failed RESPONSE: a stable
// numeric code plus a human-readable message.
type ErrorEnvelope struct {
	ErrorCode    int32
	ErrorMessage string
}

func EncodeErrorEnvelope(e ErrorEnvelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldErrorCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(e.ErrorCode)))
	if e.ErrorMessage != "" {
		b = protowire.AppendTag(b, fieldErrorMessage, protowire.BytesType)
		b = protowire.AppendString(b, e.ErrorMessage)
	}
	return b
}

func DecodeErrorEnvelope(b []byte) (ErrorEnvelope, *xerr.Error) {
	var e ErrorEnvelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrorEnvelope{}, xerr.DecodeError(fmt.Errorf("error envelope: bad tag"))
		}
		b = b[n:]
		switch num {
		case fieldErrorCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return ErrorEnvelope{}, xerr.DecodeError(fmt.Errorf("error envelope: bad code"))
			}
			b = b[n:]
			e.ErrorCode = int32(uint32(v))
		case fieldErrorMessage:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return ErrorEnvelope{}, xerr.DecodeError(fmt.Errorf("error envelope: bad message"))
			}
			b = b[n:]
			e.ErrorMessage = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return ErrorEnvelope{}, xerr.DecodeError(fmt.Errorf("error envelope: bad field %d", num))
			}
			b = b[n:]
		}
	}
	return e, nil
}
