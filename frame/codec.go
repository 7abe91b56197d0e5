// Package frame implements the length-prefixed wire framing used for RPC
// traffic: a fixed-width header (parser tag + meta length) followed by a
// protobuf-wire-compatible meta block and an optional opaque content
// payload.
//
// The buffering/partial-read handling itself lives in stream.Connection;
// this package only encodes and decodes whole, already-buffered frames.
package frame

import (
	"encoding/binary"

	"github.com/coregx/meshrpc/xerr"
)

// HeaderLength is the fixed-width prefix: 1 byte parser tag + 4 bytes
// big-endian meta length.
const HeaderLength = 1 + 4

// DefaultMaxPacketLength bounds meta length + content size per frame;
// configurable per connection.
const DefaultMaxPacketLength = 8 * 1024

// ParserTag selects the codec used for the meta block. ParserTagProtobuf
// is the only tag this package understands; it exists as a field so a
// future parser can be distinguished on the wire without changing the
// header shape.
type ParserTag uint8

const ParserTagProtobuf ParserTag = 1

// Frame is a fully decoded schema-family frame.
type Frame struct {
	ParserTag ParserTag
	Meta      Meta
	Payload   []byte
}

// Encode produces header, then the serialized meta block, then payload.
// meta's ContentSize is set to len(payload) automatically; callers should
// not populate it themselves. maxPacketLength bounds meta length plus
// content size; a value <= 0 falls back to DefaultMaxPacketLength,
// matching Decode's own default handling so both directions of a
// connection's codec share one configured bound.
func Encode(meta Meta, payload []byte, maxPacketLength int) ([]byte, *xerr.Error) {
	if maxPacketLength <= 0 {
		maxPacketLength = DefaultMaxPacketLength
	}

	meta.ContentSize = uint32(len(payload))
	metaBytes := EncodeMeta(meta)

	if len(metaBytes)+len(payload) > maxPacketLength {
		return nil, xerr.PacketTooLarge(len(metaBytes)+len(payload), maxPacketLength)
	}

	out := make([]byte, 0, HeaderLength+len(metaBytes)+len(payload))
	out = append(out, byte(ParserTagProtobuf))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(metaBytes)))
	out = append(out, lenBuf[:]...)
	out = append(out, metaBytes...)
	out = append(out, payload...)
	return out, nil
}

// Decode attempts to parse one frame from buf. It returns (0, nil, nil)
// when buf doesn't yet hold a complete frame; the caller must keep
// buffering. A non-nil *xerr.Error is fatal to the connection
// (PacketTooLarge / DecodeError).
func Decode(buf []byte, maxPacketLength int) (consumed int, f *Frame, err *xerr.Error) {
	if maxPacketLength <= 0 {
		maxPacketLength = DefaultMaxPacketLength
	}

	if len(buf) < HeaderLength {
		return 0, nil, nil
	}

	tag := ParserTag(buf[0])
	metaLen := int(binary.BigEndian.Uint32(buf[1:HeaderLength]))

	if metaLen > maxPacketLength {
		return 0, nil, xerr.PacketTooLarge(metaLen, maxPacketLength)
	}

	if len(buf) < HeaderLength+metaLen {
		return 0, nil, nil
	}

	if tag != ParserTagProtobuf {
		return 0, nil, xerr.DecodeError(errUnknownParserTag(tag))
	}

	meta, derr := DecodeMeta(buf[HeaderLength : HeaderLength+metaLen])
	if derr != nil {
		return 0, nil, derr
	}

	contentSize := int(meta.ContentSize)
	// meta length + content size together must fit the packet bound.
	if contentSize+metaLen > maxPacketLength {
		return 0, nil, xerr.PacketTooLarge(contentSize+metaLen, maxPacketLength)
	}

	total := HeaderLength + metaLen + contentSize
	if len(buf) < total {
		return 0, nil, nil
	}

	var payload []byte
	if contentSize > 0 {
		payload = make([]byte, contentSize)
		copy(payload, buf[HeaderLength+metaLen:total])
	}

	return total, &Frame{ParserTag: tag, Meta: meta, Payload: payload}, nil
}

type unknownParserTagError struct{ tag ParserTag }

func (e unknownParserTagError) Error() string {
	return "frame: unknown parser tag"
}

func errUnknownParserTag(tag ParserTag) error {
	return unknownParserTagError{tag: tag}
}
