package wsproto

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestFrameEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		frame   Frame
	}{
		{"small-unmasked-text", Frame{Fin: true, Opcode: OpText, Payload: []byte("hello")}},
		{"masked-binary", Frame{Fin: true, Opcode: OpBinary, Masked: true, Mask: [4]byte{1, 2, 3, 4}, Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF}}},
		{"empty-ping", Frame{Fin: true, Opcode: OpPing}},
		{"16-bit-length", Frame{Fin: true, Opcode: OpBinary, Payload: bytes.Repeat([]byte{0x42}, 200)}},
		{"64-bit-length", Frame{Fin: true, Opcode: OpBinary, Payload: bytes.Repeat([]byte{0x7}, 70000)}},
		{"fragment-start", Frame{Fin: false, Opcode: OpText, Payload: []byte("part1")}},
		{"continuation", Frame{Fin: true, Opcode: OpContinuation, Payload: []byte("part2")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			consumed, got, derr := Decode(encoded, DefaultMaxFramePayload)
			if derr != nil {
				t.Fatalf("Decode: %v", derr)
			}
			if consumed != len(encoded) {
				t.Fatalf("consumed = %d, want %d", consumed, len(encoded))
			}
			if got.Fin != tc.frame.Fin || got.Opcode != tc.frame.Opcode {
				t.Errorf("got fin=%v opcode=%v, want fin=%v opcode=%v", got.Fin, got.Opcode, tc.frame.Fin, tc.frame.Opcode)
			}
			if !bytes.Equal(got.Payload, tc.frame.Payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d bytes", len(got.Payload), len(tc.frame.Payload))
			}
		})
	}
}

func TestDecodeShortReadsReturnZero(t *testing.T) {
	encoded, err := Encode(Frame{Fin: true, Opcode: OpBinary, Masked: true, Mask: [4]byte{9, 9, 9, 9}, Payload: bytes.Repeat([]byte{0xAA}, 300)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for n := range encoded {
		consumed, f, derr := Decode(encoded[:n], DefaultMaxFramePayload)
		if derr != nil {
			t.Fatalf("Decode(%d): unexpected error %v", n, derr)
		}
		if consumed != 0 || f != nil {
			t.Fatalf("Decode(%d): got (%d, %v), want (0, nil)", n, consumed, f)
		}
	}
}

// TestApplyMaskInvolution: masking twice with the same key is a no-op.
func TestApplyMaskInvolution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		data := make([]byte, rng.Intn(500))
		rng.Read(data)
		original := append([]byte(nil), data...)

		var mask [4]byte
		rng.Read(mask[:])

		ApplyMask(data, mask)
		ApplyMask(data, mask)

		if !bytes.Equal(data, original) {
			t.Fatalf("mask not involutive on iteration %d", i)
		}
	}
}

func TestControlFrameConstraints(t *testing.T) {
	// Fragmented control frame is rejected.
	_, err := Encode(Frame{Fin: false, Opcode: OpPing})
	if err == nil {
		t.Fatal("expected error for fragmented control frame")
	}

	// Oversized control payload is rejected.
	_, err = Encode(Frame{Fin: true, Opcode: OpPing, Payload: bytes.Repeat([]byte{1}, 126)})
	if err == nil {
		t.Fatal("expected error for oversized control payload")
	}
}

func TestDecodeInvalidOpcode(t *testing.T) {
	buf := []byte{0x83, 0x00} // fin=1, opcode=3 (reserved)
	_, _, err := Decode(buf, DefaultMaxFramePayload)
	if err == nil {
		t.Fatal("expected error for reserved opcode")
	}
}

func TestDecodeReservedBits(t *testing.T) {
	buf := []byte{0xF1, 0x00} // fin=1, rsv1-3 set, opcode=text
	_, _, err := Decode(buf, DefaultMaxFramePayload)
	if err == nil {
		t.Fatal("expected error for reserved bits set")
	}
}
