package rpc

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/coregx/meshrpc/frame"
	"github.com/coregx/meshrpc/stream"
	"github.com/coregx/meshrpc/xerr"
)

// pipeStub wires a client Stub directly to a raw server-side
// stream.Connection over an in-memory pipe, with a goroutine playing
// the server's dispatch loop inline so tests don't need a full Channel.
func pipeStub(t *testing.T, handle func(method string, payload []byte) ([]byte, *xerr.Error)) (*Stub, func()) {
	t.Helper()
	a, b := net.Pipe()

	client := stream.NewStandaloneConnection(1, a, false)
	server := stream.NewStandaloneConnection(2, b, true)

	go func() {
		for {
			f, err := server.Recv()
			if err != nil {
				return
			}
			switch f.Meta.PacketType {
			case frame.PacketRequest:
				resp, herr := handle(f.Meta.ServiceMethod, f.Payload)
				if herr != nil {
					_ = server.SendErrorResponse(f.Meta.TransmissionID, herr.Code, herr.Message)
					continue
				}
				_ = server.SendResponse(f.Meta.TransmissionID, resp)
			case frame.PacketNotification:
				_, _ = handle(f.Meta.ServiceMethod, f.Payload)
			}
		}
	}()

	stub := NewStub(client, time.Second)
	cleanup := func() {
		client.Close(xerr.ConnectionClosed("test done"), true)
		server.Close(xerr.ConnectionClosed("test done"), true)
	}
	return stub, cleanup
}

func TestStubCallRoundTrip(t *testing.T) {
	stub, cleanup := pipeStub(t, func(method string, payload []byte) ([]byte, *xerr.Error) {
		if method != "Echo" {
			return nil, xerr.ProtocolError("unexpected method %s", method)
		}
		return payload, nil
	})
	defer cleanup()

	resp, err := stub.Call(context.Background(), "Echo", []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(resp, []byte("ping")) {
		t.Fatalf("resp = %q, want ping", resp)
	}
}

func TestStubCallTimesOut(t *testing.T) {
	block := make(chan struct{})
	stub, cleanup := pipeStub(t, func(method string, payload []byte) ([]byte, *xerr.Error) {
		<-block
		return payload, nil
	})
	defer close(block)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := stub.Call(ctx, "Slow", nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestStubNotifyHasNoResponse(t *testing.T) {
	received := make(chan string, 1)
	stub, cleanup := pipeStub(t, func(method string, payload []byte) ([]byte, *xerr.Error) {
		received <- method
		return nil, nil
	})
	defer cleanup()

	if err := stub.Notify("Ping", nil); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case m := <-received:
		if m != "Ping" {
			t.Fatalf("method = %q, want Ping", m)
		}
	case <-time.After(time.Second):
		t.Fatal("notification never observed")
	}
}
