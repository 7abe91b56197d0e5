package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coregx/meshrpc/frame"
	"github.com/coregx/meshrpc/stream"
	"github.com/coregx/meshrpc/xerr"
)

func pipeAgent(t *testing.T, handle func(method string, payload []byte) ([]byte, *xerr.Error)) *Agent {
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
			if f.Meta.PacketType != frame.PacketRequest {
				continue
			}
			resp, herr := handle(f.Meta.ServiceMethod, f.Payload)
			if herr != nil {
				_ = server.SendErrorResponse(f.Meta.TransmissionID, herr.Code, herr.Message)
				continue
			}
			_ = server.SendResponse(f.Meta.TransmissionID, resp)
		}
	}()

	t.Cleanup(func() {
		client.Close(xerr.ConnectionClosed("test done"), true)
		server.Close(xerr.ConnectionClosed("test done"), true)
	})
	return NewAgent(client, time.Second)
}

func TestAgentCallByName(t *testing.T) {
	agent := pipeAgent(t, func(method string, payload []byte) ([]byte, *xerr.Error) {
		return append([]byte(method+":"), payload...), nil
	})

	resp, err := agent.Call(context.Background(), "Greet", []byte("hi"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != "Greet:hi" {
		t.Fatalf("resp = %q, want Greet:hi", resp)
	}
}

func TestAgentMethodTimeoutOverride(t *testing.T) {
	block := make(chan struct{})
	agent := pipeAgent(t, func(method string, payload []byte) ([]byte, *xerr.Error) {
		<-block
		return payload, nil
	})
	defer close(block)

	agent.SetMethodTimeout("Slow", 50*time.Millisecond)

	start := time.Now()
	_, err := agent.Call(context.Background(), "Slow", nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("per-method timeout not honored: call took %v", elapsed)
	}
}

func TestInvokeTypedCallSite(t *testing.T) {
	agent := pipeAgent(t, func(method string, payload []byte) ([]byte, *xerr.Error) {
		n := binary.BigEndian.Uint32(payload)
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, n*2)
		return out, nil
	})

	double := Invoke(agent, "Double",
		func(n uint32) []byte {
			b := make([]byte, 4)
			binary.BigEndian.PutUint32(b, n)
			return b
		},
		func(b []byte) (uint32, *xerr.Error) {
			if len(b) != 4 {
				return 0, xerr.DecodeError(fmt.Errorf("want 4 bytes, got %d", len(b)))
			}
			return binary.BigEndian.Uint32(b), nil
		},
	)

	got, err := double(context.Background(), 21)
	if err != nil {
		t.Fatalf("double: %v", err)
	}
	if got != 42 {
		t.Fatalf("double(21) = %d, want 42", got)
	}
}

// TestAgentConcurrentCallsCorrelate issues many concurrent in-flight
// calls on one connection and checks every caller receives the response
// matching its own request, never a crossed reply.
func TestAgentConcurrentCallsCorrelate(t *testing.T) {
	agent := pipeAgent(t, func(method string, payload []byte) ([]byte, *xerr.Error) {
		return payload, nil
	})

	const calls = 100
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := []byte(fmt.Sprintf("payload-%d", i))
			resp, err := agent.Call(context.Background(), "Echo", msg)
			if err != nil {
				errs <- fmt.Errorf("call %d: %v", i, err)
				return
			}
			if !bytes.Equal(resp, msg) {
				errs <- fmt.Errorf("call %d: got %q, want %q", i, resp, msg)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
