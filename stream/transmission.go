package stream

import (
	"sync"

	"github.com/coregx/meshrpc/xerr"
)

// Result is what a pending RPC call receives: either a decoded response
// payload or a terminal error.
type Result struct {
	Payload []byte
	Err     *xerr.Error
}

// transmissionTable is the per-connection map of pending transmission ids
// to awaitable result slots. An id is inserted before the request is
// written to the wire and removed exactly once: by the matching
// RESPONSE, by Connection.Close failing every slot, or by the caller's
// own timeout path.
type transmissionTable struct {
	mu    sync.Mutex
	slots map[uint32]chan Result
}

func newTransmissionTable() *transmissionTable {
	return &transmissionTable{slots: make(map[uint32]chan Result)}
}

// insert registers id and returns the channel its result will arrive on.
// The channel has capacity 1 so a completer never blocks even if nobody
// is awaiting it anymore (the timeout path already removed the slot by
// then, so this is mostly defensive).
func (t *transmissionTable) insert(id uint32) chan Result {
	ch := make(chan Result, 1)
	t.mu.Lock()
	t.slots[id] = ch
	t.mu.Unlock()
	return ch
}

// remove drops id without completing it; used by the caller's timeout
// path so a late-arriving RESPONSE for that id is silently dropped.
func (t *transmissionTable) remove(id uint32) {
	t.mu.Lock()
	delete(t.slots, id)
	t.mu.Unlock()
}

// complete delivers a successful result to id's slot, if still pending.
func (t *transmissionTable) complete(id uint32, payload []byte) bool {
	t.mu.Lock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- Result{Payload: payload}
	return true
}

// fail delivers a terminal error to id's slot, if still pending.
func (t *transmissionTable) fail(id uint32, err *xerr.Error) bool {
	t.mu.Lock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- Result{Err: err}
	return true
}

// failAll fails every pending slot with err; called once by Close, so
// each slot still completes exactly once.
func (t *transmissionTable) failAll(err *xerr.Error) {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[uint32]chan Result)
	t.mu.Unlock()

	for _, ch := range slots {
		ch <- Result{Err: err}
	}
}
