package earlypacket

import (
	"context"
	"sync/atomic"
)

// mailbox is a bounded FIFO of byte buffers, non-blocking on the send side.
// It exists only to bridge the first (or first few) datagrams of a new flow
// between the listener inserting a map entry and the connection beginning
// to read its own connected socket — see package doc.
type mailbox struct {
	ch     chan []byte
	closed atomic.Bool
}

func newMailbox(capacity int) *mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &mailbox{ch: make(chan []byte, capacity)}
}

// trySend attempts a non-blocking send. It returns false if the mailbox is
// full or has been closed by its receiver.
func (m *mailbox) trySend(buf []byte) bool {
	if m.closed.Load() {
		return false
	}
	select {
	case m.ch <- buf:
		return true
	default:
		return false
	}
}

// Receiver is the consumer end of a mailbox, held by a Conn. Closing it
// (done by Conn.Close) both stops further sends from succeeding and removes
// the mailbox's entry from the owning Map.
type Receiver struct {
	mb    *mailbox
	owner *Map
	key   fourTupleKey
}

// TryRecv performs a non-blocking receive. ok is false if no early packet
// is currently queued.
func (r *Receiver) TryRecv() (buf []byte, ok bool) {
	select {
	case buf = <-r.mb.ch:
		return buf, true
	default:
		return nil, false
	}
}

// Recv blocks until an early packet arrives or ctx is done, whichever
// happens first.
func (r *Receiver) Recv(ctx context.Context) (buf []byte, err error) {
	select {
	case buf = <-r.mb.ch:
		return buf, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close marks the mailbox closed and removes its entry from the map. It is
// idempotent and safe to call multiple times.
func (r *Receiver) Close() {
	if r.mb.closed.CompareAndSwap(false, true) {
		r.owner.remove(r.key)
	}
}
