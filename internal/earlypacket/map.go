// Package earlypacket implements the early-packet bridge described in
// spec.md §4.2: a mapping from four-tuple to a bounded (default capacity 1)
// mailbox, used to hand the first datagram (or first few) of a new flow to
// a connection object before that connection's own connected socket has
// started receiving kernel-steered traffic for the same four-tuple.
//
// Grounded directly on _examples/original_source/src/early_pkt/{map,channel}.rs:
// same insert/send/remove contract, same Ok/Full/NotExist result shape (minus
// the Rust-only detail of handing the un-sent buffer back to the caller,
// which has no Go analog since slices aren't moved the way Vec<u8> is).
package earlypacket

import (
	"sync"

	"github.com/Banyc/udp-acceptable/internal/fourtuple"
)

type fourTupleKey = fourtuple.FourTuple

// SendResult reports the outcome of Map.Send.
type SendResult int

const (
	// SendOk means the datagram was queued in an existing flow's mailbox.
	SendOk SendResult = iota
	// SendFull means a flow exists for this four-tuple but its mailbox is
	// already occupied; the datagram was dropped.
	SendFull
	// SendNotExist means no flow exists for this four-tuple (or the one
	// that did has a closed receiver and was just evicted); the caller
	// should treat this as the seed of a new connection.
	SendNotExist
)

// Map is the shared, per-listener table of four-tuple -> mailbox. It is
// guarded by a single sync.RWMutex: mutating operations (Insert, Send,
// remove) take the write lock briefly and never hold it across a syscall,
// matching spec.md §5's "single writer / many readers, non-blocking
// critical sections" concurrency model. (sync.RWMutex for exactly this
// shape of concurrent map is the pack's own precedent — see
// internal/responder/registry_test.go's "R006 Decision: Use sync.RWMutex
// for concurrent access".)
type Map struct {
	mu              sync.RWMutex
	entries         map[fourTupleKey]*mailbox
	mailboxCapacity int
}

// NewMap creates an empty map whose mailboxes have the given capacity.
// capacity < 1 is treated as 1 (spec.md's default and rationale: a larger
// buffer would mask the fact that kernel steering has taken over).
func NewMap(capacity int) *Map {
	return &Map{
		entries:         make(map[fourTupleKey]*mailbox),
		mailboxCapacity: capacity,
	}
}

// Insert creates a fresh mailbox for four_tuple and returns its receiver.
// Any prior entry for the same key is silently replaced — callers (the
// listener) only call Insert after Send has already returned SendNotExist
// for this key, so in practice there is no prior entry.
func (m *Map) Insert(key fourTupleKey) *Receiver {
	mb := newMailbox(m.mailboxCapacity)
	m.mu.Lock()
	m.entries[key] = mb
	m.mu.Unlock()
	return &Receiver{mb: mb, owner: m, key: key}
}

// Send looks up four_tuple and, if an entry exists, attempts a non-blocking
// send of buf into its mailbox. A stale entry (receiver already closed) is
// evicted and reported as SendNotExist — self-healing, per spec.md §7.
func (m *Map) Send(key fourTupleKey, buf []byte) SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	mb, ok := m.entries[key]
	if !ok {
		return SendNotExist
	}
	if mb.closed.Load() {
		delete(m.entries, key)
		return SendNotExist
	}
	if mb.trySend(buf) {
		return SendOk
	}
	return SendFull
}

// remove deletes the entry for key, if any. Idempotent.
func (m *Map) remove(key fourTupleKey) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len reports the number of live entries. Intended for tests/observability.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
