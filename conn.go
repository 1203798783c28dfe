package acceptable

import (
	"errors"
	"net"
	"syscall"

	"github.com/Banyc/udp-acceptable/internal/earlypacket"
)

// Conn is a connected UDP socket tied to exactly one four-tuple, handed to
// the caller by Listener.Accept. It is the UdpConnection of spec.md §4.3.
//
// The caller reads application packets from Socket(); any early packets
// (datagrams the listener's accept absorbed before this connection's own
// connected socket began receiving kernel-steered traffic) must be drained
// from EarlyPackets() first — see the package doc for why the two paths
// exist.
type Conn struct {
	conn  *net.UDPConn
	tuple FourTuple
	early *earlypacket.Receiver
}

// Socket returns the connection's connected OS socket. Reads/writes go
// directly through it; it is bound to FourTuple().Local and connected to
// FourTuple().Remote.
func (c *Conn) Socket() *net.UDPConn {
	return c.conn
}

// FourTuple returns the flow this connection was created for.
func (c *Conn) FourTuple() FourTuple {
	return c.tuple
}

// EarlyPackets returns the receive end of this connection's early-packet
// mailbox. Drain it before reading from Socket() to avoid losing the first
// datagram(s) of the flow (see spec.md §4.3 and §8 scenario 3).
func (c *Conn) EarlyPackets() *earlypacket.Receiver {
	return c.early
}

// RawConn exposes the underlying socket's syscall.RawConn so a caller can
// integrate with its own event loop instead of driving Socket() directly —
// the "non-blocking fd, driven by the caller" contract from spec.md §1.
func (c *Conn) RawConn() (syscall.RawConn, error) {
	return c.conn.SyscallConn()
}

// Close releases the connected socket and removes this connection's entry
// from the listener's early-packet map. Go has no Rust-style Drop, so this
// is the explicit cancellation point spec.md §5 describes: it closes the
// connected socket (the kernel releases the four-tuple binding) and evicts
// the map entry unconditionally. Safe to call more than once.
func (c *Conn) Close() error {
	c.early.Close()
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// ReadEarlyOrSocket reads "one packet, wherever it came from": it checks
// the early-packet mailbox first (non-blocking) and falls back to a socket
// read. It is not part of spec.md's contract — the spec is explicit that
// draining order is the caller's responsibility — but it's a natural
// enough pattern that we provide it for callers who don't need finer
// control.
func (c *Conn) ReadEarlyOrSocket(buf []byte) (n int, fromEarly bool, err error) {
	if early, ok := c.early.TryRecv(); ok {
		n = copy(buf, early)
		return n, true, nil
	}
	n, err = c.conn.Read(buf)
	return n, false, err
}
