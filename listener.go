// Package acceptable turns a single unconnected UDP socket into an
// accept()-style interface reminiscent of TCP: each distinct remote peer
// (identified by its full four-tuple) is demultiplexed into its own
// connected UDP socket, so callers can read/write per-peer as if UDP were
// connection-oriented.
//
// It solves the well-known "recvfrom on a wildcard socket mixes all peers
// together" problem by combining kernel ancillary data (IP_PKTINFO /
// IPV6_RECVPKTINFO, see internal/pktrecv) with a per-four-tuple routing map
// (internal/earlypacket) that bridges the race between "the listener reads
// a flow's first packet" and "the flow's own connected socket starts
// receiving kernel-steered traffic for it".
//
// Out of scope: transport-layer semantics (reliability, ordering,
// fragmentation), application protocols layered on top, async-runtime
// integration, TLS, and logging — see SPEC_FULL.md.
package acceptable

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/Banyc/udp-acceptable/internal/earlypacket"
	"github.com/Banyc/udp-acceptable/internal/errors"
	"github.com/Banyc/udp-acceptable/internal/pktrecv"
	"github.com/Banyc/udp-acceptable/internal/sockopt"
)

// AcceptResult reports what Listener.Accept did with the datagram it just
// read.
type AcceptResult int

const (
	// AcceptNew means a new Conn was created for a previously-unseen
	// four-tuple; the returned Conn is non-nil.
	AcceptNew AcceptResult = iota
	// AcceptExists means a connection for this four-tuple already exists;
	// the datagram was absorbed into (or dropped from, if full) its early
	// packet mailbox. The returned Conn is nil.
	AcceptExists
	// AcceptFiltered means the recovered local IP was rejected by the
	// listener's IPFilter; the payload was discarded. The returned Conn is
	// nil.
	AcceptFiltered
)

func (r AcceptResult) String() string {
	switch r {
	case AcceptNew:
		return "new"
	case AcceptExists:
		return "exists"
	case AcceptFiltered:
		return "filtered"
	default:
		return "unknown"
	}
}

// Listener owns a wildcard-bound, PKTINFO-enabled UDP socket and the shared
// early-packet map for every connection it has accepted. It is the
// UdpListener of spec.md §4.4.
//
// A Listener is not safe for concurrent use by multiple goroutines calling
// Accept at once — spec.md §4.4 calls this out explicitly: "the listener is
// used from one thread at a time; it carries no internal lock beyond the
// map's." Callers needing concurrent accept must serialize their own calls.
type Listener struct {
	conn   *net.UDPConn
	recv   *pktrecv.Receiver
	port   uint16
	filter IPFilter
	early  *earlypacket.Map
	cfg    config
}

// Bind creates a wildcard-bound UDP socket (0.0.0.0:port for an IPv4
// filter, [::]:port for an IPv6 filter), enables PKTINFO ancillary data,
// and returns a Listener ready to Accept. This is spec.md §4.4's
// construction sequence.
func Bind(port uint16, filter IPFilter, opts ...Option) (*Listener, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	network, address := bindTarget(filter.IsV6(), port)

	lc := net.ListenConfig{Control: sockopt.Control(cfg.reusePort)}
	pc, err := lc.ListenPacket(context.Background(), network, address)
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "bind",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind wildcard %s", address),
		}
	}
	conn := pc.(*net.UDPConn)
	// port may have been 0 (pick any free port, convenient for tests);
	// the listener's own view of its port must reflect what the kernel
	// actually bound, since RecvFromTo uses it to complete the four-tuple.
	port = uint16(conn.LocalAddr().(*net.UDPAddr).Port)

	var recv *pktrecv.Receiver
	if filter.IsV6() {
		recv, err = pktrecv.NewV6(conn)
	} else {
		recv, err = pktrecv.NewV4(conn)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Listener{
		conn:   conn,
		recv:   recv,
		port:   port,
		filter: filter,
		early:  earlypacket.NewMap(cfg.mailboxCapacity),
		cfg:    cfg,
	}, nil
}

func bindTarget(v6 bool, port uint16) (network, address string) {
	if v6 {
		return "udp6", net.JoinHostPort("::", fmt.Sprint(port))
	}
	return "udp4", net.JoinHostPort("0.0.0.0", fmt.Sprint(port))
}

// Accept reads one datagram into buf and decides, per spec.md §4.4:
//
//  1. recvmsg + PKTINFO to get the four-tuple.
//  2. IPFilter.pass on the recovered local IP; reject -> AcceptFiltered.
//  3. Look up the four-tuple in the early-packet map:
//     - an entry already exists (Ok or Full) -> AcceptExists.
//     - no entry -> fall through to step 4.
//  4. Insert a fresh mailbox for the four-tuple.
//  5. Create a new UDP socket bound to four_tuple.Local and connected to
//     four_tuple.Remote — from this point the kernel steers subsequent
//     datagrams for this four-tuple to the new socket in preference to the
//     wildcard listener.
//  6. Push the buffered first packet into the new mailbox (always
//     succeeds; anything else is a logic error).
//  7. Return AcceptNew with the new Conn.
//
// The four-tuple and byte count are returned with AcceptFiltered and
// AcceptExists, and with a dial error, for observability. When the
// four-tuple cannot be recovered the four-tuple is the zero value; the byte
// count is zero only when the read itself failed.
func (l *Listener) Accept(buf []byte) (AcceptResult, *Conn, FourTuple, int, error) {
	if l.cfg.nonblocking {
		_ = l.conn.SetReadDeadline(time.Now())
	} else {
		_ = l.conn.SetReadDeadline(time.Time{})
	}

	tuple, n, err := l.recv.RecvFromTo(buf, l.port)
	if err != nil {
		// AcceptResult is meaningless when err != nil; spec.md's error
		// taxonomy (§7) treats recvmsg/ancillary-data failures as a
		// separate axis from the existing/new/filtered decision.
		return AcceptNew, nil, tuple, n, err
	}

	if !l.filter.pass(tuple.Local.Addr()) {
		return AcceptFiltered, nil, tuple, n, nil
	}

	payload := make([]byte, n)
	copy(payload, buf[:n])

	switch l.early.Send(tuple, payload) {
	case earlypacket.SendOk, earlypacket.SendFull:
		// A connection already exists for this four-tuple (possibly
		// lagging, if Full). The kernel-steered path will deliver
		// subsequent datagrams directly to it; drop this one.
		return AcceptExists, nil, tuple, n, nil
	}

	recv := l.early.Insert(tuple)
	newConn, err := l.dial(tuple)
	if err != nil {
		recv.Close()
		return AcceptExists, nil, tuple, n, err
	}

	if l.early.Send(tuple, payload) != earlypacket.SendOk {
		// Unreachable per spec.md §4.4 step 6: the mailbox was just
		// created and nothing else can have consumed or filled it yet.
		panic("acceptable: first packet handoff failed on a fresh mailbox")
	}

	return AcceptNew, &Conn{conn: newConn, tuple: tuple, early: recv}, tuple, n, nil
}

// dial creates the per-flow connected socket: bound to tuple.Local,
// connected to tuple.Remote. This is the step that causes the kernel to
// begin steering subsequent datagrams for this four-tuple away from the
// wildcard listener (spec.md §4.4 step 5).
func (l *Listener) dial(tuple FourTuple) (*net.UDPConn, error) {
	network := "udp4"
	if tuple.Local.Addr().Is6() {
		network = "udp6"
	}

	dialer := net.Dialer{
		LocalAddr: net.UDPAddrFromAddrPort(tuple.Local),
		Control:   sockopt.Control(l.cfg.reusePort),
	}
	c, err := dialer.Dial(network, tuple.Remote.String())
	if err != nil {
		return nil, &errors.NetworkError{
			Operation: "connect",
			Err:       err,
			Details:   fmt.Sprintf("failed to bind %s and connect to %s", tuple.Local, tuple.Remote),
		}
	}
	udpConn, ok := c.(*net.UDPConn)
	if !ok {
		_ = c.Close()
		return nil, &errors.NetworkError{
			Operation: "connect",
			Err:       fmt.Errorf("unexpected conn type %T", c),
			Details:   "dialer did not return a *net.UDPConn",
		}
	}
	return udpConn, nil
}

// LocalAddr returns the wildcard address this listener is bound to.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// RawConn exposes the underlying socket's syscall.RawConn so a caller can
// drive it with its own event loop (spec.md §1's "non-blocking fd, driven
// by the caller").
func (l *Listener) RawConn() (syscall.RawConn, error) {
	return l.conn.SyscallConn()
}

// Close releases the wildcard socket. It does not close any connections
// previously returned by Accept — those are owned by the caller.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// ActiveFlows reports the number of four-tuples currently tracked in the
// early-packet map (entries in spec.md §4.4's Pending/Active states).
// Intended for observability/tests.
func (l *Listener) ActiveFlows() int {
	return l.early.Len()
}
