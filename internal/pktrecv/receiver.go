// Package pktrecv recovers the exact local IP a UDP datagram arrived on.
//
// A socket bound to the IPv4/IPv6 wildcard address (0.0.0.0 or ::) reports
// its own LocalAddr() as that wildcard, not as whatever address the sender
// actually targeted. The kernel can report the true destination address per
// datagram via ancillary ("control message") data if the socket has
// IP_PKTINFO (v4) or IPV6_RECVPKTINFO (v6) enabled — see
// https://blog.cloudflare.com/everything-you-ever-wanted-to-know-about-udp-sockets-but-were-afraid-to-ask-part-1/.
//
// Receiver wraps golang.org/x/net/ipv4 and golang.org/x/net/ipv6's
// PacketConn, the same control-message mechanism
// internal/transport/udp.go uses (there, to recover the receiving
// interface index; here, to recover the destination address).
package pktrecv

import (
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/Banyc/udp-acceptable/internal/errors"
	"github.com/Banyc/udp-acceptable/internal/fourtuple"
)

// Receiver reads datagrams from one wildcard-bound UDP socket and produces
// the full four-tuple (local address as recovered from PKTINFO, remote
// address from the datagram's source) for each one.
//
// Exactly one of pc4/pc6 is set, matching the socket's address family.
type Receiver struct {
	pc4 *ipv4.PacketConn
	pc6 *ipv6.PacketConn
}

// NewV4 wraps an IPv4 UDP socket and enables IP_PKTINFO on it.
func NewV4(conn *net.UDPConn) (*Receiver, error) {
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagDst, true); err != nil {
		return nil, &errors.NetworkError{
			Operation: "setsockopt",
			Err:       err,
			Details:   "failed to enable IP_PKTINFO",
		}
	}
	return &Receiver{pc4: pc}, nil
}

// NewV6 wraps an IPv6 UDP socket and enables IPV6_RECVPKTINFO on it.
func NewV6(conn *net.UDPConn) (*Receiver, error) {
	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv6.FlagDst, true); err != nil {
		return nil, &errors.NetworkError{
			Operation: "setsockopt",
			Err:       err,
			Details:   "failed to enable IPV6_RECVPKTINFO",
		}
	}
	return &Receiver{pc6: pc}, nil
}

// RecvFromTo reads one datagram into buf and returns the recovered
// four-tuple (local address paired with listenPort, which the kernel never
// returns in ancillary data — the listener already knows its own bound
// port) and the number of bytes read.
//
// Errors:
//   - any recvmsg failure is returned as-is (wrapped with "recvmsg" context)
//   - missing PKTINFO ancillary data: NetworkError{Details: "no local address"}
//   - a non-IP source address: NetworkError{Details: "invalid remote address"}
func (r *Receiver) RecvFromTo(buf []byte, listenPort uint16) (fourtuple.FourTuple, int, error) {
	switch {
	case r.pc4 != nil:
		return r.recvV4(buf, listenPort)
	case r.pc6 != nil:
		return r.recvV6(buf, listenPort)
	default:
		panic("pktrecv: Receiver has neither pc4 nor pc6 set")
	}
}

func (r *Receiver) recvV4(buf []byte, listenPort uint16) (fourtuple.FourTuple, int, error) {
	n, cm, srcAddr, err := r.pc4.ReadFrom(buf)
	if err != nil {
		return fourtuple.FourTuple{}, 0, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       err,
			Details:   "failed to read from socket",
		}
	}
	if cm == nil || cm.Dst == nil {
		return fourtuple.FourTuple{}, n, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       errNoLocalAddress,
			Details:   "no local address",
		}
	}
	localIP, ok := netip.AddrFromSlice(cm.Dst.To4())
	if !ok {
		return fourtuple.FourTuple{}, n, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       errNoLocalAddress,
			Details:   "no local address",
		}
	}
	remoteAddr, err := udpAddrToAddrPort(srcAddr)
	if err != nil {
		return fourtuple.FourTuple{}, n, err
	}
	return fourtuple.FourTuple{
		Local:  netip.AddrPortFrom(localIP, listenPort),
		Remote: remoteAddr,
	}, n, nil
}

func (r *Receiver) recvV6(buf []byte, listenPort uint16) (fourtuple.FourTuple, int, error) {
	n, cm, srcAddr, err := r.pc6.ReadFrom(buf)
	if err != nil {
		return fourtuple.FourTuple{}, 0, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       err,
			Details:   "failed to read from socket",
		}
	}
	if cm == nil || cm.Dst == nil {
		return fourtuple.FourTuple{}, n, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       errNoLocalAddress,
			Details:   "no local address",
		}
	}
	localIP, ok := netip.AddrFromSlice(cm.Dst.To16())
	if !ok {
		return fourtuple.FourTuple{}, n, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       errNoLocalAddress,
			Details:   "no local address",
		}
	}
	remoteAddr, err := udpAddrToAddrPort(srcAddr)
	if err != nil {
		return fourtuple.FourTuple{}, n, err
	}
	return fourtuple.FourTuple{
		Local:  netip.AddrPortFrom(localIP.Unmap(), listenPort),
		Remote: remoteAddr,
	}, n, nil
}

func udpAddrToAddrPort(addr net.Addr) (netip.AddrPort, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || udpAddr == nil {
		return netip.AddrPort{}, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       errInvalidRemoteAddress,
			Details:   "invalid remote address",
		}
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.AddrPort{}, &errors.NetworkError{
			Operation: "recvmsg",
			Err:       errInvalidRemoteAddress,
			Details:   "invalid remote address",
		}
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(udpAddr.Port)), nil
}
