// Package fourtuple defines the flow key shared by the packet receiver, the
// early-packet map, and the public listener/conn types. It lives under
// internal so that internal/pktrecv and internal/earlypacket can both depend
// on it without either depending on the root package (which would be an
// import cycle, since the root package depends on both of them).
package fourtuple

import "net/netip"

// FourTuple identifies a UDP flow by its local and remote endpoints.
//
// Both addresses are always the same address family. internal/pktrecv
// unmaps v4-mapped IPv6 addresses to plain IPv4, so a datagram from an IPv4
// peer yields an all-IPv4 four-tuple.
type FourTuple struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
}

func (t FourTuple) String() string {
	return t.Local.String() + "<-" + t.Remote.String()
}

// IsValid reports whether both endpoints are set and share an address
// family.
func (t FourTuple) IsValid() bool {
	return t.Local.IsValid() && t.Remote.IsValid() &&
		t.Local.Addr().Is4() == t.Remote.Addr().Is4()
}
