package acceptable

import "net/netip"

// IPFilter decides whether a recovered local IP is acceptable to the
// listener. A wildcard bind may receive datagrams addressed to any of the
// host's local addresses; an allow-list lets an operator serve only a
// subset of them. IPFilter is a tagged variant (family + optional
// allow-set), not a trait/interface — spec.md §9 explicitly calls for a
// tagged variant here, no dynamic dispatch needed.
type IPFilter struct {
	v6      bool
	allowed map[netip.Addr]struct{} // nil means "accept all of this family"
}

// AcceptAllV4 accepts any IPv4 local address.
func AcceptAllV4() IPFilter { return IPFilter{v6: false} }

// AcceptAllV6 accepts any IPv6 local address.
func AcceptAllV6() IPFilter { return IPFilter{v6: true} }

// AllowListV4 accepts only the given IPv4 addresses.
func AllowListV4(ips ...netip.Addr) IPFilter {
	return IPFilter{v6: false, allowed: toSet(ips)}
}

// AllowListV6 accepts only the given IPv6 addresses.
func AllowListV6(ips ...netip.Addr) IPFilter {
	return IPFilter{v6: true, allowed: toSet(ips)}
}

func toSet(ips []netip.Addr) map[netip.Addr]struct{} {
	set := make(map[netip.Addr]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return set
}

// IsV6 reports which address family this filter was configured for.
func (f IPFilter) IsV6() bool { return f.v6 }

// pass reports whether ip is acceptable: it must match the filter's
// configured family, and if an allow-list was given, ip must be in it.
func (f IPFilter) pass(ip netip.Addr) bool {
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	if ip.Is6() != f.v6 {
		return false
	}
	if f.allowed == nil {
		return true
	}
	_, ok := f.allowed[ip]
	return ok
}
