//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

// Package sockopt builds the net.ListenConfig/net.Dialer Control functions
// needed to set SO_REUSEADDR/SO_REUSEPORT on a UDP socket before bind.
//
// Grounded on other_examples/a91f02a8_jroosing-HydraDNS…udp_server.go's
// listenReusePort, the only full worked example in the retrieved pack of
// net.ListenConfig.Control combined with golang.org/x/sys/unix for this.
package sockopt

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Control returns a Control function for net.ListenConfig or net.Dialer
// that sets SO_REUSEADDR (always) and SO_REUSEPORT (if reusePort is true)
// on the socket before it is bound.
//
// SO_REUSEPORT is a Linux/BSD extension; spec.md's Non-goals exclude
// Windows support, so this package is unconditionally built only for
// platforms where both options exist.
func Control(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
				return
			}
			if reusePort {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
