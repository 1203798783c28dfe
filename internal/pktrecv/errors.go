package pktrecv

import "errors"

var (
	errNoLocalAddress       = errors.New("recvmsg did not return a local address")
	errInvalidRemoteAddress = errors.New("recvmsg returned an invalid remote address")
)
