package tcpip

import (
	"errors"
	"time"
)

// IPSink is the lower-layer collaborator this package hands finished TCP
// segments to for IPv4 encapsulation and transmission. The original
// source's handler.rs left this as a commented-out
// "crate::net::stack::global_stack()?.send_ipv4(dst, proto, &bytes)" call
// returning bool; here it's a real interface so handler.go has something
// concrete to drive instead of a stub, with the same signature: the sink
// owns its local address, and a false return means the next-hop MAC
// isn't resolved yet rather than a hard failure.
type IPSink interface {
	// SendIPv4 encapsulates payload in an IPv4 datagram addressed to dst
	// with the given protocol number and transmits it. For TCP traffic
	// payload is a complete TCP segment and protocol is tcpProtocolNumber;
	// the handler's SendTo path passes the event's data unchanged with
	// udpProtocolNumber. A false return means the datagram was not sent
	// because the next-hop MAC is not yet resolved (ARP pending); the
	// caller should treat this as transient, not fatal.
	SendIPv4(dst [4]byte, protocol uint8, payload []byte) bool
}

// ErrARPPending is returned up from the handler when an IPSink reports a
// segment could not be sent because address resolution hasn't completed
// yet. It is a transient condition (spec.md §7's "Transient" category),
// not a fatal per-connection error.
var ErrARPPending = errors.New("tcpip: next hop not resolved (ARP pending)")

// SegmentDeliverer receives fully reassembled, in-order TCP payload bytes
// for a connection, to be appended to the socket's receive buffer. Kept
// separate from IPSink so a stack can plug in buffering/backpressure
// independently of how segments reach the wire.
type SegmentDeliverer interface {
	DeliverSegment(key TCBKey, data []byte)
}

// Clock abstracts wall-clock time so the TCB table's sweep and the
// retransmit/RTO estimator can be driven by a fake clock in tests without
// sleeping.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the default Clock used outside of tests.
var SystemClock Clock = systemClock{}
