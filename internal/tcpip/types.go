// Package tcpip implements an in-kernel TCP/IP endpoint layer: a socket
// API, TCP Control Block table, NewReno congestion control, flow control
// with SWS avoidance, RFC 7323 window scaling, and a retransmission queue
// driven by RFC 6298 RTO estimation.
//
// The lower IPv4/ARP/Ethernet stack, device drivers, and the cooperative
// task scheduler are external collaborators reached through the
// interfaces in iface.go; this package owns everything above the wire
// format of a single TCP segment.
package tcpip

import (
	"fmt"
	"sync/atomic"
)

// SocketFD is an opaque socket descriptor. Zero is never issued; INVALID
// is the reserved sentinel for "no descriptor".
type SocketFD uint32

// InvalidFD is the reserved sentinel descriptor value.
const InvalidFD SocketFD = 0

// IsValid reports whether fd was ever issued by a SocketManager.
func (fd SocketFD) IsValid() bool { return fd != InvalidFD }

var nextFD atomic.Uint32

func allocateFD() SocketFD {
	return SocketFD(nextFD.Add(1))
}

// SocketType distinguishes the three socket families this layer supports.
type SocketType int

const (
	SocketTypeTCP SocketType = iota
	SocketTypeUDP
	SocketTypeRaw
)

func (t SocketType) String() string {
	switch t {
	case SocketTypeTCP:
		return "tcp"
	case SocketTypeUDP:
		return "udp"
	case SocketTypeRaw:
		return "raw"
	default:
		return fmt.Sprintf("socket-type(%d)", int(t))
	}
}

// Address is an IPv4 address/port pair.
type Address struct {
	IP   [4]byte
	Port uint16
}

// AnyAddress is the wildcard address (0.0.0.0:0).
var AnyAddress = Address{}

// IPUint32 returns the address's IPv4 bytes as a big-endian uint32,
// convenient for checksum and metric-label formatting.
func (a Address) IPUint32() uint32 {
	return uint32(a.IP[0])<<24 | uint32(a.IP[1])<<16 | uint32(a.IP[2])<<8 | uint32(a.IP[3])
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// SocketState is the lifecycle state of a socket descriptor.
type SocketState int

const (
	StateCreated SocketState = iota
	StateBound
	StateListening
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s SocketState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CanRead reports whether the state permits recv/accept.
func (s SocketState) CanRead() bool {
	return s == StateConnected || s == StateBound || s == StateListening
}

// CanWrite reports whether the state permits send.
func (s SocketState) CanWrite() bool {
	return s == StateConnected || s == StateBound
}

// CanBind reports whether bind() is legal from this state.
func (s SocketState) CanBind() bool { return s == StateCreated }

// CanListen reports whether listen() is legal from this state.
func (s SocketState) CanListen() bool { return s == StateBound }

// CanConnect reports whether connect() is legal from this state.
func (s SocketState) CanConnect() bool {
	return s == StateCreated || s == StateBound
}

// SocketError is the fixed error taxonomy returned by the socket API.
type SocketError int

const (
	ErrNotFound SocketError = iota
	ErrInvalidArgument
	ErrAlreadyBound
	ErrAlreadyConnected
	ErrNotConnected
	ErrAddressInUse
	ErrConnectionRefused
	ErrTimeout
	ErrInterrupted
	ErrBufferFull
	ErrInvalidStateTransition
	ErrResourceExhausted
	ErrPortInUse
	ErrInternal
)

func (e SocketError) Error() string {
	switch e {
	case ErrNotFound:
		return "socket not found"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrAlreadyBound:
		return "already bound"
	case ErrAlreadyConnected:
		return "already connected"
	case ErrNotConnected:
		return "not connected"
	case ErrAddressInUse:
		return "address in use"
	case ErrConnectionRefused:
		return "connection refused"
	case ErrTimeout:
		return "operation timed out"
	case ErrInterrupted:
		return "operation interrupted"
	case ErrBufferFull:
		return "buffer full"
	case ErrInvalidStateTransition:
		return "invalid state transition"
	case ErrResourceExhausted:
		return "resource exhausted"
	case ErrPortInUse:
		return "port already in use"
	case ErrInternal:
		return "internal error"
	default:
		return fmt.Sprintf("socket error(%d)", int(e))
	}
}

// TCPFlags holds the standard TCP control bits.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << 0
	FlagSYN TCPFlags = 1 << 1
	FlagRST TCPFlags = 1 << 2
	FlagPSH TCPFlags = 1 << 3
	FlagACK TCPFlags = 1 << 4
	FlagURG TCPFlags = 1 << 5
)

// TCPConnState is the RFC 793 connection state machine, distinct from the
// coarser SocketState the application-facing API exposes.
type TCPConnState int

const (
	TCPClosed TCPConnState = iota
	TCPListen
	TCPSynSent
	TCPSynReceived
	TCPEstablished
	TCPFinWait1
	TCPFinWait2
	TCPCloseWait
	TCPClosing
	TCPLastAck
	TCPTimeWait
)

func (s TCPConnState) String() string {
	switch s {
	case TCPClosed:
		return "CLOSED"
	case TCPListen:
		return "LISTEN"
	case TCPSynSent:
		return "SYN_SENT"
	case TCPSynReceived:
		return "SYN_RECEIVED"
	case TCPEstablished:
		return "ESTABLISHED"
	case TCPFinWait1:
		return "FIN_WAIT_1"
	case TCPFinWait2:
		return "FIN_WAIT_2"
	case TCPCloseWait:
		return "CLOSE_WAIT"
	case TCPClosing:
		return "CLOSING"
	case TCPLastAck:
		return "LAST_ACK"
	case TCPTimeWait:
		return "TIME_WAIT"
	default:
		return fmt.Sprintf("tcp-state(%d)", int(s))
	}
}
