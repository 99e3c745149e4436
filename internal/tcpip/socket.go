package tcpip

import (
	"sync"

	"github.com/rs/xid"
)

// Ephemeral port range, from original_source/src/net/endpoint/manager.rs.
const (
	ephemeralPortStart = 49152
	ephemeralPortEnd   = 65535
)

// Socket is the application-facing handle for one descriptor: its type,
// addressing, lifecycle state, and a trace ID assigned at creation. The
// trace ID is stored on the socket only; this package's log records and
// metric labels do not include it.
type Socket struct {
	FD      SocketFD
	Type    SocketType
	State   SocketState
	Local   Address
	Remote  Address
	TraceID xid.ID
}

// newSocket allocates a fresh trace ID for a newly-created descriptor.
func newSocket(fd SocketFD, typ SocketType) *Socket {
	return &Socket{
		FD:      fd,
		Type:    typ,
		State:   StateCreated,
		TraceID: xid.New(),
	}
}

// SocketManager owns the descriptor table and the port namespaces for TCP
// and UDP, mirroring original_source/src/net/endpoint/manager.rs's
// SocketManager.
type SocketManager struct {
	mu sync.RWMutex

	sockets map[SocketFD]*Socket
	tcpPorts map[uint16]SocketFD
	udpPorts map[uint16]SocketFD

	nextEphemeral uint16
}

// NewSocketManager returns an empty manager.
func NewSocketManager() *SocketManager {
	return &SocketManager{
		sockets:       make(map[SocketFD]*Socket),
		tcpPorts:      make(map[uint16]SocketFD),
		udpPorts:      make(map[uint16]SocketFD),
		nextEphemeral: ephemeralPortStart,
	}
}

// Create allocates a new descriptor of the given type and registers it.
func (m *SocketManager) Create(typ SocketType) *Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	fd := allocateFD()
	sock := newSocket(fd, typ)
	m.sockets[fd] = sock
	return sock
}

// Get returns the socket for fd, if it exists.
func (m *SocketManager) Get(fd SocketFD) (*Socket, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sock, ok := m.sockets[fd]
	return sock, ok
}

// Unregister removes fd from the manager, releasing any port it held.
func (m *SocketManager) Unregister(fd SocketFD) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock, ok := m.sockets[fd]
	if !ok {
		return
	}
	switch sock.Type {
	case SocketTypeTCP:
		if cur, ok := m.tcpPorts[sock.Local.Port]; ok && cur == fd {
			delete(m.tcpPorts, sock.Local.Port)
		}
	case SocketTypeUDP:
		if cur, ok := m.udpPorts[sock.Local.Port]; ok && cur == fd {
			delete(m.udpPorts, sock.Local.Port)
		}
	}
	delete(m.sockets, fd)
}

// portTable returns the port namespace for typ; raw sockets have none.
func (m *SocketManager) portTable(typ SocketType) map[uint16]SocketFD {
	switch typ {
	case SocketTypeTCP:
		return m.tcpPorts
	case SocketTypeUDP:
		return m.udpPorts
	default:
		return nil
	}
}

// BindPort reserves port for fd in the port namespace matching the
// socket's type. Returns ErrAlreadyBound if the socket is not in
// StateCreated, ErrPortInUse if the port is already taken.
func (m *SocketManager) BindPort(fd SocketFD, port uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sock, ok := m.sockets[fd]
	if !ok {
		return ErrNotFound
	}
	if !sock.State.CanBind() {
		return ErrAlreadyBound
	}

	table := m.portTable(sock.Type)
	if table == nil {
		return ErrInvalidArgument
	}
	if port == 0 {
		var err error
		port, err = m.allocateEphemeralPortLocked(table)
		if err != nil {
			return err
		}
	} else if _, taken := table[port]; taken {
		return ErrPortInUse
	}

	table[port] = fd
	sock.Local.Port = port
	sock.State = StateBound
	return nil
}

// allocateEphemeralPortLocked linearly probes the ephemeral range,
// bounded by the size of the range so it terminates even when every
// port is taken.
func (m *SocketManager) allocateEphemeralPortLocked(table map[uint16]SocketFD) (uint16, error) {
	rangeSize := ephemeralPortEnd - ephemeralPortStart + 1
	for tries := 0; tries < rangeSize; tries++ {
		port := m.nextEphemeral
		if m.nextEphemeral == ephemeralPortEnd {
			m.nextEphemeral = ephemeralPortStart
		} else {
			m.nextEphemeral++
		}
		if _, taken := table[port]; !taken {
			return port, nil
		}
	}
	return 0, ErrResourceExhausted
}

// FindByPort returns the descriptor bound to port in the namespace for
// typ, if any.
func (m *SocketManager) FindByPort(typ SocketType, port uint16) (SocketFD, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	table := m.portTable(typ)
	if table == nil {
		return InvalidFD, false
	}
	fd, ok := table[port]
	return fd, ok
}

// SocketCount reports how many descriptors are currently registered.
func (m *SocketManager) SocketCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sockets)
}

// ForEach calls fn for every registered socket. fn must not call back
// into the manager.
func (m *SocketManager) ForEach(fn func(*Socket)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sock := range m.sockets {
		fn(sock)
	}
}
