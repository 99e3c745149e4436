package tcpip

import (
	"testing"

	"github.com/rs/xid"
)

func TestSocketManagerCreateAssignsTraceID(t *testing.T) {
	m := NewSocketManager()
	sock := m.Create(SocketTypeTCP)
	if !sock.FD.IsValid() {
		t.Fatalf("created socket has invalid FD")
	}
	if sock.TraceID == xid.NilID() {
		t.Fatalf("created socket has a nil trace ID")
	}
	if sock.State != StateCreated {
		t.Fatalf("state = %v, want created", sock.State)
	}
}

func TestSocketManagerBindAssignsEphemeralPort(t *testing.T) {
	m := NewSocketManager()
	sock := m.Create(SocketTypeTCP)

	if err := m.BindPort(sock.FD, 0); err != nil {
		t.Fatalf("BindPort(0) failed: %v", err)
	}
	if sock.Local.Port < ephemeralPortStart || sock.Local.Port > ephemeralPortEnd {
		t.Fatalf("assigned port %d outside ephemeral range [%d, %d]", sock.Local.Port, ephemeralPortStart, ephemeralPortEnd)
	}
	if sock.State != StateBound {
		t.Fatalf("state = %v, want bound", sock.State)
	}
}

func TestSocketManagerBindRejectsPortInUse(t *testing.T) {
	m := NewSocketManager()
	a := m.Create(SocketTypeTCP)
	b := m.Create(SocketTypeTCP)

	if err := m.BindPort(a.FD, 8080); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	if err := m.BindPort(b.FD, 8080); err != ErrPortInUse {
		t.Fatalf("second bind to the same port = %v, want ErrPortInUse", err)
	}
}

func TestSocketManagerBindRejectsDoubleBind(t *testing.T) {
	m := NewSocketManager()
	sock := m.Create(SocketTypeTCP)
	if err := m.BindPort(sock.FD, 8080); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	if err := m.BindPort(sock.FD, 9090); err != ErrAlreadyBound {
		t.Fatalf("rebind = %v, want ErrAlreadyBound", err)
	}
}

func TestSocketManagerUnregisterFreesPort(t *testing.T) {
	m := NewSocketManager()
	sock := m.Create(SocketTypeTCP)
	if err := m.BindPort(sock.FD, 8080); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	m.Unregister(sock.FD)

	other := m.Create(SocketTypeTCP)
	if err := m.BindPort(other.FD, 8080); err != nil {
		t.Fatalf("rebind of freed port failed: %v", err)
	}
}

func TestSocketManagerTCPAndUDPPortNamespacesAreIndependent(t *testing.T) {
	m := NewSocketManager()
	tcpSock := m.Create(SocketTypeTCP)
	udpSock := m.Create(SocketTypeUDP)

	if err := m.BindPort(tcpSock.FD, 53); err != nil {
		t.Fatalf("tcp bind failed: %v", err)
	}
	if err := m.BindPort(udpSock.FD, 53); err != nil {
		t.Fatalf("udp bind to the same port number should succeed in a separate namespace: %v", err)
	}
}
