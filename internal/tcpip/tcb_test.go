package tcpip

import (
	"testing"
	"time"
)

func TestTCBTableGenerateISNAdvancesByStep(t *testing.T) {
	tbl := NewTCBTable(0)
	first := tbl.GenerateISN()
	second := tbl.GenerateISN()
	if second-first != ispGenerationStep {
		t.Fatalf("ISN step = %d, want %d", second-first, ispGenerationStep)
	}
}

func TestTCBTableInsertLookupRemove(t *testing.T) {
	tbl := NewTCBTable(0)
	local := Address{IP: [4]byte{10, 0, 0, 1}, Port: 80}
	remote := Address{IP: [4]byte{10, 0, 0, 2}, Port: 4000}

	tcb := NewTCB(1, local, remote, 0)
	tbl.Insert(tcb)

	got, ok := tbl.Lookup(local, remote)
	if !ok || got != tcb {
		t.Fatalf("Lookup did not return the inserted TCB")
	}

	byFD, ok := tbl.LookupByFD(1)
	if !ok || byFD != tcb {
		t.Fatalf("LookupByFD did not return the inserted TCB")
	}

	tbl.Remove(local, remote)
	if _, ok := tbl.Lookup(local, remote); ok {
		t.Fatalf("TCB still present after Remove")
	}
	if _, ok := tbl.LookupByFD(1); ok {
		t.Fatalf("FD index still present after Remove")
	}
}

func TestTCBOnAckReceivedAdvancesSndUna(t *testing.T) {
	local := Address{Port: 80}
	remote := Address{Port: 4000}
	tcb := NewTCB(1, local, remote, 1000)
	tcb.InitializeSeq(1000)

	tcb.Retransmit.Push(1000, make([]byte, 500), time.Unix(0, 0))
	tcb.OnSend(500, time.Unix(0, 0))

	tcb.OnAckReceived(1500, time.Unix(0, 1))
	if tcb.SndUna != 1500 {
		t.Fatalf("SndUna = %d, want 1500", tcb.SndUna)
	}
	if !tcb.Retransmit.IsEmpty() {
		t.Fatalf("retransmit queue should be empty once fully acked")
	}
}

func TestTCBTickRetransmitsTimedOutSegment(t *testing.T) {
	tbl := NewTCBTable(0)
	local := Address{Port: 80}
	remote := Address{Port: 4000}
	tcb := NewTCB(1, local, remote, 0)
	tcb.InitializeSeq(0)

	now := time.Unix(0, 0)
	tcb.Retransmit.Push(0, []byte("x"), now)
	tcb.OnSend(1, now)
	tbl.Insert(tcb)

	decisions := tbl.Tick(now.Add(rtoInitial + time.Millisecond))
	if len(decisions) != 1 {
		t.Fatalf("got %d decisions, want 1 retransmit", len(decisions))
	}
	if decisions[0].Abort {
		t.Fatalf("should not abort on the first timeout")
	}
}

func TestTCBTickLimitsRetransmitsPerSweep(t *testing.T) {
	tbl := NewTCBTable(1)
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		local := Address{Port: uint16(1000 + i)}
		remote := Address{Port: 4000}
		tcb := NewTCB(SocketFD(i+1), local, remote, 0)
		tcb.InitializeSeq(0)
		tcb.Retransmit.Push(0, []byte("x"), now)
		tcb.OnSend(1, now)
		tbl.Insert(tcb)
	}

	decisions := tbl.Tick(now.Add(rtoInitial + time.Millisecond))
	if len(decisions) > 1 {
		t.Fatalf("got %d decisions in one sweep, want at most 1 given the configured budget", len(decisions))
	}
}
