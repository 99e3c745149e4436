package tcpip

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ispGenerationStep is the amount the ISN counter advances per
// GenerateISN call, matching original_source/src/net/endpoint/tcb.rs's
// choice of a large stride so successive connections to the same peer
// don't reuse sequence space too quickly.
const ispGenerationStep = 64000

// sweepInterval is how often TCBTable.Tick should be invoked by the
// owning stack's scheduler; the teacher's netstack and the original
// source both drive this from a fixed external tick rather than per-TCB
// timers.
const sweepInterval = 100 * time.Millisecond

// TCBKey identifies a connection by its local/remote address pair.
type TCBKey struct {
	Local  Address
	Remote Address
}

// TCB is one TCP Control Block: the full per-connection state tracked
// above the wire format of a single segment.
type TCB struct {
	FD     SocketFD
	Local  Address
	Remote Address

	State TCPConnState

	SndNxt uint32 // next sequence number to send
	SndUna uint32 // oldest unacknowledged sequence number
	RcvNxt uint32 // next sequence number expected from peer

	SndWnd uint32 // peer's last-advertised send window (scaled)
	RcvWnd uint32 // our last-advertised receive window (scaled)

	Congestion  *NewRenoController
	Flow        *FlowController
	Retransmit  *RetransmitQueue
	WindowScale WindowScaleOption

	MSS uint16

	lastSendAt time.Time
}

// NewTCB constructs a TCB with fresh congestion/flow/retransmit state.
func NewTCB(fd SocketFD, local, remote Address, mss uint16) *TCB {
	if mss == 0 {
		mss = defaultMSS
	}
	return &TCB{
		FD:          fd,
		Local:       local,
		Remote:      remote,
		State:       TCPClosed,
		Congestion:  NewNewRenoControllerWithMSS(uint32(mss)),
		Flow:        NewFlowController(),
		Retransmit:  NewRetransmitQueue(),
		WindowScale: NewWindowScaleOption(),
		MSS:         mss,
	}
}

// InitializeSeq seeds SndNxt/SndUna from a freshly generated ISN.
func (t *TCB) InitializeSeq(isn uint32) {
	t.SndNxt = isn
	t.SndUna = isn
}

// EffectiveSendWindow is the lesser of the congestion window's available
// room and the peer's advertised (scaled) receive window.
func (t *TCB) EffectiveSendWindow() uint32 {
	return t.Congestion.AvailableWindow(t.SndWnd)
}

// EffectiveRecvWindow is the window we currently advertise to the peer,
// after SWS-avoidance smoothing.
func (t *TCB) EffectiveRecvWindow() uint32 {
	return t.Flow.UpdateAdvertisedWindow()
}

// AdvertisedRecvWindow converts EffectiveRecvWindow into the 16-bit value
// to place on the wire, applying the negotiated window scale.
func (t *TCB) AdvertisedRecvWindow() uint16 {
	return t.WindowScale.Advertised(t.EffectiveRecvWindow())
}

// OnAckReceived processes an incoming ACK: advances SndUna, folds the
// acknowledgment into the retransmit queue and congestion controller.
func (t *TCB) OnAckReceived(ackNum uint32, now time.Time) {
	isDup := ackNum == t.SndUna
	acked := t.Retransmit.AckReceived(ackNum, now)
	if seqGT(ackNum, t.SndUna) {
		t.SndUna = ackNum
	}
	t.Congestion.OnAck(acked, isDup, t.SndUna)
}

// OnDataReceived records inbound payload bytes in the flow controller and
// advances RcvNxt.
func (t *TCB) OnDataReceived(n uint32) {
	t.Flow.OnReceive(n)
	t.RcvNxt += n
}

// OnDataConsumed records bytes handed off to the application, freeing
// receive-buffer space.
func (t *TCB) OnDataConsumed(n uint32) {
	t.Flow.OnConsume(n)
}

// OnSend records n bytes newly placed on the wire.
func (t *TCB) OnSend(n uint32, now time.Time) {
	t.Congestion.OnSend(n)
	t.SndNxt += n
	t.lastSendAt = now
}

// OnTimeout handles an RTO expiry for this connection.
func (t *TCB) OnTimeout() {
	t.Congestion.OnTimeout()
}

// UpdatePeerWindow records the peer's most recently advertised window,
// applying the negotiated send-direction scale.
func (t *TCB) UpdatePeerWindow(advertised uint16, now time.Time) {
	t.SndWnd = t.WindowScale.ScaleSndWindow(advertised)
	t.Flow.UpdatePeerWindow(t.SndWnd, now)
}

// CanSend reports whether there is congestion/flow-control room to send.
func (t *TCB) CanSend() bool {
	return t.Flow.CanSend() && t.EffectiveSendWindow() > 0
}

// TCBSnapshot is a point-in-time debug/metrics view of a connection.
type TCBSnapshot struct {
	Local      Address
	Remote     Address
	State      string
	SndNxt     uint32
	SndUna     uint32
	RcvNxt     uint32
	Congestion CongestionSnapshot
	Flow       FlowDebugInfo
}

// Snapshot returns the current state for diagnostics.
func (t *TCB) Snapshot() TCBSnapshot {
	return TCBSnapshot{
		Local:      t.Local,
		Remote:     t.Remote,
		State:      t.State.String(),
		SndNxt:     t.SndNxt,
		SndUna:     t.SndUna,
		RcvNxt:     t.RcvNxt,
		Congestion: t.Congestion.Snapshot(),
		Flow:       t.Flow.DebugInfo(),
	}
}

// TCBTable is the set of all live connections, keyed by (local, remote)
// address pair so lookup never requires scanning by descriptor.
type TCBTable struct {
	mu   sync.RWMutex
	conn map[TCBKey]*TCB
	byFD map[SocketFD]TCBKey

	isnCounter uint32

	// retransmitLimiter caps how many segments a single Tick sweep will
	// retransmit, so a burst of simultaneous timeouts can't saturate the
	// outbound link in one scheduler tick.
	retransmitLimiter *rate.Limiter
}

// NewTCBTable returns an empty table. maxRetransmitsPerSweep bounds how
// many segments Tick will resend in a single call; 0 means unlimited.
func NewTCBTable(maxRetransmitsPerSweep int) *TCBTable {
	limit := rate.Inf
	burst := 1
	if maxRetransmitsPerSweep > 0 {
		limit = rate.Every(sweepInterval / time.Duration(maxRetransmitsPerSweep))
		burst = maxRetransmitsPerSweep
	}
	return &TCBTable{
		conn:              make(map[TCBKey]*TCB),
		byFD:              make(map[SocketFD]TCBKey),
		retransmitLimiter: rate.NewLimiter(limit, burst),
	}
}

// GenerateISN returns the next initial sequence number, advancing the
// internal counter by ispGenerationStep.
func (tbl *TCBTable) GenerateISN() uint32 {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	isn := tbl.isnCounter
	tbl.isnCounter += ispGenerationStep
	return isn
}

// Insert adds a TCB to the table, indexed by both address pair and
// descriptor.
func (tbl *TCBTable) Insert(tcb *TCB) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	key := TCBKey{Local: tcb.Local, Remote: tcb.Remote}
	tbl.conn[key] = tcb
	tbl.byFD[tcb.FD] = key
}

// Lookup finds a TCB by its address pair.
func (tbl *TCBTable) Lookup(local, remote Address) (*TCB, bool) {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	tcb, ok := tbl.conn[TCBKey{Local: local, Remote: remote}]
	return tcb, ok
}

// LookupByFD finds a TCB by descriptor, via the secondary index rather
// than a scan.
func (tbl *TCBTable) LookupByFD(fd SocketFD) (*TCB, bool) {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	key, ok := tbl.byFD[fd]
	if !ok {
		return nil, false
	}
	tcb, ok := tbl.conn[key]
	return tcb, ok
}

// Update runs fn with exclusive access to the TCB at (local, remote), if
// one exists. Reports whether a TCB was found.
func (tbl *TCBTable) Update(local, remote Address, fn func(*TCB)) bool {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	tcb, ok := tbl.conn[TCBKey{Local: local, Remote: remote}]
	if !ok {
		return false
	}
	fn(tcb)
	return true
}

// Remove deletes a TCB from both indexes.
func (tbl *TCBTable) Remove(local, remote Address) {
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	key := TCBKey{Local: local, Remote: remote}
	if tcb, ok := tbl.conn[key]; ok {
		delete(tbl.byFD, tcb.FD)
	}
	delete(tbl.conn, key)
}

// Len reports the number of live connections.
func (tbl *TCBTable) Len() int {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	return len(tbl.conn)
}

// ForEach calls fn for every live connection. fn must not call back into
// the table (Insert/Remove/Update), as the lock is held read-only for the
// duration.
func (tbl *TCBTable) ForEach(fn func(*TCB)) {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()
	for _, tcb := range tbl.conn {
		fn(tcb)
	}
}

// RetransmitDecision is the action Tick wants taken for one connection.
type RetransmitDecision struct {
	TCB  *TCB
	Data []byte
	Seq  uint32
	Abort bool
}

// Tick is the periodic sweep driven by the stack's scheduler at
// sweepInterval: it checks every connection's retransmit queue and
// zero-window-probe deadline, returning the segments that must go back
// out now. Sweeps that would exceed the configured per-tick retransmit
// budget defer the remaining connections to the next tick.
func (tbl *TCBTable) Tick(now time.Time) []RetransmitDecision {
	tbl.mu.RLock()
	defer tbl.mu.RUnlock()

	var decisions []RetransmitDecision
	for _, tcb := range tbl.conn {
		if tcb.Retransmit.CheckTimeout(now) {
			if !tbl.retransmitLimiter.AllowN(now, 1) {
				continue
			}
			data, seq, ok := tcb.Retransmit.Retransmit(now)
			if !ok {
				tcb.OnTimeout()
				decisions = append(decisions, RetransmitDecision{TCB: tcb, Abort: true})
				continue
			}
			tcb.OnTimeout()
			decisions = append(decisions, RetransmitDecision{TCB: tcb, Data: data, Seq: seq})
		}
		if tcb.Flow.ShouldSendProbe(now) {
			if tcb.Flow.ProbeExhausted() {
				decisions = append(decisions, RetransmitDecision{TCB: tcb, Abort: true})
				continue
			}
			tcb.Flow.OnProbeSent(now)
			decisions = append(decisions, RetransmitDecision{TCB: tcb, Data: []byte{0}, Seq: tcb.SndNxt})
		}
	}
	return decisions
}
