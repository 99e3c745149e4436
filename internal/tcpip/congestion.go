package tcpip

// Congestion control phases, mirroring RFC 5681's NewReno state machine.
type congestionPhase int

const (
	phaseSlowStart congestionPhase = iota
	phaseCongestionAvoidance
	phaseFastRecovery
)

func (p congestionPhase) String() string {
	switch p {
	case phaseSlowStart:
		return "slow-start"
	case phaseCongestionAvoidance:
		return "congestion-avoidance"
	case phaseFastRecovery:
		return "fast-recovery"
	default:
		return "unknown"
	}
}

// dupAcksToFastRetransmit is the classic three duplicate ACKs (RFC 5681,
// RFC 6582). The teacher's own netstack lowers this to two for its
// virtualized link; this layer keeps the standard threshold.
const dupAcksToFastRetransmit = 3

// defaultMSS is used when a connection negotiates no MSS option.
const defaultMSS = 1460

// initialWindowSegments is RFC 6928's initial window: 10 MSS.
const initialWindowSegments = 10

// NewRenoController implements the NewReno congestion control algorithm:
// slow start, congestion avoidance, fast retransmit and fast recovery.
type NewRenoController struct {
	phase congestionPhase

	cwnd     uint32
	ssthresh uint32
	mss      uint32

	dupAckCount   uint32
	recover       uint32 // snd.una at the moment fast recovery was entered
	bytesInFlight uint32
	caAccum       uint32 // congestion-avoidance byte accumulator, resets at cwnd
	bytesAcked    uint64 // cumulative total, for metrics
}

// NewNewRenoController returns a controller with the default MSS.
func NewNewRenoController() *NewRenoController {
	return NewNewRenoControllerWithMSS(defaultMSS)
}

// NewNewRenoControllerWithMSS returns a controller seeded for the given
// negotiated MSS: cwnd starts at RFC 6928's 10 segments, ssthresh at the
// maximum representable window so the first loss event is the one that
// sets it.
func NewNewRenoControllerWithMSS(mss uint32) *NewRenoController {
	if mss == 0 {
		mss = defaultMSS
	}
	return &NewRenoController{
		phase:    phaseSlowStart,
		cwnd:     initialWindowSegments * mss,
		ssthresh: ^uint32(0),
		mss:      mss,
	}
}

// Phase reports the current congestion-control phase, for metrics/debug.
func (c *NewRenoController) Phase() string { return c.phase.String() }

// Congestion window, in bytes.
func (c *NewRenoController) Cwnd() uint32 { return c.cwnd }

// Slow-start threshold, in bytes.
func (c *NewRenoController) Ssthresh() uint32 { return c.ssthresh }

// BytesInFlight returns the number of unacknowledged bytes outstanding.
func (c *NewRenoController) BytesInFlight() uint32 { return c.bytesInFlight }

// AvailableWindow returns how many more bytes may be sent right now,
// given the peer's advertised receive window rwnd.
func (c *NewRenoController) AvailableWindow(rwnd uint32) uint32 {
	allowed := min(c.cwnd, rwnd)
	if allowed <= c.bytesInFlight {
		return 0
	}
	return allowed - c.bytesInFlight
}

// OnSend records that n additional bytes were placed on the wire.
func (c *NewRenoController) OnSend(n uint32) {
	c.bytesInFlight += n
}

// OnAck processes an acknowledgment. isDup indicates the ACK number did
// not advance snd.una (a duplicate ACK); ackedBytes is how many bytes of
// previously-in-flight data this ACK newly covers (zero for a pure
// duplicate). sndUna is the current (post-update) oldest-unacknowledged
// sequence number, used both to seed the fast-recovery exit point and to
// detect a "full acknowledgment" that exits it (RFC 6582).
func (c *NewRenoController) OnAck(ackedBytes uint32, isDup bool, sndUna uint32) {
	if ackedBytes > c.bytesInFlight {
		ackedBytes = c.bytesInFlight
	}
	c.bytesInFlight -= ackedBytes

	if isDup {
		c.onDupAck(sndUna)
		return
	}

	c.bytesAcked += uint64(ackedBytes)
	c.dupAckCount = 0

	switch c.phase {
	case phaseFastRecovery:
		if seqGT(sndUna, c.recover) {
			// Full acknowledgment: deflate and return to congestion avoidance.
			c.cwnd = c.ssthresh
			c.phase = phaseCongestionAvoidance
			c.caAccum = 0
		} else {
			// Partial ACK: deflate by the amount newly acked (NewReno inflation).
			if c.cwnd > ackedBytes {
				c.cwnd -= ackedBytes
			} else {
				c.cwnd = 0
			}
			c.cwnd += c.mss
		}
	case phaseSlowStart:
		c.cwnd += min(ackedBytes, c.mss)
		if c.cwnd >= c.ssthresh {
			c.phase = phaseCongestionAvoidance
			c.caAccum = 0
		}
	case phaseCongestionAvoidance:
		// RFC 5681 additive increase: accumulate acked bytes and add one
		// MSS once a full cwnd's worth has been acknowledged.
		c.caAccum += ackedBytes
		if c.caAccum >= c.cwnd {
			c.cwnd += c.mss
			c.caAccum = 0
		}
	}
}

func (c *NewRenoController) onDupAck(sndUna uint32) {
	c.dupAckCount++
	switch c.phase {
	case phaseSlowStart, phaseCongestionAvoidance:
		if c.dupAckCount >= dupAcksToFastRetransmit {
			c.enterFastRecovery(sndUna)
		}
	case phaseFastRecovery:
		// Still in recovery: each further dup ACK means one more segment left
		// the network, so inflate cwnd to keep the pipe full.
		c.cwnd += c.mss
	}
}

func (c *NewRenoController) enterFastRecovery(sndUna uint32) {
	c.ssthresh = max(c.bytesInFlight/2, 2*c.mss)
	c.cwnd = c.ssthresh + dupAcksToFastRetransmit*c.mss
	c.recover = sndUna
	c.phase = phaseFastRecovery
}

// OnTimeout handles an RTO expiry: ssthresh halves, cwnd collapses to one
// segment, and the controller restarts in slow start.
func (c *NewRenoController) OnTimeout() {
	c.ssthresh = max(c.bytesInFlight/2, 2*c.mss)
	c.cwnd = c.mss
	c.dupAckCount = 0
	c.caAccum = 0
	c.phase = phaseSlowStart
}

// Reset restores the controller to its initial slow-start state, for
// reuse across a closed-then-reopened socket.
func (c *NewRenoController) Reset() {
	*c = *NewNewRenoControllerWithMSS(c.mss)
}

// CongestionSnapshot is a point-in-time debug/metrics view.
type CongestionSnapshot struct {
	Phase         string
	Cwnd          uint32
	Ssthresh      uint32
	BytesInFlight uint32
	BytesAcked    uint64
	DupAckCount   uint32
}

// Snapshot returns the current state for diagnostics.
func (c *NewRenoController) Snapshot() CongestionSnapshot {
	return CongestionSnapshot{
		Phase:         c.phase.String(),
		Cwnd:          c.cwnd,
		Ssthresh:      c.ssthresh,
		BytesInFlight: c.bytesInFlight,
		BytesAcked:    c.bytesAcked,
		DupAckCount:   c.dupAckCount,
	}
}
