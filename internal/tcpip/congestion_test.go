package tcpip

import "testing"

func TestNewRenoInitialWindowIsTenSegments(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)
	if c.Cwnd() != 10000 {
		t.Fatalf("initial cwnd = %d, want 10000 (10 * MSS per RFC 6928)", c.Cwnd())
	}
}

func TestNewRenoSlowStartIncrementCappedAtMSS(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)

	c.OnSend(2000)
	c.OnAck(2000, false, 2000)

	if c.Phase() != "slow-start" {
		t.Fatalf("phase = %s, want slow-start", c.Phase())
	}
	if c.Cwnd() != 11000 {
		t.Fatalf("cwnd after a 2000-byte ack = %d, want 11000 (increment capped at one MSS)", c.Cwnd())
	}
}

func TestNewRenoEntersCongestionAvoidanceAtSsthresh(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)
	c.ssthresh = 10500

	c.OnSend(2000)
	c.OnAck(2000, false, 2000)
	if c.Phase() != "congestion-avoidance" {
		t.Fatalf("phase = %s, want congestion-avoidance once cwnd >= ssthresh", c.Phase())
	}
}

func TestNewRenoCongestionAvoidanceAccumulatesBeforeIncreasing(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)
	c.ssthresh = 10000 // start already at the boundary of congestion avoidance
	c.phase = phaseCongestionAvoidance
	c.cwnd = 10000

	c.OnSend(10000)
	c.OnAck(4000, false, 4000)
	if c.Cwnd() != 10000 {
		t.Fatalf("cwnd = %d after partial accumulation, want unchanged 10000", c.Cwnd())
	}
	c.OnAck(6000, false, 10000)
	if c.Cwnd() != 11000 {
		t.Fatalf("cwnd = %d once the accumulator reaches cwnd, want 11000", c.Cwnd())
	}
}

func TestNewRenoThreeDupAcksEnterFastRecovery(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)
	c.OnSend(10000)

	c.OnAck(0, true, 0)
	c.OnAck(0, true, 0)
	if c.Phase() != "slow-start" {
		t.Fatalf("phase = %s after two dup acks, want unchanged slow-start", c.Phase())
	}

	c.OnAck(0, true, 0)
	if c.Phase() != "fast-recovery" {
		t.Fatalf("phase = %s after three dup acks, want fast-recovery", c.Phase())
	}
	if c.Ssthresh() == ^uint32(0) {
		t.Fatalf("ssthresh was not lowered on entering fast recovery")
	}
}

func TestNewRenoFullAckExitsFastRecovery(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)
	c.OnSend(10000)
	c.OnAck(0, true, 0)
	c.OnAck(0, true, 0)
	c.OnAck(0, true, 0) // enters fast recovery, recover = snd.una (0)

	c.OnAck(10000, false, 10000)
	if c.Phase() != "congestion-avoidance" {
		t.Fatalf("phase = %s after full ack, want congestion-avoidance", c.Phase())
	}
	if c.Cwnd() != c.Ssthresh() {
		t.Fatalf("cwnd = %d after deflation, want ssthresh %d", c.Cwnd(), c.Ssthresh())
	}
}

func TestNewRenoTimeoutCollapsesToOneSegment(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)
	c.OnSend(20000)
	c.OnTimeout()

	if c.Cwnd() != 1000 {
		t.Fatalf("cwnd after timeout = %d, want mss (1000)", c.Cwnd())
	}
	if c.Phase() != "slow-start" {
		t.Fatalf("phase after timeout = %s, want slow-start", c.Phase())
	}
}

func TestAvailableWindowRespectsMinOfCwndAndRwnd(t *testing.T) {
	c := NewNewRenoControllerWithMSS(1000)
	c.OnSend(1000)

	if got := c.AvailableWindow(500); got != 0 {
		t.Fatalf("available window with rwnd 500 and 1000 in flight = %d, want 0", got)
	}
	if got := c.AvailableWindow(20000); got != c.Cwnd()-1000 {
		t.Fatalf("available window = %d, want %d", got, c.Cwnd()-1000)
	}
}
