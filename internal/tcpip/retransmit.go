package tcpip

import (
	"time"

	"gvisor.dev/gvisor/pkg/tcpip/seqnum"
)

// Wrap-aware 32-bit sequence number comparisons, built on gVisor's seqnum
// package rather than hand-rolled `int32(a-b)` arithmetic.

func seqLT(a, b uint32) bool {
	return seqnum.Value(a).LessThan(seqnum.Value(b))
}

func seqLTE(a, b uint32) bool {
	return seqnum.Value(a).LessThanEq(seqnum.Value(b))
}

func seqGT(a, b uint32) bool {
	return seqnum.Value(b).LessThan(seqnum.Value(a))
}

func seqGTE(a, b uint32) bool {
	return seqnum.Value(b).LessThanEq(seqnum.Value(a))
}

// seqInWindow reports whether v lies within [first, first+size).
func seqInWindow(v, first uint32, size uint32) bool {
	return seqnum.Value(v).InWindow(seqnum.Value(first), seqnum.Size(size))
}

// RTO bounds and smoothing constants from RFC 6298. The teacher's own
// estimator loosens these "for virtual networks"; this layer follows the
// RFC values the original Rust source also used.
const (
	rtoMin     = 200 * time.Millisecond
	rtoMax     = 60 * time.Second
	rtoInitial = 1000 * time.Millisecond

	rttAlphaShift = 3 // SRTT smoothing factor 1/8
	rttBetaShift  = 2 // RTTVAR smoothing factor 1/4
)

// RTOEstimator maintains the smoothed round-trip time estimate and current
// retransmission timeout per RFC 6298.
type RTOEstimator struct {
	srtt       time.Duration
	rttvar     time.Duration
	rto        time.Duration
	haveSample bool
}

// NewRTOEstimator returns an estimator with no samples yet, RTO at the
// RFC 6298 initial value.
func NewRTOEstimator() *RTOEstimator {
	return &RTOEstimator{rto: rtoInitial}
}

// Update folds a fresh RTT sample into the estimator. Per Karn's rule,
// callers must never feed a sample measured from a retransmitted segment.
func (e *RTOEstimator) Update(rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	if !e.haveSample {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.haveSample = true
	} else {
		delta := e.srtt - rtt
		if delta < 0 {
			delta = -delta
		}
		e.rttvar = e.rttvar - e.rttvar>>rttBetaShift + delta>>rttBetaShift
		e.srtt = e.srtt - e.srtt>>rttAlphaShift + rtt>>rttAlphaShift
	}

	rto := e.srtt + max(4*e.rttvar, time.Millisecond)
	e.rto = clampDuration(rto, rtoMin, rtoMax)
}

// RTO returns the current retransmission timeout.
func (e *RTOEstimator) RTO() time.Duration { return e.rto }

// Backoff doubles the current RTO (exponential backoff after a timeout),
// capped at rtoMax. The smoothed estimate itself is left untouched so a
// single timeout doesn't poison future estimates.
func (e *RTOEstimator) Backoff() time.Duration {
	e.rto = clampDuration(e.rto*2, rtoMin, rtoMax)
	return e.rto
}

// Reset clears all samples, restoring the initial RTO.
func (e *RTOEstimator) Reset() {
	*e = RTOEstimator{rto: rtoInitial}
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// maxRetransmitRetries bounds how many times a single segment is
// retransmitted before the connection is aborted.
const maxRetransmitRetries = 5

// unackedSegment is one outstanding (unacknowledged) segment awaiting ACK
// or retransmission.
type unackedSegment struct {
	seq              uint32
	data             []byte
	sentAt           time.Time
	retransmitCount  int
	isRetransmit     bool
}

// RetransmitQueue holds the segments sent but not yet acknowledged for one
// connection, in sequence order, and decides when they must be resent.
type RetransmitQueue struct {
	segments []*unackedSegment
	rto      *RTOEstimator
}

// NewRetransmitQueue returns an empty queue backed by its own RTO
// estimator.
func NewRetransmitQueue() *RetransmitQueue {
	return &RetransmitQueue{rto: NewRTOEstimator()}
}

// RTO exposes the queue's estimator for callers that need the current
// timeout value directly (e.g. arming a zero-window probe timer).
func (q *RetransmitQueue) RTO() *RTOEstimator { return q.rto }

// Push enqueues a newly-sent segment.
func (q *RetransmitQueue) Push(seq uint32, data []byte, now time.Time) {
	q.segments = append(q.segments, &unackedSegment{
		seq:    seq,
		data:   append([]byte(nil), data...),
		sentAt: now,
	})
}

// IsEmpty reports whether there is nothing outstanding.
func (q *RetransmitQueue) IsEmpty() bool { return len(q.segments) == 0 }

// AckReceived removes every segment fully covered by ackNum (cumulative
// ACK semantics) and, per Karn's rule, folds an RTT sample into the
// estimator only for segments that were never retransmitted.
func (q *RetransmitQueue) AckReceived(ackNum uint32, now time.Time) (ackedBytes uint32) {
	i := 0
	for i < len(q.segments) {
		seg := q.segments[i]
		end := seg.seq + uint32(len(seg.data))
		if !seqLTE(end, ackNum) {
			break
		}
		ackedBytes += uint32(len(seg.data))
		if !seg.isRetransmit {
			q.rto.Update(now.Sub(seg.sentAt))
		}
		i++
	}
	q.segments = q.segments[i:]
	return ackedBytes
}

// CheckTimeout reports whether the oldest outstanding segment has been
// waiting longer than the current RTO.
func (q *RetransmitQueue) CheckTimeout(now time.Time) bool {
	if len(q.segments) == 0 {
		return false
	}
	oldest := q.segments[0]
	return now.Sub(oldest.sentAt) >= q.rto.RTO()
}

// Retransmit marks the oldest outstanding segment as resent now, applies
// RTO exponential backoff, and returns its bytes for re-emission. ok is
// false once the segment has exceeded maxRetransmitRetries, signaling the
// caller should abort the connection (RST).
func (q *RetransmitQueue) Retransmit(now time.Time) (data []byte, seq uint32, ok bool) {
	if len(q.segments) == 0 {
		return nil, 0, false
	}
	seg := q.segments[0]
	if seg.retransmitCount >= maxRetransmitRetries {
		return nil, 0, false
	}
	seg.retransmitCount++
	seg.isRetransmit = true
	seg.sentAt = now
	q.rto.Backoff()
	return seg.data, seg.seq, true
}

// Oldest returns the sequence number of the oldest outstanding segment,
// or false if the queue is empty.
func (q *RetransmitQueue) Oldest() (uint32, bool) {
	if len(q.segments) == 0 {
		return 0, false
	}
	return q.segments[0].seq, true
}

// Clear discards all outstanding segments, e.g. on connection reset.
func (q *RetransmitQueue) Clear() {
	q.segments = nil
}
