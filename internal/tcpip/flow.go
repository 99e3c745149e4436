package tcpip

import "time"

// Flow-control buffer sizing and zero-window-probe tuning, from
// original_source/src/net/endpoint/flow_control.rs.
const (
	DefaultRecvBufferSize = 65536
	MaxRecvBufferSize     = 1048576
	MinAdvertiseWindow    = 536

	zeroWindowProbeInterval   = 500 * time.Millisecond
	zeroWindowProbeMaxRetries = 10
)

// flowControlState tracks whether the peer's receive window has closed.
type flowControlState int

const (
	flowNormal flowControlState = iota
	flowZeroWindow
	flowZeroWindowProbe
)

// FlowController implements receive-buffer accounting, Silly Window
// Syndrome avoidance on the advertised window, and zero-window probing
// when the peer's window closes.
type FlowController struct {
	state flowControlState

	recvBufferSize uint32
	recvBufferUsed uint32

	advertisedWindow uint32
	peerWindow       uint32

	// windowUpdateNeeded is set once the advertised window has grown by at
	// least the SWS threshold since it was last reported, so the owning
	// connection knows to push an unsolicited window-update segment
	// instead of waiting for the next data-bearing ACK.
	windowUpdateNeeded bool

	lastProbeAt  time.Time
	probeRetries int
}

// NewFlowController returns a controller with the default receive buffer
// size, window fully open.
func NewFlowController() *FlowController {
	return &FlowController{
		recvBufferSize:   DefaultRecvBufferSize,
		advertisedWindow: DefaultRecvBufferSize,
	}
}

// NewFlowControllerWithBuffer returns a controller with a specific receive
// buffer size, clamped to [MinAdvertiseWindow, MaxRecvBufferSize].
func NewFlowControllerWithBuffer(size uint32) *FlowController {
	if size < MinAdvertiseWindow {
		size = MinAdvertiseWindow
	}
	if size > MaxRecvBufferSize {
		size = MaxRecvBufferSize
	}
	return &FlowController{
		recvBufferSize:   size,
		advertisedWindow: size,
	}
}

// OnReceive records n bytes landing in the receive buffer.
func (f *FlowController) OnReceive(n uint32) {
	f.recvBufferUsed += n
	if f.recvBufferUsed > f.recvBufferSize {
		f.recvBufferUsed = f.recvBufferSize
	}
}

// OnConsume records n bytes delivered out of the receive buffer to the
// application, freeing that much space.
func (f *FlowController) OnConsume(n uint32) {
	if n > f.recvBufferUsed {
		n = f.recvBufferUsed
	}
	f.recvBufferUsed -= n
}

// freeSpace is the unused portion of the receive buffer.
func (f *FlowController) freeSpace() uint32 {
	return f.recvBufferSize - f.recvBufferUsed
}

// swsThreshold is the Silly Window Syndrome avoidance threshold: the
// advertised window is withheld (reported as zero) until at least this
// much receive-buffer space is reclaimable.
func (f *FlowController) swsThreshold() uint32 {
	return max(MinAdvertiseWindow, f.recvBufferSize/4)
}

// UpdateAdvertisedWindow recomputes the window to advertise to the peer,
// applying Silly Window Syndrome avoidance: below the SWS threshold the
// window is advertised as zero rather than teasing the peer with a tiny
// increase; once free space clears the threshold, the full free space is
// advertised and, if it jumped by at least a threshold's worth since the
// last report, windowUpdateNeeded is raised so the caller can push an
// unsolicited update instead of waiting for outbound data.
func (f *FlowController) UpdateAdvertisedWindow() uint32 {
	free := f.freeSpace()
	prev := f.advertisedWindow
	threshold := f.swsThreshold()

	if free < threshold {
		f.advertisedWindow = 0
	} else {
		f.advertisedWindow = free
	}

	if f.advertisedWindow > prev && f.advertisedWindow-prev >= threshold {
		f.windowUpdateNeeded = true
	}
	return f.advertisedWindow
}

// NeedsWindowUpdate reports whether the advertised window has grown
// enough since the last report to warrant pushing an unsolicited update.
func (f *FlowController) NeedsWindowUpdate() bool { return f.windowUpdateNeeded }

// ClearWindowUpdate resets the pending window-update flag once the
// caller has sent (or folded in) the update.
func (f *FlowController) ClearWindowUpdate() { f.windowUpdateNeeded = false }

// UpdatePeerWindow records the peer's most recently advertised receive
// window and transitions the zero-window state machine.
func (f *FlowController) UpdatePeerWindow(window uint32, now time.Time) {
	f.peerWindow = window
	if window == 0 {
		if f.state == flowNormal {
			f.state = flowZeroWindow
			f.lastProbeAt = now
			f.probeRetries = 0
		}
		return
	}
	f.state = flowNormal
	f.probeRetries = 0
}

// ShouldSendProbe reports whether a zero-window probe is due: the peer's
// window is (or was last reported) closed, and the probe interval has
// elapsed since the last attempt, and retries are not yet exhausted.
func (f *FlowController) ShouldSendProbe(now time.Time) bool {
	if f.state == flowNormal {
		return false
	}
	if f.probeRetries >= zeroWindowProbeMaxRetries {
		return false
	}
	return now.Sub(f.lastProbeAt) >= zeroWindowProbeInterval
}

// OnProbeSent records that a zero-window probe byte was just sent.
func (f *FlowController) OnProbeSent(now time.Time) {
	f.state = flowZeroWindowProbe
	f.lastProbeAt = now
	f.probeRetries++
}

// ProbeExhausted reports whether the maximum number of zero-window probe
// retries has been reached without the peer reopening its window; callers
// should abort the connection in that case.
func (f *FlowController) ProbeExhausted() bool {
	return f.probeRetries >= zeroWindowProbeMaxRetries
}

// SendWindow returns the peer's last-known receive window.
func (f *FlowController) SendWindow() uint32 { return f.peerWindow }

// CanSend reports whether the peer's window currently allows any data.
func (f *FlowController) CanSend() bool { return f.peerWindow > 0 }

// BufferUtilization returns the fraction (0..1) of the receive buffer in
// use, for metrics.
func (f *FlowController) BufferUtilization() float64 {
	if f.recvBufferSize == 0 {
		return 0
	}
	return float64(f.recvBufferUsed) / float64(f.recvBufferSize)
}

// Reset restores the controller to an empty, fully-open state.
func (f *FlowController) Reset() {
	size := f.recvBufferSize
	*f = FlowController{recvBufferSize: size, advertisedWindow: size}
}

// FlowDebugInfo is a point-in-time snapshot for diagnostics.
type FlowDebugInfo struct {
	State              string
	RecvBufferUsed     uint32
	RecvBufferSize     uint32
	AdvertisedWindow   uint32
	PeerWindow         uint32
	ProbeRetries       int
	WindowUpdateNeeded bool
}

func (f *FlowController) DebugInfo() FlowDebugInfo {
	var state string
	switch f.state {
	case flowNormal:
		state = "normal"
	case flowZeroWindow:
		state = "zero-window"
	case flowZeroWindowProbe:
		state = "zero-window-probe"
	}
	return FlowDebugInfo{
		State:              state,
		RecvBufferUsed:     f.recvBufferUsed,
		RecvBufferSize:     f.recvBufferSize,
		AdvertisedWindow:   f.advertisedWindow,
		PeerWindow:         f.peerWindow,
		ProbeRetries:       f.probeRetries,
		WindowUpdateNeeded: f.windowUpdateNeeded,
	}
}
