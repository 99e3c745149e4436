package tcpip

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// MaxWindowScale is the largest permitted window-scale shift (RFC 7323).
const MaxWindowScale = 14

// optionsBufferLen is the fixed staging buffer size for emitted options,
// matching the 40-byte maximum TCP options area.
const optionsBufferLen = 40

// parsedOptions holds the subset of TCP options this layer understands:
// MSS, window scale, and SACK-permitted. Unknown option kinds are skipped
// by their length byte, per RFC 793.
type parsedOptions struct {
	mss            uint16
	hasMSS         bool
	windowScale    uint8
	hasWindowScale bool
	sackPermitted  bool
}

// parseOptions walks a TCP options byte slice, extracting MSS, window
// scale and SACK-permitted. Unrecognized kinds are skipped using their
// length field; a malformed length stops the scan rather than panicking.
func parseOptions(options []byte) parsedOptions {
	var out parsedOptions
	i := 0
	for i < len(options) {
		kind := options[i]
		switch kind {
		case header.TCPOptionKindEOL:
			return out
		case header.TCPOptionKindNOP:
			i++
			continue
		case header.TCPOptionKindMSS:
			if i+4 <= len(options) && options[i+1] == 4 {
				out.mss = binary.BigEndian.Uint16(options[i+2 : i+4])
				out.hasMSS = true
			}
			if i+1 >= len(options) || options[i+1] < 2 {
				return out
			}
			i += int(options[i+1])
		case header.TCPOptionKindWS:
			if i+3 <= len(options) && options[i+1] == 3 {
				scale := options[i+2]
				if scale > MaxWindowScale {
					scale = MaxWindowScale
				}
				out.windowScale = scale
				out.hasWindowScale = true
			}
			if i+1 >= len(options) || options[i+1] < 2 {
				return out
			}
			i += int(options[i+1])
		case header.TCPOptionKindSACKPermitted:
			if i+2 <= len(options) && options[i+1] == 2 {
				out.sackPermitted = true
			}
			if i+1 >= len(options) || options[i+1] < 2 {
				return out
			}
			i += int(options[i+1])
		default:
			if i+1 >= len(options) {
				return out
			}
			length := int(options[i+1])
			if length < 2 || i+length > len(options) {
				return out
			}
			i += length
		}
	}
	return out
}

// buildOptions emits MSS, then (if scale is present) a NOP+WSopt pair for
// 4-byte alignment, then SACK-permitted if requested, padded with NOPs to
// a 4-byte boundary. Returns a slice into a fixed 40-byte staging buffer.
func buildOptions(buf *[optionsBufferLen]byte, mss uint16, scale uint8, includeScale, includeSACK bool) []byte {
	n := 0
	n += header.EncodeMSSOption(uint32(mss), buf[n:])

	if includeScale {
		if scale > MaxWindowScale {
			scale = MaxWindowScale
		}
		n += header.EncodeNOP(buf[n:])
		n += header.EncodeWSOption(int(scale), buf[n:])
	}

	if includeSACK {
		n += header.EncodeSACKPermittedOption(buf[n:])
	}

	for n%4 != 0 && n < optionsBufferLen {
		n += header.EncodeNOP(buf[n:])
	}

	return buf[:n]
}

// WindowScaleOption tracks the send- and receive-direction window scale
// shifts negotiated for a connection (RFC 7323).
type WindowScaleOption struct {
	Enabled   bool
	SndScale  uint8 // shift applied when interpreting the peer's advertised window
	RcvScale  uint8 // shift applied to our own buffer size when advertising
}

// NewWindowScaleOption returns scaling disabled; set Enabled (or use
// DefaultEnabledWindowScaleOption) once negotiation completes.
func NewWindowScaleOption() WindowScaleOption {
	return WindowScaleOption{}
}

// DefaultEnabledWindowScaleOption returns scaling enabled with a receive
// scale of rcvScale (clamped to MaxWindowScale), send scale 0 until the
// peer's SYN-ACK sets it.
func DefaultEnabledWindowScaleOption(rcvScale uint8) WindowScaleOption {
	if rcvScale > MaxWindowScale {
		rcvScale = MaxWindowScale
	}
	return WindowScaleOption{Enabled: true, RcvScale: rcvScale}
}

// SetSndScale records the peer's advertised window-scale shift, clamping
// to MaxWindowScale. No-op if scaling was never enabled locally.
func (w *WindowScaleOption) SetSndScale(scale uint8) {
	if !w.Enabled {
		return
	}
	if scale > MaxWindowScale {
		scale = MaxWindowScale
	}
	w.SndScale = scale
}

// ScaleSndWindow converts the peer's raw 16-bit advertised window into the
// actual byte count, applying SndScale when enabled.
func (w WindowScaleOption) ScaleSndWindow(advertised uint16) uint32 {
	if !w.Enabled {
		return uint32(advertised)
	}
	return uint32(advertised) << w.SndScale
}

// Advertised computes the 16-bit window field to place on the wire from
// an actual byte count, applying RcvScale when enabled and saturating at
// 65535.
func (w WindowScaleOption) Advertised(actual uint32) uint16 {
	if w.Enabled && w.RcvScale > 0 {
		scaled := actual >> w.RcvScale
		if scaled > 65535 {
			return 65535
		}
		return uint16(scaled)
	}
	if actual > 65535 {
		return 65535
	}
	return uint16(actual)
}
