package tcpip

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// tcpProtocolNumber is IANA protocol number 6, used both in the IPv4
// pseudo header for checksum computation and as the protocol byte handed
// to IPSink.
const tcpProtocolNumber = uint8(header.TCPProtocolNumber)

// baseHeaderLen is the fixed 20-byte TCP header with no options.
const baseHeaderLen = 20

// SegmentBuilder assembles a single outbound TCP segment, mirroring the
// builder-pattern API of original_source/src/net/endpoint/segment.rs.
type SegmentBuilder struct {
	srcPort, dstPort uint16
	seq, ack         uint32
	flags            TCPFlags
	window           uint16
	options          []byte
	data             []byte
}

// NewSegmentBuilder starts a segment between the given ports.
func NewSegmentBuilder(srcPort, dstPort uint16) *SegmentBuilder {
	return &SegmentBuilder{srcPort: srcPort, dstPort: dstPort}
}

func (b *SegmentBuilder) Seq(seq uint32) *SegmentBuilder { b.seq = seq; return b }
func (b *SegmentBuilder) Ack(ack uint32) *SegmentBuilder { b.ack = ack; return b }
func (b *SegmentBuilder) Flags(flags TCPFlags) *SegmentBuilder { b.flags = flags; return b }

func (b *SegmentBuilder) SYN() *SegmentBuilder { b.flags |= FlagSYN; return b }
func (b *SegmentBuilder) ACK() *SegmentBuilder { b.flags |= FlagACK; return b }
func (b *SegmentBuilder) FIN() *SegmentBuilder { b.flags |= FlagFIN; return b }
func (b *SegmentBuilder) RST() *SegmentBuilder { b.flags |= FlagRST; return b }
func (b *SegmentBuilder) PSH() *SegmentBuilder { b.flags |= FlagPSH; return b }

func (b *SegmentBuilder) Window(window uint16) *SegmentBuilder { b.window = window; return b }
func (b *SegmentBuilder) Options(options []byte) *SegmentBuilder { b.options = options; return b }
func (b *SegmentBuilder) Data(data []byte) *SegmentBuilder { b.data = data; return b }

// optionsPadded returns the options slice padded to a multiple of 4 bytes
// with trailing NOPs, as RFC 793 data-offset arithmetic requires.
func (b *SegmentBuilder) optionsPadded() []byte {
	if len(b.options)%4 == 0 {
		return b.options
	}
	pad := 4 - len(b.options)%4
	out := make([]byte, len(b.options)+pad)
	copy(out, b.options)
	for i := len(b.options); i < len(out); i++ {
		out[i] = header.TCPOptionKindNOP
	}
	return out
}

// Build encodes the header, options and payload into a single buffer,
// filling in the checksum computed over the IPv4 pseudo-header.
func (b *SegmentBuilder) Build(srcIP, dstIP [4]byte) []byte {
	options := b.optionsPadded()
	headerLen := baseHeaderLen + len(options)
	dataOffset := headerLen / 4

	buf := make([]byte, headerLen+len(b.data))
	binary.BigEndian.PutUint16(buf[0:2], b.srcPort)
	binary.BigEndian.PutUint16(buf[2:4], b.dstPort)
	binary.BigEndian.PutUint32(buf[4:8], b.seq)
	binary.BigEndian.PutUint32(buf[8:12], b.ack)
	buf[12] = uint8(dataOffset) << 4
	buf[13] = uint8(b.flags)
	binary.BigEndian.PutUint16(buf[14:16], b.window)
	// checksum at [16:18] filled below
	// urgent pointer [18:20] stays zero; urgent data is unsupported
	copy(buf[baseHeaderLen:headerLen], options)
	copy(buf[headerLen:], b.data)

	binary.BigEndian.PutUint16(buf[16:18], 0)
	check := segmentChecksum(srcIP, dstIP, buf)
	binary.BigEndian.PutUint16(buf[16:18], check)

	return buf
}

// segmentChecksum computes the TCP checksum over the IPv4 pseudo-header
// (source/destination address, protocol, TCP length) followed by the
// segment bytes, using gVisor's one's-complement checksum folding, and
// returns the complement of that sum for the header's checksum field.
func segmentChecksum(srcIP, dstIP [4]byte, segment []byte) uint16 {
	src := tcpip.AddrFrom4(srcIP)
	dst := tcpip.AddrFrom4(dstIP)
	pseudo := header.PseudoHeaderChecksum(header.TCPProtocolNumber, src, dst, uint16(len(segment)))
	return ^header.Checksum(segment, pseudo)
}

// parsedSegment is a decoded inbound TCP segment.
type parsedSegment struct {
	srcPort, dstPort uint16
	seq, ack         uint32
	flags            TCPFlags
	window           uint16
	options          parsedOptions
	data             []byte
}

// ParseSegment decodes a TCP header, options, and payload from buf. It
// does not validate the checksum; callers that need wire-integrity
// checking should call VerifyChecksum first.
func ParseSegment(buf []byte, srcIP, dstIP [4]byte) (parsedSegment, bool) {
	if len(buf) < baseHeaderLen {
		return parsedSegment{}, false
	}
	dataOffset := int(buf[12]>>4) * 4
	if dataOffset < baseHeaderLen || dataOffset > len(buf) {
		return parsedSegment{}, false
	}
	seg := parsedSegment{
		srcPort: binary.BigEndian.Uint16(buf[0:2]),
		dstPort: binary.BigEndian.Uint16(buf[2:4]),
		seq:     binary.BigEndian.Uint32(buf[4:8]),
		ack:     binary.BigEndian.Uint32(buf[8:12]),
		flags:   TCPFlags(buf[13]),
		window:  binary.BigEndian.Uint16(buf[14:16]),
		data:    buf[dataOffset:],
	}
	if dataOffset > baseHeaderLen {
		seg.options = parseOptions(buf[baseHeaderLen:dataOffset])
	}
	return seg, true
}

// VerifyChecksum reports whether buf carries a valid TCP checksum for the
// given IPv4 source/destination pair.
func VerifyChecksum(buf []byte, srcIP, dstIP [4]byte) bool {
	src := tcpip.AddrFrom4(srcIP)
	dst := tcpip.AddrFrom4(dstIP)
	pseudo := header.PseudoHeaderChecksum(header.TCPProtocolNumber, src, dst, uint16(len(buf)))
	return header.Checksum(buf, pseudo) == 0xffff
}
