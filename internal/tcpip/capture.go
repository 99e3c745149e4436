package tcpip

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lucidkernel/tcpip/internal/pcap"
)

// capturingSink wraps an IPSink, writing every segment it sends to a
// pcap stream before forwarding it, so a running stack's wire traffic
// can be dumped for offline analysis the same way the teacher's NetStack
// supports OpenPacketCapture. It uses pcap.LinkTypeRaw (DLT_RAW) since
// IPSink hands it bare IP datagrams, not Ethernet frames; the writer
// itself needed no change beyond exposing that DLT alongside the
// teacher's original LinkTypeEthernet.
type capturingSink struct {
	inner   IPSink
	localIP [4]byte
	log     *slog.Logger

	mu     sync.Mutex
	writer *pcap.Writer
}

// newCapturingSink wraps inner, writing a pcap stream of raw IPv4
// datagrams to out. localIP stamps the source address field of the
// synthesized capture record, since IPSink.SendIPv4 itself only carries
// a destination. The pcap global header is written immediately.
func newCapturingSink(inner IPSink, localIP [4]byte, out io.Writer, log *slog.Logger) (*capturingSink, error) {
	if log == nil {
		log = slog.Default()
	}
	w := pcap.NewWriter(out)
	if err := w.WriteFileHeader(65535, pcap.LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("writing pcap header: %w", err)
	}
	return &capturingSink{inner: inner, localIP: localIP, writer: w, log: log}, nil
}

// SendIPv4 implements IPSink: it logs the datagram to the capture
// stream, then forwards unconditionally to the wrapped sink. A capture
// write failure is logged but never blocks the actual send, and the
// wrapped sink's ARP-pending/false return is passed straight through.
func (c *capturingSink) SendIPv4(dst [4]byte, protocol uint8, payload []byte) bool {
	datagram := buildIPv4Datagram(c.localIP, dst, protocol, payload)

	c.mu.Lock()
	err := c.writer.WritePacket(pcap.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(datagram),
		Length:        len(datagram),
	}, datagram)
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("pcap capture write failed", "error", err)
	}

	return c.inner.SendIPv4(dst, protocol, payload)
}

// buildIPv4Datagram wraps an upper-layer payload in a minimal 20-byte
// IPv4 header, purely for producing a self-describing capture record;
// this package otherwise never builds IPv4 headers itself, since that is
// the IPSink implementation's job on the real send path.
func buildIPv4Datagram(src, dst [4]byte, protocol uint8, payload []byte) []byte {
	const ipv4HeaderLen = 20
	buf := make([]byte, ipv4HeaderLen+len(payload))
	buf[0] = 0x45 // version 4, IHL 5
	totalLen := len(buf)
	buf[2] = byte(totalLen >> 8)
	buf[3] = byte(totalLen)
	buf[8] = 64 // TTL
	buf[9] = protocol
	copy(buf[12:16], src[:])
	copy(buf[16:20], dst[:])
	copy(buf[ipv4HeaderLen:], payload)
	return buf
}

// AttachCapture wraps the stack's IPSink so every outbound segment is
// also written to a pcap stream at out, with localIP stamped as the
// source address of each synthesized capture record. Must be called
// before Start; wrapping an already-running handler's sink is not
// supported.
func (s *Stack) AttachCapture(localIP [4]byte, out io.Writer) error {
	wrapped, err := newCapturingSink(s.handler.sink, localIP, out, s.log)
	if err != nil {
		return err
	}
	s.handler.sink = wrapped
	return nil
}
