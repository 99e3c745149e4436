package tcpip

import "testing"

func TestSegmentBuilderChecksumVerifies(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}

	segment := NewSegmentBuilder(12345, 80).
		Seq(1000).Ack(2000).ACK().PSH().
		Window(65535).
		Data([]byte("hello world")).
		Build(src, dst)

	if !VerifyChecksum(segment, src, dst) {
		t.Fatalf("built segment failed checksum verification")
	}

	// Corrupting any payload byte must invalidate the checksum.
	segment[len(segment)-1] ^= 0xFF
	if VerifyChecksum(segment, src, dst) {
		t.Fatalf("corrupted segment unexpectedly passed checksum verification")
	}
}

func TestParseSegmentRoundTripsFields(t *testing.T) {
	src := [4]byte{192, 168, 1, 1}
	dst := [4]byte{192, 168, 1, 2}

	built := NewSegmentBuilder(4000, 443).
		Seq(42).Ack(99).SYN().ACK().
		Window(4096).
		Data([]byte("payload")).
		Build(src, dst)

	seg, ok := ParseSegment(built, src, dst)
	if !ok {
		t.Fatalf("ParseSegment failed on a segment this package built")
	}
	if seg.srcPort != 4000 || seg.dstPort != 443 {
		t.Fatalf("ports = (%d, %d), want (4000, 443)", seg.srcPort, seg.dstPort)
	}
	if seg.seq != 42 || seg.ack != 99 {
		t.Fatalf("seq/ack = (%d, %d), want (42, 99)", seg.seq, seg.ack)
	}
	if seg.flags&FlagSYN == 0 || seg.flags&FlagACK == 0 {
		t.Fatalf("flags = %x, want SYN|ACK set", seg.flags)
	}
	if string(seg.data) != "payload" {
		t.Fatalf("data = %q, want %q", seg.data, "payload")
	}
}

func TestSegmentBuilderWithOptionsIsFourByteAligned(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	dst := [4]byte{10, 0, 0, 2}

	var buf [optionsBufferLen]byte
	opts := buildOptions(&buf, 1460, 7, true, true)

	built := NewSegmentBuilder(1, 2).Seq(0).SYN().Options(opts).Build(src, dst)
	headerLen := int(built[12]>>4) * 4
	if headerLen%4 != 0 {
		t.Fatalf("data offset %d is not 4-byte aligned", headerLen)
	}
	if !VerifyChecksum(built, src, dst) {
		t.Fatalf("segment with options failed checksum verification")
	}
}
