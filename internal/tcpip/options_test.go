package tcpip

import "testing"

func TestBuildThenParseOptionsRoundTrips(t *testing.T) {
	var buf [optionsBufferLen]byte
	encoded := buildOptions(&buf, 1460, 7, true, true)

	if len(encoded)%4 != 0 {
		t.Fatalf("encoded options length %d is not 4-byte aligned", len(encoded))
	}

	parsed := parseOptions(encoded)
	if !parsed.hasMSS || parsed.mss != 1460 {
		t.Fatalf("parsed mss = (%v, %d), want (true, 1460)", parsed.hasMSS, parsed.mss)
	}
	if !parsed.hasWindowScale || parsed.windowScale != 7 {
		t.Fatalf("parsed window scale = (%v, %d), want (true, 7)", parsed.hasWindowScale, parsed.windowScale)
	}
	if !parsed.sackPermitted {
		t.Fatalf("expected sack-permitted to be set")
	}
}

func TestBuildOptionsWithoutScaleOrSACK(t *testing.T) {
	var buf [optionsBufferLen]byte
	encoded := buildOptions(&buf, 536, 0, false, false)
	parsed := parseOptions(encoded)

	if !parsed.hasMSS || parsed.mss != 536 {
		t.Fatalf("parsed mss = (%v, %d), want (true, 536)", parsed.hasMSS, parsed.mss)
	}
	if parsed.hasWindowScale {
		t.Fatalf("window scale should not be present")
	}
	if parsed.sackPermitted {
		t.Fatalf("sack-permitted should not be present")
	}
}

func TestParseOptionsSkipsUnknownKinds(t *testing.T) {
	// An unrecognized option (kind 30, length 4) followed by a valid MSS
	// option (kind 2, length 4).
	raw := []byte{30, 4, 0xAA, 0xBB, 2, 4, 0x05, 0xB4}
	parsed := parseOptions(raw)
	if !parsed.hasMSS || parsed.mss != 0x05B4 {
		t.Fatalf("parsed mss after skipping unknown option = (%v, %d), want (true, 1460)", parsed.hasMSS, parsed.mss)
	}
}

func TestWindowScaleOptionClampsToMax(t *testing.T) {
	w := DefaultEnabledWindowScaleOption(20)
	if w.RcvScale != MaxWindowScale {
		t.Fatalf("RcvScale = %d, want clamped to %d", w.RcvScale, MaxWindowScale)
	}

	w.SetSndScale(20)
	if w.SndScale != MaxWindowScale {
		t.Fatalf("SndScale = %d, want clamped to %d", w.SndScale, MaxWindowScale)
	}
}

func TestWindowScaleOptionAppliesShift(t *testing.T) {
	w := DefaultEnabledWindowScaleOption(3)
	w.SetSndScale(2)

	if got := w.ScaleSndWindow(100); got != 400 {
		t.Fatalf("scaled send window = %d, want 400", got)
	}
	if got := w.Advertised(800); got != 100 {
		t.Fatalf("advertised window = %d, want 100", got)
	}
}

func TestWindowScaleDisabledIsIdentity(t *testing.T) {
	w := NewWindowScaleOption()
	if got := w.ScaleSndWindow(500); got != 500 {
		t.Fatalf("disabled scaling should be identity, got %d", got)
	}
	if got := w.Advertised(500); got != 500 {
		t.Fatalf("disabled scaling should be identity, got %d", got)
	}
}
