package tcpip

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("LoadConfig on a missing file returned an error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, DefaultConfig())
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcpip.yml")
	contents := "recv_buffer_size: 8192\nmax_retransmits_per_sweep: 10\nenable_window_scale: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.RecvBufferSize != 8192 {
		t.Fatalf("RecvBufferSize = %d, want 8192", cfg.RecvBufferSize)
	}
	if cfg.MaxRetransmitsPerSweep != 10 {
		t.Fatalf("MaxRetransmitsPerSweep = %d, want 10", cfg.MaxRetransmitsPerSweep)
	}
	if cfg.EnableWindowScale {
		t.Fatalf("EnableWindowScale = true, want false (overridden)")
	}
}

func TestLoadConfigRejectsOutOfRangeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcpip.yml")
	contents := "recv_buffer_size: 1\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected an error for a recv_buffer_size below MinAdvertiseWindow")
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcpip.yml")
	if err := os.WriteFile(path, []byte("not: [valid"), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected an error for malformed YAML")
	}
}
