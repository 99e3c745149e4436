package tcpip

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable parameters of a Stack, loadable from a YAML
// file placed alongside the kernel image, in the same spirit as the
// teacher's site-config.yml: an optional overlay over sane defaults, not
// a required file. New validates every field but applies only
// MaxRetransmitsPerSweep; RecvBufferSize, EnableWindowScale,
// WindowScaleShift and SweepIntervalMS are not read by the stack, which
// uses the package defaults for buffer size, window scaling (disabled on
// new TCBs) and sweep interval.
type Config struct {
	RecvBufferSize int `yaml:"recv_buffer_size"`

	MaxRetransmitsPerSweep int `yaml:"max_retransmits_per_sweep"`

	EnableWindowScale bool `yaml:"enable_window_scale"`
	WindowScaleShift  int  `yaml:"window_scale_shift"`

	SweepIntervalMS int `yaml:"sweep_interval_ms"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize:         DefaultRecvBufferSize,
		MaxRetransmitsPerSweep: 64,
		EnableWindowScale:      true,
		WindowScaleShift:       DefaultWindowScaleShift,
		SweepIntervalMS:        int(sweepInterval / time.Millisecond),
	}
}

// DefaultWindowScaleShift is the default value of Config.WindowScaleShift.
const DefaultWindowScaleShift = 7

// LoadConfig reads and parses a YAML config file at path, returning
// DefaultConfig() if the file doesn't exist. A malformed file is an
// error, not silently ignored, since an operator edited it on purpose.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("no tcpip config file found, using defaults", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading tcpip config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing tcpip config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid tcpip config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first configuration value found to be out of its
// allowed range.
func (c Config) Validate() error {
	if c.RecvBufferSize < MinAdvertiseWindow || c.RecvBufferSize > MaxRecvBufferSize {
		return fmt.Errorf("recv_buffer_size %d out of range [%d, %d]", c.RecvBufferSize, MinAdvertiseWindow, MaxRecvBufferSize)
	}
	if c.WindowScaleShift < 0 || c.WindowScaleShift > MaxWindowScale {
		return fmt.Errorf("window_scale_shift %d out of range [0, %d]", c.WindowScaleShift, MaxWindowScale)
	}
	if c.SweepIntervalMS <= 0 {
		return fmt.Errorf("sweep_interval_ms must be positive, got %d", c.SweepIntervalMS)
	}
	if c.MaxRetransmitsPerSweep < 0 {
		return fmt.Errorf("max_retransmits_per_sweep must be non-negative, got %d", c.MaxRetransmitsPerSweep)
	}
	return nil
}
