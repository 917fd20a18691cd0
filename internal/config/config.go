package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/gostt-capture/internal/audio"
)

// Config holds all application configuration.
type Config struct {
	Output   OutputConfig `yaml:"output"`
	Mic      SourceConfig `yaml:"mic"`
	System   SourceConfig `yaml:"system"`
	Writer   WriterConfig `yaml:"writer"`
	Mixer    MixerConfig  `yaml:"mixer"`
	Live     ServerConfig `yaml:"live"`
	Metrics  ServerConfig `yaml:"metrics"`
	Hotkey   HotkeyConfig `yaml:"hotkey"`
	LogLevel string       `yaml:"log_level"`
}

// OutputConfig describes where recordings go and their format.
type OutputConfig struct {
	Dir        string `yaml:"dir"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BitDepth   int    `yaml:"bit_depth"`
}

// Format returns the output PCM format.
func (o OutputConfig) Format() audio.Format {
	return audio.Format{SampleRate: o.SampleRate, Channels: o.Channels, BitDepth: o.BitDepth}
}

// PathFor returns the recording file name for a session started at t.
func (o OutputConfig) PathFor(t time.Time) string {
	return filepath.Join(o.Dir, "capture-"+t.Format("20060102-150405")+".wav")
}

// SourceConfig selects a capture backend and the format requested from it.
type SourceConfig struct {
	Backend    string `yaml:"backend"` // "malgo" or "pulse"
	Device     string `yaml:"device"`  // empty for the system default
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	BitDepth   int    `yaml:"bit_depth"`
}

// Format returns the source PCM format.
func (s SourceConfig) Format() audio.Format {
	return audio.Format{SampleRate: s.SampleRate, Channels: s.Channels, BitDepth: s.BitDepth}
}

// WriterConfig controls how often the WAV header is patched.
type WriterConfig struct {
	HeaderUpdateBytes    int64         `yaml:"header_update_bytes"`
	HeaderUpdateInterval time.Duration `yaml:"header_update_interval"`
}

// MixerConfig holds the mixing calibration and inbox size.
type MixerConfig struct {
	SilenceThreshold float64 `yaml:"silence_threshold"`
	HeadroomGain     float64 `yaml:"headroom_gain"`
	QueueSize        int     `yaml:"queue_size"`
}

// ServerConfig is an optional HTTP listener.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// HotkeyConfig holds the optional global hotkey that starts and stops
// recording sessions.
type HotkeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Keys    []string `yaml:"keys"`
	Mode    string   `yaml:"mode"` // "hold" or "toggle"
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-capture")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	outDir := filepath.Join(home, ".local", "share", "gostt-capture", "recordings")

	return &Config{
		Output: OutputConfig{
			Dir:        outDir,
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
		},
		Mic: SourceConfig{
			Backend:    "malgo",
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
		},
		System: SourceConfig{
			Backend:    "malgo",
			SampleRate: 48000,
			Channels:   2,
			BitDepth:   16,
		},
		Writer: WriterConfig{
			HeaderUpdateBytes:    32000,
			HeaderUpdateInterval: time.Second,
		},
		Mixer: MixerConfig{
			SilenceThreshold: 0.001,
			HeadroomGain:     0.7,
			QueueSize:        1024,
		},
		Live: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		Metrics: ServerConfig{
			Addr: "127.0.0.1:9464",
		},
		Hotkey: HotkeyConfig{
			Keys: []string{"ctrl", "shift", "r"},
			Mode: "toggle",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in output.dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Output.Dir = expandTilde(cfg.Output.Dir)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}

	out := c.Output.Format()
	if err := out.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if out.Channels != 1 {
		return fmt.Errorf("output.channels must be 1, got %d", out.Channels)
	}

	for _, src := range []struct {
		name string
		cfg  SourceConfig
	}{{"mic", c.Mic}, {"system", c.System}} {
		switch src.cfg.Backend {
		case "malgo", "pulse":
		default:
			return fmt.Errorf("%s.backend must be \"malgo\" or \"pulse\", got %q", src.name, src.cfg.Backend)
		}
		f := src.cfg.Format()
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%s: %w", src.name, err)
		}
		if f.BitDepth != out.BitDepth {
			return fmt.Errorf("%s.bit_depth must match output.bit_depth (%d), got %d", src.name, out.BitDepth, f.BitDepth)
		}
		if f.BitDepth == 8 && f.SampleRate != out.SampleRate {
			return fmt.Errorf("%s.sample_rate must equal output.sample_rate for 8-bit audio", src.name)
		}
		if src.cfg.Backend == "pulse" && f.BitDepth != 16 {
			return fmt.Errorf("%s: the pulse backend only captures 16-bit audio", src.name)
		}
	}

	if c.Writer.HeaderUpdateBytes <= 0 {
		return fmt.Errorf("writer.header_update_bytes must be > 0")
	}
	if c.Writer.HeaderUpdateInterval < 0 {
		return fmt.Errorf("writer.header_update_interval must not be negative")
	}

	if c.Mixer.SilenceThreshold <= 0 || c.Mixer.SilenceThreshold >= 1 {
		return fmt.Errorf("mixer.silence_threshold must be in (0, 1), got %g", c.Mixer.SilenceThreshold)
	}
	if c.Mixer.HeadroomGain <= 0 || c.Mixer.HeadroomGain > 1 {
		return fmt.Errorf("mixer.headroom_gain must be in (0, 1], got %g", c.Mixer.HeadroomGain)
	}
	if c.Mixer.QueueSize <= 0 {
		return fmt.Errorf("mixer.queue_size must be > 0")
	}

	if c.Live.Enabled && c.Live.Addr == "" {
		return fmt.Errorf("live.addr must be set when live.enabled is true")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics.enabled is true")
	}

	if c.Hotkey.Enabled && len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}
	switch c.Hotkey.Mode {
	case "hold", "toggle":
	default:
		return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultTemplate = `# gostt-capture configuration
#
# Records the microphone and system audio into one mono WAV file.
# The file stays playable while it is being written.

output:
  # Recordings are named capture-YYYYMMDD-HHMMSS.wav
  dir: ~/.local/share/gostt-capture/recordings
  sample_rate: 16000
  channels: 1      # the mixed output is always mono
  bit_depth: 16

# Backends: "malgo" (CoreAudio, WASAPI, ALSA) or "pulse" (PulseAudio/PipeWire).
# Leave device empty for the system default.
mic:
  backend: malgo
  device: ""
  sample_rate: 16000
  channels: 1
  bit_depth: 16

# With malgo, system audio is captured through loopback (Windows).
# With pulse, it is the monitor of the default sink.
system:
  backend: malgo
  device: ""
  sample_rate: 48000
  channels: 2
  bit_depth: 16

writer:
  # The header is patched once both thresholds are crossed.
  header_update_bytes: 32000
  header_update_interval: 1s

mixer:
  silence_threshold: 0.001   # block RMS below this counts as silence
  headroom_gain: 0.7         # applied to the sum of two live sources
  queue_size: 1024

# Live PCM over websocket: ws://ADDR/feed?stream=mixed|mic|system
live:
  enabled: false
  addr: 127.0.0.1:8765

# Prometheus metrics at http://ADDR/metrics
metrics:
  enabled: false
  addr: 127.0.0.1:9464

# With a hotkey, record waits for it instead of starting right away. Each
# session gets its own file. "toggle": press to start, press again to stop.
# "hold": record while the keys are held.
hotkey:
  enabled: false
  keys: ["ctrl", "shift", "r"]
  mode: toggle

log_level: info
`

// WriteDefault writes a commented default config to DefaultConfigPath. It
// returns the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", errors.New("cannot determine home directory")
	}
	path := filepath.Join(dir, "config.yaml")

	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
