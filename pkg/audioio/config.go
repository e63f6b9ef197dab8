// Package audioio provides audio capture and playback for the assistant.
//
// Two backends are available:
//   - exec: pipes raw PCM16 through external tools (arecord/aplay by default)
//   - mock: synthetic capture and discarding playback for tests and CI
//
// The backend is chosen by configuration; "auto" picks exec when the capture
// tool is on PATH and falls back to mock otherwise.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects exec when available, mock otherwise.
	BackendAuto Backend = "auto"
	// BackendExec pipes audio through external commands.
	BackendExec Backend = "exec"
	// BackendMock uses a synthetic implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend" mapstructure:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (LINEAR16 speech recognition)
	SampleRate int `yaml:"sample_rate" json:"sample_rate" mapstructure:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels" mapstructure:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 100ms
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration" mapstructure:"buffer_duration"`

	// Device is passed to the capture and playback tools with -D.
	// Empty means the system default.
	Device string `yaml:"device" json:"device" mapstructure:"device"`

	// CaptureCommand is the recording tool for the exec backend.
	// Default: "arecord"
	CaptureCommand string `yaml:"capture_command" json:"capture_command" mapstructure:"capture_command"`

	// PlaybackCommand is the playback tool for the exec backend.
	// Default: "aplay"
	PlaybackCommand string `yaml:"playback_command" json:"playback_command" mapstructure:"playback_command"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:         BackendAuto,
		SampleRate:      16000,
		Channels:        1,
		BufferDuration:  100 * time.Millisecond,
		CaptureCommand:  "arecord",
		PlaybackCommand: "aplay",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	switch c.Backend {
	case BackendAuto, BackendExec, BackendMock:
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	return nil
}

// BufferSize returns the number of frames per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
