package assistant

import (
	"fmt"
	"time"
)

// State is the pipeline state. Exactly one state holds at a time, so
// combinations such as recording while speaking cannot be represented.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateGenerating
	StateSpeaking
	StateError
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateRecording:    "recording",
	StateTranscribing: "transcribing",
	StateGenerating:   "generating",
	StateSpeaking:     "speaking",
	StateError:        "error",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("assistant: unknown state %q", b)
}

// Busy reports whether a turn is in progress and a new one must be rejected.
func (s State) Busy() bool {
	return s == StateRecording || s == StateTranscribing || s == StateGenerating
}

// Snapshot is the observable pipeline state pushed to renderers.
type Snapshot struct {
	State      State  `json:"state"`
	Turn       uint64 `json:"turn"`
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	RecordingMs int64   `json:"recording_ms"`
	InputLevel  float64 `json:"input_level"`

	Muted      bool      `json:"muted"`
	HistoryLen int       `json:"history_len"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Recording reports whether the microphone is live.
func (s Snapshot) Recording() bool { return s.State == StateRecording }

// Loading reports whether the pipeline is waiting on a backend.
func (s Snapshot) Loading() bool {
	return s.State == StateTranscribing || s.State == StateGenerating
}
