package audioio

import "sync"

// ModeController switches the platform audio session between playback and
// record modes. Record mode must be reverted on every exit path of a capture.
type ModeController interface {
	SetRecordMode(enabled bool) error
}

// NopModeController is used on platforms without an audio session concept.
type NopModeController struct{}

func (NopModeController) SetRecordMode(bool) error { return nil }

// MockModeController records every mode switch.
type MockModeController struct {
	mu      sync.Mutex
	enabled bool
	calls   []bool
	err     error
}

// NewMockModeController creates a MockModeController.
func NewMockModeController() *MockModeController {
	return &MockModeController{}
}

// WithError makes every SetRecordMode(true) call fail with err.
func (m *MockModeController) WithError(err error) *MockModeController {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// SetRecordMode implements ModeController.
func (m *MockModeController) SetRecordMode(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, enabled)
	if enabled && m.err != nil {
		return m.err
	}
	m.enabled = enabled
	return nil
}

// Enabled reports the current mode.
func (m *MockModeController) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// Calls returns a copy of all mode switches in order.
func (m *MockModeController) Calls() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bool, len(m.calls))
	copy(out, m.calls)
	return out
}
