package stt

import (
	"context"
	"sync"

	"github.com/teslashibe/go-assistant/pkg/recorder"
)

// MockResponse is one scripted backend answer.
type MockResponse struct {
	Text string
	Err  error
}

// MockBackend replays scripted responses and records calls.
// Once the script is exhausted the last response repeats.
type MockBackend struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     []recorder.Artifact
	opts      []Options
}

// NewMockBackend creates a MockBackend with the given script.
func NewMockBackend(responses ...MockResponse) *MockBackend {
	return &MockBackend{responses: responses}
}

// Name returns "mock".
func (m *MockBackend) Name() string { return "mock" }

// Transcribe implements Backend.
func (m *MockBackend) Transcribe(ctx context.Context, artifact recorder.Artifact, opts Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, artifact)
	m.opts = append(m.opts, opts)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	r := m.responses[idx]
	return r.Text, r.Err
}

// SetResponses replaces the script and resets call history.
func (m *MockBackend) SetResponses(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.calls = nil
	m.opts = nil
}

// CallCount returns the number of Transcribe calls.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastOptions returns the options of the most recent call.
func (m *MockBackend) LastOptions() Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.opts) == 0 {
		return Options{}
	}
	return m.opts[len(m.opts)-1]
}

var _ Backend = (*MockBackend)(nil)
