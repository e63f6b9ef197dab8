package inference

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-assistant/pkg/conversation"
)

// Mock implements Responder for testing.
type Mock struct {
	// RespondFunc is called when Respond is invoked.
	RespondFunc func(ctx context.Context, prompt string, history []conversation.Turn) (*Reply, error)

	mu      sync.Mutex
	calls   []MockCall
	latency time.Duration
}

// MockCall records a Respond invocation.
type MockCall struct {
	Prompt  string
	History []conversation.Turn
	Time    time.Time
}

// NewMock creates a mock that always replies with text.
func NewMock(text string) *Mock {
	return &Mock{
		RespondFunc: func(ctx context.Context, prompt string, history []conversation.Turn) (*Reply, error) {
			return &Reply{Text: text, Model: "mock", Provider: "mock"}, nil
		},
	}
}

// WithError makes every Respond fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.RespondFunc = func(context.Context, string, []conversation.Turn) (*Reply, error) {
		return nil, err
	}
	return m
}

// WithLatency delays every Respond by d, honouring cancellation.
func (m *Mock) WithLatency(d time.Duration) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
	return m
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Respond records the call and delegates to RespondFunc.
func (m *Mock) Respond(ctx context.Context, prompt string, history []conversation.Turn) (*Reply, error) {
	m.mu.Lock()
	h := make([]conversation.Turn, len(history))
	copy(h, history)
	m.calls = append(m.calls, MockCall{Prompt: prompt, History: h, Time: time.Now()})
	latency := m.latency
	fn := m.RespondFunc
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return nil, classify(ctx.Err())
		case <-time.After(latency):
		}
	}
	if fn == nil {
		return nil, classify(WrapError("mock", ErrProviderUnavailable))
	}
	return fn(ctx, prompt, history)
}

// Calls returns a copy of all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Respond calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call.
func (m *Mock) LastCall() (MockCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return MockCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Responder = (*Mock)(nil)
