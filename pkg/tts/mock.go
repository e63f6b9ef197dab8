package tts

import (
	"context"
	"sync"
	"time"
)

// MockBytesPerChar is the silent audio generated per character: 20ms of
// 24kHz PCM16.
const MockBytesPerChar = 960

// Mock implements Provider for testing.
type Mock struct {
	// StreamFunc is called when Stream is invoked. If nil, the mock streams
	// silence proportional to the text length.
	StreamFunc func(ctx context.Context, text string) (AudioStream, error)

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

var _ Provider = (*Mock)(nil)

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a mock that streams silent PCM24.
func NewMock() *Mock {
	return &Mock{}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, text string) (AudioStream, error) {
	m.recordCall("Stream", text)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, text)
	}
	return SilentStream(len(text) * MockBytesPerChar), nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// SilentStream returns a PCM24 stream of n zero bytes in 100ms chunks.
func SilentStream(n int) AudioStream {
	return newBufferStream(make([]byte, n), AudioFormat{
		Encoding:   EncodingPCM24,
		SampleRate: 24000,
		Channels:   1,
	}, 4800)
}

func (m *Mock) recordCall(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Texts returns the text of every Stream call in order.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var texts []string
	for _, c := range m.calls {
		if c.Method == "Stream" {
			texts = append(texts, c.Text)
		}
	}
	return texts
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose streams always fail with err.
func WithError(err error) *Mock {
	return &Mock{
		StreamFunc: func(ctx context.Context, text string) (AudioStream, error) {
			return nil, err
		},
	}
}

// WithLatency delays stream creation by delay.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	inner := m.StreamFunc
	m.StreamFunc = func(ctx context.Context, text string) (AudioStream, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if inner != nil {
			return inner(ctx, text)
		}
		return SilentStream(len(text) * MockBytesPerChar), nil
	}
	return m
}
