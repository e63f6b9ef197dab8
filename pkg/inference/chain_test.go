package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/teslashibe/go-assistant/pkg/apperr"
)

func TestNewChain_Empty(t *testing.T) {
	if _, err := NewChain(nil); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestChain_FallsBackOnRateLimit(t *testing.T) {
	primary := NewMock("").WithError(apperr.New(apperr.ErrRateLimited, opRespond, ""))
	fallback := NewMock("from fallback")

	chain, _ := NewChain(nil, primary, fallback)
	reply, err := chain.Respond(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if reply.Text != "from fallback" {
		t.Errorf("Text = %q", reply.Text)
	}
	if primary.CallCount() != 1 || fallback.CallCount() != 1 {
		t.Errorf("calls = %d/%d", primary.CallCount(), fallback.CallCount())
	}
}

func TestChain_StopsOnAuthError(t *testing.T) {
	primary := NewMock("").WithError(apperr.New(apperr.ErrAuth, opRespond, ""))
	fallback := NewMock("unused")

	chain, _ := NewChain(nil, primary, fallback)
	_, err := chain.Respond(context.Background(), "hello", nil)
	if !errors.Is(err, apperr.ErrAuth) {
		t.Errorf("err = %v, want auth", err)
	}
	if fallback.CallCount() != 0 {
		t.Error("fallback should not be tried after auth failure")
	}
}

func TestChain_AllFail(t *testing.T) {
	a := NewMock("").WithError(apperr.New(apperr.ErrBackend, opRespond, "a"))
	b := NewMock("").WithError(apperr.New(apperr.ErrTimeout, opRespond, "b"))

	chain, _ := NewChain(nil, a, b)
	_, err := chain.Respond(context.Background(), "hello", nil)
	if !errors.Is(err, apperr.ErrTimeout) {
		t.Errorf("err = %v, want last error", err)
	}
}

func TestMock_RecordsHistoryCopy(t *testing.T) {
	m := NewMock("ok")
	m.Respond(context.Background(), "p", nil)
	call, ok := m.LastCall()
	if !ok || call.Prompt != "p" {
		t.Errorf("LastCall = %+v, %v", call, ok)
	}
	m.Reset()
	if m.CallCount() != 0 {
		t.Error("Reset did not clear calls")
	}
}

func TestClassify(t *testing.T) {
	if err := classify(context.DeadlineExceeded); !errors.Is(err, apperr.ErrTimeout) {
		t.Errorf("deadline: %v", err)
	}
	if err := classify(errors.New("eof")); !errors.Is(err, apperr.ErrBackend) {
		t.Errorf("plain: %v", err)
	}
	already := apperr.New(apperr.ErrAuth, "x", "")
	if err := classify(already); err != error(already) {
		t.Errorf("classified error should pass through")
	}
}

// closingMock records Close calls.
type closingMock struct {
	*Mock
	closed int
	err    error
}

func (m *closingMock) Close() error {
	m.closed++
	return m.err
}

func TestChain_CloseClosesMembers(t *testing.T) {
	first := &closingMock{Mock: NewMock("a")}
	plain := NewMock("b")
	last := &closingMock{Mock: NewMock("c"), err: errors.New("close failed")}

	chain, _ := NewChain(nil, first, plain, last)
	err := chain.Close()
	if first.closed != 1 || last.closed != 1 {
		t.Errorf("closed = %d/%d, want 1/1", first.closed, last.closed)
	}
	if err == nil || err.Error() != "close failed" {
		t.Errorf("Close() = %v, want close failed", err)
	}
}
