package permission

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	if ok, _ := Allow.Request(ctx); !ok {
		t.Error("Allow should grant")
	}
	if ok, _ := Deny.Request(ctx); ok {
		t.Error("Deny should refuse")
	}
}

func TestPrompt(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompt(strings.NewReader(tt.input), &out)
			got, err := p.Request(context.Background())
			if err != nil {
				t.Fatalf("Request: %v", err)
			}
			if got != tt.want {
				t.Errorf("Request = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "microphone") {
				t.Errorf("prompt not written: %q", out.String())
			}
		})
	}
}

func TestPrompt_RemembersGrant(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompt(strings.NewReader("y\n"), &out)
	p.Request(context.Background())
	out.Reset()

	ok, err := p.Request(context.Background())
	if err != nil || !ok {
		t.Fatalf("second Request = %v, %v", ok, err)
	}
	if out.Len() != 0 {
		t.Error("expected no second prompt")
	}
}

func TestPrompt_ContextCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	p := NewPrompt(r, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Request(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Request = %v, want deadline exceeded", err)
	}
}

func TestMock(t *testing.T) {
	m := NewMock(true)
	m.Request(context.Background())
	m.SetAllow(false)
	ok, _ := m.Request(context.Background())
	if ok {
		t.Error("expected refusal after SetAllow(false)")
	}
	if m.CallCount() != 2 {
		t.Errorf("CallCount = %d, want 2", m.CallCount())
	}
}
