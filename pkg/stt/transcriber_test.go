package stt

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/recorder"
)

var testArtifact = recorder.Artifact{URI: "/tmp/a.wav", ByteSize: 32000, SampleRate: 16000, Channels: 1}

func rateLimited() MockResponse {
	return MockResponse{Err: &StatusError{Backend: "mock", StatusCode: http.StatusTooManyRequests}}
}

// newTestTranscriber returns a Transcriber whose retry sleeps are recorded
// instead of waited.
func newTestTranscriber(b Backend, opts ...Option) (*Transcriber, *[]time.Duration) {
	tr := New(b, opts...)
	var delays []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return tr, &delays
}

func TestTranscribe_Success(t *testing.T) {
	b := NewMockBackend(MockResponse{Text: "  hello world \n"})
	tr, _ := newTestTranscriber(b)

	got, err := tr.Transcribe(context.Background(), testArtifact)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello world" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Source != testArtifact {
		t.Error("transcript should reference its artifact")
	}

	opts := b.LastOptions()
	if opts.LanguageCode != "en-US" || opts.Model != "default" || !opts.Punctuation || !opts.Enhanced {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestTranscribe_EmptyArtifactSkipsBackend(t *testing.T) {
	b := NewMockBackend(MockResponse{Text: "hello"})
	tr, _ := newTestTranscriber(b)

	_, err := tr.Transcribe(context.Background(), recorder.Artifact{URI: "/tmp/empty.wav"})
	if !errors.Is(err, apperr.ErrInvalidAudio) {
		t.Fatalf("err = %v, want invalid audio", err)
	}
	if b.CallCount() != 0 {
		t.Errorf("backend called %d times", b.CallCount())
	}
}

func TestTranscribe_RateLimitExhausted(t *testing.T) {
	b := NewMockBackend(rateLimited(), rateLimited(), rateLimited())
	var hooks []int
	tr, delays := newTestTranscriber(b, WithRetryHook(func(a int) { hooks = append(hooks, a) }))

	_, err := tr.Transcribe(context.Background(), testArtifact)
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if b.CallCount() != 3 {
		t.Errorf("attempts = %d, want 3", b.CallCount())
	}
	if len(*delays) != 2 {
		t.Fatalf("delays = %v, want 2 waits", *delays)
	}
	for _, d := range *delays {
		if d != 3000*time.Millisecond {
			t.Errorf("delay = %v, want 3s fixed", d)
		}
	}
	if len(hooks) != 2 || hooks[0] != 2 || hooks[1] != 3 {
		t.Errorf("retry hooks = %v, want [2 3]", hooks)
	}

	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429 on error, got %v", err)
	}
}

func TestTranscribe_RateLimitThenSuccess(t *testing.T) {
	b := NewMockBackend(rateLimited(), MockResponse{Text: "hello"})
	tr, delays := newTestTranscriber(b)

	got, err := tr.Transcribe(context.Background(), testArtifact)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello" {
		t.Errorf("Text = %q", got.Text)
	}
	if b.CallCount() != 2 {
		t.Errorf("attempts = %d, want 2", b.CallCount())
	}
	if len(*delays) != 1 {
		t.Errorf("delays = %v, want 1", *delays)
	}
}

func TestTranscribe_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, apperr.ErrInvalidAudio},
		{http.StatusUnauthorized, apperr.ErrAuth},
		{http.StatusForbidden, apperr.ErrQuotaExceeded},
		{http.StatusInternalServerError, apperr.ErrBackend},
		{http.StatusBadGateway, apperr.ErrBackend},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			b := NewMockBackend(MockResponse{Err: &StatusError{Backend: "mock", StatusCode: tt.status}})
			tr, delays := newTestTranscriber(b)

			_, err := tr.Transcribe(context.Background(), testArtifact)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if b.CallCount() != 1 {
				t.Errorf("attempts = %d, want 1 (no retry)", b.CallCount())
			}
			if len(*delays) != 0 {
				t.Errorf("unexpected retry delays %v", *delays)
			}
		})
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	b := NewMockBackend(MockResponse{Text: "   "})
	tr, _ := newTestTranscriber(b)

	_, err := tr.Transcribe(context.Background(), testArtifact)
	if !errors.Is(err, apperr.ErrBackend) {
		t.Fatalf("err = %v, want backend error", err)
	}
	if apperr.UserMessage(err) != "no speech detected" {
		t.Errorf("message = %q", apperr.UserMessage(err))
	}
}

func TestTranscribe_TransportError(t *testing.T) {
	cause := errors.New("connection refused")
	b := NewMockBackend(MockResponse{Err: cause})
	tr, _ := newTestTranscriber(b)

	_, err := tr.Transcribe(context.Background(), testArtifact)
	if !errors.Is(err, apperr.ErrBackend) || !errors.Is(err, cause) {
		t.Errorf("err = %v, want backend error wrapping cause", err)
	}
}

func TestTranscribe_CancelledDuringRetryDelay(t *testing.T) {
	b := NewMockBackend(rateLimited())
	tr := New(b, WithRetry(3, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.Transcribe(ctx, testArtifact)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("retry delay ignored cancellation")
	}
	if b.CallCount() != 1 {
		t.Errorf("attempts = %d, want 1", b.CallCount())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Primary() != nil {
		t.Error("empty registry should have no primary")
	}

	a, b := NewMockBackend(), NewMockBackend()
	r.Register("google", a)
	r.Register("whisper", b)

	if r.Primary() != a {
		t.Error("first registered backend should be primary")
	}
	if err := r.SetPrimary("whisper"); err != nil {
		t.Fatal(err)
	}
	if r.Primary() != b {
		t.Error("SetPrimary did not switch")
	}
	if err := r.SetPrimary("azure"); err == nil {
		t.Error("expected error for unknown backend")
	}
	if got := r.Names(); len(got) != 2 || got[0] != "google" || got[1] != "whisper" {
		t.Errorf("Names = %v", got)
	}
	if _, ok := r.Get("google"); !ok {
		t.Error("Get(google) not found")
	}
}
