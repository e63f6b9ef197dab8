package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/audioio"
	"github.com/teslashibe/go-assistant/pkg/tts"
)

func newTestPlayer(provider tts.Provider, sink *audioio.MockSink) *Player {
	return New(provider, sink, WithStopTimeout(time.Second))
}

func newSink() *audioio.MockSink {
	return audioio.NewMockSink(audioio.DefaultConfig(), nil)
}

// stateRecorder collects state transitions.
type stateRecorder struct {
	mu       sync.Mutex
	states   []State
	speaking chan struct{}
	once     sync.Once
}

func recordStates(p *Player) *stateRecorder {
	r := &stateRecorder{speaking: make(chan struct{})}
	p.OnStateChange(func(s State) {
		r.mu.Lock()
		r.states = append(r.states, s)
		r.mu.Unlock()
		if s == StateSpeaking {
			r.once.Do(func() { close(r.speaking) })
		}
	})
	return r
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State{}, r.states...)
}

func (r *stateRecorder) waitSpeaking(t *testing.T) {
	t.Helper()
	select {
	case <-r.speaking:
	case <-time.After(time.Second):
		t.Fatal("never started speaking")
	}
}

func TestPlayer_SpeakWritesConvertedAudio(t *testing.T) {
	provider := tts.NewMock()
	sink := newSink()
	p := newTestPlayer(provider, sink)
	states := recordStates(p)

	if err := p.Speak(context.Background(), "hello world"); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	// 11 chars of 24kHz mono arrive as 2400+2400+480 samples, each
	// resampled to 16kHz.
	if got := len(sink.Written()); got != 3520 {
		t.Errorf("written samples = %d, want 3520", got)
	}
	got := states.all()
	if len(got) != 2 || got[0] != StateSpeaking || got[1] != StateIdle {
		t.Errorf("transitions = %v", got)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %v, want idle", p.State())
	}
}

func TestPlayer_EmptyTextIsNoop(t *testing.T) {
	provider := tts.NewMock()
	p := newTestPlayer(provider, newSink())

	if err := p.Speak(context.Background(), "   "); err != nil {
		t.Fatal(err)
	}
	if provider.CallCount("Stream") != 0 {
		t.Error("provider should not be called for blank text")
	}
}

func TestPlayer_MutedIsNoop(t *testing.T) {
	provider := tts.NewMock()
	sink := newSink()
	p := newTestPlayer(provider, sink)
	p.SetMuted(true)

	if err := p.Speak(context.Background(), "hello"); err != nil {
		t.Fatalf("Speak while muted: %v", err)
	}
	if provider.CallCount("Stream") != 0 {
		t.Error("provider called while muted")
	}
	if !p.Muted() {
		t.Error("Muted() = false")
	}
}

func TestPlayer_StopInterrupts(t *testing.T) {
	provider := tts.NewMock()
	sink := newSink().WithChunkDelay(50 * time.Millisecond)
	p := newTestPlayer(provider, sink)
	states := recordStates(p)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Speak(context.Background(), "a fairly long reply that takes a while to play") }()

	states.waitSpeaking(t)
	p.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("interrupted Speak returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Speak did not return after Stop")
	}
	if p.State() != StateIdle {
		t.Errorf("state = %v after Stop", p.State())
	}
	if sink.ClearCount() == 0 {
		t.Error("expected sink to be cleared")
	}
}

func TestPlayer_StopWhenIdle(t *testing.T) {
	p := newTestPlayer(tts.NewMock(), newSink())
	p.Stop()
	p.Stop()
	if p.State() != StateIdle {
		t.Error("expected idle")
	}
}

func TestPlayer_SpeakStopsPrevious(t *testing.T) {
	provider := tts.NewMock()
	sink := newSink().WithChunkDelay(30 * time.Millisecond)
	p := newTestPlayer(provider, sink)
	states := recordStates(p)

	firstDone := make(chan error, 1)
	go func() { firstDone <- p.Speak(context.Background(), "first reply that is long enough to still be playing") }()
	states.waitSpeaking(t)

	if err := p.Speak(context.Background(), "second"); err != nil {
		t.Fatalf("second Speak: %v", err)
	}

	select {
	case err := <-firstDone:
		if err != nil {
			t.Errorf("first Speak = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first Speak never returned")
	}

	texts := provider.Texts()
	if len(texts) != 2 || texts[1] != "second" {
		t.Errorf("texts = %q", texts)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %v", p.State())
	}
}

func TestPlayer_MuteStopsCurrent(t *testing.T) {
	sink := newSink().WithChunkDelay(50 * time.Millisecond)
	p := newTestPlayer(tts.NewMock(), sink)
	states := recordStates(p)

	errCh := make(chan error, 1)
	go func() { errCh <- p.Speak(context.Background(), "something to interrupt with mute") }()
	states.waitSpeaking(t)

	p.SetMuted(true)

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Speak = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("mute did not stop speech")
	}
}

func TestPlayer_ProviderErrorIsBackend(t *testing.T) {
	p := newTestPlayer(tts.WithError(errors.New("synth down")), newSink())

	err := p.Speak(context.Background(), "hello")
	if !errors.Is(err, apperr.ErrBackend) {
		t.Errorf("err = %v, want backend error", err)
	}
	if p.State() != StateIdle {
		t.Errorf("state = %v", p.State())
	}
}

func TestPlayer_SinkErrorIsDevice(t *testing.T) {
	sink := newSink().WithWriteError(errors.New("speaker unplugged"))
	p := newTestPlayer(tts.NewMock(), sink)

	err := p.Speak(context.Background(), "hello")
	if !errors.Is(err, apperr.ErrDevice) {
		t.Errorf("err = %v, want device error", err)
	}
}

func TestPlayer_ParentCancel(t *testing.T) {
	sink := newSink().WithChunkDelay(50 * time.Millisecond)
	p := newTestPlayer(tts.NewMock(), sink)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Speak(ctx, "a reply long enough to outlast the deadline")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestStateString(t *testing.T) {
	if StateIdle.String() != "idle" || StateSpeaking.String() != "speaking" {
		t.Error("unexpected state names")
	}
}
