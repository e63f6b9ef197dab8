// Package speech speaks assistant replies through a TTS provider and an
// audio sink. Only one utterance plays at a time and playback can always be
// interrupted.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/audioio"
	"github.com/teslashibe/go-assistant/pkg/tts"
)

// State is the playback state.
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultStopTimeout bounds how long Stop waits for an interrupted
// utterance to unwind.
const DefaultStopTimeout = 2 * time.Second

// Config holds Player configuration.
type Config struct {
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// Option configures a Player.
type Option func(*Config)

// WithStopTimeout sets how long Stop waits for playback to unwind.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Config) { c.StopTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// utterance is one in-flight Speak call.
type utterance struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Player owns the speech playback state.
type Player struct {
	provider tts.Provider
	sink     audioio.Sink
	meter    *audioio.Meter
	cfg      *Config
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	muted     bool
	seq       uint64
	current   *utterance
	observers []func(State)
}

// New creates a Player.
func New(provider tts.Provider, sink audioio.Sink, opts ...Option) *Player {
	cfg := &Config{StopTimeout: DefaultStopTimeout}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Player{
		provider: provider,
		sink:     sink,
		meter:    audioio.NewMeter(sink.Config().SampleRate),
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "speech.player", "provider", provider.Name()),
	}
}

// OnStateChange registers fn to be called after every state transition.
func (p *Player) OnStateChange(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// State returns the current playback state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Muted reports whether speech is muted.
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// SetMuted toggles muting. Muting stops the current utterance.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()

	if muted {
		p.Stop()
	}
	p.logger.Info("mute changed", "muted", muted)
}

// Level returns the output level of the current utterance in 0..1.
func (p *Player) Level() float64 {
	if p.State() != StateSpeaking {
		return 0
	}
	return p.meter.Level()
}

// Speak plays text and returns when playback finishes or is interrupted.
// An in-flight utterance is stopped first. Speak is a no-op while muted.
// Interruption by Stop is not an error.
func (p *Player) Speak(ctx context.Context, text string) error {
	const op = "speech.speak"

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.mu.Lock()
	if p.muted {
		p.mu.Unlock()
		return nil
	}
	prev := p.current
	p.seq++
	playCtx, cancel := context.WithCancel(ctx)
	u := &utterance{id: p.seq, cancel: cancel, done: make(chan struct{})}
	p.current = u
	p.mu.Unlock()

	if prev != nil {
		p.interrupt(prev)
	}

	p.setState(u.id, StateSpeaking)
	start := time.Now()

	err := p.play(playCtx, text)
	interrupted := playCtx.Err() != nil

	cancel()
	p.mu.Lock()
	if p.current == u {
		p.current = nil
	}
	p.mu.Unlock()
	p.setState(u.id, StateIdle)
	close(u.done)

	if err != nil {
		if interrupted && ctx.Err() == nil {
			p.logger.Debug("speech interrupted", "elapsed", time.Since(start))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Wrap(apperr.ErrDevice, op, err)
	}

	p.logger.Debug("speech finished", "chars", len(text), "elapsed", time.Since(start))
	return nil
}

// Stop interrupts the current utterance. It is safe to call when idle and
// always completes.
func (p *Player) Stop() {
	p.mu.Lock()
	u := p.current
	p.current = nil
	p.mu.Unlock()

	if u != nil {
		p.interrupt(u)
	}
}

// interrupt cancels u, discards queued audio and waits for Speak to unwind.
func (p *Player) interrupt(u *utterance) {
	u.cancel()
	if err := p.sink.Clear(); err != nil {
		p.logger.Warn("clear playback failed", "error", err)
	}
	select {
	case <-u.done:
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warn("utterance did not stop in time", "utterance", u.id)
	}
}

func (p *Player) play(ctx context.Context, text string) error {
	stream, err := p.provider.Stream(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(apperr.ErrBackend, "speech.synthesize", err)
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
		case <-finished:
		}
		stream.Close()
	}()

	if err := p.sink.Start(ctx); err != nil {
		return err
	}

	in := stream.Format()
	out := p.sink.Config()
	p.meter.Reset()

	for {
		data, err := stream.Read()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return apperr.Wrap(apperr.ErrBackend, "speech.synthesize", err)
		}
		if data == nil {
			break
		}

		samples := audioio.Convert(audioio.BytesToSamples(data), in.SampleRate, in.Channels, out.SampleRate, out.Channels)
		p.meter.Feed(samples)
		if err := p.sink.Write(ctx, audioio.AudioChunk{
			Samples:    samples,
			SampleRate: out.SampleRate,
			Channels:   out.Channels,
		}); err != nil {
			return err
		}
	}

	return p.sink.Flush(ctx)
}

// setState records s if utterance id is still the latest, then notifies
// observers outside the lock.
func (p *Player) setState(id uint64, s State) {
	p.mu.Lock()
	if id != p.seq || p.state == s {
		p.mu.Unlock()
		return
	}
	p.state = s
	observers := append([]func(State){}, p.observers...)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}
