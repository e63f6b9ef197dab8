// Package assistant drives the voice pipeline: record, transcribe, generate
// a reply and speak it, one stage at a time.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/conversation"
	"github.com/teslashibe/go-assistant/pkg/inference"
	"github.com/teslashibe/go-assistant/pkg/recorder"
	"github.com/teslashibe/go-assistant/pkg/speech"
	"github.com/teslashibe/go-assistant/pkg/stt"
)

// DefaultTickInterval is how often recording duration is published.
const DefaultTickInterval = 100 * time.Millisecond

// ErrSuperseded is returned by a turn that was cancelled by Reset or by a
// newer turn.
var ErrSuperseded = errors.New("assistant: turn superseded")

// Recorder captures one utterance at a time.
type Recorder interface {
	Start(ctx context.Context) (*recorder.Session, error)
	Stop(sess *recorder.Session) (recorder.Artifact, error)
	Abandon()
	Elapsed() time.Duration
	Level() float64
	Discard(a recorder.Artifact) error
}

// Transcriber converts a recording to text.
type Transcriber interface {
	Transcribe(ctx context.Context, artifact recorder.Artifact) (stt.Transcript, error)
}

// Speaker plays replies aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
	SetMuted(muted bool)
	Muted() bool
	OnStateChange(fn func(speech.State))
}

var (
	_ Recorder    = (*recorder.Recorder)(nil)
	_ Transcriber = (*stt.Transcriber)(nil)
	_ Speaker     = (*speech.Player)(nil)
)

// Config holds orchestrator configuration.
type Config struct {
	TickInterval time.Duration
	Observer     Observer
	Logger       *slog.Logger
}

// Option configures an Assistant.
type Option func(*Config)

// WithTickInterval sets the recording duration publish interval.
func WithTickInterval(d time.Duration) Option {
	return func(c *Config) { c.TickInterval = d }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Config) { c.Observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Assistant owns the pipeline state machine and the conversation history.
// Stage calls run outside the state lock; the turn generation counter keeps
// a finished stage of an older turn from overwriting newer state.
type Assistant struct {
	rec       Recorder
	stt       Transcriber
	responder inference.Responder
	speaker   Speaker
	history   *conversation.History
	cfg       *Config
	observer  Observer
	logger    *slog.Logger

	mu         sync.Mutex
	snap       Snapshot
	gen        uint64
	session    *recorder.Session
	turnCancel context.CancelFunc
	tickStop   chan struct{}

	pubMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates an Assistant.
func New(rec Recorder, transcriber Transcriber, responder inference.Responder, speaker Speaker, opts ...Option) *Assistant {
	cfg := &Config{TickInterval: DefaultTickInterval}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	a := &Assistant{
		rec:       rec,
		stt:       transcriber,
		responder: responder,
		speaker:   speaker,
		history:   conversation.NewHistory(),
		cfg:       cfg,
		observer:  cfg.Observer,
		logger:    cfg.Logger.With("component", "assistant.assistant"),
		subs:      make(map[int]func(Snapshot)),
	}
	a.snap.Muted = speaker.Muted()
	speaker.OnStateChange(func(s speech.State) {
		a.observer.SpeakingChanged(s == speech.StateSpeaking)
	})
	return a
}

// Snapshot returns the current observable state.
func (a *Assistant) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Assistant) snapshotLocked() Snapshot {
	s := a.snap
	s.Turn = a.gen
	s.HistoryLen = a.history.Len()
	return s
}

// History returns a copy of the conversation so far.
func (a *Assistant) History() []conversation.Turn {
	return a.history.Snapshot()
}

// Subscribe registers fn to receive every published snapshot and returns a
// function that removes it. fn runs on the publishing goroutine and must
// not call back into the Assistant.
func (a *Assistant) Subscribe(fn func(Snapshot)) func() {
	a.pubMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.pubMu.Unlock()

	return func() {
		a.pubMu.Lock()
		delete(a.subs, id)
		a.pubMu.Unlock()
	}
}

// publish delivers the current snapshot to subscribers in order.
func (a *Assistant) publish() {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()

	a.mu.Lock()
	a.snap.UpdatedAt = time.Now()
	s := a.snapshotLocked()
	a.mu.Unlock()

	for _, fn := range a.subs {
		fn(s)
	}
}

// beginTurn starts a new turn if the pipeline accepts one. A speaking reply
// is interrupted; any other in-progress stage answers ErrBusy.
func (a *Assistant) beginTurn(ctx context.Context, op string, next State) (context.Context, uint64, error) {
	a.mu.Lock()
	if a.snap.State.Busy() {
		state := a.snap.State
		a.mu.Unlock()
		return nil, 0, apperr.New(apperr.ErrBusy, op, fmt.Sprintf("Please wait, the assistant is %s.", state))
	}
	wasSpeaking := a.snap.State == StateSpeaking
	if a.turnCancel != nil {
		a.turnCancel()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	a.turnCancel = cancel
	a.gen++
	gen := a.gen
	a.snap.State = next
	a.snap.ErrorCode = ""
	a.snap.ErrorMessage = ""
	a.snap.RecordingMs = 0
	a.snap.InputLevel = 0
	a.mu.Unlock()

	if wasSpeaking {
		a.speaker.Stop()
	}
	a.publish()
	return turnCtx, gen, nil
}

// transition moves to next if gen is still the current turn.
func (a *Assistant) transition(gen uint64, next State, update func(*Snapshot)) bool {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return false
	}
	a.snap.State = next
	if update != nil {
		update(&a.snap)
	}
	a.mu.Unlock()
	a.publish()
	return true
}

// finish ends turn gen, releasing its context.
func (a *Assistant) finish(gen uint64) {
	a.mu.Lock()
	if gen == a.gen && a.turnCancel != nil {
		a.turnCancel()
		a.turnCancel = nil
	}
	a.mu.Unlock()
}

// fail reports err through the Error state, then settles to Idle. Earlier
// transcript and reply stay visible.
func (a *Assistant) fail(gen uint64, op string, err error) error {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		a.observer.TurnCompleted(OutcomeSuperseded)
		return fmt.Errorf("%s: %w", op, ErrSuperseded)
	}
	a.session = nil
	a.stopTickerLocked()
	a.snap.State = StateError
	a.snap.ErrorCode = apperr.Code(err)
	a.snap.ErrorMessage = apperr.UserMessage(err)
	a.snap.RecordingMs = 0
	a.snap.InputLevel = 0
	a.mu.Unlock()

	a.logger.Warn("turn failed", "op", op, "turn", gen, "code", apperr.Code(err), "error", err)
	a.observer.ErrorObserved(apperr.Code(err))
	a.observer.TurnCompleted(OutcomeError)
	a.publish()

	a.transition(gen, StateIdle, nil)
	a.finish(gen)
	return err
}

// StartRecording begins capturing the user's question. It is accepted when
// idle or while a reply is being spoken, which stops the speech.
func (a *Assistant) StartRecording(ctx context.Context) error {
	const op = "assistant.start_recording"

	turnCtx, gen, err := a.beginTurn(ctx, op, StateRecording)
	if err != nil {
		return err
	}

	sess, err := a.rec.Start(turnCtx)
	if err != nil {
		return a.fail(gen, op, err)
	}

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		a.rec.Abandon()
		return fmt.Errorf("%s: %w", op, ErrSuperseded)
	}
	a.session = sess
	a.startTickerLocked(gen)
	a.mu.Unlock()

	a.logger.Info("recording", "turn", gen, "session", sess.ID)
	return nil
}

// StopRecording ends the capture and runs the rest of the turn:
// transcription, reply generation and speech. It returns once the reply has
// been spoken or playback was interrupted. Without an active recording it
// returns the benign ErrNoActiveSession and changes nothing.
func (a *Assistant) StopRecording(ctx context.Context) (*inference.Reply, error) {
	const op = "assistant.stop_recording"

	a.mu.Lock()
	if a.snap.State != StateRecording || a.session == nil {
		a.mu.Unlock()
		return nil, apperr.New(apperr.ErrNoActiveSession, op, "")
	}
	sess := a.session
	a.session = nil
	gen := a.gen
	a.stopTickerLocked()
	a.snap.State = StateTranscribing
	a.snap.InputLevel = 0
	// The rest of the turn runs under this call's context.
	if a.turnCancel != nil {
		a.turnCancel()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	a.turnCancel = cancel
	a.mu.Unlock()
	a.publish()

	a.observer.StageObserved(StageRecord, time.Since(sess.StartedAt))

	art, err := a.rec.Stop(sess)
	if err != nil {
		return nil, a.fail(gen, op, err)
	}
	defer func() {
		if err := a.rec.Discard(art); err != nil {
			a.logger.Warn("discard recording failed", "uri", art.URI, "error", err)
		}
	}()

	start := time.Now()
	tr, err := a.stt.Transcribe(turnCtx, art)
	a.observer.StageObserved(StageTranscribe, time.Since(start))
	if err != nil {
		return nil, a.fail(gen, op, err)
	}

	return a.respond(turnCtx, gen, op, tr.Text)
}

// SendText runs a turn from typed text, skipping recording and
// transcription. Blank text is ignored.
func (a *Assistant) SendText(ctx context.Context, text string) (*inference.Reply, error) {
	const op = "assistant.send_text"

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	turnCtx, gen, err := a.beginTurn(ctx, op, StateGenerating)
	if err != nil {
		return nil, err
	}
	return a.respond(turnCtx, gen, op, text)
}

// Regenerate asks the last user message again.
func (a *Assistant) Regenerate(ctx context.Context) (*inference.Reply, error) {
	const op = "assistant.regenerate"

	last, ok := a.history.Last(conversation.RoleUser)
	if !ok {
		return nil, apperr.New(apperr.ErrNoActiveSession, op, "Nothing to regenerate yet.")
	}
	turnCtx, gen, err := a.beginTurn(ctx, op, StateGenerating)
	if err != nil {
		return nil, err
	}
	return a.respond(turnCtx, gen, op, last.Content)
}

// Replay speaks the last reply again.
func (a *Assistant) Replay(ctx context.Context) error {
	const op = "assistant.replay"

	last, ok := a.history.Last(conversation.RoleAssistant)
	if !ok {
		return apperr.New(apperr.ErrNoActiveSession, op, "Nothing to replay yet.")
	}
	turnCtx, gen, err := a.beginTurn(ctx, op, StateSpeaking)
	if err != nil {
		return err
	}
	a.speak(turnCtx, gen, last.Content)
	return nil
}

// respond generates the reply to prompt, records the exchange and speaks
// the reply. On failure no history is appended.
func (a *Assistant) respond(ctx context.Context, gen uint64, op, prompt string) (*inference.Reply, error) {
	if !a.transition(gen, StateGenerating, func(s *Snapshot) { s.Transcript = prompt }) {
		a.observer.TurnCompleted(OutcomeSuperseded)
		return nil, fmt.Errorf("%s: %w", op, ErrSuperseded)
	}

	start := time.Now()
	reply, err := a.responder.Respond(ctx, prompt, a.history.Snapshot())
	a.observer.StageObserved(StageGenerate, time.Since(start))
	if err != nil {
		return nil, a.fail(gen, op, err)
	}

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		a.observer.TurnCompleted(OutcomeSuperseded)
		return nil, fmt.Errorf("%s: %w", op, ErrSuperseded)
	}
	reply.TurnIndex = a.history.AppendExchange(prompt, reply.Text)
	a.snap.State = StateSpeaking
	a.snap.Reply = reply.Text
	a.mu.Unlock()
	a.publish()

	a.observer.TurnCompleted(OutcomeOK)
	a.logger.Info("reply ready",
		"turn", gen,
		"provider", reply.Provider,
		"latency_ms", reply.LatencyMs,
		"chars", len(reply.Text),
	)

	a.speak(ctx, gen, reply.Text)
	return reply, nil
}

// speak plays text for turn gen and settles to Idle unless a newer turn
// has taken over. Playback failures are logged; the reply stays visible.
func (a *Assistant) speak(ctx context.Context, gen uint64, text string) {
	start := time.Now()
	err := a.speaker.Speak(ctx, text)
	a.observer.StageObserved(StageSpeak, time.Since(start))
	if err != nil && ctx.Err() == nil {
		a.logger.Warn("speech failed", "turn", gen, "error", err)
		a.observer.ErrorObserved(apperr.Code(err))
	}

	a.mu.Lock()
	settle := gen == a.gen && a.snap.State == StateSpeaking
	a.mu.Unlock()
	if settle {
		a.transition(gen, StateIdle, nil)
	}
	a.finish(gen)
}

// SetMuted toggles speech. Muting stops the current reply.
func (a *Assistant) SetMuted(muted bool) {
	a.speaker.SetMuted(muted)
	a.mu.Lock()
	a.snap.Muted = muted
	a.mu.Unlock()
	a.publish()
}

// Muted reports whether speech is muted.
func (a *Assistant) Muted() bool {
	return a.speaker.Muted()
}

// Background stops speech when the host goes to the background.
func (a *Assistant) Background() {
	a.logger.Info("backgrounded, stopping speech")
	a.speaker.Stop()
}

// Reset cancels the current turn, discards any recording, stops speech and
// clears the conversation.
func (a *Assistant) Reset() {
	a.mu.Lock()
	a.gen++
	hadSession := a.session != nil || a.snap.State == StateRecording
	a.session = nil
	a.stopTickerLocked()
	if a.turnCancel != nil {
		a.turnCancel()
		a.turnCancel = nil
	}
	muted := a.snap.Muted
	a.snap = Snapshot{State: StateIdle, Muted: muted}
	a.mu.Unlock()

	if hadSession {
		a.rec.Abandon()
	}
	a.speaker.Stop()
	a.history.Reset()

	a.logger.Info("conversation reset")
	a.publish()
}

// startTickerLocked publishes recording duration and input level until the
// recording ends. Caller holds a.mu.
func (a *Assistant) startTickerLocked(gen uint64) {
	a.stopTickerLocked()
	stop := make(chan struct{})
	a.tickStop = stop

	go func() {
		ticker := time.NewTicker(a.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				elapsed, level := a.rec.Elapsed(), a.rec.Level()
				a.mu.Lock()
				if gen != a.gen || a.snap.State != StateRecording {
					a.mu.Unlock()
					return
				}
				a.snap.RecordingMs = elapsed.Milliseconds()
				a.snap.InputLevel = level
				a.mu.Unlock()
				a.publish()
			}
		}
	}()
}

func (a *Assistant) stopTickerLocked() {
	if a.tickStop != nil {
		close(a.tickStop)
		a.tickStop = nil
	}
}
