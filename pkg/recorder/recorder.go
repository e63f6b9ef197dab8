// Package recorder owns the single microphone capture session and turns it
// into a WAV artifact on disk.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/audioio"
	"github.com/teslashibe/go-assistant/pkg/permission"
)

// DefaultSilenceThreshold is the peak amplitude a capture must exceed to
// count as containing sound.
const DefaultSilenceThreshold = 64

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is a handle to an active capture.
type Session struct {
	ID        string
	StartedAt time.Time

	state  State
	cancel context.CancelFunc
	done   chan struct{}
	buf    []int16
}

// State returns the session state.
func (s *Session) State() State { return s.state }

// Artifact is a finished recording. ByteSize counts PCM data bytes and is
// zero when the capture held no sound.
type Artifact struct {
	URI        string        `json:"uri"`
	ByteSize   int64         `json:"byte_size"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Duration   time.Duration `json:"duration"`
}

// Config holds recorder configuration.
type Config struct {
	// SpoolDir receives WAV files. Default: os.TempDir()/assistant-recordings
	SpoolDir string

	// SilenceThreshold is the peak amplitude at or below which a capture is
	// treated as empty.
	SilenceThreshold int

	Logger *slog.Logger
}

// Option is a functional option for configuring the Recorder.
type Option func(*Config)

// WithSpoolDir sets the directory recordings are written to.
func WithSpoolDir(dir string) Option {
	return func(c *Config) { c.SpoolDir = dir }
}

// WithSilenceThreshold sets the peak amplitude treated as silence.
func WithSilenceThreshold(peak int) Option {
	return func(c *Config) { c.SilenceThreshold = peak }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		SpoolDir:         filepath.Join(os.TempDir(), "assistant-recordings"),
		SilenceThreshold: DefaultSilenceThreshold,
		Logger:           slog.Default(),
	}
}

// Recorder manages at most one capture session at a time.
type Recorder struct {
	cfg    *Config
	source audioio.Source
	gate   permission.Gate
	mode   audioio.ModeController
	logger *slog.Logger
	now    func() time.Time
	meter  *audioio.Meter

	mu       sync.Mutex
	active   *Session
	starting bool
}

// New creates a Recorder. A nil mode controller disables audio mode switching.
func New(source audioio.Source, gate permission.Gate, mode audioio.ModeController, opts ...Option) *Recorder {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if mode == nil {
		mode = audioio.NopModeController{}
	}
	return &Recorder{
		cfg:    cfg,
		source: source,
		gate:   gate,
		mode:   mode,
		logger: cfg.Logger.With("component", "recorder.recorder"),
		now:    time.Now,
		meter:  audioio.NewMeter(source.Config().SampleRate),
	}
}

// Start asks the permission gate, switches the audio session to record mode
// and begins capture.
func (r *Recorder) Start(ctx context.Context) (*Session, error) {
	const op = "recorder.start"

	r.mu.Lock()
	if r.active != nil || r.starting {
		r.mu.Unlock()
		return nil, apperr.New(apperr.ErrAlreadyRecording, op, "")
	}
	r.starting = true
	r.mu.Unlock()

	sess, err := r.start(ctx, op)

	r.mu.Lock()
	r.starting = false
	if err == nil {
		r.active = sess
	}
	r.mu.Unlock()

	return sess, err
}

func (r *Recorder) start(ctx context.Context, op string) (*Session, error) {
	granted, err := r.gate.Request(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPermissionDenied, op, err)
	}
	if !granted {
		return nil, apperr.New(apperr.ErrPermissionDenied, op, "")
	}

	if err := r.mode.SetRecordMode(true); err != nil {
		r.revertMode()
		return nil, apperr.Wrap(apperr.ErrDevice, op, fmt.Errorf("enable record mode: %w", err))
	}

	// Capture outlives the request that started it; Stop or Abandon ends it.
	capCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := r.source.Start(capCtx); err != nil {
		cancel()
		r.revertMode()
		return nil, apperr.Wrap(apperr.ErrDevice, op, err)
	}

	sess := &Session{
		ID:        uuid.NewString(),
		StartedAt: r.now(),
		state:     StateRecording,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.meter.Reset()
	go r.drain(sess, r.source.Stream())

	r.logger.Info("recording started", "session", sess.ID, "source", r.source.Name())
	return sess, nil
}

// drain collects chunks until the source closes its stream. Only this
// goroutine touches sess.buf until done is closed.
func (r *Recorder) drain(sess *Session, stream <-chan audioio.AudioChunk) {
	defer close(sess.done)
	for chunk := range stream {
		sess.buf = append(sess.buf, chunk.Samples...)
		r.meter.Feed(chunk.Samples)
	}
}

// Stop ends the session and writes the artifact. Stopping without an active
// session, or with a stale handle, returns ErrNoActiveSession.
func (r *Recorder) Stop(sess *Session) (Artifact, error) {
	const op = "recorder.stop"

	r.mu.Lock()
	if sess == nil || r.active != sess || sess.state != StateRecording {
		r.mu.Unlock()
		return Artifact{}, apperr.New(apperr.ErrNoActiveSession, op, "")
	}
	sess.state = StateStopped
	r.mu.Unlock()

	stopErr := r.halt(sess)
	defer r.release(sess)

	if stopErr != nil {
		return Artifact{}, apperr.Wrap(apperr.ErrDevice, op, stopErr)
	}

	art, err := r.write(sess)
	if err != nil {
		return Artifact{}, apperr.Wrap(apperr.ErrDevice, op, err)
	}

	r.logger.Info("recording stopped",
		"session", sess.ID,
		"uri", art.URI,
		"bytes", art.ByteSize,
		"duration", art.Duration,
	)
	return art, nil
}

// Abandon stops and discards any active session. Device errors are logged
// and swallowed.
func (r *Recorder) Abandon() {
	r.mu.Lock()
	sess := r.active
	if sess == nil || sess.state != StateRecording {
		r.mu.Unlock()
		return
	}
	sess.state = StateStopped
	r.mu.Unlock()

	if err := r.halt(sess); err != nil {
		r.logger.Warn("abandon: stop capture failed", "session", sess.ID, "error", err)
	}
	r.release(sess)
	r.logger.Info("recording abandoned", "session", sess.ID)
}

// Active returns the current session, or nil.
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Elapsed returns how long the active session has been recording.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.state != StateRecording {
		return 0
	}
	return r.now().Sub(r.active.StartedAt)
}

// Level returns the input level of the active session in 0..1.
func (r *Recorder) Level() float64 {
	if r.Active() == nil {
		return 0
	}
	return r.meter.Level()
}

// Discard removes an artifact's file.
func (r *Recorder) Discard(a Artifact) error {
	if a.URI == "" {
		return nil
	}
	if err := os.Remove(a.URI); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// halt stops the source and waits for the drain goroutine.
func (r *Recorder) halt(sess *Session) error {
	err := r.source.Stop()
	sess.cancel()
	<-sess.done
	return err
}

// release clears the active session and reverts the audio mode.
func (r *Recorder) release(sess *Session) {
	r.revertMode()
	r.mu.Lock()
	if r.active == sess {
		r.active = nil
	}
	r.mu.Unlock()
}

func (r *Recorder) revertMode() {
	if err := r.mode.SetRecordMode(false); err != nil {
		r.logger.Warn("revert record mode failed", "error", err)
	}
}

func (r *Recorder) write(sess *Session) (Artifact, error) {
	cfg := r.source.Config()
	samples := sess.buf
	if audioio.Peak(samples) <= r.cfg.SilenceThreshold {
		samples = nil
	}

	data, err := EncodeWAV(samples, cfg.SampleRate, cfg.Channels)
	if err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(r.cfg.SpoolDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create spool dir: %w", err)
	}
	path := filepath.Join(r.cfg.SpoolDir, sess.ID+".wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write recording: %w", err)
	}

	frames := len(sess.buf) / cfg.Channels
	return Artifact{
		URI:        path,
		ByteSize:   int64(len(samples) * 2),
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		Duration:   time.Duration(frames) * time.Second / time.Duration(cfg.SampleRate),
	}, nil
}
