package stt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/recorder"
)

const (
	// DefaultMaxAttempts is the total number of calls made when the backend
	// keeps answering 429.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the fixed pause between 429 retries.
	DefaultRetryDelay = 3000 * time.Millisecond
)

// Config holds Transcriber configuration.
type Config struct {
	LanguageCode string
	Model        string
	Punctuation  bool
	Enhanced     bool

	MaxAttempts int
	RetryDelay  time.Duration

	// OnRetry is called before each retry with the attempt about to run.
	OnRetry func(attempt int)

	Logger *slog.Logger
}

// Option is a functional option for configuring the Transcriber.
type Option func(*Config)

// WithLanguage sets the BCP-47 language code.
func WithLanguage(code string) Option {
	return func(c *Config) { c.LanguageCode = code }
}

// WithModel sets the backend recognition model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithRetry overrides the rate-limit retry policy.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxAttempts = maxAttempts
		c.RetryDelay = delay
	}
}

// WithRetryHook registers a callback invoked before each retry.
func WithRetryHook(fn func(attempt int)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// DefaultConfig returns the default recognition settings.
func DefaultConfig() *Config {
	return &Config{
		LanguageCode: "en-US",
		Model:        "default",
		Punctuation:  true,
		Enhanced:     true,
		MaxAttempts:  DefaultMaxAttempts,
		RetryDelay:   DefaultRetryDelay,
		Logger:       slog.Default(),
	}
}

// Transcriber validates artifacts and calls a Backend with the retry policy.
type Transcriber struct {
	cfg     *Config
	backend Backend
	logger  *slog.Logger

	// sleep waits between retries; tests replace it to observe delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Transcriber for backend.
func New(backend Backend, opts ...Option) *Transcriber {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transcriber{
		cfg:     cfg,
		backend: backend,
		logger:  cfg.Logger.With("component", "stt.transcriber", "backend", backend.Name()),
		sleep:   sleepContext,
	}
}

// Backend returns the wrapped backend.
func (t *Transcriber) Backend() Backend { return t.backend }

// Transcribe returns the text spoken in artifact.
//
// Errors are classified as apperr.ErrInvalidAudio, ErrAuth, ErrQuotaExceeded
// or ErrBackend. Only HTTP 429 is retried.
func (t *Transcriber) Transcribe(ctx context.Context, artifact recorder.Artifact) (Transcript, error) {
	const op = "stt.transcribe"

	if artifact.ByteSize <= 0 {
		return Transcript{}, apperr.New(apperr.ErrInvalidAudio, op, "empty audio artifact")
	}

	opts := Options{
		LanguageCode: t.cfg.LanguageCode,
		Model:        t.cfg.Model,
		Punctuation:  t.cfg.Punctuation,
		Enhanced:     t.cfg.Enhanced,
	}

	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if t.cfg.OnRetry != nil {
				t.cfg.OnRetry(attempt)
			}
			t.logger.Warn("rate limited, retrying",
				"attempt", attempt,
				"delay_ms", t.cfg.RetryDelay.Milliseconds(),
			)
			if err := t.sleep(ctx, t.cfg.RetryDelay); err != nil {
				return Transcript{}, apperr.Wrap(apperr.ErrBackend, op, err)
			}
		}

		start := time.Now()
		text, err := t.backend.Transcribe(ctx, artifact, opts)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return Transcript{}, apperr.New(apperr.ErrBackend, op, "no speech detected")
			}
			t.logger.Info("transcribed",
				"attempt", attempt,
				"chars", len(text),
				"latency_ms", time.Since(start).Milliseconds(),
			)
			return Transcript{Text: text, Source: artifact, Backend: t.backend.Name()}, nil
		}

		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
			lastErr = err
			continue
		}
		return Transcript{}, classify(op, err)
	}

	return Transcript{}, &apperr.Error{
		Kind:       apperr.ErrQuotaExceeded,
		Op:         op,
		StatusCode: http.StatusTooManyRequests,
		Message:    "Too many requests. Please wait a moment and try again.",
		Err:        lastErr,
	}
}

// classify maps a backend failure onto the error taxonomy.
func classify(op string, err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return apperr.Wrap(apperr.ErrBackend, op, err)
	}

	e := &apperr.Error{Op: op, StatusCode: se.StatusCode, Err: err}
	switch se.StatusCode {
	case http.StatusBadRequest:
		e.Kind = apperr.ErrInvalidAudio
	case http.StatusUnauthorized:
		e.Kind = apperr.ErrAuth
	case http.StatusForbidden:
		e.Kind = apperr.ErrQuotaExceeded
		e.Message = "Speech-to-Text API not enabled."
	default:
		e.Kind = apperr.ErrBackend
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
