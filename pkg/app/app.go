// Package app assembles the voice pipeline from configuration and manages
// the lifecycle of its components.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/teslashibe/go-assistant/internal/config"
	"github.com/teslashibe/go-assistant/pkg/assistant"
	"github.com/teslashibe/go-assistant/pkg/audioio"
	"github.com/teslashibe/go-assistant/pkg/inference"
	"github.com/teslashibe/go-assistant/pkg/metrics"
	"github.com/teslashibe/go-assistant/pkg/permission"
	"github.com/teslashibe/go-assistant/pkg/prefs"
	"github.com/teslashibe/go-assistant/pkg/recorder"
	"github.com/teslashibe/go-assistant/pkg/speech"
	"github.com/teslashibe/go-assistant/pkg/stt"
	"github.com/teslashibe/go-assistant/pkg/tts"
	"github.com/teslashibe/go-assistant/pkg/web"
)

// DefaultSystemPrompt is sent with every request unless configured.
const DefaultSystemPrompt = `You are a helpful voice assistant. Answer in one to three short sentences of plain text that read naturally when spoken aloud. Do not use markdown, lists or emoji.`

// Option configures an App.
type Option func(*App)

// WithTerminal sets the streams used by the "prompt" permission mode.
func WithTerminal(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.in = in
		a.out = out
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// App owns every pipeline component.
type App struct {
	config *config.Config
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	source      audioio.Source
	sink        audioio.Sink
	recorder    *recorder.Recorder
	backends    *stt.Registry
	transcriber *stt.Transcriber
	responder   inference.Responder
	voice       tts.Provider
	player      *speech.Player
	metrics     *metrics.Metrics
	prefs       *prefs.Store
	assistant   *assistant.Assistant

	closeOnce sync.Once
}

// New validates cfg and returns an App ready for Init.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{config: cfg, in: os.Stdin, out: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Init builds the pipeline. Components created before a failure are
// released.
func (a *App) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.metrics = metrics.New()

	if err := a.initPrefs(); err != nil {
		return fmt.Errorf("prefs: %w", err)
	}
	if err := a.initAudio(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := a.initTranscriber(ctx); err != nil {
		return fmt.Errorf("transcription: %w", err)
	}
	if err := a.initResponder(); err != nil {
		return fmt.Errorf("inference: %w", err)
	}
	if err := a.initVoice(); err != nil {
		return fmt.Errorf("speech: %w", err)
	}

	a.player = speech.New(a.voice, a.sink, speech.WithLogger(a.logger))
	a.player.SetMuted(a.prefs.Get().Muted)

	a.assistant = assistant.New(a.recorder, a.transcriber, a.responder, a.player,
		assistant.WithObserver(a.metrics),
		assistant.WithLogger(a.logger),
	)

	a.logger.Info("pipeline ready",
		"audio", a.source.Name(),
		"stt", a.transcriber.Backend().Name(),
		"inference", a.responder.Name(),
		"tts", a.voice.Name(),
		"muted", a.player.Muted(),
	)
	return nil
}

func (a *App) initPrefs() error {
	path := a.config.Prefs.Path
	if path == "" {
		p, err := prefs.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	store, err := prefs.Open(path)
	if err != nil {
		return err
	}
	a.prefs = store
	return nil
}

func (a *App) audioConfig() audioio.Config {
	c := audioio.DefaultConfig()
	c.Backend = audioio.Backend(a.config.Audio.Backend)
	c.SampleRate = a.config.Audio.SampleRate
	c.Channels = a.config.Audio.Channels
	c.Device = a.config.Audio.Device
	if a.config.Audio.CaptureCommand != "" {
		c.CaptureCommand = a.config.Audio.CaptureCommand
	}
	if a.config.Audio.PlaybackCommand != "" {
		c.PlaybackCommand = a.config.Audio.PlaybackCommand
	}
	return c
}

func (a *App) gate() permission.Gate {
	switch a.config.Permission.Mode {
	case "deny":
		return permission.Deny
	case "prompt":
		return permission.NewPrompt(a.in, a.out)
	default:
		return permission.Allow
	}
}

func (a *App) initAudio() error {
	cfg := a.audioConfig()

	source, err := audioio.NewSource(cfg, a.logger)
	if err != nil {
		return err
	}
	a.source = source

	sink, err := audioio.NewSink(cfg, a.logger)
	if err != nil {
		return err
	}
	a.sink = sink

	opts := []recorder.Option{recorder.WithLogger(a.logger)}
	if a.config.Audio.SpoolDir != "" {
		opts = append(opts, recorder.WithSpoolDir(a.config.Audio.SpoolDir))
	}
	if a.config.Audio.SilenceThreshold > 0 {
		opts = append(opts, recorder.WithSilenceThreshold(a.config.Audio.SilenceThreshold))
	}
	a.recorder = recorder.New(source, a.gate(), nil, opts...)
	return nil
}

func (a *App) initTranscriber(ctx context.Context) error {
	t, reg, err := NewTranscriber(ctx, a.config, a.logger, a.metrics.RecordTranscriptionRetry)
	if err != nil {
		return err
	}
	a.transcriber, a.backends = t, reg
	return nil
}

func (a *App) initResponder() error {
	c := a.config.Inference
	prompt := c.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	common := []inference.Option{
		inference.WithSystemPrompt(prompt),
		inference.WithTimeout(c.Timeout),
		inference.WithMaxTokens(c.MaxTokens),
		inference.WithTemperature(c.Temperature),
		inference.WithLogger(a.logger),
	}

	var primary inference.Responder
	switch c.Provider {
	case config.BackendMock:
		primary = inference.NewMock("This is a test reply.")
	case config.BackendOpenAI:
		r, err := a.newOpenAIResponder(common)
		if err != nil {
			return err
		}
		primary = r
	default:
		opts := append(common,
			inference.WithAPIKey(c.GeminiAPIKey),
			inference.WithModel(c.GeminiModel),
			inference.WithSampling(c.TopK, c.TopP),
		)
		if c.GeminiBaseURL != "" {
			opts = append(opts, inference.WithBaseURL(c.GeminiBaseURL))
		}
		g, err := inference.NewGemini(opts...)
		if err != nil {
			return err
		}
		primary = g
	}

	if c.Provider == config.BackendOpenAI || (c.FallbackModel == "" && c.FallbackBaseURL == "") {
		a.responder = primary
		return nil
	}

	fallback, err := a.newOpenAIResponder(common)
	if err != nil {
		a.logger.Warn("fallback responder disabled", "error", err)
		a.responder = primary
		return nil
	}
	chain, err := inference.NewChain(a.logger, primary, fallback)
	if err != nil {
		return err
	}
	a.responder = chain
	return nil
}

func (a *App) newOpenAIResponder(common []inference.Option) (*inference.OpenAI, error) {
	c := a.config.Inference
	opts := append([]inference.Option{}, common...)
	opts = append(opts, inference.WithAPIKey(a.config.OpenAIAPIKey))
	if c.FallbackBaseURL != "" {
		opts = append(opts, inference.WithBaseURL(c.FallbackBaseURL))
	}
	if c.FallbackModel != "" {
		opts = append(opts, inference.WithModel(c.FallbackModel))
	}
	return inference.NewOpenAI(opts...)
}

// initVoice creates the speech provider. ElevenLabs falls back to the
// OpenAI voice when an OpenAI key is available.
func (a *App) initVoice() error {
	c := a.config.TTS
	common := []tts.Option{
		tts.WithSpeed(c.Speed),
		tts.WithPitch(c.Pitch),
		tts.WithOutputFormat(tts.EncodingPCM24),
		tts.WithLogger(a.logger),
	}

	switch c.Provider {
	case config.BackendMock:
		a.voice = tts.NewMock()
		return nil
	case config.BackendElevenLabs:
		opts := append([]tts.Option{}, common...)
		opts = append(opts,
			tts.WithAPIKey(c.ElevenLabsAPIKey),
			tts.WithVoice(a.config.ElevenLabsVoice()),
		)
		if c.ElevenLabsModel != "" {
			opts = append(opts, tts.WithModel(c.ElevenLabsModel))
		}
		el, err := tts.NewElevenLabsWS(opts...)
		if err != nil {
			return err
		}
		if a.config.OpenAIAPIKey == "" {
			a.voice = el
			return nil
		}
		oa, err := a.newOpenAIVoice(common)
		if err != nil {
			return err
		}
		chain, err := tts.NewChain(a.logger, el, oa)
		if err != nil {
			return err
		}
		a.voice = chain
		return nil
	default:
		oa, err := a.newOpenAIVoice(common)
		if err != nil {
			return err
		}
		a.voice = oa
		return nil
	}
}

func (a *App) newOpenAIVoice(common []tts.Option) (*tts.OpenAI, error) {
	c := a.config.TTS
	opts := append([]tts.Option{}, common...)
	opts = append(opts, tts.WithAPIKey(a.config.OpenAIAPIKey))
	if _, preset := tts.ElevenLabsVoices[c.Voice]; !preset && c.Voice != "" {
		opts = append(opts, tts.WithVoice(c.Voice))
	}
	if c.Provider == config.BackendOpenAI && c.Model != "" {
		opts = append(opts, tts.WithModel(c.Model))
	}
	if c.OpenAIBaseURL != "" {
		opts = append(opts, tts.WithBaseURL(c.OpenAIBaseURL))
	}
	return tts.NewOpenAI(opts...)
}

// Assistant returns the orchestrator. Init must have succeeded.
func (a *App) Assistant() *assistant.Assistant { return a.assistant }

// Transcriber returns the transcriber. Init must have succeeded.
func (a *App) Transcriber() *stt.Transcriber { return a.transcriber }

// Prefs returns the persisted user state. Init must have succeeded.
func (a *App) Prefs() *prefs.Store { return a.prefs }

// Metrics returns the metrics registry. Init must have succeeded.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Serve runs the web surface until ctx is done. Cancelling ctx resets the
// pipeline before the server stops.
func (a *App) Serve(ctx context.Context) error {
	srv := web.New(a.assistant, a.prefs,
		web.WithAddr(a.config.Server.Addr),
		web.WithStaticDir(a.config.Server.StaticDir),
		web.WithMetrics(a.metrics),
		web.WithLogger(a.logger),
	)

	// The server outlives ctx so the pipeline can be reset first.
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(runCtx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.assistant.Reset()
	shutdownErr := srv.Shutdown()
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-time.After(5 * time.Second):
		a.logger.Warn("server did not stop in time")
	}
	return shutdownErr
}

// Close releases audio devices and providers. It is safe to call more than
// once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.assistant != nil {
			a.assistant.Reset()
		}
		if a.source != nil {
			errs = append(errs, a.source.Close())
		}
		if a.sink != nil {
			errs = append(errs, a.sink.Close())
		}
		if a.voice != nil {
			errs = append(errs, a.voice.Close())
		}
		if c, ok := a.responder.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
