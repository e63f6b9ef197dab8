package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-assistant/internal/config"
	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/stt"
	"github.com/teslashibe/go-assistant/pkg/stt/googlestt"
	"github.com/teslashibe/go-assistant/pkg/stt/whisper"
)

// NewTranscriber registers every speech-to-text backend the credentials in
// cfg allow and returns a transcriber on the configured one. onRetry may be
// nil.
func NewTranscriber(ctx context.Context, cfg *config.Config, logger *slog.Logger, onRetry func(attempt int)) (*stt.Transcriber, *stt.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cfg.STT
	reg := stt.NewRegistry()

	if c.GoogleAPIKey != "" || c.GoogleCredentialsFile != "" {
		b, err := googlestt.New(ctx, googlestt.Config{
			APIKey:          c.GoogleAPIKey,
			CredentialsFile: c.GoogleCredentialsFile,
			Endpoint:        c.GoogleEndpoint,
			Logger:          logger,
		})
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.ErrConfiguration, "app.transcriber", err)
		}
		reg.Register(googlestt.Name, b)
	}
	if cfg.OpenAIAPIKey != "" || c.WhisperBaseURL != "" {
		reg.Register(whisper.Name, whisper.New(whisper.Config{
			Token:   cfg.OpenAIAPIKey,
			BaseURL: c.WhisperBaseURL,
			Model:   c.WhisperModel,
			Logger:  logger,
		}))
	}
	if c.Backend == config.BackendMock {
		reg.Register(config.BackendMock, stt.NewMockBackend(stt.MockResponse{Text: "hello"}))
	}

	if err := reg.SetPrimary(c.Backend); err != nil {
		return nil, nil, apperr.New(apperr.ErrConfiguration, "app.transcriber",
			fmt.Sprintf("no credentials for speech-to-text backend %q (available: %v)", c.Backend, reg.Names()))
	}

	opts := []stt.Option{
		stt.WithLanguage(c.LanguageCode),
		stt.WithModel(c.Model),
		stt.WithRetry(c.MaxAttempts, c.RetryDelay),
		stt.WithLogger(logger),
	}
	if onRetry != nil {
		opts = append(opts, stt.WithRetryHook(onRetry))
	}
	return stt.New(reg.Primary(), opts...), reg, nil
}
