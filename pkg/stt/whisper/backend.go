// Package whisper implements stt.Backend on an OpenAI-compatible
// /audio/transcriptions endpoint.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-assistant/internal/httpc"
	"github.com/teslashibe/go-assistant/pkg/recorder"
	"github.com/teslashibe/go-assistant/pkg/stt"
)

// Name is the backend identifier used in configuration.
const Name = "whisper"

// DefaultModel is the transcription model sent in the form.
const DefaultModel = openai.Whisper1

var _ stt.Backend = (*Backend)(nil)

// Config configures the transcription client.
type Config struct {
	Token   string // sent as Bearer
	BaseURL string // default https://api.openai.com/v1
	Model   string
	Logger  *slog.Logger
}

// Backend uploads the artifact as multipart form data.
type Backend struct {
	cfg    Config
	client *openai.Client
	logger *slog.Logger
}

// New creates a whisper backend.
func New(cfg Config) *Backend {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	oc := openai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = httpc.Client

	return &Backend{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oc),
		logger: cfg.Logger.With("component", "whisper.backend"),
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return Name }

// Transcribe implements stt.Backend.
func (b *Backend) Transcribe(ctx context.Context, artifact recorder.Artifact, opts stt.Options) (string, error) {
	req := openai.AudioRequest{
		Model:    b.cfg.Model,
		FilePath: artifact.URI,
		Language: baseLanguage(opts.LanguageCode),
	}

	resp, err := b.client.CreateTranscription(ctx, req)
	if err != nil {
		if se := statusError(err); se != nil {
			return "", se
		}
		return "", fmt.Errorf("whisper: transcribe: %w", err)
	}

	b.logger.Debug("transcription complete", "chars", len(resp.Text))
	return resp.Text, nil
}

// statusError extracts the HTTP status from go-openai errors.
func statusError(err error) *stt.StatusError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &stt.StatusError{Backend: Name, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &stt.StatusError{Backend: Name, StatusCode: reqErr.HTTPStatusCode, Message: msg}
	}
	return nil
}

// baseLanguage turns "en-US" into the ISO-639-1 code whisper expects.
func baseLanguage(code string) string {
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}
