// Package googlestt implements stt.Backend on Google Cloud Speech-to-Text v1.
package googlestt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"

	"github.com/teslashibe/go-assistant/pkg/recorder"
	"github.com/teslashibe/go-assistant/pkg/stt"
)

// Name is the backend identifier used in configuration.
const Name = "google"

// DefaultTimeout bounds a single recognize call.
const DefaultTimeout = 30 * time.Second

// Compile-time interface check.
var _ stt.Backend = (*Backend)(nil)

// Config holds Google Cloud STT settings. One of APIKey or CredentialsFile
// is required.
type Config struct {
	APIKey          string
	CredentialsFile string // path to service account JSON

	// Endpoint overrides the API base URL.
	Endpoint string

	// HTTPClient replaces the authenticated transport entirely.
	HTTPClient *http.Client

	Timeout time.Duration
	Logger  *slog.Logger
}

// Backend calls speech:recognize synchronously.
type Backend struct {
	cfg    Config
	svc    *speech.Service
	logger *slog.Logger
}

// New creates the backend and its API client.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("googlestt: read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, speech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("googlestt: parse credentials: %w", err)
		}
		opts = append(opts, option.WithTokenSource(creds.TokenSource))
	default:
		return nil, errors.New("googlestt: API key or credentials file required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("googlestt: create service: %w", err)
	}

	return &Backend{
		cfg:    cfg,
		svc:    svc,
		logger: cfg.Logger.With("component", "googlestt.backend"),
	}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return Name }

// Transcribe uploads the artifact inline and joins the top alternative of
// every result.
func (b *Backend) Transcribe(ctx context.Context, artifact recorder.Artifact, opts stt.Options) (string, error) {
	data, err := os.ReadFile(artifact.URI)
	if err != nil {
		return "", fmt.Errorf("googlestt: read audio: %w", err)
	}

	sampleRate := artifact.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := artifact.Channels
	if channels == 0 {
		channels = 1
	}

	req := &speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:                   "LINEAR16",
			SampleRateHertz:            int64(sampleRate),
			LanguageCode:               opts.LanguageCode,
			Model:                      opts.Model,
			AudioChannelCount:          int64(channels),
			EnableAutomaticPunctuation: opts.Punctuation,
			UseEnhanced:                opts.Enhanced,
		},
		Audio: &speech.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(data),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	resp, err := b.svc.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return "", &stt.StatusError{Backend: Name, StatusCode: gerr.Code, Message: gerr.Message}
		}
		return "", fmt.Errorf("googlestt: recognize: %w", err)
	}

	parts := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}

	b.logger.Debug("recognize complete", "results", len(resp.Results), "bytes", len(data))
	return strings.Join(parts, " "), nil
}
