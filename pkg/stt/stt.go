// Package stt turns recorded audio artifacts into transcripts.
//
// A Transcriber wraps a pluggable Backend with artifact validation, HTTP
// status classification and a fixed retry policy for rate limiting:
//
//	t := stt.New(googlestt.New(cfg), stt.WithLogger(logger))
//	tr, err := t.Transcribe(ctx, artifact)
//	if errors.Is(err, apperr.ErrQuotaExceeded) { ... }
package stt

import (
	"context"
	"fmt"

	"github.com/teslashibe/go-assistant/pkg/recorder"
)

// Transcript is the text recognised from an artifact.
type Transcript struct {
	Text    string            `json:"text"`
	Source  recorder.Artifact `json:"source"`
	Backend string            `json:"backend"`
}

// Options are the recognition settings passed to a Backend.
type Options struct {
	LanguageCode string
	Model        string
	Punctuation  bool
	Enhanced     bool
}

// Backend is implemented by each speech-to-text service.
//
// Implementations return *StatusError for HTTP failures so the Transcriber
// can classify them, and an empty string when nothing was recognised.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, artifact recorder.Artifact, opts Options) (string, error)
}

// StatusError is an HTTP failure reported by a Backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Backend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Backend, e.StatusCode)
}
