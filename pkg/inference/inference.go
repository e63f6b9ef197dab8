// Package inference produces assistant replies from a transcript and the
// conversation so far.
//
// The primary provider is Gemini generateContent; an OpenAI-compatible
// provider and a fallback Chain are also available:
//
//	g, _ := inference.NewGemini(
//	    inference.WithAPIKey(os.Getenv("GEMINI_API_KEY")),
//	)
//	reply, err := g.Respond(ctx, "hello", history.Snapshot())
//	if errors.Is(err, apperr.ErrRateLimited) { ... }
package inference

import (
	"context"

	"github.com/teslashibe/go-assistant/pkg/conversation"
)

// Responder generates the assistant's next message.
//
// Respond receives the prior turns in chronological order; the new user
// prompt is appended by the implementation. Errors are classified with the
// apperr kinds ErrAuth, ErrRateLimited, ErrTimeout, ErrInvalidEndpoint and
// ErrBackend.
type Responder interface {
	Respond(ctx context.Context, prompt string, history []conversation.Turn) (*Reply, error)
	Name() string
}

// Reply is a generated assistant message.
type Reply struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	LatencyMs    int64  `json:"latency_ms"`

	// TurnIndex is the history position of the reply once recorded.
	TurnIndex int `json:"turn_index"`
}
