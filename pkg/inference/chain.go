package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/conversation"
)

// Chain tries responders in order. It falls through on rate limiting,
// timeouts and backend errors; auth and endpoint errors are returned at once
// since they indicate misconfiguration.
type Chain struct {
	responders []Responder
	logger     *slog.Logger
}

// NewChain creates a responder chain. At least one responder is required.
func NewChain(logger *slog.Logger, responders ...Responder) (*Chain, error) {
	if len(responders) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		responders: responders,
		logger:     logger.With("component", "inference.chain"),
	}, nil
}

// Name returns "chain".
func (c *Chain) Name() string { return "chain" }

// Respond tries each responder until one succeeds and returns the last error
// otherwise.
func (c *Chain) Respond(ctx context.Context, prompt string, history []conversation.Turn) (*Reply, error) {
	var lastErr error
	for i, r := range c.responders {
		reply, err := r.Respond(ctx, prompt, history)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback responder succeeded", "provider", r.Name(), "index", i)
			}
			return reply, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, apperr.ErrAuth) || errors.Is(err, apperr.ErrInvalidEndpoint) {
			return nil, err
		}
		c.logger.Warn("responder failed, trying next", "provider", r.Name(), "index", i, "error", err)
	}
	return nil, lastErr
}

// Close closes every responder that holds resources.
func (c *Chain) Close() error {
	var errs []error
	for _, r := range c.responders {
		if closer, ok := r.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

var (
	_ Responder = (*Chain)(nil)
	_ io.Closer = (*Chain)(nil)
)
