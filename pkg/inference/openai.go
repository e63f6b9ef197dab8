package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-assistant/internal/httpc"
	"github.com/teslashibe/go-assistant/pkg/conversation"
)

const providerOpenAI = "openai"

// OpenAI implements Responder against any OpenAI-compatible chat API
// (OpenAI, Ollama, vLLM, Together).
type OpenAI struct {
	config *Config
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI-compatible responder. Model defaults to
// gpt-4o-mini and BaseURL to the OpenAI API.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://api.openai.com/v1"
	cfg.Model = openai.GPT4oMini
	cfg.Apply(opts...)

	if cfg.APIKey == "" && strings.Contains(cfg.BaseURL, "api.openai.com") {
		return nil, WrapError(providerOpenAI, ErrNoAPIKey)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = httpc.NewClient(cfg.Timeout)
	}

	return &OpenAI{
		config: cfg,
		client: openai.NewClientWithConfig(oc),
		logger: cfg.Logger.With("component", "inference.openai"),
	}, nil
}

// Name returns "openai".
func (o *OpenAI) Name() string { return providerOpenAI }

// Respond implements Responder.
func (o *OpenAI) Respond(ctx context.Context, prompt string, history []conversation.Turn) (*Reply, error) {
	start := time.Now()

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if o.config.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.config.SystemPrompt})
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       o.config.Model,
		Messages:    msgs,
		MaxTokens:   o.config.MaxTokens,
		Temperature: float32(o.config.Temperature),
		TopP:        float32(o.config.TopP),
	}
	if len(o.config.StopSequences) > 0 {
		req.Stop = o.config.StopSequences
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classify(o.wrap(err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, classify(WrapError(providerOpenAI, ErrEmptyResponse))
	}

	reply := &Reply{
		Text:         strings.TrimSpace(resp.Choices[0].Message.Content),
		FinishReason: string(resp.Choices[0].FinishReason),
		Model:        resp.Model,
		Provider:     providerOpenAI,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	o.logger.Info("reply generated", "model", reply.Model, "chars", len(reply.Text), "latency_ms", reply.LatencyMs)
	return reply, nil
}

// wrap converts go-openai errors into APIError so status mapping applies.
func (o *OpenAI) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return &APIError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Code: code, Provider: providerOpenAI}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &APIError{StatusCode: reqErr.HTTPStatusCode, Message: fmt.Sprint(reqErr.Err), Provider: providerOpenAI}
	}
	return WrapError(providerOpenAI, err)
}

var _ Responder = (*OpenAI)(nil)
