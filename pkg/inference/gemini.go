package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-assistant/internal/httpc"
	"github.com/teslashibe/go-assistant/pkg/conversation"
)

const providerGemini = "gemini"

// SafetySetting blocks a harm category at a threshold.
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// SafetySettings is the fixed content policy sent with every request.
var SafetySettings = []SafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64  `json:"temperature"`
	TopK            int      `json:"topK"`
	TopP            float64  `json:"topP"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
	StopSequences   []string `json:"stopSequences"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SafetySettings    []SafetySetting        `json:"safetySettings"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
}

// geminiResponse is the Gemini API response format.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Gemini implements Responder with the generateContent REST API.
type Gemini struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini responder.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Gemini{
		config: cfg,
		http:   client,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string { return providerGemini }

// Respond sends history plus prompt and returns the first candidate's first
// text part.
func (g *Gemini) Respond(ctx context.Context, prompt string, history []conversation.Turn) (*Reply, error) {
	start := time.Now()

	body, err := json.Marshal(g.buildRequest(prompt, history))
	if err != nil {
		return nil, classify(WrapError(providerGemini, err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(g.config.BaseURL, "/"), g.config.Model, url.QueryEscape(g.config.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, classify(WrapError(providerGemini, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		g.logger.Warn("generateContent failed", "error", err)
		return nil, classify(WrapError(providerGemini, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := g.parseError(resp)
		g.logger.Warn("generateContent rejected", "status", resp.StatusCode, "message", apiErr.Message)
		return nil, classify(apiErr)
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, classify(WrapError(providerGemini, fmt.Errorf("decode response: %w", err)))
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		if result.PromptFeedback.BlockReason != "" {
			return nil, classify(WrapError(providerGemini,
				fmt.Errorf("%w: blocked (%s)", ErrEmptyResponse, result.PromptFeedback.BlockReason)))
		}
		return nil, classify(WrapError(providerGemini, ErrEmptyResponse))
	}

	text := strings.TrimSpace(result.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return nil, classify(WrapError(providerGemini, ErrEmptyResponse))
	}

	reply := &Reply{
		Text:         text,
		FinishReason: result.Candidates[0].FinishReason,
		Model:        g.config.Model,
		Provider:     providerGemini,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	g.logger.Info("reply generated",
		"model", reply.Model,
		"history_turns", len(history),
		"chars", len(reply.Text),
		"latency_ms", reply.LatencyMs,
	)
	return reply, nil
}

func (g *Gemini) buildRequest(prompt string, history []conversation.Turn) geminiRequest {
	contents := make([]geminiContent, 0, len(history)+1)
	for _, t := range history {
		role := "user"
		if t.Role == conversation.RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: t.Content}}})
	}
	contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: prompt}}})

	req := geminiRequest{
		Contents:       contents,
		SafetySettings: SafetySettings,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.config.Temperature,
			TopK:            g.config.TopK,
			TopP:            g.config.TopP,
			MaxOutputTokens: g.config.MaxTokens,
			StopSequences:   g.config.StopSequences,
		},
	}
	if g.config.SystemPrompt != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: g.config.SystemPrompt}}}
	}
	return req
}

// parseError reads and parses an error response.
func (g *Gemini) parseError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp geminiResponse
	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerGemini,
	}
}

// Close releases idle connections.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

// Verify Gemini implements Responder at compile time.
var _ Responder = (*Gemini)(nil)
