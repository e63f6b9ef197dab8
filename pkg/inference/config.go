package inference

import (
	"log/slog"
	"net/http"
	"time"
)

// Config holds provider configuration.
type Config struct {
	// Connection
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	Model string

	// Generation defaults
	Temperature   float64
	TopK          int
	TopP          float64
	MaxTokens     int
	StopSequences []string
	SystemPrompt  string

	Timeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the output token limit.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithSampling sets top-k and top-p.
func WithSampling(topK int, topP float64) Option {
	return func(c *Config) {
		c.TopK = topK
		c.TopP = topP
	}
}

// WithStopSequences sets the stop sequences.
func WithStopSequences(seqs ...string) Option {
	return func(c *Config) { c.StopSequences = seqs }
}

// WithSystemPrompt sets a system instruction sent with every request.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns the Gemini generation defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://generativelanguage.googleapis.com/v1beta",
		Model:         "gemini-2.0-flash",
		Temperature:   0.9,
		TopK:          1,
		TopP:          1,
		MaxTokens:     2048,
		StopSequences: []string{},
		Timeout:       30 * time.Second,
		Logger:        slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.StopSequences == nil {
		c.StopSequences = []string{}
	}
}
