package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/teslashibe/go-assistant/pkg/apperr"
	"github.com/teslashibe/go-assistant/pkg/tts"
)

// MissingKeys lists the environment keys required by the selected backends
// that have no value. Alternatives are joined with " or ".
func (c *Config) MissingKeys() []string {
	var missing []string
	need := func(ok bool, key string) {
		if !ok && !slices.Contains(missing, key) {
			missing = append(missing, key)
		}
	}

	switch c.STT.Backend {
	case BackendGoogle:
		need(c.STT.GoogleAPIKey != "" || c.STT.GoogleCredentialsFile != "", "GOOGLE_API_KEY or GOOGLE_CREDENTIALS_FILE")
	case BackendWhisper:
		need(c.OpenAIAPIKey != "" || c.STT.WhisperBaseURL != "", "OPENAI_API_KEY")
	}

	switch c.Inference.Provider {
	case BackendGemini:
		need(c.Inference.GeminiAPIKey != "", "GEMINI_API_KEY")
	case BackendOpenAI:
		need(c.OpenAIAPIKey != "" || c.Inference.FallbackBaseURL != "", "OPENAI_API_KEY")
	}

	switch c.TTS.Provider {
	case BackendOpenAI:
		need(c.OpenAIAPIKey != "", "OPENAI_API_KEY")
	case BackendElevenLabs:
		need(c.TTS.ElevenLabsAPIKey != "", "ELEVENLABS_API_KEY")
		_, preset := tts.ElevenLabsVoices[c.TTS.Voice]
		need(c.TTS.ElevenLabsVoiceID != "" || preset, "ELEVENLABS_VOICE_ID")
	}

	return missing
}

// Validate checks backend names and required credentials. Every problem is
// reported in one ConfigurationError.
func (c *Config) Validate() error {
	var problems []string

	check := func(field, value string, allowed ...string) {
		if !slices.Contains(allowed, value) {
			problems = append(problems, fmt.Sprintf("%s %q is not one of %s", field, value, strings.Join(allowed, ", ")))
		}
	}
	check("stt.backend", c.STT.Backend, BackendGoogle, BackendWhisper, BackendMock)
	check("inference.provider", c.Inference.Provider, BackendGemini, BackendOpenAI, BackendMock)
	check("tts.provider", c.TTS.Provider, BackendOpenAI, BackendElevenLabs, BackendMock)
	check("permission.mode", c.Permission.Mode, "allow", "deny", "prompt")

	if c.STT.MaxAttempts < 1 {
		problems = append(problems, "stt.max_attempts must be at least 1")
	}
	if c.STT.RetryDelay < 0 {
		problems = append(problems, "stt.retry_delay must not be negative")
	}

	if missing := c.MissingKeys(); len(missing) > 0 {
		problems = append(problems, "missing "+strings.Join(missing, ", "))
	}

	if len(problems) == 0 {
		return nil
	}
	return apperr.New(apperr.ErrConfiguration, "config.validate", strings.Join(problems, "; "))
}

// Production reports whether the service runs with production settings.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// ElevenLabsVoice returns the configured ElevenLabs voice: the explicit ID,
// else the preset named by Voice.
func (c *Config) ElevenLabsVoice() string {
	if c.TTS.ElevenLabsVoiceID != "" {
		return c.TTS.ElevenLabsVoiceID
	}
	if id, ok := tts.ElevenLabsVoices[c.TTS.Voice]; ok {
		return id
	}
	return ""
}
