// Package config loads assistant configuration from defaults, an optional
// YAML file, a .env file, the environment and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teslashibe/go-assistant/pkg/apperr"
)

// EnvConfigFile names the environment variable holding a config file path.
const EnvConfigFile = "ASSISTANT_CONFIG"

// Backend names accepted in configuration.
const (
	BackendGoogle     = "google"
	BackendWhisper    = "whisper"
	BackendGemini     = "gemini"
	BackendOpenAI     = "openai"
	BackendElevenLabs = "elevenlabs"
	BackendMock       = "mock"
)

// Config is the complete assistant configuration.
type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	// OpenAIAPIKey is shared by the whisper backend, the OpenAI voice and
	// the fallback responder.
	OpenAIAPIKey string `mapstructure:"openai_api_key"`

	Server     ServerConfig     `mapstructure:"server"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Permission PermissionConfig `mapstructure:"permission"`
	STT        STTConfig        `mapstructure:"stt"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Prefs      PrefsConfig      `mapstructure:"prefs"`
}

// ServerConfig configures the web surface.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
}

// AudioConfig configures capture and playback.
type AudioConfig struct {
	Backend          string `mapstructure:"backend"`
	Device           string `mapstructure:"device"`
	SampleRate       int    `mapstructure:"sample_rate"`
	Channels         int    `mapstructure:"channels"`
	CaptureCommand   string `mapstructure:"capture_command"`
	PlaybackCommand  string `mapstructure:"playback_command"`
	SpoolDir         string `mapstructure:"spool_dir"`
	SilenceThreshold int    `mapstructure:"silence_threshold"`
}

// PermissionConfig selects how microphone access is granted: "allow",
// "deny" or "prompt".
type PermissionConfig struct {
	Mode string `mapstructure:"mode"`
}

// STTConfig configures transcription.
type STTConfig struct {
	Backend      string        `mapstructure:"backend"`
	LanguageCode string        `mapstructure:"language_code"`
	Model        string        `mapstructure:"model"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`

	GoogleAPIKey          string `mapstructure:"google_api_key"`
	GoogleCredentialsFile string `mapstructure:"google_credentials_file"`
	GoogleEndpoint        string `mapstructure:"google_endpoint"`

	WhisperBaseURL string `mapstructure:"whisper_base_url"`
	WhisperModel   string `mapstructure:"whisper_model"`
}

// InferenceConfig configures reply generation.
type InferenceConfig struct {
	Provider     string        `mapstructure:"provider"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`

	GeminiAPIKey  string  `mapstructure:"gemini_api_key"`
	GeminiBaseURL string  `mapstructure:"gemini_base_url"`
	GeminiModel   string  `mapstructure:"gemini_model"`
	Temperature   float64 `mapstructure:"temperature"`
	TopK          int     `mapstructure:"top_k"`
	TopP          float64 `mapstructure:"top_p"`
	MaxTokens     int     `mapstructure:"max_tokens"`

	// Fallback is an optional OpenAI-compatible responder tried after the
	// primary one fails.
	FallbackBaseURL string `mapstructure:"fallback_base_url"`
	FallbackModel   string `mapstructure:"fallback_model"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Provider string  `mapstructure:"provider"`
	Voice    string  `mapstructure:"voice"`
	Model    string  `mapstructure:"model"`
	Speed    float64 `mapstructure:"speed"`
	Pitch    float64 `mapstructure:"pitch"`

	OpenAIBaseURL string `mapstructure:"openai_base_url"`

	// ElevenLabs uses its own voice IDs and models; Voice is only used
	// when it names a preset such as "rachel".
	ElevenLabsAPIKey  string `mapstructure:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `mapstructure:"elevenlabs_voice_id"`
	ElevenLabsModel   string `mapstructure:"elevenlabs_model"`
}

// PrefsConfig locates the persisted user state.
type PrefsConfig struct {
	Path string `mapstructure:"path"`
}

// envBindings maps config keys to the conventional environment names.
var envBindings = map[string]string{
	"stt.google_api_key":          "GOOGLE_API_KEY",
	"stt.google_credentials_file": "GOOGLE_CREDENTIALS_FILE",
	"inference.gemini_api_key":    "GEMINI_API_KEY",
	"openai_api_key":              "OPENAI_API_KEY",
	"tts.elevenlabs_api_key":      "ELEVENLABS_API_KEY",
	"tts.elevenlabs_voice_id":     "ELEVENLABS_VOICE_ID",
	"log_level":                   "LOG_LEVEL",
	"env":                         "GO_ENV",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("openai_api_key", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.static_dir", "")

	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.device", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.capture_command", "arecord")
	v.SetDefault("audio.playback_command", "aplay")
	v.SetDefault("audio.spool_dir", os.TempDir())
	v.SetDefault("audio.silence_threshold", 64)

	v.SetDefault("permission.mode", "allow")

	v.SetDefault("stt.backend", BackendGoogle)
	v.SetDefault("stt.language_code", "en-US")
	v.SetDefault("stt.model", "default")
	v.SetDefault("stt.max_attempts", 3)
	v.SetDefault("stt.retry_delay", 3*time.Second)
	v.SetDefault("stt.whisper_model", "whisper-1")
	v.SetDefault("stt.whisper_base_url", "")
	v.SetDefault("stt.google_api_key", "")
	v.SetDefault("stt.google_credentials_file", "")
	v.SetDefault("stt.google_endpoint", "")

	v.SetDefault("inference.provider", BackendGemini)
	v.SetDefault("inference.timeout", 30*time.Second)
	v.SetDefault("inference.system_prompt", "")
	v.SetDefault("inference.gemini_api_key", "")
	v.SetDefault("inference.gemini_base_url", "")
	v.SetDefault("inference.gemini_model", "gemini-2.0-flash")
	v.SetDefault("inference.fallback_base_url", "")
	v.SetDefault("inference.fallback_model", "")
	v.SetDefault("inference.temperature", 0.9)
	v.SetDefault("inference.top_k", 1)
	v.SetDefault("inference.top_p", 1.0)
	v.SetDefault("inference.max_tokens", 2048)

	v.SetDefault("tts.provider", BackendOpenAI)
	v.SetDefault("tts.voice", "shimmer")
	v.SetDefault("tts.model", "tts-1")
	v.SetDefault("tts.speed", 0.9)
	v.SetDefault("tts.pitch", 1.0)
	v.SetDefault("tts.openai_base_url", "")
	v.SetDefault("tts.elevenlabs_api_key", "")
	v.SetDefault("tts.elevenlabs_voice_id", "")
	v.SetDefault("tts.elevenlabs_model", "")

	v.SetDefault("prefs.path", "")
}

// Loader merges configuration sources with viper.
type Loader struct {
	v       *viper.Viper
	envFile string
	file    string
}

// NewLoader creates a loader with defaults and environment bindings.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, envFile: ".env"}
}

// SetFile sets the YAML config file. An empty path falls back to
// $ASSISTANT_CONFIG.
func (l *Loader) SetFile(path string) { l.file = path }

// SetEnvFile sets the dotenv file; empty disables it.
func (l *Loader) SetEnvFile(path string) { l.envFile = path }

// BindFlag makes flag override key when it was set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("config: no flag for %s", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads every source and returns the merged configuration. It does not
// validate credentials; call Validate for that.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, apperr.Wrap(apperr.ErrConfiguration, "config.load", fmt.Errorf("read %s: %w", l.envFile, err))
		}
	}

	for key, env := range envBindings {
		if err := l.v.BindEnv(key, env, "ASSISTANT_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, apperr.Wrap(apperr.ErrConfiguration, "config.load", err)
		}
	}

	file := l.file
	if file == "" {
		file = os.Getenv(EnvConfigFile)
	}
	if file != "" {
		l.v.SetConfigFile(file)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, apperr.Wrap(apperr.ErrConfiguration, "config.load", fmt.Errorf("read %s: %w", file, err))
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, apperr.Wrap(apperr.ErrConfiguration, "config.load", err)
	}
	return &cfg, nil
}

// Load is a shortcut for NewLoader().Load() with an explicit file.
func Load(file string) (*Config, error) {
	l := NewLoader()
	l.SetFile(file)
	return l.Load()
}
