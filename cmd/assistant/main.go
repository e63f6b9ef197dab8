// Command assistant runs the voice assistant as a web service, a terminal
// chat or a one-shot transcriber.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-assistant/internal/config"
	"github.com/teslashibe/go-assistant/internal/log"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configFile string
	envFile    string
	logFormat  string
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log_level",
	"addr":       "server.addr",
	"static-dir": "server.static_dir",
	"audio":      "audio.backend",
	"device":     "audio.device",
	"permission": "permission.mode",
	"stt":        "stt.backend",
	"language":   "stt.language_code",
	"inference":  "inference.provider",
	"model":      "inference.gemini_model",
	"tts":        "tts.provider",
	"voice":      "tts.voice",
	"prefs":      "prefs.path",
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "assistant",
		Short:        "Voice assistant: record, transcribe, answer and speak",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "YAML config file (default $"+config.EnvConfigFile+")")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load; empty disables")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("audio", "auto", "audio backend: auto, exec, mock")
	pf.String("device", "", "audio device passed to the capture and playback tools")
	pf.String("permission", "allow", "microphone permission: allow, deny, prompt")
	pf.String("stt", config.BackendGoogle, "speech-to-text backend: google, whisper, mock")
	pf.String("language", "en-US", "recognition language code")
	pf.String("inference", config.BackendGemini, "reply provider: gemini, openai, mock")
	pf.String("model", "gemini-2.0-flash", "Gemini model")
	pf.String("tts", config.BackendOpenAI, "speech provider: openai, elevenlabs, mock")
	pf.String("voice", "shimmer", "voice name or ID")
	pf.String("prefs", "", "preferences file (default ~/.assistant/prefs.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newTranscribeCmd(opts),
		newOnboardingCmd(opts),
	)
	return root
}

// loadConfig merges the config sources with the flags set on cmd and
// initializes logging.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, *slog.Logger, error) {
	l := config.NewLoader()
	l.SetFile(opts.configFile)
	l.SetEnvFile(opts.envFile)

	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := l.BindFlag(key, f); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := l.Load()
	if err != nil {
		return nil, nil, err
	}

	format := opts.logFormat
	if format == "" && cfg.Production() {
		format = "json"
	}
	logger := log.InitWriter(os.Stderr, cfg.LogLevel, format)
	return cfg, logger, nil
}

// reportMissing prints a readable hint for configuration errors.
func reportMissing(cfg *config.Config) {
	if missing := cfg.MissingKeys(); len(missing) > 0 {
		fmt.Fprintln(os.Stderr, "Set the following in the environment or .env:")
		for _, key := range missing {
			fmt.Fprintf(os.Stderr, "  %s\n", key)
		}
	}
}
