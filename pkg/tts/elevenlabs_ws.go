package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	providerElevenLabs  = "elevenlabs"

	defaultElevenLabsModel = "eleven_turbo_v2_5"
	handshakeTimeout       = 10 * time.Second
)

// ElevenLabsWS synthesizes speech over the ElevenLabs stream-input
// WebSocket. Each utterance gets its own connection.
type ElevenLabsWS struct {
	config  *Config
	logger  *slog.Logger
	baseURL string
	dialer  websocket.Dialer
}

var _ Provider = (*ElevenLabsWS)(nil)

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

type elevenLabsMessage struct {
	Text             string                   `json:"text"`
	VoiceSettings    *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	GenerationConfig *elevenLabsGeneration    `json:"generation_config,omitempty"`
	Flush            bool                     `json:"flush,omitempty"`
}

type elevenLabsGeneration struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

type elevenLabsResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewElevenLabsWS creates a WebSocket-based ElevenLabs TTS provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := DefaultConfig()
	cfg.ModelID = defaultElevenLabsModel
	cfg.Apply(opts...)

	if err := cfg.ValidateWithVoice(); err != nil {
		return nil, err
	}
	cfg.VoiceID = ResolveElevenLabsVoice(cfg.VoiceID)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	return &ElevenLabsWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs_ws"),
		baseURL: baseURL,
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}, nil
}

// Name returns the provider name.
func (e *ElevenLabsWS) Name() string { return providerElevenLabs }

// VoiceID returns the configured voice ID.
func (e *ElevenLabsWS) VoiceID() string { return e.config.VoiceID }

// ModelID returns the configured model ID.
func (e *ElevenLabsWS) ModelID() string { return e.config.ModelID }

// Stream opens a connection, sends the text and returns audio as it arrives.
func (e *ElevenLabsWS) Stream(ctx context.Context, text string) (AudioStream, error) {
	q := url.Values{}
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", string(e.outputFormat()))
	endpoint := fmt.Sprintf("%s/%s/stream-input?%s", e.baseURL, url.PathEscape(e.config.VoiceID), q.Encode())

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Message:    err.Error(),
				Provider:   providerElevenLabs,
			}
		}
		return nil, WrapError(providerElevenLabs, fmt.Errorf("websocket dial: %w", err))
	}

	vs := e.config.VoiceSettings
	messages := []elevenLabsMessage{
		{
			Text: " ",
			VoiceSettings: &elevenLabsVoiceSettings{
				Stability:       vs.Stability,
				SimilarityBoost: vs.SimilarityBoost,
				Speed:           vs.Speed,
			},
			GenerationConfig: &elevenLabsGeneration{ChunkLengthSchedule: []int{120, 160, 250, 290}},
		},
		{Text: text + " ", Flush: true},
		{Text: ""},
	}
	for _, msg := range messages {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, WrapError(providerElevenLabs, fmt.Errorf("send text: %w", err))
		}
	}

	e.logger.Debug("speech stream opened", "chars", len(text), "voice", e.config.VoiceID)

	s := &wsStream{
		conn:   conn,
		chunks: make(chan []byte, 32),
		done:   make(chan struct{}),
		format: AudioFormat{
			Encoding:   e.outputFormat(),
			SampleRate: SampleRateFromEncoding(e.outputFormat()),
			Channels:   1,
		},
		logger: e.logger,
	}
	go s.readLoop()
	return s, nil
}

// Close releases resources. Connections are per stream, so there is
// nothing to release here.
func (e *ElevenLabsWS) Close() error { return nil }

func (e *ElevenLabsWS) outputFormat() Encoding {
	switch e.config.OutputFormat {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return e.config.OutputFormat
	default:
		return EncodingPCM24
	}
}

// wsStream delivers audio decoded from WebSocket frames.
type wsStream struct {
	conn   *websocket.Conn
	chunks chan []byte
	done   chan struct{}
	format AudioFormat
	logger *slog.Logger

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (s *wsStream) readLoop() {
	defer close(s.chunks)

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					s.setErr(WrapError(providerElevenLabs, fmt.Errorf("read: %w", err)))
				}
			}
			return
		}

		var resp elevenLabsResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			s.logger.Warn("failed to parse response", "error", err)
			continue
		}
		if resp.Error != "" {
			s.setErr(&APIError{Provider: providerElevenLabs, Code: resp.Error, Message: resp.Message})
			return
		}

		if resp.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				s.logger.Warn("failed to decode audio", "error", err)
				continue
			}
			select {
			case s.chunks <- audio:
			case <-s.done:
				return
			}
		}
		if resp.IsFinal {
			return
		}
	}
}

func (s *wsStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Read blocks for the next chunk and returns nil once the final frame has
// been received.
func (s *wsStream) Read() ([]byte, error) {
	chunk, ok := <-s.chunks
	if ok {
		return chunk, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil, s.err
}

// Close aborts synthesis and closes the connection.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

// Format returns the audio format.
func (s *wsStream) Format() AudioFormat { return s.format }
