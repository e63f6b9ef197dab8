// Package tts converts assistant replies into PCM audio.
//
// Providers stream raw PCM16 so playback can begin before synthesis
// finishes:
//
//	provider, _ := tts.NewOpenAI(
//	    tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    tts.WithSpeed(0.9),
//	)
//	stream, _ := provider.Stream(ctx, "Hello world")
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Read()
//	    if chunk == nil || err != nil { break }
//	    // play chunk
//	}
package tts

import "context"

// Provider defines the TTS provider interface.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Stream converts text to audio. Chunks become available as they are
	// synthesized; closing the stream aborts synthesis.
	Stream(ctx context.Context, text string) (AudioStream, error)

	// Close releases any resources held by the provider.
	Close() error
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next audio chunk, or nil when the stream is complete.
	Read() ([]byte, error)

	// Close stops the stream and releases resources. Safe to call twice.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioFormat describes raw PCM16 audio.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
}

// Encoding represents the PCM output formats providers can produce.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"
)

// VoiceSettings controls voice characteristics for providers that support it.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0). ElevenLabs only.
	Stability float64

	// SimilarityBoost controls closeness to the original voice (0.0-1.0).
	// ElevenLabs only.
	SimilarityBoost float64

	// Speed is the speaking rate multiplier; 1.0 is normal.
	Speed float64

	// Pitch is the pitch multiplier; 1.0 is normal. Providers without pitch
	// control ignore it.
	Pitch float64
}

// DefaultVoiceSettings returns a slightly slowed, natural-pitch voice.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Speed:           0.9,
		Pitch:           1.0,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM44:
		return 44100
	default:
		return 24000
	}
}

// bufferStream serves a byte slice as an AudioStream in fixed-size chunks.
type bufferStream struct {
	data      []byte
	offset    int
	chunkSize int
	format    AudioFormat
}

func newBufferStream(data []byte, format AudioFormat, chunkSize int) *bufferStream {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	return &bufferStream{data: data, format: format, chunkSize: chunkSize}
}

// Read returns the next chunk.
func (s *bufferStream) Read() ([]byte, error) {
	if s.offset >= len(s.data) {
		return nil, nil
	}
	end := s.offset + s.chunkSize
	if end > len(s.data) {
		end = len(s.data)
	}
	chunk := s.data[s.offset:end]
	s.offset = end
	return chunk, nil
}

// Close marks the stream exhausted.
func (s *bufferStream) Close() error {
	s.offset = len(s.data)
	return nil
}

// Format returns the audio format.
func (s *bufferStream) Format() AudioFormat { return s.format }
