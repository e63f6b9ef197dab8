package recorder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// wavHeader is the canonical 44-byte PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WAVHeaderSize is the size of the header written by EncodeWAV.
const WAVHeaderSize = 44

// WAVInfo describes a decoded WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	DataSize   int64
}

// EncodeWAV encodes interleaved PCM16 samples as a WAV file. An empty sample
// slice yields a header-only file.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", channels)
	}

	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(channels * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*2))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	if len(samples) > 0 {
		if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
			return nil, fmt.Errorf("write WAV data: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeWAV parses a 16-bit PCM WAV file.
func DecodeWAV(data []byte) ([]int16, WAVInfo, error) {
	if len(data) < WAVHeaderSize {
		return nil, WAVInfo{}, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	var h wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, WAVInfo{}, fmt.Errorf("read WAV header: %w", err)
	}
	switch {
	case string(h.ChunkID[:]) != "RIFF":
		return nil, WAVInfo{}, fmt.Errorf("invalid WAV file: missing RIFF header")
	case string(h.Format[:]) != "WAVE":
		return nil, WAVInfo{}, fmt.Errorf("invalid WAV file: missing WAVE format")
	case string(h.Subchunk2ID[:]) != "data":
		return nil, WAVInfo{}, fmt.Errorf("invalid WAV file: missing data chunk")
	case h.AudioFormat != 1 || h.BitsPerSample != 16:
		return nil, WAVInfo{}, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", h.AudioFormat, h.BitsPerSample)
	}

	size := int(h.Subchunk2Size)
	if size > len(data)-WAVHeaderSize {
		size = len(data) - WAVHeaderSize
	}
	samples := make([]int16, size/2)
	body := data[WAVHeaderSize : WAVHeaderSize+size]
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(body[i*2:]))
	}

	return samples, WAVInfo{
		SampleRate: int(h.SampleRate),
		Channels:   int(h.NumChannels),
		DataSize:   int64(len(samples) * 2),
	}, nil
}

// ReadArtifact builds an Artifact from an existing WAV file.
func ReadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	_, info, err := DecodeWAV(data)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		URI:        path,
		ByteSize:   info.DataSize,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, nil
}
