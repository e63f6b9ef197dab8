package audioio

import (
	"math"
	"sync"
)

// Meter tuning. Levels are computed every hop over the most recent frame.
const (
	MeterFrameMS = 20
	MeterHopMS   = 10

	// Voice activity thresholds (dBFS) with hysteresis.
	VADOnThreshold  = -35.0
	VADOffThreshold = -45.0
	VADAttackMS     = 40
	VADReleaseMS    = 250

	// Loudness window mapped onto 0..1.
	LevelDBLow  = -46.0
	LevelDBHigh = -18.0
	LevelGamma  = 0.9

	envFollowGain = 0.65
)

var (
	vadAttackHops  = maxInt(1, VADAttackMS/MeterHopMS)
	vadReleaseHops = maxInt(1, VADReleaseMS/MeterHopMS)
)

// Meter tracks loudness and voice activity of a PCM16 stream. It drives the
// microphone level indicator while recording and the speaking indicator
// during playback.
type Meter struct {
	mu sync.Mutex

	hopSize   int
	frameSize int
	window    []float64

	vadOn    bool
	vadAbove int
	vadBelow int

	env   float64
	level float64
	db    float64
}

// NewMeter creates a meter for audio at the given sample rate.
func NewMeter(sampleRate int) *Meter {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Meter{
		hopSize:   sampleRate * MeterHopMS / 1000,
		frameSize: sampleRate * MeterFrameMS / 1000,
		db:        -100,
	}
}

// Reset clears all state.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = m.window[:0]
	m.vadOn = false
	m.vadAbove = 0
	m.vadBelow = 0
	m.env = 0
	m.level = 0
	m.db = -100
}

// Feed consumes interleaved samples. Multi-channel input is analysed as-is,
// which is close enough for a level display.
func (m *Meter) Feed(samples []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range samples {
		m.window = append(m.window, float64(s)/32768.0)
		if len(m.window) >= m.frameSize+m.hopSize {
			m.hop()
		}
	}
}

// hop analyses the newest frame and drops one hop of history.
func (m *Meter) hop() {
	frame := m.window[len(m.window)-m.frameSize:]
	m.db = rmsDBFS(frame)

	switch {
	case m.db >= VADOnThreshold:
		m.vadAbove++
		m.vadBelow = 0
		if !m.vadOn && m.vadAbove >= vadAttackHops {
			m.vadOn = true
		}
	case m.db <= VADOffThreshold:
		m.vadBelow++
		m.vadAbove = 0
		if m.vadOn && m.vadBelow >= vadReleaseHops {
			m.vadOn = false
		}
	}

	target := 0.0
	if m.vadOn {
		target = 1.0
	}
	m.env = clamp(m.env+envFollowGain*(target-m.env), 0, 1)
	m.level = loudness(m.db) * m.env

	m.window = append(m.window[:0], m.window[m.hopSize:]...)
}

// Level returns the smoothed loudness in 0..1, zero when no voice is active.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Voiced reports whether voice activity is currently detected.
func (m *Meter) Voiced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vadOn
}

// DBFS returns the level of the last analysed frame.
func (m *Meter) DBFS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

func rmsDBFS(samples []float64) float64 {
	if len(samples) == 0 {
		return -100.0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(len(samples)) + 1e-12)
	return 20.0 * math.Log10(rms+1e-12)
}

func loudness(db float64) float64 {
	t := clamp((db-LevelDBLow)/(LevelDBHigh-LevelDBLow), 0, 1)
	return math.Pow(t, LevelGamma)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
