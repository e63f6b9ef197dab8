package audioio

import "testing"

func TestResample(t *testing.T) {
	tests := []struct {
		name     string
		in       int
		from, to int
		wantLen  int
	}{
		{"same rate", 5, 24000, 24000, 5},
		{"downsample 2:1", 960, 48000, 24000, 480},
		{"upsample 2:3", 320, 16000, 24000, 480},
		{"tts to capture rate", 2400, 24000, 16000, 1600},
		{"empty", 0, 24000, 48000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := make([]int16, tt.in)
			for i := range samples {
				samples[i] = int16(i)
			}
			got := Resample(samples, tt.from, tt.to)
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestResample_Interpolates(t *testing.T) {
	got := Resample([]int16{0, 100}, 1, 2)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[1] != 50 {
		t.Errorf("got[1] = %d, want 50", got[1])
	}
	if got[3] != 100 {
		t.Errorf("got[3] = %d, want clamp to last sample 100", got[3])
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := SamplesToBytes(samples)
	if len(data) != 10 {
		t.Fatalf("len = %d, want 10", len(data))
	}
	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("expected little-endian encoding, got % x", data[2:4])
	}
	back := BytesToSamples(data)
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, back[i], samples[i])
		}
	}
}

func TestConvert(t *testing.T) {
	stereo := []int16{100, 300, 100, 300}
	mono := Convert(stereo, 16000, 2, 16000, 1)
	if len(mono) != 2 || mono[0] != 200 {
		t.Errorf("stereo->mono = %v, want [200 200]", mono)
	}

	up := Convert([]int16{5, 5}, 16000, 1, 16000, 2)
	if len(up) != 4 {
		t.Errorf("mono->stereo len = %d, want 4", len(up))
	}
}

func TestPeak(t *testing.T) {
	if p := Peak(nil); p != 0 {
		t.Errorf("Peak(nil) = %d", p)
	}
	if p := Peak([]int16{3, -32768, 10}); p != 32768 {
		t.Errorf("Peak = %d, want 32768", p)
	}
}
