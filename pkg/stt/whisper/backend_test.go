package whisper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/teslashibe/go-assistant/pkg/recorder"
	"github.com/teslashibe/go-assistant/pkg/stt"
)

func writeArtifact(t *testing.T) recorder.Artifact {
	t.Helper()
	data, _ := recorder.EncodeWAV([]int16{1, 2, 3, 4}, 16000, 1)
	path := filepath.Join(t.TempDir(), "rec.wav")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return recorder.Artifact{URI: path, ByteSize: 8, SampleRate: 16000, Channels: 1}
}

func TestTranscribe_Multipart(t *testing.T) {
	art := writeArtifact(t)
	wav, _ := os.ReadFile(art.URI)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("model = %q", r.FormValue("model"))
		}
		if r.FormValue("language") != "en" {
			t.Errorf("language = %q", r.FormValue("language"))
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile: %v", err)
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if len(body) != len(wav) {
			t.Errorf("uploaded %d bytes, want %d", len(body), len(wav))
		}
		if hdr.Filename != "rec.wav" {
			t.Errorf("filename = %q", hdr.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello"}`))
	}))
	defer ts.Close()

	b := New(Config{Token: "secret", BaseURL: ts.URL + "/v1"})
	text, err := b.Transcribe(context.Background(), art, stt.Options{LanguageCode: "en-US"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribe_StatusError(t *testing.T) {
	for _, code := range []int{400, 401, 403, 429, 503} {
		t.Run(http.StatusText(code), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				w.Write([]byte(`{"error":{"message":"denied","type":"invalid_request_error"}}`))
			}))
			defer ts.Close()

			b := New(Config{Token: "secret", BaseURL: ts.URL + "/v1"})
			_, err := b.Transcribe(context.Background(), writeArtifact(t), stt.Options{})

			var se *stt.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *stt.StatusError", err)
			}
			if se.StatusCode != code {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, code)
			}
		})
	}
}

func TestBaseLanguage(t *testing.T) {
	tests := map[string]string{"en-US": "en", "pt_BR": "pt", "de": "de", "": ""}
	for in, want := range tests {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestName(t *testing.T) {
	if New(Config{}).Name() != "whisper" {
		t.Error("unexpected name")
	}
}
