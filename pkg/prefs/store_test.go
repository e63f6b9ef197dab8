package prefs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.Get(); got.OnboardingCompleted || got.Muted {
		t.Errorf("defaults = %+v", got)
	}
	if s.InitialScreen() != ScreenOnboarding {
		t.Errorf("initial screen = %q", s.InitialScreen())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not be created until first save")
	}
}

func TestCompleteOnboardingPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s, _ := Open(path)

	if err := s.CompleteOnboarding(); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMuted(true); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"onboarding_completed: true", "muted: true", "version: 1"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("file missing %q:\n%s", want, data)
		}
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := reopened.Get(); !got.OnboardingCompleted || !got.Muted {
		t.Errorf("reloaded = %+v", got)
	}
	if reopened.InitialScreen() != ScreenHome {
		t.Errorf("initial screen = %q", reopened.InitialScreen())
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	os.WriteFile(path, []byte("muted: [unterminated"), 0o644)

	if _, err := Open(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestUpdateFailureKeepsState(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "prefs.yaml"))
	// Remove the directory so the write fails.
	os.RemoveAll(dir)

	if err := s.SetMuted(true); err == nil {
		t.Fatal("expected write error")
	}
	if s.Get().Muted {
		t.Error("failed write must not change prefs")
	}
}
