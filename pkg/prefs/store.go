// Package prefs persists the small amount of user state that survives a
// restart: whether onboarding is complete and whether speech is muted.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Screens the host can open on launch.
const (
	ScreenOnboarding = "onboarding"
	ScreenHome       = "home"
)

const currentVersion = 1

// Prefs is the persisted user state.
type Prefs struct {
	OnboardingCompleted bool `yaml:"onboarding_completed" json:"onboarding_completed"`
	Muted               bool `yaml:"muted" json:"muted"`
}

// storeData is the YAML layout of the prefs file.
type storeData struct {
	Version   int    `yaml:"version"`
	UpdatedAt string `yaml:"updated_at"`
	Prefs     `yaml:",inline"`
}

// Store reads and writes Prefs to a YAML file.
type Store struct {
	path  string
	mu    sync.RWMutex
	prefs Prefs
}

// Open loads the store at path. A missing file yields default prefs and is
// created on first save.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prefs: create directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("prefs: read %s: %w", path, err)
	}

	var stored storeData
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("prefs: parse %s: %w", path, err)
	}
	s.prefs = stored.Prefs
	return s, nil
}

// DefaultPath returns ~/.assistant/prefs.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("prefs: home directory: %w", err)
	}
	return filepath.Join(home, ".assistant", "prefs.yaml"), nil
}

// Path returns the file backing the store.
func (s *Store) Path() string { return s.path }

// Get returns the current prefs.
func (s *Store) Get() Prefs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// InitialScreen picks the screen to open on launch.
func (s *Store) InitialScreen() string {
	if s.Get().OnboardingCompleted {
		return ScreenHome
	}
	return ScreenOnboarding
}

// CompleteOnboarding records that onboarding has been finished.
func (s *Store) CompleteOnboarding() error {
	return s.Update(func(p *Prefs) { p.OnboardingCompleted = true })
}

// SetMuted records the mute setting.
func (s *Store) SetMuted(muted bool) error {
	return s.Update(func(p *Prefs) { p.Muted = muted })
}

// Update applies fn and writes the result. The in-memory value is only
// changed when the write succeeds.
func (s *Store) Update(fn func(*Prefs)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs
	fn(&next)
	if err := s.save(next); err != nil {
		return err
	}
	s.prefs = next
	return nil
}

// save writes p atomically through a temp file.
func (s *Store) save(p Prefs) error {
	data, err := yaml.Marshal(storeData{
		Version:   currentVersion,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Prefs:     p,
	})
	if err != nil {
		return fmt.Errorf("prefs: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("prefs: rename: %w", err)
	}
	return nil
}
