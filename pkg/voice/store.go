package voice

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store persists the selected voice model in a text file.
type Store struct {
	path     string
	fallback string
	mu       sync.Mutex
}

// NewStore returns a Store backed by path. fallback is returned by Current
// while nothing has been saved; empty means DefaultModel.
func NewStore(path, fallback string) *Store {
	if fallback == "" {
		fallback = DefaultModel
	}
	return &Store{path: path, fallback: fallback}
}

// Current returns the saved model, or the fallback if the file is missing,
// empty or unreadable.
func (s *Store) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.fallback
	}
	if model := strings.TrimSpace(string(data)); model != "" {
		return model
	}
	return s.fallback
}

// Set saves model as the current selection.
func (s *Store) Set(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("voice: empty model")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("voice: create preference dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(model+"\n"), 0o644); err != nil {
		return fmt.Errorf("voice: write preference: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("voice: write preference: %w", err)
	}
	return nil
}

// Saved reports whether a selection has been written.
func (s *Store) Saved() bool {
	_, err := os.Stat(s.path)
	return !errors.Is(err, fs.ErrNotExist)
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }
