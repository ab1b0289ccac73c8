package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// Dir is the project-local metadata directory.
	Dir = ".forge"

	stateFileName = "workflow.json"
)

// ErrNoWorkflow means there is no usable state file.
var ErrNoWorkflow = errors.New("no active workflow")

// Store persists a State to a single JSON file.
type Store struct {
	path string
}

// NewStore creates a store for the state file inside projectDir/.forge.
func NewStore(projectDir string) *Store {
	return &Store{path: filepath.Join(projectDir, Dir, stateFileName)}
}

// Path returns the state file path.
func (s *Store) Path() string {
	return s.path
}

// Save atomically writes the state: the snapshot goes to a temp file that is
// then renamed over the state file, so readers never see a partial write.
func (s *Store) Save(st *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads the state file. A missing, unreadable or corrupt file yields
// ErrNoWorkflow; the wrapped message says which.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoWorkflow
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrNoWorkflow, s.path, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: corrupt state file %s: %v", ErrNoWorkflow, s.path, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid state file %s: %v", ErrNoWorkflow, s.path, err)
	}
	return &st, nil
}

// Exists reports whether a usable state file is present.
func (s *Store) Exists() bool {
	_, err := s.Load()
	return err == nil
}

// Delete removes the state file. Returns nil if it doesn't exist.
func (s *Store) Delete() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}
