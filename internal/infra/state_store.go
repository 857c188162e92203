package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

const stateFileName = "agent.json"

// FileStateStore implements domain.StateStore with a JSON file in the data
// directory. Writes are serialized with a file lock and replaced atomically.
type FileStateStore struct {
	path string
}

// NewFileStateStore creates a state store in dataDir.
func NewFileStateStore(dataDir string) *FileStateStore {
	return &FileStateStore{path: filepath.Join(dataDir, stateFileName)}
}

// NewFileStateStoreWithPath creates a state store at a specific path.
func NewFileStateStoreWithPath(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Path returns the state file path.
func (s *FileStateStore) Path() string {
	return s.path
}

// Save replaces the stored state.
func (s *FileStateStore) Save(state domain.AgentState) error {
	return s.withLock(func() error {
		return s.atomicWrite(&state)
	})
}

// Load returns the stored state, or nil when no agent has registered.
func (s *FileStateStore) Load() (*domain.AgentState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse agent state: %w", err)
	}
	return &state, nil
}

// Touch updates the last successful heartbeat time.
func (s *FileStateStore) Touch(at time.Time) error {
	return s.withLock(func() error {
		state, err := s.Load()
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("no agent state at %s", s.path)
		}
		state.LastHeartbeat = at
		return s.atomicWrite(state)
	})
}

// Clear removes the state file.
func (s *FileStateStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStateStore) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	return withFileLock(s.path+".lock", fn)
}

// atomicWrite writes state to file atomically (write + rename).
func (s *FileStateStore) atomicWrite(state *domain.AgentState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// unique per process so two writers never share a temp file
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// IsRunning reports whether a process with pid exists.
func IsRunning(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}

// Ensure FileStateStore implements domain.StateStore.
var _ domain.StateStore = (*FileStateStore)(nil)
