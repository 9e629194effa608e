package phase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// stateFileName is the single per-workspace state file, keyed
// internally by branch name.
const stateFileName = "phase_state.json"

// stateFile is the on-disk shape of the store.
type stateFile struct {
	Version  int                    `json:"version"`
	Branches map[string]*PhaseState `json:"branches"`
}

// Store persists branch phase states as one JSON file per workspace.
//
// Writes are atomic (temp file, then rename), so an interrupted write
// leaves the previous state intact. An unparsable file degrades to an
// empty store with a logged warning; it never aborts the caller.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
}

// NewStore creates a store rooted at dir (created on first save).
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger}
}

func (s *Store) path() string {
	return filepath.Join(s.dir, stateFileName)
}

// load reads the state file. Corruption degrades to an empty map.
func (s *Store) load() *stateFile {
	sf := &stateFile{Version: 1, Branches: map[string]*PhaseState{}}

	data, err := os.ReadFile(s.path())
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read phase state file, starting fresh",
				zap.String("path", s.path()), zap.Error(err))
		}
		return sf
	}

	if err := json.Unmarshal(data, sf); err != nil {
		s.logger.Warn("phase state file is corrupt, treating all branches as phase 0",
			zap.String("path", s.path()), zap.Error(err))
		return &stateFile{Version: 1, Branches: map[string]*PhaseState{}}
	}
	if sf.Branches == nil {
		sf.Branches = map[string]*PhaseState{}
	}
	return sf
}

// save writes the state file atomically. Output is deterministic:
// identical state marshals to byte-identical content.
func (s *Store) save(sf *stateFile) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal phase state: %w", err)
	}

	tmpPath := s.path() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write phase state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace phase state: %w", err)
	}
	return nil
}

// Get returns a copy of the persisted state for branch, or a fresh
// phase-0 state if the branch has never been seen.
func (s *Store) Get(branch string) *PhaseState {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf := s.load()
	if state, ok := sf.Branches[branch]; ok {
		return state.Clone()
	}
	return NewPhaseState(branch)
}

// Put persists state under its branch key.
func (s *Store) Put(state *PhaseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf := s.load()
	sf.Branches[state.Branch] = state
	return s.save(sf)
}

// Branches lists known branch names in sorted order.
func (s *Store) Branches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sf := s.load()
	names := make([]string, 0, len(sf.Branches))
	for name := range sf.Branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
