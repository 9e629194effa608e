package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoEvidence is returned when no evidence is recorded for a gate.
var ErrNoEvidence = errors.New("no gate evidence recorded")

// Evidence is a persisted gate result, written after a gate run so the
// artifact validator can later confirm the gate passed on this branch.
type Evidence struct {
	Gate       string    `json:"gate"`
	Passed     bool      `json:"passed"`
	Summary    string    `json:"summary"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EvidenceStore persists gate results under
// <stateDir>/evidence/<branch>/<gate>.json.
type EvidenceStore struct {
	stateDir string
}

// NewEvidenceStore creates a store rooted at the phased state dir.
func NewEvidenceStore(stateDir string) *EvidenceStore {
	return &EvidenceStore{stateDir: stateDir}
}

func (s *EvidenceStore) path(branch, gateName string) string {
	// Branch names contain slashes; flatten for the directory name.
	return filepath.Join(s.stateDir, "evidence", sanitizeBranch(branch), gateName+".json")
}

// Record writes the result for branch atomically.
func (s *EvidenceStore) Record(branch string, result Result) error {
	ev := Evidence{
		Gate:       result.Gate,
		Passed:     result.Passed,
		Summary:    result.Summary,
		RecordedAt: time.Now().UTC(),
	}
	dir := filepath.Dir(s.path(branch, result.Gate))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create evidence dir: %w", err)
	}
	data, err := json.MarshalIndent(ev, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}
	path := s.path(branch, result.Gate)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write evidence: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace evidence: %w", err)
	}
	return nil
}

// Lookup reads the recorded evidence for a gate on branch.
// A missing or unreadable file is ErrNoEvidence: absence of proof is
// not proof of passing.
func (s *EvidenceStore) Lookup(branch, gateName string) (*Evidence, error) {
	data, err := os.ReadFile(s.path(branch, gateName))
	if err != nil {
		return nil, fmt.Errorf("%w: gate %q on branch %q", ErrNoEvidence, gateName, branch)
	}
	var ev Evidence
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: gate %q on branch %q: unreadable record", ErrNoEvidence, gateName, branch)
	}
	return &ev, nil
}

func sanitizeBranch(branch string) string {
	out := make([]rune, 0, len(branch))
	for _, r := range branch {
		switch r {
		case '/', '\\', ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
