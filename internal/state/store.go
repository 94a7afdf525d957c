// Package state persists the mapping from local git branch names to remote
// database branch identifiers.
package state

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// BranchEntry is the canonical per-branch record.
type BranchEntry struct {
	BranchID string `json:"branch_id"`
}

// BranchState maps a git branch name to its remote branch identity.
type BranchState map[string]BranchEntry

// Store defines the interface for branch state persistence.
//
// Both operations are best-effort by design: losing the state file is
// recoverable (a later lookup treats the branch as new), while aborting the
// supervisor is not. Load returns an empty state on any read or parse
// failure, and Save logs and swallows write failures.
type Store interface {
	// Load reads the persisted branch state, upgrading any legacy-shaped
	// entries to the canonical form. It never fails.
	Load() BranchState

	// Save persists the full branch state, replacing prior contents. It
	// ensures the containing directory exists and never fails.
	Save(state BranchState)
}

// fileStore implements Store using a single JSON file guarded by an
// advisory file lock.
type fileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a file-backed Store at the given path.
func NewFileStore(path string) Store {
	return &fileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (s *fileStore) Load() BranchState {
	if err := s.lock.RLock(); err == nil {
		defer func() { _ = s.lock.Unlock() }()
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read branch state file", "path", s.path, "error", err)
		}
		return BranchState{}
	}

	// Decode loosely first so legacy-shaped entries can be upgraded.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("Branch state file is not valid JSON, starting empty", "path", s.path, "error", err)
		return BranchState{}
	}

	return upgrade(raw)
}

func (s *fileStore) Save(branchState BranchState) {
	if branchState == nil {
		branchState = BranchState{}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		slog.Error("Failed to create branch state directory", "dir", dir, "error", err)
		return
	}

	if err := s.lock.Lock(); err == nil {
		defer func() { _ = s.lock.Unlock() }()
	} else {
		slog.Warn("Failed to acquire branch state lock, writing anyway", "path", s.path, "error", err)
	}

	data, err := json.MarshalIndent(branchState, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal branch state", "error", err)
		return
	}

	// Write to a temporary file first for an atomic replace.
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		slog.Error("Failed to write branch state file", "path", tempPath, "error", err)
		return
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		_ = os.Remove(tempPath)
		slog.Error("Failed to replace branch state file", "path", s.path, "error", err)
	}
}

// upgrade converts a loosely-decoded state mapping into the canonical shape.
// Historic versions of the state file stored the raw connection descriptor
// list returned by the remote service; the branch id is recovered from the
// first element of such entries. Entries that cannot be interpreted are
// dropped with a warning. The upgrade is idempotent.
func upgrade(raw map[string]json.RawMessage) BranchState {
	branchState := make(BranchState, len(raw))
	for name, value := range raw {
		var entry BranchEntry
		if err := json.Unmarshal(value, &entry); err == nil && entry.BranchID != "" {
			branchState[name] = entry
			continue
		}

		var legacy []struct {
			Database string `json:"database"`
			BranchID string `json:"branch_id"`
		}
		if err := json.Unmarshal(value, &legacy); err == nil && len(legacy) > 0 && legacy[0].BranchID != "" {
			branchState[name] = BranchEntry{BranchID: legacy[0].BranchID}
			continue
		}

		slog.Warn("Dropping unrecognized branch state entry", "branch", name)
	}
	return branchState
}
