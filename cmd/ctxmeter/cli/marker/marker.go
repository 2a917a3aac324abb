// Package marker persists per-session context tracking state.
//
// Each session gets one JSON file under .ctxmeter/context/ in the repo root.
// The file records the token baseline and the last observed total so the
// tracker can detect context resets across separate hook invocations.
package marker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/jsonutil"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/validation"
)

// Marker is the persisted tracking state for one session.
// Stored in .ctxmeter/context/<session-id>.json
type Marker struct {
	// SessionID is the session this marker belongs to
	SessionID string `json:"session_id"`

	// Trigger records what wrote this marker: "session_start_clear" or
	// "session_start_compact" when a reset event was observed, or
	// "new_session" once tracking has recorded a baseline.
	Trigger string `json:"trigger"`

	// BaselineRecorded is false while the marker only flags a pending reset,
	// true once the tracker has measured a baseline.
	BaselineRecorded bool `json:"baseline_recorded"`

	// Baseline is the token total observed at the start of the current
	// tracking run. Usage is measured relative to this.
	Baseline int `json:"baseline"`

	// LastTokenTotal is the token total from the most recent observation,
	// used to detect sudden drops.
	LastTokenTotal int `json:"last_token_total"`

	// Timestamp is when the marker was written, in milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`
}

// Store provides operations for managing per-session marker files.
//
// Corrupt or truncated marker files are treated as absent rather than
// errors: the tracker recovers by starting a fresh baseline, which is
// always safe. Only real I/O failures (permissions, disk) surface.
type Store struct {
	// dir is the directory where marker files are stored
	dir string
}

// NewStore creates a marker store rooted at the current repo's
// .ctxmeter/context/ directory.
func NewStore() (*Store, error) {
	root, err := paths.RepoRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to locate repo root: %w", err)
	}
	return &Store{
		dir: filepath.Join(root, paths.ContextStateDir),
	}, nil
}

// NewStoreWithDir creates a marker store with a custom directory.
// This is useful for testing.
func NewStoreWithDir(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory this store reads and writes.
func (s *Store) Dir() string {
	return s.dir
}

// Load loads the marker for the given session ID.
// Returns (nil, nil) when no usable marker exists: file missing, empty,
// or unparseable. The caller treats all three the same way.
func (s *Store) Load(ctx context.Context, sessionID string) (*Marker, error) {
	_ = ctx // Reserved for future use

	// Validate session ID to prevent path traversal
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	markerFile := s.markerFilePath(sessionID)

	data, err := os.ReadFile(markerFile) //nolint:gosec // markerFile is derived from validated sessionID
	if os.IsNotExist(err) {
		return nil, nil //nolint:nilnil // nil,nil indicates marker not found (expected case)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read marker file: %w", err)
	}

	if len(data) == 0 {
		return nil, nil //nolint:nilnil // empty file treated as no marker
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		// Corrupt marker: recover by treating it as absent. The next Save
		// overwrites it with valid state.
		return nil, nil //nolint:nilnil
	}
	return &m, nil
}

// Save saves the marker atomically, fully replacing any previous file.
func (s *Store) Save(ctx context.Context, m *Marker) error {
	_ = ctx // Reserved for future use

	// Validate session ID to prevent path traversal
	if err := validation.ValidateSessionID(m.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}

	markerFile := s.markerFilePath(m.SessionID)

	// Atomic write: write to temp file, then rename
	tmpFile := markerFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write marker file: %w", err)
	}
	if err := os.Rename(tmpFile, markerFile); err != nil {
		return fmt.Errorf("failed to rename marker file: %w", err)
	}
	return nil
}

// Delete removes the marker file for the given session ID.
// Deleting a marker that doesn't exist is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_ = ctx // Reserved for future use

	// Validate session ID to prevent path traversal
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	markerFile := s.markerFilePath(sessionID)

	if err := os.Remove(markerFile); err != nil {
		if os.IsNotExist(err) {
			return nil // Already gone, not an error
		}
		return fmt.Errorf("failed to remove marker file: %w", err)
	}
	return nil
}

// RemoveAll removes the entire marker directory.
// This is used by reset/clean to wipe all tracking state.
func (s *Store) RemoveAll(ctx context.Context) error {
	_ = ctx // Reserved for future use

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove marker directory: %w", err)
	}
	return nil
}

// List returns all markers in the store.
// Corrupt files and leftover temp files are skipped.
func (s *Store) List(ctx context.Context) ([]*Marker, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read marker directory: %w", err)
	}

	var markers []*Marker
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".tmp") {
			continue // Skip temp files
		}

		sessionID := strings.TrimSuffix(entry.Name(), ".json")
		m, err := s.Load(ctx, sessionID)
		if err != nil {
			continue // Skip files with unreadable contents
		}
		if m == nil {
			continue
		}

		markers = append(markers, m)
	}
	return markers, nil
}

// markerFilePath returns the path to a session's marker file.
func (s *Store) markerFilePath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}
