// Package journal persists per-session usage history.
//
// Each tracked prompt appends one JSONL record to
// .ctxmeter/journal/<session-id>.jsonl. The journal is the raw material
// for `ctxmeter sessions show`: it answers "what was I doing when the
// context filled up" without re-reading agent transcripts.
package journal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/sessionkey"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/validation"
	"github.com/ctxmeter/cli/redact"
)

// maxPromptLen caps the stored prompt excerpt, in runes.
const maxPromptLen = 500

// shortHashLen matches git's default abbreviated hash length.
const shortHashLen = 7

// Entry is one usage sample. Timestamp is unix milliseconds.
type Entry struct {
	Timestamp  int64  `json:"ts"`
	SessionID  string `json:"session_id"`
	Total      int    `json:"total"`
	Percentage int    `json:"percentage"`
	ResetLayer string `json:"reset_layer,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
	Branch     string `json:"branch,omitempty"`
	Head       string `json:"head,omitempty"`
}

// Store reads and appends per-session journal files.
type Store struct {
	dir string
}

// NewStore creates a journal store rooted at the repository's journal
// directory.
func NewStore() (*Store, error) {
	root, err := paths.RepoRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to locate repo root: %w", err)
	}
	return &Store{
		dir: filepath.Join(root, paths.JournalDir),
	}, nil
}

// NewStoreWithDir creates a journal store with a custom directory.
// Used in tests.
func NewStoreWithDir(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory this store reads and writes.
func (s *Store) Dir() string {
	return s.dir
}

// Append writes one entry to the session's journal file. The prompt is
// redacted and truncated before it touches disk; a zero Timestamp is
// stamped with the current time.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	_ = ctx // Reserved for future use

	entry.SessionID = sessionkey.Normalize(entry.SessionID)
	if err := validation.ValidateSessionID(entry.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}

	// Redact before truncating: a secret cut in half can slip past the
	// pattern rules.
	entry.Prompt = truncatePrompt(redact.String(entry.Prompt))

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	// Second pass over the whole record covers the remaining string
	// fields; identifier fields are skipped.
	data, err = redact.JSONLine(data)
	if err != nil {
		return fmt.Errorf("failed to redact journal entry: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	f, err := os.OpenFile(s.journalFilePath(entry.SessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is derived from validated sessionID
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Read returns all entries for a session in append order. A missing
// journal yields (nil, nil); corrupt lines are skipped.
func (s *Store) Read(ctx context.Context, sessionID string) ([]Entry, error) {
	_ = ctx // Reserved for future use

	sessionID = sessionkey.Normalize(sessionID)
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}

	data, err := os.ReadFile(s.journalFilePath(sessionID)) //nolint:gosec // path is derived from validated sessionID
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal file: %w", err)
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // Skip corrupt lines
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal file: %w", err)
	}
	return entries, nil
}

// Delete removes a session's journal file. Deleting a missing journal
// is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_ = ctx // Reserved for future use

	sessionID = sessionkey.Normalize(sessionID)
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}

	if err := os.Remove(s.journalFilePath(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete journal file: %w", err)
	}
	return nil
}

// RemoveAll deletes the entire journal directory.
func (s *Store) RemoveAll(ctx context.Context) error {
	_ = ctx // Reserved for future use

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to remove journal directory: %w", err)
	}
	return nil
}

func (s *Store) journalFilePath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// truncatePrompt caps a prompt excerpt at maxPromptLen runes.
func truncatePrompt(prompt string) string {
	runes := []rune(prompt)
	if len(runes) <= maxPromptLen {
		return prompt
	}
	return string(runes[:maxPromptLen]) + "..."
}

// GitInfo returns the current branch name and abbreviated HEAD hash for
// the repository containing dir. Both are empty when dir is not inside a
// git repository or the repository has no commits; a detached HEAD
// yields an empty branch with the hash intact.
func GitInfo(dir string) (branch, head string) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", ""
	}
	ref, err := repo.Head()
	if err != nil {
		return "", ""
	}
	if ref.Name().IsBranch() {
		branch = ref.Name().Short()
	}
	return branch, ref.Hash().String()[:shortHashLen]
}
