// Package paths resolves repository-relative locations for ctxmeter state.
package paths

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// Directory layout under the repository root. ContextStateDir is the marker
// namespace: one JSON record per session lives inside it.
const (
	CtxmeterDir        = ".ctxmeter"
	ContextStateDir    = ".ctxmeter/context"
	JournalDir         = ".ctxmeter/journal"
	LogsDir            = ".ctxmeter/logs"
	TmpDir             = ".ctxmeter/tmp"
	CurrentSessionFile = ".ctxmeter/tmp/current_session"
)

// Settings file names inside CtxmeterDir.
const (
	SettingsFileName      = "settings.json"
	SettingsLocalFileName = "settings.local.json"
)

// repoRootCache caches the repository root to avoid repeated git commands.
// The cache is keyed by the current working directory to handle directory changes.
var (
	repoRootMu       sync.RWMutex
	repoRootCache    string
	repoRootCacheDir string
)

// RepoRoot returns the git repository root directory.
// Uses 'git rev-parse --show-toplevel' which works from any subdirectory.
// The result is cached per working directory.
// Returns an error if not inside a git repository.
func RepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	repoRootMu.RLock()
	if repoRootCache != "" && repoRootCacheDir == cwd {
		cached := repoRootCache
		repoRootMu.RUnlock()
		return cached, nil
	}
	repoRootMu.RUnlock()

	root, err := gitToplevel("")
	if err != nil {
		return "", err
	}

	repoRootMu.Lock()
	repoRootCache = root
	repoRootCacheDir = cwd
	repoRootMu.Unlock()

	return root, nil
}

// RepoRootAt resolves the repository root for an explicit directory instead of
// the process working directory. Used by the statusline, which receives the
// workspace directory in its input rather than inheriting it. Not cached.
func RepoRootAt(dir string) (string, error) {
	return gitToplevel(dir)
}

func gitToplevel(dir string) (string, error) {
	cmd := exec.CommandContext(context.Background(), "git", "rev-parse", "--show-toplevel")
	if dir != "" {
		cmd.Dir = dir
	}
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get git repository root: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// ClearRepoRootCache clears the cached repository root.
// This is primarily useful for testing when changing directories.
func ClearRepoRootCache() {
	repoRootMu.Lock()
	repoRootCache = ""
	repoRootCacheDir = ""
	repoRootMu.Unlock()
}

// RepoRootOr returns the git repository root directory, or the fallback
// if not inside a git repository.
func RepoRootOr(fallback string) string {
	root, err := RepoRoot()
	if err != nil {
		return fallback
	}
	return root
}

// AbsPath returns the absolute path for a relative path within the repository.
// If the path is already absolute, it is returned as-is.
func AbsPath(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return relPath, nil
	}

	root, err := RepoRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, relPath), nil
}

// IsInfrastructurePath returns true if the path is part of ctxmeter's own
// state (inside the .ctxmeter directory).
func IsInfrastructurePath(path string) bool {
	return path == CtxmeterDir || strings.HasPrefix(path, CtxmeterDir+"/")
}

// nonAlphanumericRegex matches any non-alphanumeric character
var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizePathForClaude converts a path to Claude's project directory format.
// Claude replaces any non-alphanumeric character with a dash.
func SanitizePathForClaude(path string) string {
	return nonAlphanumericRegex.ReplaceAllString(path, "-")
}

// GetClaudeProjectDir returns the directory where Claude stores session
// transcripts for the given repository path.
//
// In test environments, set CTXMETER_TEST_CLAUDE_PROJECT_DIR to override the
// default location.
func GetClaudeProjectDir(repoPath string) (string, error) {
	override := os.Getenv("CTXMETER_TEST_CLAUDE_PROJECT_DIR")
	if override != "" {
		return override, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	projectDir := SanitizePathForClaude(repoPath)
	return filepath.Join(homeDir, ".claude", "projects", projectDir), nil
}

// ExtractSessionIDFromTranscriptPath attempts to extract a session ID from a
// transcript path of the form .../<project>/<id>.jsonl. Returns empty string
// if the path doesn't look like a transcript.
func ExtractSessionIDFromTranscriptPath(transcriptPath string) string {
	base := filepath.Base(filepath.ToSlash(transcriptPath))
	if strings.HasSuffix(base, ".jsonl") {
		return strings.TrimSuffix(base, ".jsonl")
	}
	return ""
}

// ReadCurrentSession reads the current session ID from the tmp state file.
// Returns an empty string (not an error) if the file doesn't exist.
// Works correctly from any subdirectory within the repository.
func ReadCurrentSession() (string, error) {
	sessionFile, err := AbsPath(CurrentSessionFile)
	if err != nil {
		// Fallback to relative path if not in a git repo
		sessionFile = CurrentSessionFile
	}
	data, err := os.ReadFile(sessionFile) //nolint:gosec // path is from AbsPath or constant
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteCurrentSession writes the session ID to the tmp state file, creating
// the directory if needed. Works from any subdirectory within the repository.
func WriteCurrentSession(sessionID string) error {
	tmpDirAbs, err := AbsPath(TmpDir)
	if err != nil {
		tmpDirAbs = TmpDir
	}
	sessionFileAbs, err := AbsPath(CurrentSessionFile)
	if err != nil {
		sessionFileAbs = CurrentSessionFile
	}

	if err := os.MkdirAll(tmpDirAbs, 0o750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", TmpDir, err)
	}

	if err := os.WriteFile(sessionFileAbs, []byte(sessionID), 0o600); err != nil {
		return fmt.Errorf("failed to write current session file: %w", err)
	}

	return nil
}
