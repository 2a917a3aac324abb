//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/journal"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/jsonutil"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/marker"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// testBinaryPath holds the path to the CLI binary built once in TestMain.
// All tests share this binary to avoid repeated builds.
var testBinaryPath string

// getTestBinary returns the path to the shared test binary.
// It panics if TestMain hasn't run (testBinaryPath is empty).
func getTestBinary() string {
	if testBinaryPath == "" {
		panic("testBinaryPath not set - TestMain must run before tests")
	}
	return testBinaryPath
}

// TestEnv manages an isolated test environment for integration tests.
type TestEnv struct {
	T       *testing.T
	RepoDir string

	// ExtraEnv is appended to the environment of every CLI subprocess.
	ExtraEnv []string

	SessionCounter int
}

// NewTestEnv creates a new isolated test environment.
// Note: Does NOT change working directory and does NOT use t.Setenv, so
// tests can run in parallel. CLI subprocesses run with cmd.Dir set to
// RepoDir and receive extra variables via cmd.Env.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	// Resolve symlinks on macOS where /var -> /private/var.
	// This keeps the CLI subprocess and the test on consistent paths.
	repoDir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(repoDir); err == nil {
		repoDir = resolved
	}

	return &TestEnv{
		T:       t,
		RepoDir: repoDir,
	}
}

// NewRepoEnv creates an environment with an initialized git repo and
// ctxmeter set up with default settings.
func NewRepoEnv(t *testing.T) *TestEnv {
	t.Helper()

	env := NewTestEnv(t)
	env.InitRepo()
	env.InitCtxmeter()
	return env
}

// NewRepoWithCommit creates a repo environment with an initial commit, for
// tests that need a valid HEAD.
func NewRepoWithCommit(t *testing.T) *TestEnv {
	t.Helper()

	env := NewRepoEnv(t)
	env.WriteFile("README.md", "# Test Repo\n")
	env.GitAdd("README.md")
	env.GitCommit("Initial commit")
	return env
}

// InitRepo initializes a git repository in the test environment.
func (env *TestEnv) InitRepo() {
	env.T.Helper()

	repo, err := git.PlainInit(env.RepoDir, false)
	if err != nil {
		env.T.Fatalf("failed to init git repo: %v", err)
	}

	// Configure user for commits
	cfg, err := repo.Config()
	if err != nil {
		env.T.Fatalf("failed to get git config: %v", err)
	}
	cfg.User.Name = "Test User"
	cfg.User.Email = "test@example.com"
	if err := repo.SetConfig(cfg); err != nil {
		env.T.Fatalf("failed to set git config: %v", err)
	}
}

// InitCtxmeter creates the .ctxmeter directory with default settings.
func (env *TestEnv) InitCtxmeter() {
	env.T.Helper()
	env.InitCtxmeterWith(nil)
}

// InitCtxmeterWith creates the .ctxmeter directory, merging the given
// overrides into the default settings.
func (env *TestEnv) InitCtxmeterWith(overrides map[string]interface{}) {
	env.T.Helper()

	ctxmeterDir := filepath.Join(env.RepoDir, paths.CtxmeterDir)
	if err := os.MkdirAll(ctxmeterDir, 0o755); err != nil {
		env.T.Fatalf("failed to create .ctxmeter dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(env.RepoDir, paths.TmpDir), 0o755); err != nil {
		env.T.Fatalf("failed to create tmp dir: %v", err)
	}

	settings := map[string]interface{}{
		"enabled": true,
	}
	for k, v := range overrides {
		settings[k] = v
	}

	data, err := jsonutil.MarshalIndentWithNewline(settings, "", "  ")
	if err != nil {
		env.T.Fatalf("failed to marshal settings: %v", err)
	}
	settingsPath := filepath.Join(ctxmeterDir, paths.SettingsFileName)
	if err := os.WriteFile(settingsPath, data, 0o644); err != nil {
		env.T.Fatalf("failed to write settings: %v", err)
	}
}

// WriteFile writes a file relative to the repo directory, creating parent
// directories as needed.
func (env *TestEnv) WriteFile(relPath, content string) {
	env.T.Helper()

	fullPath := filepath.Join(env.RepoDir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		env.T.Fatalf("failed to create directory for %s: %v", relPath, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		env.T.Fatalf("failed to write %s: %v", relPath, err)
	}
}

// ReadFile reads a file relative to the repo directory.
func (env *TestEnv) ReadFile(relPath string) string {
	env.T.Helper()

	data, err := os.ReadFile(filepath.Join(env.RepoDir, relPath))
	if err != nil {
		env.T.Fatalf("failed to read %s: %v", relPath, err)
	}
	return string(data)
}

// FileExists checks if a file exists relative to the repo directory.
func (env *TestEnv) FileExists(relPath string) bool {
	env.T.Helper()

	_, err := os.Stat(filepath.Join(env.RepoDir, relPath))
	return err == nil
}

// GitAdd stages a file.
func (env *TestEnv) GitAdd(relPath string) {
	env.T.Helper()

	repo, err := git.PlainOpen(env.RepoDir)
	if err != nil {
		env.T.Fatalf("failed to open git repo: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		env.T.Fatalf("failed to get worktree: %v", err)
	}
	if _, err := worktree.Add(relPath); err != nil {
		env.T.Fatalf("failed to add %s: %v", relPath, err)
	}
}

// GitCommit creates a commit with the staged changes.
func (env *TestEnv) GitCommit(message string) {
	env.T.Helper()

	repo, err := git.PlainOpen(env.RepoDir)
	if err != nil {
		env.T.Fatalf("failed to open git repo: %v", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		env.T.Fatalf("failed to get worktree: %v", err)
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		env.T.Fatalf("failed to commit: %v", err)
	}
}

// GetHeadHash returns the current HEAD commit hash.
func (env *TestEnv) GetHeadHash() string {
	env.T.Helper()

	repo, err := git.PlainOpen(env.RepoDir)
	if err != nil {
		env.T.Fatalf("failed to open git repo: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		env.T.Fatalf("failed to get HEAD: %v", err)
	}
	return head.Hash().String()
}

// GetCurrentBranch returns the name of the currently checked out branch.
func (env *TestEnv) GetCurrentBranch() string {
	env.T.Helper()

	repo, err := git.PlainOpen(env.RepoDir)
	if err != nil {
		env.T.Fatalf("failed to open git repo: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		env.T.Fatalf("failed to get HEAD: %v", err)
	}
	return head.Name().Short()
}

// cliEnv returns the environment for CLI subprocesses.
func (env *TestEnv) cliEnv() []string {
	return append(os.Environ(), env.ExtraEnv...)
}

// RunCLI runs the ctxmeter CLI with the given arguments and returns combined
// output. Fails the test if the command errors.
func (env *TestEnv) RunCLI(args ...string) string {
	env.T.Helper()

	output, err := env.RunCLIWithError(args...)
	if err != nil {
		env.T.Fatalf("CLI command failed: %v\nArgs: %v\nOutput: %s", err, args, output)
	}
	return output
}

// RunCLIWithError runs the ctxmeter CLI and returns output and error.
func (env *TestEnv) RunCLIWithError(args ...string) (string, error) {
	env.T.Helper()

	cmd := exec.Command(getTestBinary(), args...)
	cmd.Dir = env.RepoDir
	cmd.Env = env.cliEnv()

	output, err := cmd.CombinedOutput()
	return string(output), err
}

// RunCLIWithStdin runs the CLI with stdin input.
func (env *TestEnv) RunCLIWithStdin(stdin string, args ...string) string {
	env.T.Helper()

	cmd := exec.Command(getTestBinary(), args...)
	cmd.Dir = env.RepoDir
	cmd.Env = env.cliEnv()
	cmd.Stdin = strings.NewReader(stdin)

	output, err := cmd.CombinedOutput()
	if err != nil {
		env.T.Fatalf("CLI command failed: %v\nArgs: %v\nOutput: %s", err, args, output)
	}
	return string(output)
}

// MarkerPath returns the marker file path for a session.
func (env *TestEnv) MarkerPath(sessionID string) string {
	return filepath.Join(env.RepoDir, paths.ContextStateDir, sessionID+".json")
}

// ReadMarker reads the tracking marker for a session.
// Returns nil if the marker doesn't exist.
func (env *TestEnv) ReadMarker(sessionID string) *marker.Marker {
	env.T.Helper()

	data, err := os.ReadFile(env.MarkerPath(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		env.T.Fatalf("failed to read marker for %s: %v", sessionID, err)
	}

	var m marker.Marker
	if err := json.Unmarshal(data, &m); err != nil {
		env.T.Fatalf("failed to parse marker for %s: %v", sessionID, err)
	}
	return &m
}

// WriteMarker writes a tracking marker directly, bypassing the CLI.
// Used to seed state like stale or pre-existing sessions.
func (env *TestEnv) WriteMarker(m *marker.Marker) {
	env.T.Helper()

	if err := os.MkdirAll(filepath.Join(env.RepoDir, paths.ContextStateDir), 0o755); err != nil {
		env.T.Fatalf("failed to create context dir: %v", err)
	}
	data, err := jsonutil.MarshalIndentWithNewline(m, "", "  ")
	if err != nil {
		env.T.Fatalf("failed to marshal marker: %v", err)
	}
	if err := os.WriteFile(env.MarkerPath(m.SessionID), data, 0o644); err != nil {
		env.T.Fatalf("failed to write marker: %v", err)
	}
}

// JournalPath returns the journal file path for a session.
func (env *TestEnv) JournalPath(sessionID string) string {
	return filepath.Join(env.RepoDir, paths.JournalDir, sessionID+".jsonl")
}

// ReadJournalEntries reads all journal entries for a session.
// Returns nil if the journal doesn't exist.
func (env *TestEnv) ReadJournalEntries(sessionID string) []journal.Entry {
	env.T.Helper()

	data, err := os.ReadFile(env.JournalPath(sessionID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		env.T.Fatalf("failed to read journal for %s: %v", sessionID, err)
	}

	var entries []journal.Entry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e journal.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			env.T.Fatalf("failed to parse journal line for %s: %v\nLine: %s", sessionID, err, line)
		}
		entries = append(entries, e)
	}
	return entries
}

// CurrentSession reads the persisted current session ID.
// Returns empty string if no session has been recorded.
func (env *TestEnv) CurrentSession() string {
	env.T.Helper()

	data, err := os.ReadFile(filepath.Join(env.RepoDir, paths.CurrentSessionFile))
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		env.T.Fatalf("failed to read current session: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func findModuleRoot() string {
	// Start from this source file's location and walk up to find go.mod
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("failed to get current file path via runtime.Caller")
	}
	dir := filepath.Dir(thisFile)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("could not find go.mod starting from " + thisFile)
		}
		dir = parent
	}
}
