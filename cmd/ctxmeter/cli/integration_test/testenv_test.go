//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

func TestNewTestEnv(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)

	// Verify RepoDir exists
	if _, err := os.Stat(env.RepoDir); os.IsNotExist(err) {
		t.Error("RepoDir should exist")
	}

	// Note: NewTestEnv does not change working directory or use t.Setenv,
	// so tests can run in parallel. CLI subprocesses get cmd.Dir instead.
}

func TestTestEnv_InitRepo(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)
	env.InitRepo()

	// Verify .git directory exists
	gitDir := filepath.Join(env.RepoDir, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		t.Error(".git directory should exist after InitRepo")
	}
}

func TestTestEnv_InitCtxmeter(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)
	env.InitRepo()
	env.InitCtxmeter()

	// Verify .ctxmeter directory exists
	ctxmeterDir := filepath.Join(env.RepoDir, paths.CtxmeterDir)
	if _, err := os.Stat(ctxmeterDir); os.IsNotExist(err) {
		t.Error(".ctxmeter directory should exist")
	}

	// Verify settings file exists and enables tracking
	data, err := os.ReadFile(filepath.Join(ctxmeterDir, paths.SettingsFileName))
	if err != nil {
		t.Fatalf("failed to read %s: %v", paths.SettingsFileName, err)
	}
	if !strings.Contains(string(data), `"enabled": true`) {
		t.Errorf("settings.json should enable tracking, got: %s", data)
	}

	// Verify tmp directory exists
	tmpDir := filepath.Join(env.RepoDir, paths.TmpDir)
	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error(".ctxmeter/tmp directory should exist")
	}
}

func TestTestEnv_InitCtxmeterWithOverrides(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)
	env.InitRepo()
	env.InitCtxmeterWith(map[string]interface{}{"warn_percent": 50})

	data := env.ReadFile(filepath.Join(paths.CtxmeterDir, paths.SettingsFileName))
	if !strings.Contains(data, `"warn_percent": 50`) {
		t.Errorf("settings.json should contain the override, got: %s", data)
	}
	if !strings.Contains(data, `"enabled": true`) {
		t.Errorf("settings.json should keep the defaults, got: %s", data)
	}
}

func TestTestEnv_WriteAndReadFile(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)
	env.InitRepo()

	// Write a simple file
	env.WriteFile("test.txt", "hello world")

	// Read it back
	content := env.ReadFile("test.txt")
	if content != "hello world" {
		t.Errorf("ReadFile = %q, want %q", content, "hello world")
	}

	// Write a file in a subdirectory
	env.WriteFile("src/main.go", "package main")

	content = env.ReadFile("src/main.go")
	if content != "package main" {
		t.Errorf("ReadFile = %q, want %q", content, "package main")
	}
}

func TestTestEnv_FileExists(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)
	env.InitRepo()

	// File doesn't exist yet
	if env.FileExists("test.txt") {
		t.Error("FileExists should return false for non-existent file")
	}

	// Create file
	env.WriteFile("test.txt", "content")

	// Now it exists
	if !env.FileExists("test.txt") {
		t.Error("FileExists should return true for existing file")
	}
}

func TestTestEnv_GitAddAndCommit(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)
	env.InitRepo()

	// Create and commit a file
	env.WriteFile("README.md", "# Test")
	env.GitAdd("README.md")
	env.GitCommit("Initial commit")

	// Verify we can get the HEAD hash
	hash := env.GetHeadHash()
	if len(hash) != 40 {
		t.Errorf("GetHeadHash returned invalid hash: %s", hash)
	}
}

func TestTestEnv_MultipleCommits(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)
	env.InitRepo()

	// First commit
	env.WriteFile("file.txt", "v1")
	env.GitAdd("file.txt")
	env.GitCommit("Commit 1")
	hash1 := env.GetHeadHash()

	// Second commit
	env.WriteFile("file.txt", "v2")
	env.GitAdd("file.txt")
	env.GitCommit("Commit 2")
	hash2 := env.GetHeadHash()

	// Hashes should be different
	if hash1 == hash2 {
		t.Error("different commits should have different hashes")
	}
}

func TestNewRepoWithCommit(t *testing.T) {
	t.Parallel()
	env := NewRepoWithCommit(t)

	// Verify README exists
	if !env.FileExists("README.md") {
		t.Error("README.md should exist")
	}

	// Verify we have a commit
	hash := env.GetHeadHash()
	if len(hash) != 40 {
		t.Errorf("GetHeadHash returned invalid hash: %s", hash)
	}
}

func TestTestEnv_NewSession(t *testing.T) {
	t.Parallel()
	env := NewRepoEnv(t)

	session1 := env.NewSession()
	session2 := env.NewSession()

	if session1.ID == session2.ID {
		t.Error("sessions should have distinct IDs")
	}
	if !strings.HasPrefix(session1.TranscriptPath, env.RepoDir) {
		t.Errorf("transcript path should live under the repo, got: %s", session1.TranscriptPath)
	}
}

func TestTestEnv_SessionAddTurnWritesTranscript(t *testing.T) {
	t.Parallel()
	env := NewRepoEnv(t)

	session := env.NewSession()
	session.AddTurn("write a parser", Usage{Input: 1000, CacheRead: 49000, Output: 500})

	data, err := os.ReadFile(session.TranscriptPath)
	if err != nil {
		t.Fatalf("transcript should exist: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"type":"user"`) {
		t.Errorf("transcript should contain the user turn, got: %s", content)
	}
	if !strings.Contains(content, `"cache_read_input_tokens":49000`) {
		t.Errorf("transcript should carry usage counts, got: %s", content)
	}
}
