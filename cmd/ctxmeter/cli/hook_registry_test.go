package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent/claudecode"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/logging"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

const testAgentName = "claude-code"

// setupHookTestRepo prepares a git repo with the ctxmeter layout and a
// persisted session ID, so hook logging writes a per-session log file.
func setupHookTestRepo(t *testing.T, sessionID string) string {
	t.Helper()

	tmpDir := t.TempDir()
	t.Chdir(tmpDir)

	// paths.RepoRoot shells out to git, so a real repo is required
	gitInit := exec.CommandContext(context.Background(), "git", "init")
	if err := gitInit.Run(); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}

	if err := os.MkdirAll(filepath.Join(tmpDir, paths.TmpDir), 0o755); err != nil {
		t.Fatalf("failed to create tmp directory: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, paths.LogsDir), 0o755); err != nil {
		t.Fatalf("failed to create logs directory: %v", err)
	}

	sessionFile := filepath.Join(tmpDir, paths.CurrentSessionFile)
	if err := os.WriteFile(sessionFile, []byte(sessionID), 0o600); err != nil {
		t.Fatalf("failed to write session file: %v", err)
	}

	return tmpDir
}

// parseLogLines decodes each JSONL line of a session log file.
func parseLogLines(t *testing.T, logFile string) []map[string]interface{} {
	t.Helper()

	content, err := os.ReadFile(logFile) //nolint:gosec // test-controlled path
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Errorf("failed to parse log line as JSON: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewAgentHookVerbCmd_LogsInvocation(t *testing.T) {
	sessionID := "test-hook-log-session"
	tmpDir := setupHookTestRepo(t, sessionID)

	t.Setenv(logging.LogLevelEnvVar, "DEBUG")

	// Initialize logging (normally done by PersistentPreRunE)
	cleanup := initHookLogging()
	defer cleanup()

	testHandlerCalled := false
	RegisterHookHandler("test-agent", "test-hook", func() error {
		testHandlerCalled = true
		return nil
	})

	cmd := newAgentHookVerbCmd("test-agent", "test-hook")
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}

	if !testHandlerCalled {
		t.Error("expected test handler to be called")
	}

	// Close logging to flush
	cleanup()

	logFile := filepath.Join(tmpDir, paths.LogsDir, sessionID+".log")
	entries := parseLogLines(t, logFile)
	if len(entries) == 0 {
		t.Fatal("expected at least one log line")
	}

	foundInvocation := false
	foundCompletion := false
	for _, entry := range entries {
		if entry["hook"] != "test-hook" {
			continue
		}
		msg, ok := entry["msg"].(string)
		if !ok {
			continue
		}
		if strings.Contains(msg, "invoked") {
			foundInvocation = true
			if entry["component"] != "hooks" {
				t.Errorf("expected component='hooks', got %v", entry["component"])
			}
			if entry["session_id"] != sessionID {
				t.Errorf("expected session_id=%q, got %v", sessionID, entry["session_id"])
			}
		}
		if strings.Contains(msg, "completed") {
			foundCompletion = true
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("expected duration_ms in completion log")
			}
			if entry["success"] != true {
				t.Errorf("expected success=true, got %v", entry["success"])
			}
		}
	}

	if !foundInvocation {
		t.Error("expected to find hook invocation log")
	}
	if !foundCompletion {
		t.Error("expected to find hook completion log")
	}
}

func TestNewAgentHookVerbCmd_SwallowsHandlerError(t *testing.T) {
	sessionID := "test-hook-failure-session"
	tmpDir := setupHookTestRepo(t, sessionID)

	t.Setenv(logging.LogLevelEnvVar, "DEBUG")

	cleanup := initHookLogging()
	defer cleanup()

	RegisterHookHandler("test-agent", "failing-hook", func() error {
		return context.DeadlineExceeded // Use a real error
	})

	cmd := newAgentHookVerbCmd("test-agent", "failing-hook")
	cmd.SetOut(&bytes.Buffer{})

	// A broken handler must not fail the command: the agent treats a
	// non-zero hook exit as fatal.
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected handler error to be swallowed, got: %v", err)
	}

	cleanup()

	logFile := filepath.Join(tmpDir, paths.LogsDir, sessionID+".log")
	entries := parseLogLines(t, logFile)

	foundFailure := false
	for _, entry := range entries {
		if entry["hook"] == "failing-hook" && entry["success"] == false {
			foundFailure = true
		}
	}

	if !foundFailure {
		t.Error("expected to find log entry with success=false")
	}
}

func TestNewAgentHookVerbCmd_SkipsOutsideRepository(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	paths.ClearRepoRootCache()
	t.Cleanup(paths.ClearRepoRootCache)

	handlerCalled := false
	RegisterHookHandler("test-agent", "outside-hook", func() error {
		handlerCalled = true
		return nil
	})

	cmd := newAgentHookVerbCmd("test-agent", "outside-hook")
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected silent skip outside a repository, got: %v", err)
	}

	if handlerCalled {
		t.Error("handler should not run outside a git repository")
	}
}

func TestNewAgentHookVerbCmd_NoHandlerRegistered(t *testing.T) {
	setupHookTestRepo(t, "test-hook-missing-session")

	cmd := newAgentHookVerbCmd("test-agent", "ghost-hook")
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for unregistered hook")
	}
	if !strings.Contains(err.Error(), "no handler registered") {
		t.Errorf("expected missing handler error, got: %v", err)
	}
}

func TestHookCommand_SetsCurrentHookAgentName(t *testing.T) {
	setupHookTestRepo(t, "test-hook-agent-name-session")

	var agentNameInsideHandler string
	RegisterHookHandler("test-agent", "name-check-hook", func() error {
		agentNameInsideHandler = currentHookAgentName
		return nil
	})

	cmd := newAgentHookVerbCmd("test-agent", "name-check-hook")
	if err := cmd.Execute(); err != nil {
		t.Fatalf("command execution failed: %v", err)
	}

	if agentNameInsideHandler != "test-agent" {
		t.Errorf("inside handler: currentHookAgentName = %q, want %q", agentNameInsideHandler, "test-agent")
	}

	// Cleared once the hook finishes
	if currentHookAgentName != "" {
		t.Errorf("after handler: currentHookAgentName = %q, want empty", currentHookAgentName)
	}
}

func TestClaudeCodeHooksCmd_HasLoggingHooks(t *testing.T) {
	// The claude-code hooks command needs PersistentPreRunE and
	// PersistentPostRunE for logging initialization and cleanup
	hooksCmd := newHooksCmd()

	var claudeCodeCmd *cobra.Command
	for _, sub := range hooksCmd.Commands() {
		if sub.Use == testAgentName {
			claudeCodeCmd = sub
			break
		}
	}

	if claudeCodeCmd == nil {
		t.Fatal("expected to find claude-code subcommand under hooks")
	}

	if claudeCodeCmd.PersistentPreRunE == nil {
		t.Error("expected PersistentPreRunE to be set for logging initialization")
	}
	if claudeCodeCmd.PersistentPostRunE == nil {
		t.Error("expected PersistentPostRunE to be set for logging cleanup")
	}
}

func TestHookRegistry_RegistersClaudeCodeHandlers(t *testing.T) {
	hookNames := []string{
		claudecode.HookNameSessionStart,
		claudecode.HookNameUserPromptSubmit,
		claudecode.HookNameStop,
		claudecode.HookNamePreCompact,
	}

	for _, hookName := range hookNames {
		if GetHookHandler(agent.AgentNameClaudeCode, hookName) == nil {
			t.Errorf("expected handler registered for claude-code/%s", hookName)
		}
	}

	if GetHookHandler("unknown-agent", "whatever") != nil {
		t.Error("expected nil handler for unknown agent")
	}
}
