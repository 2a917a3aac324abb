// Package claudecode implements the Agent interface for Claude Code.
package claudecode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

//nolint:gochecknoinits // Agent self-registration is the intended pattern
func init() {
	agent.Register(agent.AgentNameClaudeCode, NewClaudeCodeAgent)
}

// ClaudeCodeAgent implements the Agent interface for Claude Code.
//
//nolint:revive // ClaudeCodeAgent is clearer than Agent in this context
type ClaudeCodeAgent struct{}

// NewClaudeCodeAgent creates a new Claude Code agent instance.
func NewClaudeCodeAgent() agent.Agent {
	return &ClaudeCodeAgent{}
}

// Name returns the agent identifier.
func (c *ClaudeCodeAgent) Name() string {
	return agent.AgentNameClaudeCode
}

// Description returns a human-readable description.
func (c *ClaudeCodeAgent) Description() string {
	return "Claude Code - Anthropic's CLI coding assistant"
}

// DetectPresence checks if Claude Code is configured in the repository.
func (c *ClaudeCodeAgent) DetectPresence() (bool, error) {
	// Get repo root to check for .claude directory
	// This is needed because the CLI may be run from a subdirectory
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		// Not in a git repo, fall back to CWD-relative check
		repoRoot = "."
	}

	claudeDir := filepath.Join(repoRoot, ".claude")
	if _, err := os.Stat(claudeDir); err == nil {
		return true, nil
	}
	return false, nil
}

// GetHookConfigPath returns the path to Claude's hook config file.
func (c *ClaudeCodeAgent) GetHookConfigPath() string {
	return ".claude/settings.json"
}

// SupportsHooks returns true as Claude Code supports lifecycle hooks.
func (c *ClaudeCodeAgent) SupportsHooks() bool {
	return true
}

// ParseHookInput parses Claude Code hook input from stdin.
func (c *ClaudeCodeAgent) ParseHookInput(hookType agent.HookType, reader io.Reader) (*agent.HookInput, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	input := &agent.HookInput{
		HookType:  hookType,
		Timestamp: time.Now(),
		RawData:   make(map[string]interface{}),
	}

	switch hookType {
	case agent.HookSessionStart:
		var raw sessionStartRaw
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse session-start input: %w", err)
		}
		input.SessionID = raw.SessionID
		input.TranscriptPath = raw.TranscriptPath
		input.Source = raw.Source

	case agent.HookUserPromptSubmit:
		var raw userPromptSubmitRaw
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse user-prompt-submit input: %w", err)
		}
		input.SessionID = raw.SessionID
		input.TranscriptPath = raw.TranscriptPath
		input.Prompt = raw.Prompt

	case agent.HookStop:
		var raw stopRaw
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse stop input: %w", err)
		}
		input.SessionID = raw.SessionID
		input.TranscriptPath = raw.TranscriptPath
		input.RawData["stop_hook_active"] = raw.StopHookActive

	case agent.HookPreCompact:
		var raw preCompactRaw
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse pre-compact input: %w", err)
		}
		input.SessionID = raw.SessionID
		input.TranscriptPath = raw.TranscriptPath
		input.Trigger = raw.Trigger
	}

	return input, nil
}

// LatestContextUsage reads the transcript and returns the usage of the most
// recent assistant turn.
func (c *ClaudeCodeAgent) LatestContextUsage(transcriptPath string) (*agent.ContextUsage, error) {
	return LatestContextUsageFromFile(transcriptPath)
}

// GetSessionDir returns the directory where Claude stores session transcripts.
func (c *ClaudeCodeAgent) GetSessionDir(repoPath string) (string, error) {
	return paths.GetClaudeProjectDir(repoPath)
}
