// Package agent provides interfaces and types for integrating with coding agents.
// It abstracts agent-specific behavior (hooks, transcript parsing, settings files)
// so the same tracking flow works with any coding agent.
package agent

import (
	"io"
	"sort"
	"strings"
)

// DefaultContextWindow is assumed when neither the transcript nor settings
// identify the model's window.
const DefaultContextWindow = 200000

// Agent defines the interface for interacting with a coding agent.
// Each agent implementation converts its native hook payloads and transcript
// format to the normalized types defined in this package.
type Agent interface {
	// Name returns the agent identifier (e.g., "claude-code")
	Name() string

	// Description returns a human-readable description for UI
	Description() string

	// DetectPresence checks if this agent is configured in the repository
	DetectPresence() (bool, error)

	// GetHookConfigPath returns path to hook config file (empty if none)
	GetHookConfigPath() string

	// SupportsHooks returns true if agent supports lifecycle hooks
	SupportsHooks() bool

	// ParseHookInput parses hook callback input from stdin
	ParseHookInput(hookType HookType, reader io.Reader) (*HookInput, error)

	// LatestContextUsage reads the agent's transcript and returns the token
	// usage of the most recent assistant turn. Returns (nil, nil) when the
	// transcript has no usable usage data yet.
	LatestContextUsage(transcriptPath string) (*ContextUsage, error)
}

// HookSupport is implemented by agents with lifecycle hooks.
// This optional interface allows agents like Claude Code to install and
// manage hooks that notify ctxmeter of agent events.
type HookSupport interface {
	Agent

	// InstallHooks installs agent-specific hooks.
	// If localDev is true, hooks point to local development build.
	// If force is true, removes existing ctxmeter hooks before installing.
	// Returns the number of hooks installed.
	InstallHooks(localDev bool, force bool) (int, error)

	// UninstallHooks removes installed hooks
	UninstallHooks() error

	// AreHooksInstalled checks if hooks are currently installed
	AreHooksInstalled() bool

	// GetSupportedHooks returns the hook types this agent supports
	GetSupportedHooks() []HookType
}

// HookHandler is implemented by agents that define their own hook vocabulary.
// Each agent defines its own hook names (verbs) which become subcommands
// under `ctxmeter hooks <agent>`. The actual handling is done by handlers
// registered in the CLI package to avoid circular dependencies.
type HookHandler interface {
	Agent

	// GetHookNames returns the hook verbs this agent supports.
	// These are the subcommand names that will appear under `ctxmeter hooks <agent>`.
	// e.g., ["session-start", "user-prompt-submit", "stop", "pre-compact"]
	GetHookNames() []string
}

// HookDrift describes one hook whose configured command differs from
// what a fresh install would write. An empty Actual means the hook is
// missing entirely.
type HookDrift struct {
	Hook     string // Hook verb or "statusLine"
	Expected string // Command a fresh install would write
	Actual   string // Command currently configured
}

// HookDiagnostics is implemented by agents that can report drift between
// their installed hook configuration and a fresh install. Used by doctor.
type HookDiagnostics interface {
	Agent

	// HookDrift returns the hooks whose configured commands differ from
	// what InstallHooks(localDev, ...) would write today.
	HookDrift(localDev bool) ([]HookDrift, error)
}

// ResolveContextWindow picks the context window for a model.
//
// overrides maps model ID substrings to window sizes, typically from
// settings. The longest matching substring wins so a specific entry like
// "sonnet-4-5" beats a broad one like "sonnet"; length ties break
// lexicographically to keep the result stable. Entries with non-positive
// windows are ignored. With no match the fallback applies, and with no
// usable fallback the default window does.
func ResolveContextWindow(modelID string, overrides map[string]int, fallback int) int {
	if modelID != "" && len(overrides) > 0 {
		patterns := make([]string, 0, len(overrides))
		for pattern := range overrides {
			patterns = append(patterns, pattern)
		}
		sort.Slice(patterns, func(i, j int) bool {
			if len(patterns[i]) != len(patterns[j]) {
				return len(patterns[i]) > len(patterns[j])
			}
			return patterns[i] < patterns[j]
		})

		for _, pattern := range patterns {
			if pattern == "" || overrides[pattern] <= 0 {
				continue
			}
			if strings.Contains(modelID, pattern) {
				return overrides[pattern]
			}
		}
	}

	if fallback > 0 {
		return fallback
	}
	return DefaultContextWindow
}
