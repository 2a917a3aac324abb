package claudecode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

// Ensure ClaudeCodeAgent implements HookSupport and HookHandler
var (
	_ agent.HookSupport     = (*ClaudeCodeAgent)(nil)
	_ agent.HookHandler     = (*ClaudeCodeAgent)(nil)
	_ agent.HookDiagnostics = (*ClaudeCodeAgent)(nil)
)

// Claude Code hook names - these become subcommands under `ctxmeter hooks claude-code`
const (
	HookNameSessionStart     = "session-start"
	HookNameUserPromptSubmit = "user-prompt-submit"
	HookNameStop             = "stop"
	HookNamePreCompact       = "pre-compact"
)

// ClaudeSettingsFileName is the settings file used by Claude Code.
const ClaudeSettingsFileName = "settings.json"

// GetHookNames returns the hook verbs Claude Code supports.
// These become subcommands: ctxmeter hooks claude-code <verb>
func (c *ClaudeCodeAgent) GetHookNames() []string {
	return []string{
		HookNameSessionStart,
		HookNameUserPromptSubmit,
		HookNameStop,
		HookNamePreCompact,
	}
}

// ctxmeterHookPrefixes are command prefixes that identify ctxmeter hooks
// (installed binary and local dev formats)
var ctxmeterHookPrefixes = []string{
	"ctxmeter ",
	"go run ${CLAUDE_PROJECT_DIR}/cmd/ctxmeter/main.go ",
}

// hookCommand builds the command string for one hook verb.
func hookCommand(localDev bool, verb string) string {
	if localDev {
		return "go run ${CLAUDE_PROJECT_DIR}/cmd/ctxmeter/main.go hooks claude-code " + verb
	}
	return "ctxmeter hooks claude-code " + verb
}

// statusLineCommand builds the statusLine command string.
func statusLineCommand(localDev bool) string {
	if localDev {
		return "go run ${CLAUDE_PROJECT_DIR}/cmd/ctxmeter/main.go statusline"
	}
	return "ctxmeter statusline"
}

// InstallHooks installs Claude Code hooks in .claude/settings.json.
// If force is true, removes existing ctxmeter hooks before installing.
// Also installs the statusLine entry unless a foreign one is configured.
// Returns the number of entries installed.
func (c *ClaudeCodeAgent) InstallHooks(localDev bool, force bool) (int, error) {
	settingsPath, err := c.settingsPath()
	if err != nil {
		return 0, err
	}

	// Read existing settings if they exist.
	// rawSettings preserves keys we don't manage (permissions, env, etc.)
	var settings ClaudeSettings
	var rawSettings map[string]json.RawMessage

	existingData, readErr := os.ReadFile(settingsPath) //nolint:gosec // path is constructed from repo root + fixed path
	if readErr == nil {
		if err := json.Unmarshal(existingData, &rawSettings); err != nil {
			return 0, fmt.Errorf("failed to parse existing settings.json: %w", err)
		}
		if hooksRaw, ok := rawSettings["hooks"]; ok {
			if err := json.Unmarshal(hooksRaw, &settings.Hooks); err != nil {
				return 0, fmt.Errorf("failed to parse hooks in settings.json: %w", err)
			}
		}
	} else {
		rawSettings = make(map[string]json.RawMessage)
	}

	// If force is true, remove all existing ctxmeter hooks first
	if force {
		settings.Hooks.SessionStart = removeCtxmeterHooks(settings.Hooks.SessionStart)
		settings.Hooks.UserPromptSubmit = removeCtxmeterHooks(settings.Hooks.UserPromptSubmit)
		settings.Hooks.Stop = removeCtxmeterHooks(settings.Hooks.Stop)
		settings.Hooks.PreCompact = removeCtxmeterHooks(settings.Hooks.PreCompact)
	}

	sessionStartCmd := hookCommand(localDev, HookNameSessionStart)
	userPromptSubmitCmd := hookCommand(localDev, HookNameUserPromptSubmit)
	stopCmd := hookCommand(localDev, HookNameStop)
	preCompactCmd := hookCommand(localDev, HookNamePreCompact)

	count := 0

	if !hookCommandExists(settings.Hooks.SessionStart, sessionStartCmd) {
		settings.Hooks.SessionStart = addHookToMatcher(settings.Hooks.SessionStart, "", sessionStartCmd)
		count++
	}
	if !hookCommandExists(settings.Hooks.UserPromptSubmit, userPromptSubmitCmd) {
		settings.Hooks.UserPromptSubmit = addHookToMatcher(settings.Hooks.UserPromptSubmit, "", userPromptSubmitCmd)
		count++
	}
	if !hookCommandExists(settings.Hooks.Stop, stopCmd) {
		settings.Hooks.Stop = addHookToMatcher(settings.Hooks.Stop, "", stopCmd)
		count++
	}
	if !hookCommandExists(settings.Hooks.PreCompact, preCompactCmd) {
		settings.Hooks.PreCompact = addHookToMatcher(settings.Hooks.PreCompact, "", preCompactCmd)
		count++
	}

	// Install the statusLine entry. An existing foreign statusLine is left
	// alone: the user configured it deliberately.
	statusLineChanged := false
	existingStatusLine, hasStatusLine := rawSettings["statusLine"]
	installStatusLine := !hasStatusLine
	if hasStatusLine {
		var current ClaudeStatusLine
		if err := json.Unmarshal(existingStatusLine, &current); err == nil && isCtxmeterHook(current.Command) {
			// Ours: refresh so localDev toggles update the command
			installStatusLine = current.Command != statusLineCommand(localDev)
		}
	}
	if installStatusLine {
		statusLineJSON, err := json.Marshal(ClaudeStatusLine{
			Type:    "command",
			Command: statusLineCommand(localDev),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to marshal statusLine: %w", err)
		}
		rawSettings["statusLine"] = statusLineJSON
		statusLineChanged = true
		count++
	}

	if count == 0 && !statusLineChanged {
		return 0, nil // Everything already installed
	}

	hooksJSON, err := json.Marshal(settings.Hooks)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal hooks: %w", err)
	}
	rawSettings["hooks"] = hooksJSON

	if err := writeSettings(settingsPath, rawSettings); err != nil {
		return 0, err
	}

	return count, nil
}

// UninstallHooks removes ctxmeter hooks and the ctxmeter statusLine from
// Claude Code settings. Other hooks and settings keys are preserved.
func (c *ClaudeCodeAgent) UninstallHooks() error {
	settingsPath, err := c.settingsPath()
	if err != nil {
		return err
	}

	existingData, readErr := os.ReadFile(settingsPath) //nolint:gosec // path is constructed from repo root + fixed path
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil // Nothing to uninstall
		}
		return fmt.Errorf("failed to read settings.json: %w", readErr)
	}

	var rawSettings map[string]json.RawMessage
	if err := json.Unmarshal(existingData, &rawSettings); err != nil {
		return fmt.Errorf("failed to parse settings.json: %w", err)
	}

	var settings ClaudeSettings
	if hooksRaw, ok := rawSettings["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, &settings.Hooks); err != nil {
			return fmt.Errorf("failed to parse hooks in settings.json: %w", err)
		}
	}

	settings.Hooks.SessionStart = removeCtxmeterHooks(settings.Hooks.SessionStart)
	settings.Hooks.UserPromptSubmit = removeCtxmeterHooks(settings.Hooks.UserPromptSubmit)
	settings.Hooks.Stop = removeCtxmeterHooks(settings.Hooks.Stop)
	settings.Hooks.PreCompact = removeCtxmeterHooks(settings.Hooks.PreCompact)

	if hooksEmpty(settings.Hooks) {
		delete(rawSettings, "hooks")
	} else {
		hooksJSON, err := json.Marshal(settings.Hooks)
		if err != nil {
			return fmt.Errorf("failed to marshal hooks: %w", err)
		}
		rawSettings["hooks"] = hooksJSON
	}

	if statusLineRaw, ok := rawSettings["statusLine"]; ok {
		var current ClaudeStatusLine
		if err := json.Unmarshal(statusLineRaw, &current); err == nil && isCtxmeterHook(current.Command) {
			delete(rawSettings, "statusLine")
		}
	}

	return writeSettings(settingsPath, rawSettings)
}

// AreHooksInstalled checks if ctxmeter hooks are installed.
func (c *ClaudeCodeAgent) AreHooksInstalled() bool {
	settingsPath, err := c.settingsPath()
	if err != nil {
		return false
	}
	data, err := os.ReadFile(settingsPath) //nolint:gosec // path is constructed from repo root + fixed path
	if err != nil {
		return false
	}

	var settings ClaudeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return false
	}

	return hookCommandExists(settings.Hooks.Stop, hookCommand(false, HookNameStop)) ||
		hookCommandExists(settings.Hooks.Stop, hookCommand(true, HookNameStop))
}

// HookDrift compares the configured hook commands against what a fresh
// install with the given localDev setting would write. A hook counts as
// drifted when it is missing or its ctxmeter command differs, typically
// after a localDev toggle or a command format change across versions.
func (c *ClaudeCodeAgent) HookDrift(localDev bool) ([]agent.HookDrift, error) {
	settingsPath, err := c.settingsPath()
	if err != nil {
		return nil, err
	}

	var settings ClaudeSettings
	var rawSettings map[string]json.RawMessage

	data, readErr := os.ReadFile(settingsPath) //nolint:gosec // path is constructed from repo root + fixed path
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return nil, fmt.Errorf("failed to read settings.json: %w", readErr)
		}
		// No settings file: everything a fresh install writes is missing
	} else {
		if err := json.Unmarshal(data, &rawSettings); err != nil {
			return nil, fmt.Errorf("failed to parse settings.json: %w", err)
		}
		if hooksRaw, ok := rawSettings["hooks"]; ok {
			if err := json.Unmarshal(hooksRaw, &settings.Hooks); err != nil {
				return nil, fmt.Errorf("failed to parse hooks in settings.json: %w", err)
			}
		}
	}

	checks := []struct {
		verb     string
		matchers []ClaudeHookMatcher
	}{
		{HookNameSessionStart, settings.Hooks.SessionStart},
		{HookNameUserPromptSubmit, settings.Hooks.UserPromptSubmit},
		{HookNameStop, settings.Hooks.Stop},
		{HookNamePreCompact, settings.Hooks.PreCompact},
	}

	var drifts []agent.HookDrift
	for _, check := range checks {
		expected := hookCommand(localDev, check.verb)
		actual := findCtxmeterHook(check.matchers)
		if actual != expected {
			drifts = append(drifts, agent.HookDrift{
				Hook:     check.verb,
				Expected: expected,
				Actual:   actual,
			})
		}
	}

	// statusLine drifts only when missing or pointing at a stale ctxmeter
	// command; a foreign statusLine is a deliberate user choice.
	expectedStatusLine := statusLineCommand(localDev)
	var actualStatusLine string
	foreign := false
	if statusLineRaw, ok := rawSettings["statusLine"]; ok {
		var current ClaudeStatusLine
		if err := json.Unmarshal(statusLineRaw, &current); err == nil {
			actualStatusLine = current.Command
			foreign = !isCtxmeterHook(current.Command)
		}
	}
	if !foreign && actualStatusLine != expectedStatusLine {
		drifts = append(drifts, agent.HookDrift{
			Hook:     "statusLine",
			Expected: expectedStatusLine,
			Actual:   actualStatusLine,
		})
	}

	return drifts, nil
}

// findCtxmeterHook returns the first ctxmeter-owned command in matchers,
// or an empty string when none is configured.
func findCtxmeterHook(matchers []ClaudeHookMatcher) string {
	for _, matcher := range matchers {
		for _, hook := range matcher.Hooks {
			if isCtxmeterHook(hook.Command) {
				return hook.Command
			}
		}
	}
	return ""
}

// GetSupportedHooks returns the hook types Claude Code supports.
func (c *ClaudeCodeAgent) GetSupportedHooks() []agent.HookType {
	return []agent.HookType{
		agent.HookSessionStart,
		agent.HookUserPromptSubmit,
		agent.HookStop,
		agent.HookPreCompact,
	}
}

// settingsPath resolves the .claude/settings.json path from the repo root.
func (c *ClaudeCodeAgent) settingsPath() (string, error) {
	repoRoot, err := paths.RepoRoot()
	if err != nil {
		// Fallback to CWD if not in a git repo (e.g., during tests)
		repoRoot, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	return filepath.Join(repoRoot, ".claude", ClaudeSettingsFileName), nil
}

func writeSettings(settingsPath string, rawSettings map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o750); err != nil {
		return fmt.Errorf("failed to create .claude directory: %w", err)
	}

	output, err := json.MarshalIndent(rawSettings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, output, 0o600); err != nil {
		return fmt.Errorf("failed to write settings.json: %w", err)
	}
	return nil
}

// Helper functions for hook management

func hookCommandExists(matchers []ClaudeHookMatcher, command string) bool {
	for _, matcher := range matchers {
		for _, hook := range matcher.Hooks {
			if hook.Command == command {
				return true
			}
		}
	}
	return false
}

func addHookToMatcher(matchers []ClaudeHookMatcher, matcherName, command string) []ClaudeHookMatcher {
	entry := ClaudeHookEntry{
		Type:    "command",
		Command: command,
	}

	for i, matcher := range matchers {
		if matcher.Matcher == matcherName {
			matchers[i].Hooks = append(matchers[i].Hooks, entry)
			return matchers
		}
	}

	return append(matchers, ClaudeHookMatcher{
		Matcher: matcherName,
		Hooks:   []ClaudeHookEntry{entry},
	})
}

// isCtxmeterHook checks if a command is a ctxmeter hook (any install format)
func isCtxmeterHook(command string) bool {
	for _, prefix := range ctxmeterHookPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}

// removeCtxmeterHooks removes all ctxmeter hooks from a list of matchers
func removeCtxmeterHooks(matchers []ClaudeHookMatcher) []ClaudeHookMatcher {
	result := make([]ClaudeHookMatcher, 0, len(matchers))
	for _, matcher := range matchers {
		filteredHooks := make([]ClaudeHookEntry, 0, len(matcher.Hooks))
		for _, hook := range matcher.Hooks {
			if !isCtxmeterHook(hook.Command) {
				filteredHooks = append(filteredHooks, hook)
			}
		}
		// Only keep the matcher if it has hooks remaining
		if len(filteredHooks) > 0 {
			matcher.Hooks = filteredHooks
			result = append(result, matcher)
		}
	}
	return result
}

func hooksEmpty(h ClaudeHooks) bool {
	return len(h.SessionStart) == 0 &&
		len(h.UserPromptSubmit) == 0 &&
		len(h.Stop) == 0 &&
		len(h.PreCompact) == 0
}
