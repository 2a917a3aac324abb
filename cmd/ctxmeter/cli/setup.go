package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/agent"
	"github.com/ctxmeter/cli/cmd/ctxmeter/cli/paths"
)

// ctxmeterGitignoreFile is the gitignore covering ctxmeter's own state.
// Only settings.json is meant to be committed.
const ctxmeterGitignoreFile = ".ctxmeter/.gitignore"

func newEnableCmd() *cobra.Command {
	var localDev bool
	var useLocalSettings bool
	var useProjectSettings bool
	var agentName string
	var forceHooks bool

	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable ctxmeter",
		Long:  "Enable ctxmeter and install agent hooks for context usage tracking",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateSetupFlags(useLocalSettings, useProjectSettings); err != nil {
				return err
			}
			// Non-interactive mode if --agent flag is provided
			if agentName != "" {
				return setupAgentHooksNonInteractive(cmd.OutOrStdout(), agentName, localDev, forceHooks)
			}
			return runEnableInteractive(cmd.OutOrStdout(), localDev, useLocalSettings, useProjectSettings, forceHooks)
		},
	}

	cmd.Flags().BoolVar(&localDev, "local-dev", false, "Use go run instead of ctxmeter binary for hooks")
	cmd.Flags().MarkHidden("local-dev") //nolint:errcheck,gosec // flag is defined above
	cmd.Flags().BoolVar(&useLocalSettings, "local", false, "Write settings to settings.local.json instead of settings.json")
	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Write settings to settings.json even if it already exists")
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent to setup hooks for (e.g., claude-code). Enables non-interactive mode.")
	cmd.Flags().BoolVarP(&forceHooks, "force", "f", false, "Force reinstall hooks (removes existing ctxmeter hooks first)")

	// Add subcommand for automation/testing
	cmd.AddCommand(newSetupAgentHooksCmd())

	return cmd
}

// newSetupAgentHooksCmd creates a command to setup agent hooks non-interactively.
// This is primarily used for testing and automation.
func newSetupAgentHooksCmd() *cobra.Command {
	var localDev bool
	var agentName string
	var forceHooks bool

	cmd := &cobra.Command{
		Use:    "agent-hooks",
		Short:  "Setup agent hooks (non-interactive)",
		Hidden: true, // Hidden as it's mainly for testing
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Default to claude-code if no agent specified
			if agentName == "" {
				agentName = agent.AgentNameClaudeCode
			}
			return setupAgentHooksNonInteractive(cmd.OutOrStdout(), agentName, localDev, forceHooks)
		},
	}

	cmd.Flags().BoolVar(&localDev, "local-dev", false, "Use go run instead of ctxmeter binary for hooks")
	_ = cmd.Flags().MarkHidden("local-dev") //nolint:errcheck // hidden flag for internal use
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent to setup hooks for (default: claude-code)")
	cmd.Flags().BoolVarP(&forceHooks, "force", "f", false, "Force reinstall hooks (removes existing ctxmeter hooks first)")

	return cmd
}

func newDisableCmd() *cobra.Command {
	var useProjectSettings bool

	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable ctxmeter",
		Long:  "Disable ctxmeter temporarily. Hooks will exit silently and commands will show a disabled message.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDisable(cmd.OutOrStdout(), useProjectSettings)
		},
	}

	cmd.Flags().BoolVar(&useProjectSettings, "project", false, "Update settings.json instead of settings.local.json")

	return cmd
}

// runEnableInteractive runs the interactive enable flow. First-time setups
// get a telemetry consent prompt; an existing answer is never re-asked.
func runEnableInteractive(w io.Writer, localDev, useLocalSettings, useProjectSettings, forceHooks bool) error {
	if _, err := paths.RepoRoot(); err != nil {
		return errors.New("not a git repository (run `ctxmeter enable` inside a repository)")
	}

	// Load existing settings to preserve other options (like context_windows)
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		// If we can't load, start with defaults
		settings = &CtxmeterSettings{}
	}

	if settings.Telemetry == nil {
		optIn, err := promptTelemetryConsent()
		if err != nil {
			return fmt.Errorf("selection cancelled: %w", err)
		}
		settings.Telemetry = &optIn
	}

	// Setup Claude Code hooks
	hooksInstalled, err := setupClaudeCodeHook(localDev, forceHooks)
	if err != nil {
		return fmt.Errorf("failed to setup Claude Code hooks: %w", err)
	}
	if hooksInstalled > 0 {
		fmt.Fprintln(w, "✓ Claude Code hooks installed")
	} else {
		fmt.Fprintln(w, "✓ Claude Code hooks verified")
	}

	// Setup .ctxmeter directory
	dirCreated, err := setupCtxmeterDirectory()
	if err != nil {
		return fmt.Errorf("failed to setup .ctxmeter directory: %w", err)
	}
	if dirCreated {
		fmt.Fprintln(w, "✓ .ctxmeter directory created")
	}

	// Update the specific fields
	settings.LocalDev = localDev
	settings.Enabled = true

	// Determine which settings file to write to (interactive prompt if settings.json exists)
	ctxmeterDirAbs, err := paths.AbsPath(CtxmeterDir)
	if err != nil {
		ctxmeterDirAbs = CtxmeterDir // Fallback to relative
	}
	shouldUseLocal, err := promptSettingsTarget(ctxmeterDirAbs, useLocalSettings, useProjectSettings)
	if err != nil {
		return err
	}

	if shouldUseLocal {
		if err := SaveCtxmeterSettingsLocal(settings); err != nil {
			return fmt.Errorf("failed to save local settings: %w", err)
		}
		fmt.Fprintln(w, "✓ Local settings saved (.ctxmeter/settings.local.json)")
	} else {
		if err := SaveCtxmeterSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Fprintln(w, "✓ Project settings saved (.ctxmeter/settings.json)")
	}

	fmt.Fprintln(w, "\n✓ context tracking enabled")

	return nil
}

func runDisable(w io.Writer, useProjectSettings bool) error {
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	settings.Enabled = false

	// If --project flag is specified, always write to project settings
	if useProjectSettings {
		if err := SaveCtxmeterSettings(settings); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	} else {
		// Check if local settings file exists - if so, write there
		localSettingsAbs, pathErr := paths.AbsPath(CtxmeterSettingsLocalFile)
		if pathErr != nil {
			localSettingsAbs = CtxmeterSettingsLocalFile
		}
		if _, statErr := os.Stat(localSettingsAbs); statErr == nil {
			// Local settings exists, write there
			if err := SaveCtxmeterSettingsLocal(settings); err != nil {
				return fmt.Errorf("failed to save local settings: %w", err)
			}
		} else {
			// No local settings, write to project settings
			if err := SaveCtxmeterSettings(settings); err != nil {
				return fmt.Errorf("failed to save settings: %w", err)
			}
		}
	}

	fmt.Fprintln(w, "ctxmeter is now disabled.")
	return nil
}

// DisabledMessage is the message shown when ctxmeter is disabled
const DisabledMessage = "ctxmeter is disabled. Run `ctxmeter enable` to re-enable."

// checkDisabledGuard checks if ctxmeter is disabled and prints a message if so.
// Returns true if the caller should exit (i.e., ctxmeter is disabled).
// On error reading settings, defaults to enabled (returns false).
func checkDisabledGuard(w io.Writer) bool {
	enabled, err := IsEnabled()
	if err != nil {
		// Default to enabled on error
		return false
	}
	if !enabled {
		fmt.Fprintln(w, DisabledMessage)
		return true
	}
	return false
}

// setupClaudeCodeHook sets up Claude Code hooks.
// This is a convenience wrapper that uses the agent package.
// Returns the number of hooks installed (0 if already installed).
func setupClaudeCodeHook(localDev, forceHooks bool) (int, error) {
	ag, err := agent.Get(agent.AgentNameClaudeCode)
	if err != nil {
		return 0, fmt.Errorf("failed to get claude-code agent: %w", err)
	}

	hookAgent, ok := ag.(agent.HookSupport)
	if !ok {
		return 0, errors.New("claude-code agent does not support hooks")
	}

	count, err := hookAgent.InstallHooks(localDev, forceHooks)
	if err != nil {
		return 0, fmt.Errorf("failed to install claude-code hooks: %w", err)
	}

	return count, nil
}

// setupAgentHooksNonInteractive sets up hooks for a specific agent non-interactively.
func setupAgentHooksNonInteractive(w io.Writer, agentName string, localDev, forceHooks bool) error {
	ag, err := agent.Get(agentName)
	if err != nil {
		return fmt.Errorf("unknown agent: %s", agentName)
	}

	// Check if agent supports hooks
	hookAgent, ok := ag.(agent.HookSupport)
	if !ok {
		return fmt.Errorf("agent %s does not support hooks", agentName)
	}

	// Install hooks
	count, err := hookAgent.InstallHooks(localDev, forceHooks)
	if err != nil {
		return fmt.Errorf("failed to install hooks for %s: %w", agentName, err)
	}

	if count == 0 {
		fmt.Fprintf(w, "Hooks for %s already installed\n", ag.Description())
	} else {
		fmt.Fprintf(w, "Installed %d hooks for %s\n", count, ag.Description())
	}

	if _, err := setupCtxmeterDirectory(); err != nil {
		return fmt.Errorf("failed to setup .ctxmeter directory: %w", err)
	}

	// Update settings to record the enable
	settings, err := LoadCtxmeterSettings()
	if err != nil {
		settings = &CtxmeterSettings{}
	}
	settings.Enabled = true
	if localDev {
		settings.LocalDev = localDev
	}

	if err := SaveCtxmeterSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}

	return nil
}

// promptTelemetryConsent asks for anonymous usage reporting consent.
func promptTelemetryConsent() (bool, error) {
	optIn := true
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Help improve ctxmeter with anonymous usage data?").
				Description("Only command names, durations and version info are reported. Never code or prompts.").
				Affirmative("Yes").
				Negative("No").
				Value(&optIn),
		),
	)

	if err := form.Run(); err != nil {
		return false, err
	}

	return optIn, nil
}

// validateSetupFlags checks that --local and --project flags are not both specified.
func validateSetupFlags(useLocal, useProject bool) error {
	if useLocal && useProject {
		return errors.New("cannot specify both --project and --local")
	}
	return nil
}

// Settings target options for interactive prompt
const (
	settingsTargetProject = "project"
	settingsTargetLocal   = "local"
)

// promptSettingsTarget interactively asks the user where to save settings
// when settings.json already exists and no flags were provided.
// Returns (useLocal, error).
func promptSettingsTarget(ctxmeterDir string, useLocal, useProject bool) (bool, error) {
	// Explicit --local flag always uses local settings
	if useLocal {
		return true, nil
	}

	// Explicit --project flag always uses project settings
	if useProject {
		return false, nil
	}

	// Check if settings file exists
	settingsPath := filepath.Join(ctxmeterDir, paths.SettingsFileName)
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		// Settings file doesn't exist - create it (no prompt needed)
		return false, nil
	}

	// Settings file exists - prompt user
	var selected string
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Project settings already exist. Where should settings be saved?").
				Options(
					huh.NewOption("Update project settings (settings.json)", settingsTargetProject),
					huh.NewOption("Use local settings (settings.local.json, gitignored)", settingsTargetLocal),
				).
				Value(&selected),
		),
	)

	if err := form.Run(); err != nil {
		return false, fmt.Errorf("selection cancelled: %w", err)
	}

	return selected == settingsTargetLocal, nil
}

// setupCtxmeterDirectory creates the .ctxmeter directory and gitignore.
// Returns true if the directory was created, false if it already existed.
func setupCtxmeterDirectory() (bool, error) {
	// Get absolute path for the .ctxmeter directory
	ctxmeterDirAbs, err := paths.AbsPath(CtxmeterDir)
	if err != nil {
		ctxmeterDirAbs = CtxmeterDir // Fallback to relative
	}

	// Check if directory already exists
	created := false
	if _, err := os.Stat(ctxmeterDirAbs); os.IsNotExist(err) {
		created = true
	}

	//nolint:gosec // G301: Project directory needs standard permissions for git
	if err := os.MkdirAll(ctxmeterDirAbs, 0o755); err != nil {
		return false, fmt.Errorf("failed to create .ctxmeter directory: %w", err)
	}

	// Create/update .gitignore with all required entries
	if err := ensureCtxmeterGitignore(); err != nil {
		return false, fmt.Errorf("failed to setup .gitignore: %w", err)
	}

	return created, nil
}

// ensureCtxmeterGitignore makes sure .ctxmeter/.gitignore covers every
// state directory, appending only the missing entries.
func ensureCtxmeterGitignore() error {
	// Get absolute path for the gitignore file
	gitignoreAbs, err := paths.AbsPath(ctxmeterGitignoreFile)
	if err != nil {
		gitignoreAbs = ctxmeterGitignoreFile // Fallback to relative
	}

	// Read existing content
	var content string
	if data, err := os.ReadFile(gitignoreAbs); err == nil { //nolint:gosec // path is from AbsPath or constant
		content = string(data)
	}

	// All entries that should be in .ctxmeter/.gitignore
	requiredEntries := []string{
		"context/",
		"journal/",
		"logs/",
		"tmp/",
		"settings.local.json",
	}

	// Track what needs to be added
	var toAdd []string
	for _, entry := range requiredEntries {
		if !strings.Contains(content, entry) {
			toAdd = append(toAdd, entry)
		}
	}

	// Nothing to add
	if len(toAdd) == 0 {
		return nil
	}

	// Ensure .ctxmeter directory exists
	if err := os.MkdirAll(filepath.Dir(gitignoreAbs), 0o750); err != nil {
		return fmt.Errorf("failed to create .ctxmeter directory: %w", err)
	}

	// Append missing entries to gitignore
	var sb strings.Builder
	for _, entry := range toAdd {
		sb.WriteString(entry + "\n")
	}
	content += sb.String()

	if err := os.WriteFile(gitignoreAbs, []byte(content), 0o644); err != nil { //nolint:gosec // path is from AbsPath or constant
		return fmt.Errorf("failed to write gitignore: %w", err)
	}
	return nil
}
